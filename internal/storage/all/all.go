// Package all registers every store backend with the storage factory.
// Importing it for side effects gives a binary support for all of them;
// config selects which one is used.
package all

import (
	_ "shopdw/internal/storage/mssql"
	_ "shopdw/internal/storage/postgres"
	_ "shopdw/internal/storage/sqlite"
)
