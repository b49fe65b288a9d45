package storage

import "errors"

// ErrSchemaMismatch is wrapped by backends when the store's structure does
// not match the expected warehouse schema. It is fatal to a load run and
// must surface before any data operation.
var ErrSchemaMismatch = errors.New("schema mismatch")
