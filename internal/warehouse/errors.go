package warehouse

import (
	"errors"
	"fmt"
)

// Reject reasons. Every rejected record is attributed to exactly one of
// these buckets in the load report.
const (
	ReasonMissingKey   = "missing_key"
	ReasonBadTimestamp = "bad_timestamp"
	ReasonBadMeasure   = "bad_measure"
	ReasonMalformed    = "malformed"
	ReasonReferenceGap = "reference_gap"
)

// ErrTooManyRejects aborts a load whose reject count exceeds the configured
// tolerance before anything is committed.
var ErrTooManyRejects = errors.New("too many rejected records")

// RecordError describes why a single source record was rejected. The record
// is skipped and counted; the load continues.
type RecordError struct {
	TransactionID string
	Reason        string
	Err           error
}

func (e *RecordError) Error() string {
	id := e.TransactionID
	if id == "" {
		id = "<unknown>"
	}
	return fmt.Sprintf("record %s: %s: %v", id, e.Reason, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
