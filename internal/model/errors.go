package model

import "github.com/rotisserie/eris"

// Error taxonomy. Packages wrap these with context; callers match with errors.Is.
var (
	// ErrSchemaMismatch means a source dataset lacks a required column.
	ErrSchemaMismatch = eris.New("schema mismatch")
	// ErrAuth means the CRM credential could not be obtained or refreshed.
	ErrAuth = eris.New("crm authentication failed")
	// ErrRemoteRejection means the CRM returned a non-success status for a row.
	ErrRemoteRejection = eris.New("crm rejected record")
	// ErrPartialBatch means a reference-entity creation chunk failed.
	ErrPartialBatch = eris.New("partial batch failure")
	// ErrPersistence means the persisted store was unreachable or a write failed.
	ErrPersistence = eris.New("persistence failure")
)
