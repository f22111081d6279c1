package engine

import (
	"errors"
	"fmt"
)

// ReplicationError is an error detected on the replication path.
//
// The taxonomy:
//   - Classification: a write could not be mapped to one table and row.
//     The write still executed locally; replication was skipped.
//   - Storage: the local execute or log append failed. Propagated to the
//     caller of the write; nothing partial persists because execute and
//     append share a transaction.
//   - Decode: a remote payload could not be decoded. Dropped, non-fatal.
//   - Dispatch: a broadcast exhausted its retry budget. The operation is
//     dropped and the replication gap surfaced; local state is intact.
//
// Nothing on this path is permitted to fail an already-durable local
// write; replication is additive and best-effort relative to local
// durability.
type ReplicationError struct {
	// Code identifies the error category.
	Code ReplicationErrorCode

	// Message is a human-readable description.
	Message string

	// Table and PrimaryKey identify the affected row where known.
	Table      string
	PrimaryKey string

	// Err is the underlying cause, if any.
	Err error
}

// ReplicationErrorCode categorizes replication errors.
type ReplicationErrorCode string

const (
	// ErrCodeClassification indicates a write was not mappable to a row key.
	ErrCodeClassification ReplicationErrorCode = "CLASSIFICATION_FAILED"

	// ErrCodeStorage indicates a local execute or log append failed.
	ErrCodeStorage ReplicationErrorCode = "STORAGE_FAILED"

	// ErrCodeDecode indicates a malformed remote payload.
	ErrCodeDecode ReplicationErrorCode = "DECODE_FAILED"

	// ErrCodeDispatch indicates a broadcast exhausted its retry budget.
	ErrCodeDispatch ReplicationErrorCode = "DISPATCH_FAILED"
)

// Error implements the error interface.
func (e *ReplicationError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("%s: %s (table=%s, pk=%s)", e.Code, e.Message, e.Table, e.PrimaryKey)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *ReplicationError) Unwrap() error {
	return e.Err
}

// IsClassificationError reports whether err is a classification failure.
// Uses errors.As to handle wrapped errors.
func IsClassificationError(err error) bool {
	var re *ReplicationError
	return errors.As(err, &re) && re.Code == ErrCodeClassification
}

// IsStorageError reports whether err is a storage failure.
func IsStorageError(err error) bool {
	var re *ReplicationError
	return errors.As(err, &re) && re.Code == ErrCodeStorage
}

// IsDecodeError reports whether err is a remote payload decode failure.
func IsDecodeError(err error) bool {
	var re *ReplicationError
	return errors.As(err, &re) && re.Code == ErrCodeDecode
}

// IsDispatchError reports whether err is a delivery failure.
func IsDispatchError(err error) bool {
	var re *ReplicationError
	return errors.As(err, &re) && re.Code == ErrCodeDispatch
}

func newClassificationError(table string, err error) *ReplicationError {
	return &ReplicationError{
		Code:    ErrCodeClassification,
		Message: "write not mappable to a single row",
		Table:   table,
		Err:     err,
	}
}

func newStorageError(table, pk string, err error) *ReplicationError {
	return &ReplicationError{
		Code:       ErrCodeStorage,
		Message:    "local write failed",
		Table:      table,
		PrimaryKey: pk,
		Err:        err,
	}
}
