package backup

import (
	"errors"
	"fmt"
)

// DRError represents errors that occur during backup and restore operations
type DRError struct {
	Type    DRErrorType            `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *DRError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *DRError) Unwrap() error {
	return e.Cause
}

// DRErrorType represents different types of backup/restore errors
type DRErrorType string

const (
	// ErrTypeTransientStore covers engine-busy conditions that are retried once with backoff
	ErrTypeTransientStore DRErrorType = "TRANSIENT_STORE_ERROR"
	// ErrTypeChecksumMismatch covers corruption in transit or at rest; never auto-retried
	ErrTypeChecksumMismatch DRErrorType = "CHECKSUM_MISMATCH"
	// ErrTypeLockContention covers a lock held by another operation; fails fast as busy
	ErrTypeLockContention DRErrorType = "LOCK_CONTENTION"
	// ErrTypeAdapterFatal covers dump/load tool failures requiring manual diagnosis
	ErrTypeAdapterFatal DRErrorType = "ADAPTER_FATAL_ERROR"
	// ErrTypeValidation covers integrity-validation failures; advisory, always reported
	ErrTypeValidation DRErrorType = "VALIDATION_FAILURE"

	ErrTypeStorage       DRErrorType = "STORAGE_ERROR"
	ErrTypeCatalog       DRErrorType = "CATALOG_ERROR"
	ErrTypeConfiguration DRErrorType = "CONFIGURATION_ERROR"
	ErrTypeNotFound      DRErrorType = "NOT_FOUND_ERROR"
)

// NewDRError creates a new DRError
func NewDRError(errorType DRErrorType, message string, cause error) *DRError {
	return &DRError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *DRError) WithContext(key string, value interface{}) *DRError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Common error constructors

func NewTransientStoreError(message string, cause error) *DRError {
	return NewDRError(ErrTypeTransientStore, message, cause)
}

func NewChecksumMismatchError(message string, cause error) *DRError {
	return NewDRError(ErrTypeChecksumMismatch, message, cause)
}

func NewLockContentionError(message string, cause error) *DRError {
	return NewDRError(ErrTypeLockContention, message, cause)
}

func NewAdapterFatalError(message string, cause error) *DRError {
	return NewDRError(ErrTypeAdapterFatal, message, cause)
}

func NewValidationError(message string, cause error) *DRError {
	return NewDRError(ErrTypeValidation, message, cause)
}

func NewStorageError(message string, cause error) *DRError {
	return NewDRError(ErrTypeStorage, message, cause)
}

func NewCatalogError(message string, cause error) *DRError {
	return NewDRError(ErrTypeCatalog, message, cause)
}

func NewConfigurationError(message string, cause error) *DRError {
	return NewDRError(ErrTypeConfiguration, message, cause)
}

func NewNotFoundError(message string, cause error) *DRError {
	return NewDRError(ErrTypeNotFound, message, cause)
}

// IsRetryable determines if an error may be retried once with backoff.
// Only transient engine errors qualify; corruption and lock contention
// must never be retried automatically.
func IsRetryable(err error) bool {
	var drErr *DRError
	if errors.As(err, &drErr) {
		return drErr.Type == ErrTypeTransientStore
	}
	return false
}

// IsPermanent determines if an error is permanent and should not be retried
func IsPermanent(err error) bool {
	var drErr *DRError
	if errors.As(err, &drErr) {
		switch drErr.Type {
		case ErrTypeChecksumMismatch, ErrTypeAdapterFatal,
			ErrTypeConfiguration, ErrTypeNotFound:
			return true
		default:
			return false
		}
	}
	return false
}

// IsBusy reports whether an error is lock contention, surfaced to
// operators as "busy".
func IsBusy(err error) bool {
	var drErr *DRError
	if errors.As(err, &drErr) {
		return drErr.Type == ErrTypeLockContention
	}
	return false
}

// IsChecksumMismatch reports whether an error is a checksum mismatch.
func IsChecksumMismatch(err error) bool {
	var drErr *DRError
	if errors.As(err, &drErr) {
		return drErr.Type == ErrTypeChecksumMismatch
	}
	return false
}
