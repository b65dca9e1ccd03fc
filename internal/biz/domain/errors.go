package domain

import (
	"errors"
	"fmt"
)

// Campaign error taxonomy
var (
	ErrChannelUnavailable    = errors.New("channel unavailable")
	ErrClassificationFailure = errors.New("classification failure")
	ErrStoreWriteConflict    = errors.New("store write conflict")
	ErrTimeout               = errors.New("reply timeout")
)

// Store and channel sentinels
var (
	ErrVersionConflict   = errors.New("version conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrDuplicateContact  = errors.New("customer with this contact already exists")
	ErrChannelBlocked    = errors.New("channel account blocked")
	ErrRateLimited       = errors.New("send rate limit reached")
	ErrRunInProgress     = errors.New("campaign run already in progress")
)

// ErrorKind names the taxonomy bucket of a failed attempt
type ErrorKind string

const (
	KindNone                  ErrorKind = ""
	KindChannelUnavailable    ErrorKind = "channel_unavailable"
	KindClassificationFailure ErrorKind = "classification_failure"
	KindStoreWriteConflict    ErrorKind = "store_write_conflict"
	KindTimeout               ErrorKind = "timeout"
	KindStore                 ErrorKind = "store"
)

// AttemptError wraps an error with its taxonomy kind and the failing step
type AttemptError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the taxonomy sentinels by kind
func (e *AttemptError) Is(target error) bool {
	switch target {
	case ErrChannelUnavailable:
		return e.Kind == KindChannelUnavailable
	case ErrClassificationFailure:
		return e.Kind == KindClassificationFailure
	case ErrStoreWriteConflict:
		return e.Kind == KindStoreWriteConflict
	case ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

// KindOf returns the taxonomy kind carried by err, if any
func KindOf(err error) ErrorKind {
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	switch {
	case errors.Is(err, ErrChannelUnavailable), errors.Is(err, ErrChannelBlocked):
		return KindChannelUnavailable
	case errors.Is(err, ErrClassificationFailure):
		return KindClassificationFailure
	case errors.Is(err, ErrStoreWriteConflict), errors.Is(err, ErrVersionConflict):
		return KindStoreWriteConflict
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	}
	return KindNone
}
