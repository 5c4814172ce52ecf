// Package cacheerr defines the error codes shared by every tier of the
// image cache and small constructors that attach the right retry
// classification to each code.
package cacheerr

import (
	"context"
	stderrors "errors"

	"github.com/jmgilman/go/errors"
)

// Error codes surfaced by the cache. Network and timeout failures reuse the
// platform codes so generic retry helpers treat them as transient.
const (
	CodeInvalidLocator   errors.ErrorCode = "INVALID_LOCATOR"
	CodeNetworkFailure   errors.ErrorCode = errors.CodeNetwork
	CodeBadStatus        errors.ErrorCode = "BAD_STATUS"
	CodeDecodeFailure    errors.ErrorCode = "DECODE_FAILURE"
	CodeTimeout          errors.ErrorCode = errors.CodeTimeout
	CodeCancelled        errors.ErrorCode = "CANCELLED"
	CodeDiskNotFound     errors.ErrorCode = "DISK_NOT_FOUND"
	CodeDiskWriteFailure errors.ErrorCode = "DISK_WRITE_FAILURE"
	CodeNoReference      errors.ErrorCode = "NO_REFERENCE"
	CodeNoResult         errors.ErrorCode = "NO_RESULT"
)

// New creates an error for code, classified according to Classify.
func New(code errors.ErrorCode, message string) errors.PlatformError {
	return errors.WithClassification(errors.New(code, message), Classify(code))
}

// Wrap wraps err under code. Unlike errors.Wrap the classification always
// follows the new code rather than the wrapped error.
func Wrap(err error, code errors.ErrorCode, message string) errors.PlatformError {
	if err == nil {
		return nil
	}
	return errors.WithClassification(errors.Wrap(err, code, message), Classify(code))
}

// Classify returns the default retry classification for a cache code.
func Classify(code errors.ErrorCode) errors.ErrorClassification {
	switch code {
	case CodeNetworkFailure, CodeTimeout:
		return errors.ClassificationRetryable
	default:
		return errors.ClassificationPermanent
	}
}

// FromContext converts a context error into Timeout or Cancelled. It returns
// nil when err is not a context error.
func FromContext(err error, message string) errors.PlatformError {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, context.DeadlineExceeded):
		return Wrap(err, CodeTimeout, message)
	case stderrors.Is(err, context.Canceled):
		return Wrap(err, CodeCancelled, message)
	default:
		return nil
	}
}

// Is reports whether err carries code.
func Is(err error, code errors.ErrorCode) bool {
	return err != nil && errors.GetCode(err) == code
}
