package imagecache

import (
	"github.com/jmgilman/go/errors"

	"github.com/jmgilman/go/imagecache/internal/cacheerr"
)

// Error codes returned by the cache.
const (
	// CodeInvalidLocator indicates the locator or identifier cannot be resolved.
	CodeInvalidLocator = cacheerr.CodeInvalidLocator
	// CodeNetworkFailure indicates the transport failed before a response arrived.
	CodeNetworkFailure = cacheerr.CodeNetworkFailure
	// CodeBadStatus indicates the server answered outside the 2xx range.
	CodeBadStatus = cacheerr.CodeBadStatus
	// CodeDecodeFailure indicates the bytes are not an acceptable image.
	CodeDecodeFailure = cacheerr.CodeDecodeFailure
	// CodeTimeout indicates a deadline expired.
	CodeTimeout = cacheerr.CodeTimeout
	// CodeCancelled indicates the caller's context was cancelled.
	CodeCancelled = cacheerr.CodeCancelled
	// CodeDiskNotFound indicates no record exists for the local identifier.
	CodeDiskNotFound = cacheerr.CodeDiskNotFound
	// CodeDiskWriteFailure indicates the record could not be written.
	CodeDiskWriteFailure = cacheerr.CodeDiskWriteFailure
	// CodeNoReference indicates the reference was None.
	CodeNoReference = cacheerr.CodeNoReference
	// CodeNoResult indicates peek found nothing cached or in flight.
	CodeNoResult = cacheerr.CodeNoResult
)

// KindOf returns the code carried by err, or errors.CodeUnknown.
func KindOf(err error) errors.ErrorCode {
	return errors.GetCode(err)
}

// IsKind reports whether err carries code.
func IsKind(err error, code errors.ErrorCode) bool {
	return cacheerr.Is(err, code)
}

func noReference() error {
	return cacheerr.New(cacheerr.CodeNoReference, "no image reference")
}

func noResult(key string) error {
	return errors.WithContext(
		cacheerr.New(cacheerr.CodeNoResult, "no image found"), "key", key)
}
