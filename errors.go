package ytzim

import (
	"ytzim/branding"
	"ytzim/download"
	"ytzim/internal/cache"
	"ytzim/internal/retry"
	"ytzim/youtube"
	"ytzim/zim"
)

// Error handling types exported for library users.
//
// All error types support the standard error handling patterns:
//
// Using errors.Is() for sentinel errors:
//
//	if errors.Is(err, ytzim.ErrCredentials) {
//		fmt.Println("API key rejected")
//	}
//
// Using errors.As() for wrapped errors:
//
//	var apiErr *ytzim.APIError
//	if errors.As(err, &apiErr) {
//		fmt.Printf("%s failed for %s: %v\n", apiErr.Op, apiErr.ID, apiErr.Err)
//	}

// Exported error types from sub-packages:
//
// From youtube package:
//   - youtube.ErrCredentials: API key missing or rejected
//   - youtube.ErrAPIUnavailable: API failed after retries
//   - youtube.ErrNotFound: Channel, user or playlist does not exist
//   - youtube.APIError: Failed API operation
//
// From branding package:
//   - branding.ErrValidation: Invalid user-supplied color or image
//   - branding.ValidationError: Field and value that failed validation
//
// From cache package:
//   - cache.ErrCorrupt: Cached document could not be decoded
//   - cache.ErrLocked: Another run holds the build directory
//   - cache.Error: Failed cache operation
//
// From download and zim packages:
//   - download.ErrToolMissing: yt-dlp or ffmpeg not found
//   - zim.ErrPackager: zimwriterfs missing or failed

// Type aliases for convenient error handling.
type (
	// APIError wraps a failed platform API operation.
	APIError = youtube.APIError
	// ValidationError describes a rejected branding value.
	ValidationError = branding.ValidationError
	// CacheError wraps a failed cache operation.
	CacheError = cache.Error
	// RetryableError wraps errors that occurred after retries were exhausted.
	RetryableError = retry.RetryableError
)

// Sentinel errors exported from sub-packages.
var (
	// ErrCredentials indicates the API key is missing or rejected.
	ErrCredentials = youtube.ErrCredentials
	// ErrAPIUnavailable indicates the API kept failing after retries.
	ErrAPIUnavailable = youtube.ErrAPIUnavailable
	// ErrNotFound indicates a channel, user or playlist does not exist.
	ErrNotFound = youtube.ErrNotFound
	// ErrValidation indicates an invalid branding value.
	ErrValidation = branding.ErrValidation

	// Cache errors
	// ErrCacheCorrupt indicates a cached document could not be decoded.
	ErrCacheCorrupt = cache.ErrCorrupt
	// ErrLocked indicates another run holds the build directory.
	ErrLocked = cache.ErrLocked

	// ErrToolMissing indicates yt-dlp or ffmpeg was not found.
	ErrToolMissing = download.ErrToolMissing
	// ErrPackager indicates the archive could not be packaged.
	ErrPackager = zim.ErrPackager
)

// IsRetryable determines if an error should be retried.
// It returns false for errors marked permanent and for context cancellation.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}
