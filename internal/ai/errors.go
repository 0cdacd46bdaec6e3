package ai

import "errors"

var (
	// ErrMissingAPIKey and ErrInvalidAPIKey are fatal: no pass can succeed
	// without working credentials, so the whole run aborts on either.
	ErrMissingAPIKey = errors.New("API key not configured")
	ErrInvalidAPIKey = errors.New("API key rejected by provider")

	ErrRateLimited = errors.New("rate limited")
	ErrServerError = errors.New("server error")
	ErrEmptyResult = errors.New("empty provider response")
)

// IsFatal reports whether err invalidates the entire analysis run rather
// than a single pass or item.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMissingAPIKey) || errors.Is(err, ErrInvalidAPIKey)
}

// IsRetryable reports whether a request-level error is worth retrying.
func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServerError)
}
