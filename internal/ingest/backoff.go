package ingest

import "time"

const (
	baseDelay = 500 * time.Millisecond
	maxDelay  = 30 * time.Second
)

// calculateBackoff returns the exponential backoff duration for a given
// retry count: baseDelay * 2^retry, capped at maxDelay.
func calculateBackoff(retry int) time.Duration {
	if retry < 0 {
		return baseDelay
	}
	if retry > 30 {
		return maxDelay
	}

	backoff := baseDelay * time.Duration(1<<retry)
	if backoff > maxDelay {
		return maxDelay
	}
	return backoff
}
