package provider

import (
	"math"
	"math/rand"
	"time"
)

// RetryStrategy defines exponential backoff retry logic
type RetryStrategy struct {
	MaxRetries  int           // retries after the first attempt
	BaseBackoff time.Duration // first retry delay
	MaxBackoff  time.Duration // delay cap
	Jitter      bool          // ±10% jitter
}

// NewRetryStrategy creates a new RetryStrategy with defaults
func NewRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		MaxRetries:  5,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  30 * time.Second,
		Jitter:      true,
	}
}

// Retries returns the retry budget
func (s *RetryStrategy) Retries() int {
	return s.MaxRetries
}

// Backoff returns the delay before retry number n (1-based): base·2^(n-1), capped
func (s *RetryStrategy) Backoff(n int) time.Duration {
	if n <= 0 {
		return s.BaseBackoff
	}

	backoff := s.MaxBackoff
	if scaled := math.Pow(2, float64(n-1)) * float64(s.BaseBackoff); scaled < float64(s.MaxBackoff) {
		backoff = time.Duration(scaled)
	}

	if s.Jitter {
		jitterRange := backoff / 10
		if jitterRange > 0 {
			jitter := time.Duration(rand.Int63n(int64(jitterRange*2))) - jitterRange
			backoff += jitter
		}
	}

	return backoff
}

// IsRetryableStatusCode determines if HTTP status warrants retry
func IsRetryableStatusCode(statusCode int) bool {
	if statusCode >= 400 && statusCode < 500 {
		return statusCode == 429
	}
	return statusCode >= 500 && statusCode < 600
}
