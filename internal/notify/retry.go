package notify

import (
	"math"
	"net/http"
	"time"

	"github.com/dandantas/vcollab/internal/model"
)

// RetryStrategy computes exponential backoff between delivery attempts
type RetryStrategy struct {
	config model.RetryConfig
}

func NewRetryStrategy(config model.RetryConfig) *RetryStrategy {
	config.SetDefaults()
	return &RetryStrategy{config: config}
}

// Delay returns min(initial * multiplier^(attempt-1), max) for the attempt that just failed
func (rs *RetryStrategy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delayMs := float64(rs.config.InitialDelayMs) * math.Pow(rs.config.Multiplier, float64(attempt-1))
	if delayMs > float64(rs.config.MaxDelayMs) {
		delayMs = float64(rs.config.MaxDelayMs)
	}
	return time.Duration(delayMs) * time.Millisecond
}

// ShouldRetry decides whether another attempt follows a failed one. Transport errors,
// 5xx and 429 are retried; other client errors are final.
func (rs *RetryStrategy) ShouldRetry(attempt, statusCode int, err error) bool {
	if attempt >= rs.config.MaxAttempts {
		return false
	}
	if err != nil && statusCode == 0 {
		return true
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		return true
	case statusCode >= 500:
		return true
	case statusCode >= 400:
		return false
	}
	return statusCode >= 300
}

func (rs *RetryStrategy) MaxAttempts() int {
	return rs.config.MaxAttempts
}
