package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotConfigured indicates missing credentials or an invalid source
// argument. Always fatal to the current call, never retried.
type ErrNotConfigured struct {
	Provider string
	Reason   string
}

func (e ErrNotConfigured) Error() string {
	return fmt.Sprintf("%s is not configured: %s", e.Provider, e.Reason)
}

// ErrRateLimitExceeded indicates the sliding-window limiter rejected the
// request. The caller may retry later; this service does not auto-retry.
type ErrRateLimitExceeded struct {
	Provider string
	Limit    int
}

func (e ErrRateLimitExceeded) Error() string {
	return fmt.Sprintf("%s rate limit exceeded (%d requests/minute)", e.Provider, e.Limit)
}

// ErrCircuitOpen indicates the provider's circuit breaker is open and the
// cooldown has not elapsed yet.
type ErrCircuitOpen struct {
	Provider   string
	RetryAfter time.Duration
}

func (e ErrCircuitOpen) Error() string {
	return fmt.Sprintf("%s circuit breaker is open, retry after %s", e.Provider, e.RetryAfter.Round(time.Second))
}

// ErrUpstream indicates an HTTP failure, a vendor error payload, or a
// malformed response from a provider. Recorded against provider health.
type ErrUpstream struct {
	Provider string
	Message  string
	Err      error
}

func (e ErrUpstream) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s upstream error: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s upstream error: %s", e.Provider, e.Message)
}

func (e ErrUpstream) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err is a configuration failure.
func IsConfigurationError(err error) bool {
	var target ErrNotConfigured
	return errors.As(err, &target)
}

// IsRateLimitError reports whether err is a rate limiter rejection.
func IsRateLimitError(err error) bool {
	var target ErrRateLimitExceeded
	return errors.As(err, &target)
}

// IsCircuitOpenError reports whether err is a circuit breaker rejection.
func IsCircuitOpenError(err error) bool {
	var target ErrCircuitOpen
	return errors.As(err, &target)
}
