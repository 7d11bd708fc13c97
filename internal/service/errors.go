package service

import "errors"

// ErrPortsExhausted is raised when the configured port range is fully
// occupied by live instances.
var ErrPortsExhausted = errors.New("no available ports in range")

// DomainError is a user-facing custom-domain failure. Retryable errors
// (DNS not propagated yet) invite the customer to try again later;
// non-retryable ones (domain already claimed) require action first.
type DomainError struct {
	Message   string
	Retryable bool
}

func (e *DomainError) Error() string {
	return e.Message
}

// ValidationError rejects malformed input synchronously, before any state
// is mutated.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
