package server

import (
	"errors"
	"fmt"
)

var (
	// ErrContextMissing means a resolver asked for request-scoped data that
	// no middleware attached. It indicates a misassembled server.
	ErrContextMissing = errors.New("graphql context element missing")

	// ErrLockPoisoned means the channel registry was left inconsistent by a
	// panic elsewhere and refuses further use.
	ErrLockPoisoned = errors.New("graphql context element poisoned")

	// ErrUnauthorised is the only authorization error shown to clients. It
	// does not say whether the token was missing, invalid or insufficient.
	ErrUnauthorised = errors.New("unable to comply with request due to lack of valid and sufficient authentication")
)

// ContextMissingError names the missing element ("auth_state", "pubsub").
type ContextMissingError struct {
	Element string
}

func (e *ContextMissingError) Error() string {
	return fmt.Sprintf("%s: %s", ErrContextMissing, e.Element)
}

func (e *ContextMissingError) Unwrap() error { return ErrContextMissing }

// LockPoisonedError names the poisoned element.
type LockPoisonedError struct {
	Element string
}

func (e *LockPoisonedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrLockPoisoned, e.Element)
}

func (e *LockPoisonedError) Unwrap() error { return ErrLockPoisoned }
