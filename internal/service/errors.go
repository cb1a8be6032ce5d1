package service

import (
	"errors"
	"fmt"

	"starbench/internal/model"
)

var (
	// ErrNoCapacity pool exhausted; retryable by the caller.
	ErrNoCapacity = errors.New("no capacity: every healthy worker is full")

	// ErrUnknownSession the id does not name a live session. Caller error,
	// never retried by the manager.
	ErrUnknownSession = errors.New("unknown session")

	// ErrUnknownCommand the command is not in the registry. Caller error.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrSessionBusy the per-session dispatch queue is full. Backpressure;
	// retry after the in-flight request completes.
	ErrSessionBusy = errors.New("session busy: dispatch queue full")

	// ErrTimeout the worker did not reply before the deadline. The request
	// is abandoned, not reissued; the worker's health is decided by
	// subsequent probes.
	ErrTimeout = errors.New("dispatch timeout")

	// ErrSessionUnrecoverable reassignment was attempted and failed.
	// Terminal for the session; the caller must start a new one.
	ErrSessionUnrecoverable = errors.New("session unrecoverable: no worker available for reassignment")

	// errWorkerGone the bound worker left the pool before the channel was
	// opened. Internal: the dispatch path turns it into a reassignment.
	errWorkerGone = errors.New("bound worker no longer in pool")
)

// DomainError wraps a worker-reported failure (bad parameter, solver
// divergence, ...). The manager passes it through verbatim and never
// inspects or recovers from it.
type DomainError struct {
	Payload *model.CommandError
}

func (e *DomainError) Error() string {
	if e.Payload == nil {
		return "domain error"
	}
	return fmt.Sprintf("domain error %s: %s", e.Payload.Code, e.Payload.Message)
}

// AsDomainError unwraps err into a DomainError if it is one.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
