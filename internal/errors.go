package engine

import "errors"

// Sentinel errors for the engine domain.
var (
	ErrOffline        = errors.New("network unreachable")
	ErrNoActiveProxy  = errors.New("no active proxy")
	ErrInstallAborted = errors.New("install aborted")
	ErrRetryExhausted = errors.New("retry attempts exhausted")
	ErrStoreClosed    = errors.New("cache store closed")
	ErrUpstreamOpen   = errors.New("upstream circuit open")
	ErrBadRequest     = errors.New("bad request")
	ErrNotFound       = errors.New("not found")
)
