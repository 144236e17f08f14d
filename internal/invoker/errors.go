package invoker

import "errors"

// ErrFacadeStopped is returned by Run once Stop has been called. The
// facade is single-shot per spec.md §9's stated preference: there is no
// restart path.
var ErrFacadeStopped = errors.New("invoker: facade already stopped")

// ErrRemoteInvokerSpawnFailed is returned when the remote-invoker branch
// could not obtain an activation ID for the single remote-invoker call.
var ErrRemoteInvokerSpawnFailed = errors.New("invoker: remote invoker spawn failed")
