package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/engagekit/campaign-engine/internal/model"
)

// Transport sends one queued job's content to one recipient over a
// specific channel kind. Implementations own protocol details; the
// dispatch loop only sees the outcome.
type Transport interface {
	Kind() model.ChannelKind
	Send(ctx context.Context, job model.QueueJob, content string) error
}

// PermanentError marks a send failure that retrying cannot fix
// (invalid recipient, rejected payload). The dispatch loop fails the
// job immediately instead of burning the retry budget.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent reports whether err is a non-retryable send failure.
func Permanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ErrUnsupportedKind is returned when no transport is registered for a
// job's channel kind. Jobs only exist for configured channels, so this
// indicates a provider disabled after fanout; it is permanent.
var ErrUnsupportedKind = errors.New("no transport for channel kind")

// Registry selects a transport by channel kind.
type Registry struct {
	byKind map[model.ChannelKind]Transport
}

func NewRegistry(transports ...Transport) *Registry {
	r := &Registry{byKind: make(map[model.ChannelKind]Transport, len(transports))}
	for _, t := range transports {
		r.byKind[t.Kind()] = t
	}
	return r
}

func (r *Registry) For(kind model.ChannelKind) (Transport, bool) {
	t, ok := r.byKind[kind]
	return t, ok
}

// Send routes to the registered transport for the job's kind.
func (r *Registry) Send(ctx context.Context, job model.QueueJob, content string) error {
	t, ok := r.byKind[job.ChannelKind]
	if !ok {
		return &PermanentError{Err: fmt.Errorf("%w: %s", ErrUnsupportedKind, job.ChannelKind)}
	}
	return t.Send(ctx, job, content)
}
