package remote

import (
	"context"
	"time"

	"github.com/jrsteele09/go-listings-client/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds every backend call made through WithTimeout.
const DefaultTimeout = 15 * time.Second

var _ Store = (*timeoutStore)(nil)

type timeoutStore struct {
	next    Store
	timeout time.Duration
	logger  zerolog.Logger
}

// WithTimeout decorates next so that every call is bounded by timeout and every
// failure surfaces as AuthError, ConflictError or RemoteError. The bound holds
// even when next ignores its context; the abandoned call is left to finish on its own.
func WithTimeout(next Store, timeout time.Duration) Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &timeoutStore{
		next:    next,
		timeout: timeout,
		logger:  log.With().Str("component", "remote").Logger(),
	}
}

func call[T any](ctx context.Context, ts *timeoutStore, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, ts.timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil {
			err := normalize(op, r.err)
			ts.logger.Debug().Err(r.err).Str("op", op).Msg("remote call failed")
			return zero, err
		}
		return r.value, nil
	case <-ctx.Done():
		ts.logger.Debug().Err(ctx.Err()).Str("op", op).Dur("timeout", ts.timeout).Msg("remote call abandoned")
		return zero, NewRemoteError(op, ctx.Err())
	}
}

func (ts *timeoutStore) Read(ctx context.Context, collection string, filter Filter) ([]Resource, error) {
	return call(ctx, ts, "read "+collection, func(ctx context.Context) ([]Resource, error) {
		return ts.next.Read(ctx, collection, filter)
	})
}

func (ts *timeoutStore) Insert(ctx context.Context, collection string, resource Resource) (Resource, error) {
	return call(ctx, ts, "insert "+collection, func(ctx context.Context) (Resource, error) {
		return ts.next.Insert(ctx, collection, resource)
	})
}

func (ts *timeoutStore) Update(ctx context.Context, collection, id string, patch Fields) (Resource, error) {
	return call(ctx, ts, "update "+collection, func(ctx context.Context) (Resource, error) {
		return ts.next.Update(ctx, collection, id, patch)
	})
}

func (ts *timeoutStore) Remove(ctx context.Context, collection, id string) error {
	_, err := call(ctx, ts, "remove "+collection, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, ts.next.Remove(ctx, collection, id)
	})
	return err
}

func (ts *timeoutStore) GetSession(ctx context.Context) (*sessions.Session, error) {
	return call(ctx, ts, "get session", ts.next.GetSession)
}

func (ts *timeoutStore) SignInWithPassword(ctx context.Context, credentials Credentials) (*sessions.Session, error) {
	return call(ctx, ts, "sign in", func(ctx context.Context) (*sessions.Session, error) {
		return ts.next.SignInWithPassword(ctx, credentials)
	})
}

func (ts *timeoutStore) SignOut(ctx context.Context) error {
	_, err := call(ctx, ts, "sign out", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, ts.next.SignOut(ctx)
	})
	return err
}

func (ts *timeoutStore) OnAuthStateChange(listener func(AuthEvent)) func() {
	return ts.next.OnAuthStateChange(listener)
}
