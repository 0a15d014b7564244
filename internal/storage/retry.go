package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"depgraph/internal/graph"

	"github.com/cenkalti/backoff/v5"
	"github.com/mattn/go-sqlite3"
)

// StoreWriteError is returned once a write has failed on every attempt.
// Nothing of the failed run is visible in the store.
type StoreWriteError struct {
	Repository string
	Attempts   int
	Err        error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write for %s failed after %d attempts: %v", e.Repository, e.Attempts, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether a failed write may succeed when retried.
func IsTransient(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// RetryPolicy bounds write retries.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second}
}

// RetryingStore retries transient write failures of the wrapped store with
// exponential backoff. Reads pass through.
type RetryingStore struct {
	GraphStore
	policy    RetryPolicy
	logger    *slog.Logger
	transient func(error) bool
	onRetry   func(op string, err error)
}

type RetryOption func(*RetryingStore)

func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(s *RetryingStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRetryHook is called before every retry of a failed attempt.
func WithRetryHook(fn func(op string, err error)) RetryOption {
	return func(s *RetryingStore) {
		s.onRetry = fn
	}
}

// WithTransientCheck replaces IsTransient.
func WithTransientCheck(fn func(error) bool) RetryOption {
	return func(s *RetryingStore) {
		if fn != nil {
			s.transient = fn
		}
	}
}

func NewRetryingStore(inner GraphStore, policy RetryPolicy, opts ...RetryOption) *RetryingStore {
	def := DefaultRetryPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = def.InitialBackoff
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = max(def.MaxBackoff, policy.InitialBackoff)
	}
	s := &RetryingStore{
		GraphStore: inner,
		policy:     policy,
		logger:     slog.Default(),
		transient:  IsTransient,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RetryingStore) UpsertNode(ctx context.Context, node *graph.Node) (*graph.Node, error) {
	if node == nil {
		return s.GraphStore.UpsertNode(ctx, node)
	}
	return retryWrite(ctx, s, "upsert_node", node.Repository, func() (*graph.Node, error) {
		return s.GraphStore.UpsertNode(ctx, node)
	})
}

func (s *RetryingStore) UpsertEdge(ctx context.Context, edge graph.Edge) (*graph.Edge, error) {
	return retryWrite(ctx, s, "upsert_edge", edge.Repository, func() (*graph.Edge, error) {
		return s.GraphStore.UpsertEdge(ctx, edge)
	})
}

func (s *RetryingStore) CommitGraph(ctx context.Context, g *graph.Graph) (string, error) {
	repo := ""
	if g != nil {
		repo = g.Repository
	}
	return retryWrite(ctx, s, "commit_graph", repo, func() (string, error) {
		return s.GraphStore.CommitGraph(ctx, g)
	})
}

func retryWrite[T any](ctx context.Context, s *RetryingStore, op, repository string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.InitialBackoff
	b.MaxInterval = s.policy.MaxBackoff

	attempts := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := fn()
		if err != nil && !s.transient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.policy.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("store write failed, retrying",
				"op", op, "repository", repository, "attempt", attempts, "next_in", next, "error", err)
			if s.onRetry != nil {
				s.onRetry(op, err)
			}
		}),
	)
	if err != nil {
		var zero T
		return zero, &StoreWriteError{Repository: repository, Attempts: attempts, Err: err}
	}
	return res, nil
}
