package entity

import (
	"context"
	"errors"
	"sync"
)

// ErrNoQueryRunner is returned when a Query is resolved without a runner.
var ErrNoQueryRunner = errors.New("entity: query has no runner attached")

// QueryRunner executes a query descriptor against a backing store.
// The descriptor is opaque to the framework; the application's store layer
// interprets it.
type QueryRunner interface {
	RunQuery(ctx context.Context, typ string, descriptor map[string]any) ([]Entity, error)
}

// Query describes a deferred entity query: a type name plus an opaque
// descriptor. Results are never part of the query's persisted form; they
// are rebuilt lazily on first Resolve after decode.
type Query struct {
	Type       string
	Descriptor map[string]any

	runner QueryRunner

	mu       sync.Mutex
	resolved bool
	results  []Entity
}

// NewQuery creates a query bound to a runner.
func NewQuery(typ string, descriptor map[string]any, runner QueryRunner) *Query {
	return &Query{Type: typ, Descriptor: descriptor, runner: runner}
}

// AttachRunner binds the runner used by Resolve.
// Called when a query is reconstructed from persisted state.
func (q *Query) AttachRunner(r QueryRunner) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.runner = r
}

// Resolve runs the query, memoizing results for the lifetime of this
// instance. Persisting and decoding a query always discards results.
func (q *Query) Resolve(ctx context.Context) ([]Entity, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.resolved {
		return q.results, nil
	}
	if q.runner == nil {
		return nil, ErrNoQueryRunner
	}

	results, err := q.runner.RunQuery(ctx, q.Type, q.Descriptor)
	if err != nil {
		return nil, err
	}
	q.resolved = true
	q.results = results
	return results, nil
}

// Resolved reports whether results have been materialized.
func (q *Query) Resolved() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resolved
}
