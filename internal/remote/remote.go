// Package remote talks to the shared remote store that all of an owner's
// devices sync through.
//
// The sync engine only sees the Client interface; the production backing is
// a hosted libSQL database (see OpenTurso), and tests substitute an
// embedded SQLite database behind the same SQLClient.
package remote

import (
	"context"
	"errors"
	"time"

	"habitsync/internal/schema"
)

// ErrOffline indicates the remote store could not be reached at all, as
// opposed to reachable-but-rejecting. The sync engine aborts a cycle on
// ErrOffline without burning retry budget on queued operations.
var ErrOffline = errors.New("remote store unreachable")

// BatchResult reports the outcome of one batched write.
//
// Failed maps record id to the error that rejected it, so the sync engine
// can retry or abandon per record instead of per batch.
type BatchResult struct {
	Succeeded int
	Failed    map[string]error
}

// Ok reports whether every record in the batch was accepted.
func (r *BatchResult) Ok() bool {
	return len(r.Failed) == 0
}

// Client is the remote store surface the sync engine drains into and
// pulls from.
type Client interface {
	// Ping checks reachability. Returns an error wrapping ErrOffline when
	// the store cannot be reached.
	Ping(ctx context.Context) error

	// SelectHabits returns an owner's habits, restricted to those updated
	// after since when since is non-nil.
	SelectHabits(ctx context.Context, ownerID string, since *time.Time) ([]*schema.Habit, error)

	// SelectEntries is SelectHabits for entries.
	SelectEntries(ctx context.Context, ownerID string, since *time.Time) ([]*schema.Entry, error)

	// The batch writes report per-record rejections in BatchResult.Failed.
	// A connection lost mid-batch is returned as an error wrapping
	// ErrOffline instead, so the caller treats it as unreachability rather
	// than charging the records.
	UpsertHabits(ctx context.Context, habits []*schema.Habit) (*BatchResult, error)
	UpsertEntries(ctx context.Context, entries []*schema.Entry) (*BatchResult, error)
	DeleteHabits(ctx context.Context, ids []string) (*BatchResult, error)
	DeleteEntries(ctx context.Context, ids []string) (*BatchResult, error)
}
