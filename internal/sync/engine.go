package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"habitsync/internal/remote"
	"habitsync/internal/schema"
	"habitsync/internal/store"
)

// DefaultRetryCeiling is how many failed push attempts an operation gets
// before it is abandoned. Offline aborts do not count.
const DefaultRetryCeiling = 5

// ErrCycleInFlight is returned by Cycle when another cycle is already
// running. The running cycle is asked to run once more when it finishes,
// so the caller's trigger is never lost, only coalesced.
var ErrCycleInFlight = errors.New("sync cycle already in flight")

// State is the engine's current phase.
type State int32

const (
	StateIdle State = iota
	StateDraining
	StatePulling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StatePulling:
		return "pulling"
	default:
		return "unknown"
	}
}

// Abandoned describes a queued operation dropped after exhausting its
// retry budget.
type Abandoned struct {
	Seq        int64             `json:"seq"`
	Collection schema.Collection `json:"collection"`
	Kind       schema.OpKind     `json:"kind"`
	RecordID   string            `json:"record_id"`
	Reason     string            `json:"reason"`
}

// CycleResult summarizes one drain+pull cycle.
type CycleResult struct {
	// Offline is set when the remote was unreachable and the cycle
	// aborted with the queue untouched.
	Offline bool `json:"offline"`

	Pushed    int         `json:"pushed"`
	Abandoned []Abandoned `json:"abandoned,omitempty"`

	PulledHabits   int `json:"pulled_habits"`
	PulledEntries  int `json:"pulled_entries"`
	AppliedHabits  int `json:"applied_habits"`
	AppliedEntries int `json:"applied_entries"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Engine drains the pending-operations queue to the remote store and pulls
// remote changes back down, one cycle at a time.
//
// The engine is single-flight: at most one cycle runs at any moment, and a
// trigger arriving mid-cycle coalesces into exactly one follow-up cycle.
type Engine struct {
	db      *store.DB
	client  remote.Client
	ownerID string
	logger  *log.Logger

	retryCeiling int
	now          func() time.Time

	state atomic.Int32

	mu      sync.Mutex
	running bool
	rerun   bool

	onState func(State)
	onCycle func(*CycleResult)
}

// New creates a sync engine for one owner's data.
// If logger is nil, a default logger writing to stderr is used.
func New(db *store.DB, client remote.Client, ownerID string, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		db:           db,
		client:       client,
		ownerID:      ownerID,
		logger:       logger,
		retryCeiling: DefaultRetryCeiling,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetRetryCeiling overrides the per-operation retry budget.
func (e *Engine) SetRetryCeiling(n int) {
	if n > 0 {
		e.retryCeiling = n
	}
}

// SetClock overrides the engine's time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SetOnState registers a hook fired on every state transition.
// Call before the engine is shared between goroutines.
func (e *Engine) SetOnState(fn func(State)) {
	e.onState = fn
}

// SetOnCycle registers a hook fired after every completed cycle.
func (e *Engine) SetOnCycle(fn func(*CycleResult)) {
	e.onCycle = fn
}

// State returns the engine's current phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	if e.onState != nil {
		e.onState(s)
	}
}

// Cycle runs one drain+pull cycle and returns its result.
//
// If a cycle is already in flight the call returns ErrCycleInFlight
// immediately and the running cycle repeats once after it finishes, so a
// burst of triggers collapses into at most one trailing cycle.
func (e *Engine) Cycle(ctx context.Context) (*CycleResult, error) {
	e.mu.Lock()
	if e.running {
		e.rerun = true
		e.mu.Unlock()
		return nil, ErrCycleInFlight
	}
	e.running = true
	e.mu.Unlock()

	var (
		result *CycleResult
		err    error
	)
	for {
		result, err = e.runCycle(ctx)
		if e.onCycle != nil && result != nil {
			e.onCycle(result)
		}

		// A trigger that arrived mid-cycle gets its cycle even when this
		// one errored or found the remote unreachable: the caller asked
		// after the failure started, so their request is still owed.
		e.mu.Lock()
		if e.rerun {
			e.rerun = false
			e.mu.Unlock()
			continue
		}
		e.running = false
		e.rerun = false
		e.mu.Unlock()
		return result, err
	}
}

// Trigger requests a cycle without waiting for it. Coalescing behaves the
// same as Cycle; errors are logged rather than returned.
func (e *Engine) Trigger(ctx context.Context) {
	go func() {
		if _, err := e.Cycle(ctx); err != nil && !errors.Is(err, ErrCycleInFlight) {
			e.logger.Printf("Sync cycle failed: %v", err)
		}
	}()
}

func (e *Engine) runCycle(ctx context.Context) (*CycleResult, error) {
	result := &CycleResult{StartedAt: e.now()}
	defer func() {
		result.Duration = e.now().Sub(result.StartedAt)
		e.setState(StateIdle)
	}()

	e.setState(StateDraining)

	// One reachability probe up front: an offline device should abort the
	// whole cycle cheaply, not burn every queued op's retry budget.
	if err := e.client.Ping(ctx); err != nil {
		if errors.Is(err, remote.ErrOffline) {
			e.logger.Printf("Remote unreachable, skipping cycle")
			result.Offline = true
			return result, nil
		}
		return result, fmt.Errorf("remote ping failed: %w", err)
	}

	offline, err := e.drain(ctx, result)
	if err != nil {
		return result, err
	}
	if offline {
		result.Offline = true
		return result, nil
	}

	e.setState(StatePulling)
	if err := e.pull(ctx, result); err != nil {
		if errors.Is(err, remote.ErrOffline) {
			result.Offline = true
			return result, nil
		}
		return result, err
	}

	if result.Pushed > 0 || result.AppliedHabits+result.AppliedEntries > 0 || len(result.Abandoned) > 0 {
		e.logger.Printf("Cycle complete: pushed=%d abandoned=%d pulled=%d applied=%d",
			result.Pushed, len(result.Abandoned),
			result.PulledHabits+result.PulledEntries,
			result.AppliedHabits+result.AppliedEntries)
	}
	return result, nil
}

// drain replays the pending-operations queue against the remote store in
// FIFO order. Returns offline=true if the remote went away mid-drain; the
// unconfirmed tail of the queue stays put with no retries consumed.
func (e *Engine) drain(ctx context.Context, result *CycleResult) (offline bool, err error) {
	ops, err := e.db.PendingOps(ctx)
	if err != nil {
		return false, err
	}
	if len(ops) == 0 {
		return false, nil
	}

	for _, batch := range partition(ops) {
		batchResult, skipped, err := e.pushBatch(ctx, batch, result)
		if err != nil {
			if errors.Is(err, remote.ErrOffline) {
				return true, nil
			}
			return false, err
		}

		for _, op := range batch {
			if skipped[op.Seq] {
				continue
			}
			if recErr, failed := batchResult.Failed[op.RecordID]; failed {
				if err := e.failOp(ctx, op, recErr, result); err != nil {
					return false, err
				}
				continue
			}
			if err := e.db.DeleteOp(ctx, op.Seq); err != nil {
				return false, err
			}
			result.Pushed++
		}
	}
	return false, nil
}

// pushBatch sends one run of same-shaped operations. Operations whose
// payload no longer parses are abandoned up front (they can never succeed)
// and reported back in skipped so the caller does not confirm them.
func (e *Engine) pushBatch(ctx context.Context, batch []*schema.PendingOp, result *CycleResult) (*remote.BatchResult, map[int64]bool, error) {
	kind, collection := batch[0].Kind, batch[0].Collection
	skipped := make(map[int64]bool)

	if kind == schema.OpDelete {
		ids := make([]string, len(batch))
		for i, op := range batch {
			ids[i] = op.RecordID
		}
		var res *remote.BatchResult
		var err error
		if collection == schema.CollectionHabits {
			res, err = e.client.DeleteHabits(ctx, ids)
		} else {
			res, err = e.client.DeleteEntries(ctx, ids)
		}
		return res, skipped, err
	}

	switch collection {
	case schema.CollectionHabits:
		var habits []*schema.Habit
		for _, op := range batch {
			var h schema.Habit
			if err := json.Unmarshal(op.Payload, &h); err != nil {
				if err := e.abandonOp(ctx, op, fmt.Sprintf("malformed payload: %v", err), result); err != nil {
					return nil, nil, err
				}
				skipped[op.Seq] = true
				continue
			}
			habits = append(habits, &h)
		}
		res, err := e.client.UpsertHabits(ctx, habits)
		return res, skipped, err
	case schema.CollectionEntries:
		var entries []*schema.Entry
		for _, op := range batch {
			var en schema.Entry
			if err := json.Unmarshal(op.Payload, &en); err != nil {
				if err := e.abandonOp(ctx, op, fmt.Sprintf("malformed payload: %v", err), result); err != nil {
					return nil, nil, err
				}
				skipped[op.Seq] = true
				continue
			}
			entries = append(entries, &en)
		}
		res, err := e.client.UpsertEntries(ctx, entries)
		return res, skipped, err
	default:
		return nil, nil, fmt.Errorf("unknown collection %q in queue", collection)
	}
}

// failOp charges one retry and abandons the operation when its budget is
// exhausted. An abandoned op is reported, never silently dropped.
func (e *Engine) failOp(ctx context.Context, op *schema.PendingOp, cause error, result *CycleResult) error {
	retries, err := e.db.BumpRetry(ctx, op.Seq)
	if err != nil {
		return err
	}
	if retries < e.retryCeiling {
		e.logger.Printf("Push of %s %s failed (attempt %d/%d): %v",
			op.Collection, op.RecordID, retries, e.retryCeiling, cause)
		return nil
	}
	return e.abandonOp(ctx, op, cause.Error(), result)
}

func (e *Engine) abandonOp(ctx context.Context, op *schema.PendingOp, reason string, result *CycleResult) error {
	if err := e.db.DeleteOp(ctx, op.Seq); err != nil {
		return err
	}
	e.logger.Printf("WARNING: Abandoning %s %s of %s: %s", op.Kind, op.Collection, op.RecordID, reason)
	result.Abandoned = append(result.Abandoned, Abandoned{
		Seq:        op.Seq,
		Collection: op.Collection,
		Kind:       op.Kind,
		RecordID:   op.RecordID,
		Reason:     reason,
	})
	return nil
}

// pull fetches remote changes since the last successful pull and merges
// them last-write-wins into the local store.
func (e *Engine) pull(ctx context.Context, result *CycleResult) error {
	settings, err := e.db.GetSettings(ctx, e.ownerID)
	if err != nil {
		return err
	}

	// The watermark is taken before the selects: anything updated while
	// this pull runs gets picked up again next time rather than lost.
	pullStart := e.now()

	habits, err := e.client.SelectHabits(ctx, e.ownerID, settings.LastSyncAt)
	if err != nil {
		return err
	}
	entries, err := e.client.SelectEntries(ctx, e.ownerID, settings.LastSyncAt)
	if err != nil {
		return err
	}
	result.PulledHabits = len(habits)
	result.PulledEntries = len(entries)

	for _, h := range habits {
		applied, err := e.mergeHabit(ctx, h)
		if err != nil {
			return err
		}
		if applied {
			result.AppliedHabits++
		}
	}
	for _, en := range entries {
		applied, err := e.mergeEntry(ctx, en)
		if err != nil {
			return err
		}
		if applied {
			result.AppliedEntries++
		}
	}

	return e.db.SetLastSyncAt(ctx, e.ownerID, pullStart)
}

// mergeHabit applies a remote habit unless the local copy is strictly
// newer. Ties apply the remote row, the same rule the push guard uses, so
// equal-timestamp divergent copies converge on the remote version.
func (e *Engine) mergeHabit(ctx context.Context, h *schema.Habit) (bool, error) {
	local, err := e.db.GetHabit(ctx, h.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return false, err
	default:
		if h.UpdatedAt.Before(local.UpdatedAt) {
			return false, nil
		}
	}
	if err := e.db.UpsertHabit(ctx, h); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) mergeEntry(ctx context.Context, en *schema.Entry) (bool, error) {
	local, err := e.db.GetEntry(ctx, en.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return false, err
	default:
		if en.UpdatedAt.Before(local.UpdatedAt) {
			return false, nil
		}
	}
	if err := e.db.UpsertEntry(ctx, en); err != nil {
		return false, err
	}
	return true, nil
}

// partition splits the queue into consecutive runs sharing a collection
// and kind. Only adjacent ops are batched together: batching across an
// upsert-then-delete pair would reorder them.
func partition(ops []*schema.PendingOp) [][]*schema.PendingOp {
	var batches [][]*schema.PendingOp
	for _, op := range ops {
		n := len(batches)
		if n > 0 {
			last := batches[n-1]
			if last[0].Collection == op.Collection && last[0].Kind == op.Kind {
				batches[n-1] = append(last, op)
				continue
			}
		}
		batches = append(batches, []*schema.PendingOp{op})
	}
	return batches
}
