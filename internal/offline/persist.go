package offline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ecofleet-io/ecofleet/internal/pkg/kv"
)

// stateKey holds the whole queue as one document so that a write either
// lands completely or not at all.
const stateKey = "offline/queue"

const stateVersion = 1

type persistedState struct {
	Version int                   `json:"version"`
	Intents []*PendingWriteIntent `json:"intents"`

	// IDs maps temp ids of committed creates to server ids. Intents enqueued
	// later with a stale temp id are rewritten on the way in.
	IDs map[string]string `json:"ids,omitempty"`
}

// load restores the queue. A corrupt document is dropped with a warning.
// Intents caught mid replay by a crash return to pending.
func (q *Queue) load(ctx context.Context) error {
	var st persistedState

	err := kv.GetJSON(ctx, q.store, stateKey, &st)
	var corrupt *kv.CorruptError
	switch {
	case err == nil:
	case errors.Is(err, kv.ErrNotFound):
	case errors.As(err, &corrupt):
		q.logger.Warn("Persisted write queue is unreadable, starting with an empty queue", "key", stateKey, "error", corrupt.Err)
		st = persistedState{}
	default:
		return fmt.Errorf("failed to load write queue: %w", err)
	}

	q.items = q.items[:0]
	for _, it := range st.Intents {
		if it == nil || it.ID == "" {
			continue
		}

		switch it.Phase {
		case PhasePending, PhaseFailedTerminal:
		case PhaseFlushing, PhaseFailedRetryable:
			if err := q.lc.fire(ctx, it, EventRecover, nil); err != nil {
				return fmt.Errorf("failed to recover intent %s: %w", it.ID, err)
			}
		case PhaseCommitted:
			continue
		default:
			q.logger.Warn("Dropping persisted intent with unknown phase", "intent", it.ID, "phase", it.Phase)
			continue
		}
		q.items = append(q.items, it)
	}

	q.idMap = st.IDs
	if q.idMap == nil {
		q.idMap = make(map[string]string)
	}

	if len(q.items) > 0 {
		q.logger.Info("Restored offline write queue", "intents", len(q.items))
	}
	return nil
}

// persistLocked writes the queue through to the store. It must be called
// with q.mu held.
func (q *Queue) persistLocked(ctx context.Context) error {
	st := persistedState{
		Version: stateVersion,
		Intents: q.items,
		IDs:     q.idMap,
	}
	return kv.SetJSON(context.WithoutCancel(ctx), q.store, stateKey, st)
}

func (q *Queue) persistOrWarnLocked(ctx context.Context) {
	if err := q.persistLocked(ctx); err != nil {
		q.logger.Error(err, "Failed to persist write queue")
	}
}
