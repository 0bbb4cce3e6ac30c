package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ecofleet-io/ecofleet/internal/apiclient"
	"github.com/ecofleet-io/ecofleet/internal/pkg/metrics"
)

// SubmitResult tells the caller whether a write reached the server or was queued.
type SubmitResult struct {
	Queued bool `json:"queued"`

	// Intent is the queued intent when Queued is true.
	Intent *PendingWriteIntent `json:"intent,omitempty"`

	// ServerID is the id the server assigned to a created record.
	ServerID string `json:"server_id,omitempty"`

	// Response is the server response body of a direct write.
	Response json.RawMessage `json:"response,omitempty"`
}

// Submit is the write path used by the UI. While online, with nothing queued
// for the same resource and no queued create it refers to by temp id, the
// write is sent directly; a network error
// on that request falls back to the queue. While offline the write is queued.
// Server rejections of a direct write are returned to the caller.
func (q *Queue) Submit(ctx context.Context, in *PendingWriteIntent) (*SubmitResult, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: missing intent", ErrInvalidIntent)
	}

	it := in.clone()
	if it.Kind == KindCreate && it.TempID == "" {
		it.TempID = "tmp-" + uuid.NewString()
	}
	if err := normalize(it); err != nil {
		return nil, err
	}

	q.mu.Lock()
	q.applyKnownIDsLocked(it)
	behind := q.hasResourceLocked(it.Resource) || q.dependsOnQueuedCreateLocked(it)
	q.mu.Unlock()

	if behind || !q.online() {
		return q.enqueueResult(ctx, it)
	}

	resp, err := q.send(ctx, it)
	if err != nil {
		if ctx.Err() == nil && (apiclient.IsNetwork(err) || errors.Is(err, context.DeadlineExceeded)) {
			q.logger.Info("Direct write failed, queueing", "target", it.Target, "error", err.Error())
			return q.enqueueResult(ctx, it)
		}
		return nil, err
	}

	result := &SubmitResult{Response: resp.Body}
	if it.Kind == KindCreate {
		if id, ok := extractServerID(resp.Body); ok {
			result.ServerID = id

			q.mu.Lock()
			q.rememberIDLocked(it.TempID, id)
			q.persistOrWarnLocked(ctx)
			q.mu.Unlock()

			q.notifyReconcilers(ctx, it.TempID, id)
		}
	}
	metrics.ReplayTotal.WithLabelValues("direct").Inc()
	return result, nil
}

func (q *Queue) enqueueResult(ctx context.Context, it *PendingWriteIntent) (*SubmitResult, error) {
	queued, err := q.Enqueue(ctx, it)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Queued: true, Intent: queued}, nil
}
