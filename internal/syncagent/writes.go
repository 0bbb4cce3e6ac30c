package syncagent

import (
	"context"
	"net/url"
	"path"

	"github.com/ecofleet-io/ecofleet/internal/offline"
	"github.com/ecofleet-io/ecofleet/internal/snapshot"
	"github.com/ecofleet-io/ecofleet/pkg/log"
)

// collectionKinds maps API collection paths to snapshot record kinds.
var collectionKinds = map[string]string{
	"/api/vehicles":       snapshot.KindVehicle,
	"/api/offices":        snapshot.KindOffice,
	"/api/emission-tests": snapshot.KindEmissionTest,
}

// writes records queued creates as optimistic snapshot records so offline
// reports include them until the server confirms them, and forgets them when
// the create is discarded.
type writes struct {
	*offline.Queue
	cache *snapshot.Cache
}

func (w *writes) Submit(ctx context.Context, in *offline.PendingWriteIntent) (*offline.SubmitResult, error) {
	res, err := w.Queue.Submit(ctx, in)
	if err != nil || !res.Queued || res.Intent.Kind != offline.KindCreate {
		return res, err
	}

	kind, ok := collectionKinds[collection(res.Intent.Target)]
	if !ok {
		return res, nil
	}
	if err := w.cache.PutOptimistic(ctx, kind, res.Intent.TempID, res.Intent.Payload); err != nil {
		log.FromContext(ctx).Error(err, "Failed to record optimistic write", "intent", res.Intent.ID)
	}
	return res, nil
}

func (w *writes) Discard(ctx context.Context, id string) error {
	var tempID string
	for _, it := range w.Queue.List() {
		if it.ID == id && it.Kind == offline.KindCreate {
			tempID = it.TempID
			break
		}
	}

	if err := w.Queue.Discard(ctx, id); err != nil {
		return err
	}
	if tempID == "" {
		return nil
	}
	if err := w.cache.DropOptimistic(ctx, tempID); err != nil {
		log.FromContext(ctx).Error(err, "Failed to drop optimistic record", "intent", id, "temp_id", tempID)
	}
	return nil
}

func collection(target string) string {
	if u, err := url.Parse(target); err == nil {
		target = u.Path
	}
	return path.Clean(target)
}
