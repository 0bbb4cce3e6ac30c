// Package snapshot keeps the last known API data on local storage so the
// dashboard can be served while offline.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/ecofleet-io/ecofleet/internal/compliance"
	"github.com/ecofleet-io/ecofleet/internal/pkg/kv"
	"github.com/ecofleet-io/ecofleet/pkg/log"
)

const (
	keyPrefix     = "snapshot/"
	indexKey      = "snapshot-index"
	optimisticKey = "snapshot-optimistic"
)

// Record kinds accepted by PutOptimistic.
const (
	KindVehicle      = "vehicle"
	KindOffice       = "office"
	KindEmissionTest = "emission_test"
)

// Dataset is the API data a compliance report is computed from.
type Dataset struct {
	Vehicles  []compliance.Vehicle      `json:"vehicles"`
	Offices   []compliance.Office       `json:"offices"`
	Tests     []compliance.EmissionTest `json:"tests"`
	FetchedAt time.Time                 `json:"fetched_at"`
}

// Optimistic is a record created locally that the server has not confirmed
// yet. Once reconciled it carries the server id until a fetched dataset
// contains it.
type Optimistic struct {
	Kind      string          `json:"kind"`
	TempID    string          `json:"temp_id"`
	ServerID  string          `json:"server_id,omitempty"`
	Record    json.RawMessage `json:"record"`
	CreatedAt time.Time       `json:"created_at"`
}

// ID is the id the record is currently known by.
func (o Optimistic) ID() string {
	if o.ServerID != "" {
		return o.ServerID
	}
	return o.TempID
}

// Cache persists datasets per query key plus the optimistic records.
type Cache struct {
	store  kv.Store
	clock  clock.PassiveClock
	logger log.Logger

	mu sync.Mutex
}

// NewCache creates a Cache on top of store.
func NewCache(store kv.Store, clk clock.PassiveClock) *Cache {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Cache{
		store:  store,
		clock:  clk,
		logger: log.WithName("snapshot"),
	}
}

// Load returns the dataset cached under key. A missing or unreadable entry
// is a miss; unreadable entries are logged.
func (c *Cache) Load(ctx context.Context, key string) (*Dataset, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(ctx, key)
}

func (c *Cache) loadLocked(ctx context.Context, key string) (*Dataset, bool, error) {
	var ds Dataset
	err := kv.GetJSON(ctx, c.store, keyPrefix+key, &ds)

	var corrupt *kv.CorruptError
	switch {
	case err == nil:
		return &ds, true, nil
	case errors.Is(err, kv.ErrNotFound):
		return nil, false, nil
	case errors.As(err, &corrupt):
		c.logger.Warn("Cached snapshot is unreadable, treating as a miss", "key", key, "error", corrupt.Err)
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("failed to load snapshot %q: %w", key, err)
	}
}

// Save stores ds under key and drops optimistic records the dataset now
// contains.
func (c *Cache) Save(ctx context.Context, key string, ds *Dataset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.saveLocked(ctx, key, ds); err != nil {
		return err
	}

	opt, err := c.optimisticLocked(ctx)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(slices.Clone(opt), func(o Optimistic) bool {
		return o.ServerID != "" && ds.contains(o.Kind, o.ServerID)
	})
	if len(kept) != len(opt) {
		return kv.SetJSON(ctx, c.store, optimisticKey, kept)
	}
	return nil
}

func (c *Cache) saveLocked(ctx context.Context, key string, ds *Dataset) error {
	if err := kv.SetJSON(ctx, c.store, keyPrefix+key, ds); err != nil {
		return fmt.Errorf("failed to save snapshot %q: %w", key, err)
	}

	keys, err := c.indexLocked(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(keys, key) {
		keys = append(keys, key)
		if err := kv.SetJSON(ctx, c.store, indexKey, keys); err != nil {
			return fmt.Errorf("failed to update snapshot index: %w", err)
		}
	}
	return nil
}

// PutOptimistic records a locally created record under its temp id so it
// shows up in offline reads.
func (c *Cache) PutOptimistic(ctx context.Context, kind, tempID string, record json.RawMessage) error {
	switch kind {
	case KindVehicle, KindOffice, KindEmissionTest:
	default:
		return fmt.Errorf("unknown optimistic record kind %q", kind)
	}
	if tempID == "" {
		return errors.New("optimistic record needs a temp id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	opt, err := c.optimisticLocked(ctx)
	if err != nil {
		return err
	}
	opt = slices.DeleteFunc(opt, func(o Optimistic) bool { return o.TempID == tempID })
	opt = append(opt, Optimistic{
		Kind:      kind,
		TempID:    tempID,
		Record:    record,
		CreatedAt: c.clock.Now(),
	})
	return kv.SetJSON(ctx, c.store, optimisticKey, opt)
}

// DropOptimistic forgets the optimistic record stored under tempID, for a
// local create that will never reach the server. Unknown ids are ignored.
func (c *Cache) DropOptimistic(ctx context.Context, tempID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opt, err := c.optimisticLocked(ctx)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(opt, func(o Optimistic) bool { return o.TempID == tempID })
	if len(kept) == len(opt) {
		return nil
	}
	if err := kv.SetJSON(ctx, c.store, optimisticKey, kept); err != nil {
		return fmt.Errorf("failed to save optimistic records: %w", err)
	}
	return nil
}

// Optimistic returns the unconfirmed records.
func (c *Cache) Optimistic(ctx context.Context) ([]Optimistic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.optimisticLocked(ctx)
}

func (c *Cache) optimisticLocked(ctx context.Context) ([]Optimistic, error) {
	var opt []Optimistic
	err := kv.GetJSON(ctx, c.store, optimisticKey, &opt)

	var corrupt *kv.CorruptError
	switch {
	case err == nil, errors.Is(err, kv.ErrNotFound):
		return opt, nil
	case errors.As(err, &corrupt):
		c.logger.Warn("Optimistic records are unreadable, dropping them", "error", corrupt.Err)
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to load optimistic records: %w", err)
	}
}

func (c *Cache) indexLocked(ctx context.Context) ([]string, error) {
	var keys []string
	err := kv.GetJSON(ctx, c.store, indexKey, &keys)

	var corrupt *kv.CorruptError
	switch {
	case err == nil, errors.Is(err, kv.ErrNotFound):
		return keys, nil
	case errors.As(err, &corrupt):
		c.logger.Warn("Snapshot index is unreadable, rebuilding", "error", corrupt.Err)
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to load snapshot index: %w", err)
	}
}

// Reconcile replaces tempID with serverID in the optimistic records and in
// every cached dataset. It implements offline.Reconciler.
func (c *Cache) Reconcile(ctx context.Context, tempID, serverID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opt, err := c.optimisticLocked(ctx)
	if err != nil {
		return err
	}
	changed := false
	for i := range opt {
		if opt[i].TempID == tempID && opt[i].ServerID == "" {
			opt[i].ServerID = serverID
			changed = true
		}
	}
	if changed {
		if err := kv.SetJSON(ctx, c.store, optimisticKey, opt); err != nil {
			return fmt.Errorf("failed to save optimistic records: %w", err)
		}
	}

	keys, err := c.indexLocked(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		ds, ok, err := c.loadLocked(ctx, key)
		if err != nil {
			return err
		}
		if !ok || !ds.rewriteID(tempID, serverID) {
			continue
		}
		if err := kv.SetJSON(ctx, c.store, keyPrefix+key, ds); err != nil {
			return fmt.Errorf("failed to save snapshot %q: %w", key, err)
		}
	}

	c.logger.Debug("Reconciled temp id", "temp_id", tempID, "server_id", serverID)
	return nil
}

// WithOptimistic returns a copy of ds with the optimistic records it does not
// already contain appended.
func (c *Cache) WithOptimistic(ctx context.Context, ds *Dataset) (*Dataset, error) {
	opt, err := c.Optimistic(ctx)
	if err != nil {
		return nil, err
	}

	out := ds.clone()
	for _, o := range opt {
		if out.contains(o.Kind, o.ID()) {
			continue
		}
		if err := out.add(o); err != nil {
			c.logger.Warn("Skipping unreadable optimistic record", "temp_id", o.TempID, "error", err)
		}
	}
	return out, nil
}

func (ds *Dataset) clone() *Dataset {
	if ds == nil {
		return &Dataset{}
	}
	return &Dataset{
		Vehicles:  slices.Clone(ds.Vehicles),
		Offices:   slices.Clone(ds.Offices),
		Tests:     slices.Clone(ds.Tests),
		FetchedAt: ds.FetchedAt,
	}
}

func (ds *Dataset) contains(kind, id string) bool {
	switch kind {
	case KindVehicle:
		return slices.ContainsFunc(ds.Vehicles, func(v compliance.Vehicle) bool { return v.ID == id })
	case KindOffice:
		return slices.ContainsFunc(ds.Offices, func(o compliance.Office) bool { return o.ID == id })
	case KindEmissionTest:
		return slices.ContainsFunc(ds.Tests, func(t compliance.EmissionTest) bool { return t.ID == id })
	}
	return false
}

func (ds *Dataset) add(o Optimistic) error {
	switch o.Kind {
	case KindVehicle:
		var v compliance.Vehicle
		if err := json.Unmarshal(o.Record, &v); err != nil {
			return err
		}
		v.ID = o.ID()
		ds.Vehicles = append(ds.Vehicles, v)
	case KindOffice:
		var of compliance.Office
		if err := json.Unmarshal(o.Record, &of); err != nil {
			return err
		}
		of.ID = o.ID()
		ds.Offices = append(ds.Offices, of)
	case KindEmissionTest:
		var t compliance.EmissionTest
		if err := json.Unmarshal(o.Record, &t); err != nil {
			return err
		}
		t.ID = o.ID()
		ds.Tests = append(ds.Tests, t)
	}
	return nil
}

// rewriteID replaces every id and foreign key equal to from.
func (ds *Dataset) rewriteID(from, to string) bool {
	changed := false
	swap := func(s *string) {
		if *s == from {
			*s = to
			changed = true
		}
	}

	for i := range ds.Vehicles {
		swap(&ds.Vehicles[i].ID)
		swap(&ds.Vehicles[i].OfficeID)
	}
	for i := range ds.Offices {
		swap(&ds.Offices[i].ID)
	}
	for i := range ds.Tests {
		swap(&ds.Tests[i].ID)
		swap(&ds.Tests[i].VehicleID)
	}
	return changed
}
