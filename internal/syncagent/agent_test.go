package syncagent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecofleet-io/ecofleet/internal/offline"
	"github.com/ecofleet-io/ecofleet/internal/pkg/kv"
	"github.com/ecofleet-io/ecofleet/internal/snapshot"
	"github.com/ecofleet-io/ecofleet/pkg/options"
)

// fakeAPI serves one office and accepts vehicle creates.
type fakeAPI struct {
	mu       sync.Mutex
	created  []json.RawMessage
	vehicles []map[string]any
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/healthz":
		w.Write([]byte("ok"))
	case r.URL.Path == "/api/offices":
		json.NewEncoder(w).Encode([]map[string]any{{"id": "o1", "name": "City Hall", "code": "CH"}})
	case r.URL.Path == "/api/emission-tests":
		w.Write([]byte("[]"))
	case r.URL.Path == "/api/vehicles" && r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(f.vehicles)
	case r.URL.Path == "/api/vehicles" && r.Method == http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		f.created = append(f.created, body)
		var v map[string]any
		json.Unmarshal(body, &v)
		v["id"] = "v-100"
		f.vehicles = append(f.vehicles, v)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"data": v})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeAPI) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func testConfig(apiURL string) *Config {
	store := options.NewStoreOptions()
	store.Backend = options.StoreMemory

	httpOpts := options.NewHttpOptions()
	httpOpts.Addr = "127.0.0.1:0"

	api := options.NewAPIOptions()
	api.BaseURL = apiURL
	api.Timeout = 2 * time.Second

	queue := options.NewQueueOptions()
	queue.ReplayRate = 0
	queue.RetryInterval = 0

	conn := options.NewConnectivityOptions()
	conn.ProbeInterval = 20 * time.Millisecond
	conn.ProbeTimeout = time.Second

	return &Config{
		HttpOptions:         httpOpts,
		APIOptions:          api,
		StoreOptions:        store,
		MqttOptions:         options.NewMqttOptions(),
		QueueOptions:        queue,
		ConnectivityOptions: conn,
	}
}

func TestAgentReplaysQueuedCreateOnStartup(t *testing.T) {
	api := &fakeAPI{}
	ts := httptest.NewServer(api)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent, err := testConfig(ts.URL).NewAgent(ctx)
	require.NoError(t, err)

	queued, err := agent.queue.Enqueue(ctx, &offline.PendingWriteIntent{
		Kind:    offline.KindCreate,
		Target:  "/api/vehicles",
		Payload: json.RawMessage(`{"office_id":"o1","plate_number":"ABC-123","latest_test_result":true,"latest_test_date":"2025-02-01T00:00:00Z"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, queued.TempID)

	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	require.Eventually(t, func() bool {
		return api.createdCount() == 1 && agent.queue.State().Pending == 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, agent.signal.Online())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestWritesRecordsQueuedCreatesOptimistically(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig("http://127.0.0.1:1")

	store := kv.NewMemory()
	agent, err := cfg.newAgent(ctx, store)
	require.NoError(t, err)
	require.False(t, agent.signal.Online())

	cache := snapshot.NewCache(store, nil)
	w := &writes{Queue: agent.queue, cache: cache}

	res, err := w.Submit(ctx, &offline.PendingWriteIntent{
		Kind:    offline.KindCreate,
		Target:  "/api/vehicles",
		Payload: json.RawMessage(`{"office_id":"o1","plate_number":"XYZ-9"}`),
	})
	require.NoError(t, err)
	require.True(t, res.Queued)

	opt, err := cache.Optimistic(ctx)
	require.NoError(t, err)
	require.Len(t, opt, 1)
	assert.Equal(t, snapshot.KindVehicle, opt[0].Kind)
	assert.Equal(t, res.Intent.TempID, opt[0].TempID)

	_, err = w.Submit(ctx, &offline.PendingWriteIntent{
		Kind:    offline.KindUpdate,
		Target:  "/api/vehicles/v1",
		Payload: json.RawMessage(`{"driver_name":"Ana"}`),
	})
	require.NoError(t, err)

	opt, err = cache.Optimistic(ctx)
	require.NoError(t, err)
	assert.Len(t, opt, 1)
}

func TestWritesDiscardDropsOptimisticRecord(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig("http://127.0.0.1:1")

	store := kv.NewMemory()
	agent, err := cfg.newAgent(ctx, store)
	require.NoError(t, err)

	cache := snapshot.NewCache(store, nil)
	w := &writes{Queue: agent.queue, cache: cache}

	var created []*offline.PendingWriteIntent
	for _, plate := range []string{"AAA-1", "BBB-2"} {
		res, err := w.Submit(ctx, &offline.PendingWriteIntent{
			Kind:    offline.KindCreate,
			Target:  "/api/vehicles",
			Payload: json.RawMessage(`{"office_id":"o1","plate_number":"` + plate + `"}`),
		})
		require.NoError(t, err)
		require.True(t, res.Queued)
		created = append(created, res.Intent)
	}
	edit, err := w.Submit(ctx, &offline.PendingWriteIntent{
		Kind:    offline.KindUpdate,
		Target:  "/api/vehicles/v1",
		Payload: json.RawMessage(`{"driver_name":"Ana"}`),
	})
	require.NoError(t, err)

	assert.ErrorIs(t, w.Discard(ctx, "missing"), offline.ErrIntentNotFound)

	require.NoError(t, w.Discard(ctx, created[0].ID))
	require.NoError(t, w.Discard(ctx, edit.Intent.ID))

	opt, err := cache.Optimistic(ctx)
	require.NoError(t, err)
	require.Len(t, opt, 1)
	assert.Equal(t, created[1].TempID, opt[0].TempID)

	ds, err := cache.WithOptimistic(ctx, &snapshot.Dataset{})
	require.NoError(t, err)
	assert.Len(t, ds.Vehicles, 1)
}

func TestCollection(t *testing.T) {
	assert.Equal(t, "/api/vehicles", collection("/api/vehicles/"))
	assert.Equal(t, "/api/offices", collection("/api/offices?x=1"))
	assert.Equal(t, "/api/vehicles/v1", collection("/api/vehicles/v1"))
}

func TestNewAgentWithMQTTSource(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.ConnectivityOptions.Source = options.ConnectivityMQTT

	_, err := cfg.NewAgent(context.Background())
	require.NoError(t, err)
}
