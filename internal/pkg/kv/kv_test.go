package kv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecofleet-io/ecofleet/pkg/options"
)

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "queue", []byte(`[1]`)))
	got, err := s.Get(ctx, "queue")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[1]`), got)

	require.NoError(t, s.Set(ctx, "queue", []byte(`[1,2]`)))
	got, err = s.Get(ctx, "queue")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[1,2]`), got)

	require.NoError(t, s.Delete(ctx, "queue"))
	_, err = s.Get(ctx, "queue")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Delete(ctx, "queue"), "deleting a missing key")
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemory())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemory()
	v := []byte("abc")
	require.NoError(t, s.Set(context.Background(), "k", v))
	v[0] = 'z'

	got, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestSQLiteStoreInMemory(t *testing.T) {
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	testStore(t, s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "agent.db")

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "queue", []byte(`{"v":1}`)))
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	got, err := s.Get(context.Background(), "queue")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(got))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("ECOFLEET_TEST_REDIS_ADDR")
	if addr == "" {
		addr = newRedisServer(t)
	}

	opts := options.NewRedisOptions()
	opts.Addr = addr
	opts.DialTimeout = 2 * time.Second

	s, err := NewRedis(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	testStore(t, WithPrefix(s, "ecofleet-test-"+time.Now().Format("150405.000")))
}

func TestS3Store(t *testing.T) {
	endpoint := os.Getenv("ECOFLEET_TEST_S3_ENDPOINT")
	if endpoint == "" {
		endpoint = newS3Server(t)
	}

	opts := options.NewS3Options()
	opts.Endpoint = endpoint
	opts.AccessKeyID = os.Getenv("ECOFLEET_TEST_S3_ACCESS_KEY")
	opts.SecretAccessKey = os.Getenv("ECOFLEET_TEST_S3_SECRET_KEY")

	s, err := NewS3(context.Background(), opts)
	require.NoError(t, err)

	testStore(t, WithPrefix(s, "test"))
}

func TestWithPrefix(t *testing.T) {
	base := NewMemory()
	ctx := context.Background()

	a := WithPrefix(base, "agent-a")
	b := WithPrefix(base, "agent-b")

	require.NoError(t, a.Set(ctx, "queue", []byte("a")))
	_, err := b.Get(ctx, "queue")
	assert.ErrorIs(t, err, ErrNotFound)

	raw, err := base.Get(ctx, "agent-a/queue")
	require.NoError(t, err)
	assert.Equal(t, "a", string(raw))

	assert.Same(t, base, WithPrefix(base, ""))
}

func TestJSONHelpers(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	type record struct {
		ID   string `json:"id"`
		Tags []int  `json:"tags"`
	}

	require.NoError(t, SetJSON(ctx, s, "r", record{ID: "veh-1", Tags: []int{1, 2}}))

	var got record
	require.NoError(t, GetJSON(ctx, s, "r", &got))
	assert.Equal(t, record{ID: "veh-1", Tags: []int{1, 2}}, got)

	require.NoError(t, s.Set(ctx, "broken", []byte("{not json")))
	err := GetJSON(ctx, s, "broken", &got)

	var corrupt *CorruptError
	require.True(t, errors.As(err, &corrupt))
	assert.Equal(t, "broken", corrupt.Key)

	assert.ErrorIs(t, GetJSON(ctx, s, "absent", &got), ErrNotFound)
}

func TestNewFromOptions(t *testing.T) {
	opts := options.NewStoreOptions()
	opts.Backend = options.StoreMemory

	s, err := New(context.Background(), opts)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "k", []byte("v")))

	opts.Backend = "etcd"
	_, err = New(context.Background(), opts)
	assert.Error(t, err)
}
