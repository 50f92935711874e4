package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/podstate/pkg/options"
)

func testRoundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "fresh store must be empty")

	require.NoError(t, s.Write(ctx, []byte(`{"version":1}`)))
	require.NoError(t, s.Write(ctx, []byte(`{"version":2}`)))

	data, ok, err := s.Read(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"version":2}`, string(data))
	assert.NoError(t, s.Ping(ctx))
}

func TestMemoryStore(t *testing.T) {
	testRoundTrip(t, NewMemory())
}

func TestMemoryStoreCopiesData(t *testing.T) {
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Write(context.Background(), buf))
	buf[0] = 'x'

	data, _, err := m.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestSQLiteStore(t *testing.T) {
	opts := &options.SQLiteOptions{Path: filepath.Join(t.TempDir(), "nested", "podstate.db"), BusyTimeout: time.Second}
	s, err := NewSQLite(context.Background(), opts, "PodState")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	testRoundTrip(t, s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	opts := &options.SQLiteOptions{Path: filepath.Join(t.TempDir(), "podstate.db"), BusyTimeout: time.Second}

	s, err := NewSQLite(ctx, opts, "PodState")
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, []byte("persisted")))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(ctx, opts, "PodState")
	require.NoError(t, err)
	defer reopened.Close()

	data, ok, err := reopened.Read(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "persisted", string(data))

	other, err := NewSQLite(ctx, opts, "OtherPod")
	require.NoError(t, err)
	defer other.Close()

	_, ok, err = other.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "keys are independent")
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(context.Background(), Options{Store: &options.StoreOptions{Backend: options.StoreBackendMemory, Key: "k"}})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = New(context.Background(), Options{Store: &options.StoreOptions{Backend: "etcd", Key: "k"}})
	assert.Error(t, err)
}
