package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreConnections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "virtsession.yml")
	store, err := NewStore(path, nil)
	require.NoError(t, err)
	assert.Empty(t, store.Connections())

	require.NoError(t, store.AddConnection("test:///default"))
	require.NoError(t, store.AddConnection("docker:///var/run/docker.sock"))
	require.NoError(t, store.AddConnection("test:///default"))
	require.NoError(t, store.SetAutoconnect("test:///default", true))
	assert.Equal(t, []string{"test:///default", "docker:///var/run/docker.sock"}, store.Connections())
	assert.True(t, store.Autoconnect("test:///default"))

	reloaded, err := NewStore(path, nil)
	require.NoError(t, err)
	assert.Equal(t, store.Connections(), reloaded.Connections())
	assert.True(t, reloaded.Autoconnect("test:///default"))

	require.NoError(t, store.RemoveConnection("test:///default"))
	assert.Equal(t, []string{"docker:///var/run/docker.sock"}, store.Connections())
	assert.False(t, store.Autoconnect("test:///default"))
}

func TestStoreChangeCallbacks(t *testing.T) {
	store := NewMemoryStore(nil)

	var intervals []time.Duration
	var trays []bool
	store.OnStatsUpdateIntervalChanged(func(d time.Duration) { intervals = append(intervals, d) })
	store.OnViewSystemTrayChanged(func(b bool) { trays = append(trays, b) })

	require.NoError(t, store.SetStatsUpdateInterval(5))
	require.NoError(t, store.SetStatsUpdateInterval(5))
	require.NoError(t, store.SetViewSystemTray(true))
	require.NoError(t, store.SetViewSystemTray(true))
	require.NoError(t, store.SetViewSystemTray(false))

	assert.Equal(t, []time.Duration{5 * time.Second}, intervals)
	assert.Equal(t, []bool{true, false}, trays)

	assert.Error(t, store.SetStatsUpdateInterval(0))
}

func TestStoreReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "stats_update_interval: 1\n")
	store, err := NewStore(path, nil)
	require.NoError(t, err)

	var fired int32
	store.OnStatsUpdateIntervalChanged(func(time.Duration) { atomic.AddInt32(&fired, 1) })

	require.NoError(t, store.Reload())
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))

	writeConfig(t, dir, "stats_update_interval: 4\n")
	require.NoError(t, store.Reload())
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	assert.Equal(t, 4*time.Second, store.StatsUpdateInterval())
}

func TestStoreSnapshotIsolated(t *testing.T) {
	store := NewMemoryStore(&Config{Connections: []string{"a"}})
	snap := store.Snapshot()
	snap.Connections[0] = "mutated"
	assert.Equal(t, []string{"a"}, store.Connections())
}

func TestStoreSaveTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "virtsession.toml")
	store, err := NewStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.AddConnection("test:///default"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "connections")
}

func TestStoreHookRegisteredDuringNotify(t *testing.T) {
	store := NewMemoryStore(nil)

	var late []time.Duration
	store.OnStatsUpdateIntervalChanged(func(time.Duration) {
		store.OnStatsUpdateIntervalChanged(func(d time.Duration) { late = append(late, d) })
	})

	require.NoError(t, store.SetStatsUpdateInterval(3))
	assert.Empty(t, late, "hooks added while notifying wait for the next change")

	require.NoError(t, store.SetStatsUpdateInterval(4))
	assert.Equal(t, []time.Duration{4 * time.Second}, late)
}
