package config

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "view_system_tray: false\n")
	store, err := NewStore(path, nil)
	require.NoError(t, err)

	var tray atomic.Bool
	store.OnViewSystemTrayChanged(func(b bool) { tray.Store(b) })

	w, err := NewWatcher(store, 20*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	writeConfig(t, dir, "view_system_tray: true\n")

	require.Eventually(t, tray.Load, 2*time.Second, 10*time.Millisecond)
	require.True(t, store.ViewSystemTray())
}
