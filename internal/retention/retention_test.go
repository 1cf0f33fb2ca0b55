package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"bedolagabot/internal/broadcast"
	"bedolagabot/internal/storage"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(storage.Config{
		Path:        filepath.Join(t.TempDir(), "retention.db"),
		BusyTimeout: time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDisabledServiceNeverSchedules(t *testing.T) {
	svc := New(Config{Enabled: false}, openStore(t), zerolog.Nop())
	require.NoError(t, svc.Start())
	require.Nil(t, svc.cron)
	svc.Stop(context.Background()) // no-op, must not block
}

func TestStartRejectsBadSchedule(t *testing.T) {
	svc := New(Config{Enabled: true, Schedule: "not a cron spec"}, openStore(t), zerolog.Nop())
	require.Error(t, svc.Start())
}

func TestRunOncePrunesOldFinishedRows(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	old := &storage.Broadcast{Channel: broadcast.ChannelMessage, Target: "all", MessageText: "m"}
	require.NoError(t, store.CreateBroadcast(ctx, old))
	require.NoError(t, store.Finish(ctx, old.ID, broadcast.StatusCompleted, 1, 0))

	// A tiny MaxAge makes the freshly finished row eligible.
	time.Sleep(5 * time.Millisecond)
	svc := New(Config{Enabled: true, MaxAge: time.Millisecond}, store, zerolog.Nop())
	svc.runOnce()

	_, err := store.GetBroadcast(ctx, old.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunOnceKeepsRecentRows(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	row := &storage.Broadcast{Channel: broadcast.ChannelMessage, Target: "all", MessageText: "m"}
	require.NoError(t, store.CreateBroadcast(ctx, row))
	require.NoError(t, store.Finish(ctx, row.ID, broadcast.StatusCompleted, 1, 0))

	svc := New(Config{Enabled: true, MaxAge: 90 * 24 * time.Hour}, store, zerolog.Nop())
	svc.runOnce()

	_, err := store.GetBroadcast(ctx, row.ID)
	require.NoError(t, err)
}
