package retention

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molarewaju77/ScanMed-sub001/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingPurger struct {
	calls atomic.Int32
	err   error
}

func (p *countingPurger) PurgeExpired(context.Context, time.Duration) (int, error) {
	p.calls.Add(1)
	return 0, p.err
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := storage.NewMemoryStore(storage.WithClock(func() time.Time { return now }))

	msgs := []storage.Message{
		storage.NewMessage(storage.SenderUser, "hello", now),
		storage.NewMessage(storage.SenderAssistant, "hi", now),
	}
	old, err := store.Create(ctx, "u1", msgs)
	require.NoError(t, err)
	recent, err := store.Create(ctx, "u1", msgs)
	require.NoError(t, err)
	kept, err := store.Create(ctx, "u1", msgs)
	require.NoError(t, err)

	require.NoError(t, store.SoftDelete(ctx, old.ID))
	now = now.Add(2 * 24 * time.Hour)
	require.NoError(t, store.SoftDelete(ctx, recent.ID))
	now = now.Add(29 * 24 * time.Hour)

	sweeper := NewSweeper(store, 30*24*time.Hour, time.Minute, nil, discardLogger())

	removed, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get(ctx, old.ID)
	assert.Error(t, err)
	_, err = store.Get(ctx, recent.ID)
	assert.NoError(t, err)
	_, err = store.Get(ctx, kept.ID)
	assert.NoError(t, err)

	removed, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRunOnce_Error(t *testing.T) {
	purger := &countingPurger{err: errors.New("locked")}
	sweeper := NewSweeper(purger, 0, 0, nil, discardLogger())

	_, err := sweeper.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, storage.DefaultRetention, sweeper.retention)
	assert.Equal(t, DefaultInterval, sweeper.interval)
}

func TestRun_StopsOnCancel(t *testing.T) {
	purger := &countingPurger{}
	sweeper := NewSweeper(purger, time.Hour, 5*time.Millisecond, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	assert.Eventually(t, func() bool { return purger.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
