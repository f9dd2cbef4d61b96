package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/ringflash/internal/chime"
	"github.com/dokzlo13/ringflash/internal/db"
	"github.com/dokzlo13/ringflash/internal/flash"
	"github.com/dokzlo13/ringflash/internal/ring"
)

func newLedger(t *testing.T) (*Ledger, *time.Time) {
	t.Helper()
	database, err := db.Open(db.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(database.DB)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestRecordCompletedRun(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := ring.Outcome{
		RunID:      "run-1",
		Source:     "mqtt",
		Status:     ring.StatusCompleted,
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
		Flash:      &flash.Report{Targets: []string{"light.porch"}, Pulses: 3, Restored: true},
		Chime:      &chime.Report{Players: []string{"media_player.kitchen"}, Duration: 3 * time.Second},
		ChimeErr:   errors.New("speaker offline"),
	}
	l.RecordRun(ctx, out)

	entries, err := l.ByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, EventRunStarted, entries[0].EventType)
	assert.Equal(t, EventArmFailed, entries[1].EventType)
	assert.Equal(t, "chime", entries[1].Payload["arm"])
	assert.Equal(t, "speaker offline", entries[1].Payload["error"])

	done := entries[2]
	assert.Equal(t, EventRunCompleted, done.EventType)
	assert.Equal(t, "mqtt", done.Source)
	assert.Equal(t, float64(3000), done.Payload["duration_ms"])
	assert.Equal(t, true, done.Payload["flash_ok"])
	assert.Equal(t, false, done.Payload["chime_ok"])
	assert.Equal(t, float64(3), done.Payload["flash_pulses"])
}

func TestRecordSkippedRun(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	l.RecordRun(ctx, ring.Outcome{RunID: "run-2", Source: "api", Status: ring.StatusSkipped, SkipReason: "cooldown"})

	entries, err := l.ByRun(ctx, "run-2")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EventRunSkipped, entries[0].EventType)
	assert.Equal(t, "cooldown", entries[0].Payload["reason"])
}

func TestTerminalEventIsRecordedOnce(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, EventRunCompleted, "run-3", "api", nil))
	require.NoError(t, l.Append(ctx, EventRunCompleted, "run-3", "api", nil))

	entries, err := l.ByRun(ctx, "run-3")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecentAndRetention(t *testing.T) {
	l, now := newLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, EventRunSkipped, "old", "api", nil))
	*now = now.Add(2 * time.Hour)
	require.NoError(t, l.Append(ctx, EventRunSkipped, "new", "api", nil))

	recent, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "new", recent[0].RunID)
	assert.Equal(t, "old", recent[1].RunID)

	limited, err := l.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	deleted, err := l.DeleteOlderThan(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	recent, err = l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].RunID)
}
