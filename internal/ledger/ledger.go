// Package ledger keeps an append-only history of ring runs for auditing
// and the runs API.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ringflash/internal/ring"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventRunCompleted EventType = "run_completed"
	EventRunSkipped   EventType = "run_skipped"
	EventArmFailed    EventType = "arm_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64          `json:"id"`
	RunID     string         `json:"run_id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Ledger provides append-only run logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger. Terminal events use INSERT OR
// IGNORE so a run is completed or skipped at most once.
func (l *Ledger) Append(ctx context.Context, eventType EventType, runID, source string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	insertSQL := `INSERT INTO run_ledger (run_id, event_type, timestamp, source, payload) VALUES (?, ?, ?, ?, ?)`
	if eventType == EventRunCompleted || eventType == EventRunSkipped {
		insertSQL = `INSERT OR IGNORE INTO run_ledger (run_id, event_type, timestamp, source, payload) VALUES (?, ?, ?, ?, ?)`
	}

	_, err = l.db.ExecContext(ctx, insertSQL, runID, string(eventType), l.now().UTC().UnixMilli(), source, string(payloadJSON))
	return err
}

// RecordRun appends the rows describing one ring outcome. Ledger failures
// are logged; they never affect the run.
func (l *Ledger) RecordRun(ctx context.Context, out ring.Outcome) {
	var err error
	defer func() {
		if err != nil {
			log.Warn().Err(err).Str("run_id", out.RunID).Msg("Failed to record run")
		}
	}()

	if out.Status == ring.StatusSkipped {
		err = l.Append(ctx, EventRunSkipped, out.RunID, out.Source, map[string]any{"reason": out.SkipReason})
		return
	}

	if err = l.Append(ctx, EventRunStarted, out.RunID, out.Source, map[string]any{
		"started_at": out.StartedAt.UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return
	}

	arms := []struct {
		name string
		err  error
	}{{"flash", out.FlashErr}, {"chime", out.ChimeErr}}
	for _, arm := range arms {
		if arm.err == nil {
			continue
		}
		if err = l.Append(ctx, EventArmFailed, out.RunID, out.Source, map[string]any{
			"arm":   arm.name,
			"error": arm.err.Error(),
		}); err != nil {
			return
		}
	}

	err = l.Append(ctx, EventRunCompleted, out.RunID, out.Source, summary(out))
}

func summary(out ring.Outcome) map[string]any {
	payload := map[string]any{
		"duration_ms": out.Duration().Milliseconds(),
		"flash_ok":    out.Flash != nil && out.FlashErr == nil,
		"chime_ok":    out.Chime != nil && out.ChimeErr == nil,
	}
	if f := out.Flash; f != nil {
		payload["flash_targets"] = f.Targets
		payload["flash_missing"] = f.Missing
		payload["flash_pulses"] = f.Pulses
		payload["flash_restored"] = f.Restored
	}
	if c := out.Chime; c != nil {
		payload["chime_players"] = c.Players
		payload["chime_duration_ms"] = c.Duration.Milliseconds()
	}
	return payload
}

// Recent returns the newest entries first
func (l *Ledger) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, run_id, event_type, timestamp, source, payload
		FROM run_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ByRun returns the entries of one run in insertion order
func (l *Ledger) ByRun(ctx context.Context, runID string) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, run_id, event_type, timestamp, source, payload
		FROM run_ledger
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.ExecContext(ctx, `DELETE FROM run_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, source sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.EventType, &timestamp, &source, &payloadStr); err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		entry.Source = source.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
