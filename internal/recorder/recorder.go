package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fleetsim/internal/sim"
)

// Recorder persists simulation events into the events table.
type Recorder struct {
	DB  *sql.DB
	Now func() time.Time
}

func (r Recorder) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// Append writes a single simulation event for an entity.
func (r Recorder) Append(ctx context.Context, tx *sql.Tx, runID, entityKind, entityID string, e sim.Event) error {
	ts := r.now().UTC().Format(time.RFC3339)
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(run_id,tick,entity_kind,entity_id,type,payload_json,ts) VALUES (?,?,?,?,?,?,?)`,
		runID, e.Tick, entityKind, entityID, e.Type, string(data), ts)
	return err
}

// FlushLog writes every event past cursor from an entity log and returns
// the advanced cursor. Safe to call repeatedly; already-flushed entries
// are skipped.
func (r Recorder) FlushLog(ctx context.Context, tx *sql.Tx, runID, entityKind, entityID string, log *sim.Log, cursor int) (int, error) {
	pending := log.Since(cursor)
	for _, e := range pending {
		if err := r.Append(ctx, tx, runID, entityKind, entityID, e); err != nil {
			return cursor, err
		}
		cursor++
	}
	return cursor, nil
}
