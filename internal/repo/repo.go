package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fleetsim/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO runs(id,scenario,seed,status,tick,config_yaml,delivered_units,wasted_units,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.Scenario, run.Seed, run.Status, run.Tick, run.ConfigYAML, run.DeliveredUnits, run.WastedUnits, run.CreatedAt, run.UpdatedAt)
	return err
}

func scanRun(scan func(dest ...any) error) (domain.Run, error) {
	var run domain.Run
	var finished sql.NullString
	err := scan(&run.ID, &run.Scenario, &run.Seed, &run.Status, &run.Tick, &run.ConfigYAML,
		&run.DeliveredUnits, &run.WastedUnits, &run.CreatedAt, &run.UpdatedAt, &finished)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if finished.Valid {
		run.FinishedAt = &finished.String
	}
	return run, err
}

const runColumns = `id,scenario,seed,status,tick,config_yaml,delivered_units,wasted_units,created_at,updated_at,finished_at`

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id)
	return scanRun(row.Scan)
}

func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, nil
}

func (r Repo) UpdateRunProgress(ctx context.Context, tx *sql.Tx, id string, tick, delivered, wasted int, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE runs SET tick=?, delivered_units=?, wasted_units=?, updated_at=? WHERE id=?`,
		tick, delivered, wasted, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) FinishRun(ctx context.Context, tx *sql.Tx, id, finishedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE runs SET status='finished', finished_at=?, updated_at=? WHERE id=? AND status='running'`,
		finishedAt, finishedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRun(ctx context.Context, id string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE run_id=?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE run_id=?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

type EventFilters struct {
	RunID      string
	EntityKind string
	EntityID   string
	Type       string
	FromTick   int
	ToTick     int
	Limit      int
	Cursor     int64
}

// ListEvents returns events in insertion order; Cursor resumes after a
// previously seen event ID.
func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"run_id=?"}
	args := []any{f.RunID}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.FromTick > 0 {
		clauses = append(clauses, "tick>=?")
		args = append(args, f.FromTick)
	}
	if f.ToTick > 0 {
		clauses = append(clauses, "tick<=?")
		args = append(args, f.ToTick)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, f.Cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,run_id,tick,entity_kind,entity_id,type,payload_json,ts FROM events %s ORDER BY id ASC`, where)
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.RunID, &e.Tick, &e.EntityKind, &e.EntityID, &e.Type, &e.Payload, &e.TS); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// LatestEvents returns the most recent events for a run, newest first.
func (r Repo) LatestEvents(ctx context.Context, runID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,run_id,tick,entity_kind,entity_id,type,payload_json,ts FROM events WHERE run_id=? ORDER BY id DESC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.RunID, &e.Tick, &e.EntityKind, &e.EntityID, &e.Type, &e.Payload, &e.TS); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

func (r Repo) CountEvents(ctx context.Context, runID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM events WHERE run_id=?`, runID).Scan(&n)
	return n, err
}

func (r Repo) CountEventsByType(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT type, count(*) FROM events WHERE run_id=? GROUP BY type`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var evtType string
		var count int
		if err := rows.Scan(&evtType, &count); err != nil {
			return nil, err
		}
		res[evtType] = count
	}
	return res, nil
}

func (r Repo) UpsertSnapshot(ctx context.Context, tx *sql.Tx, runID string, tick int, stateJSON, createdAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO snapshots(run_id,tick,state_json,created_at) VALUES (?,?,?,?)
ON CONFLICT(run_id,tick) DO UPDATE SET state_json=excluded.state_json, created_at=excluded.created_at`,
		runID, tick, stateJSON, createdAt)
	return err
}

// LatestSnapshot returns the most recent snapshot for a run.
func (r Repo) LatestSnapshot(ctx context.Context, runID string) (int, string, error) {
	var tick int
	var state string
	err := r.DB.QueryRowContext(ctx, `SELECT tick,state_json FROM snapshots WHERE run_id=? ORDER BY tick DESC LIMIT 1`, runID).Scan(&tick, &state)
	if err == sql.ErrNoRows {
		return 0, "", ErrNotFound
	}
	return tick, state, err
}
