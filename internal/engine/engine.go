package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetsim/internal/config"
	"fleetsim/internal/domain"
	"fleetsim/internal/recorder"
	"fleetsim/internal/repo"
	"fleetsim/internal/sim"
)

// ErrRunNotResident marks a run that exists in the database but has no
// in-memory world, typically after a process restart. Its history and
// snapshots remain readable; it can no longer be advanced.
var ErrRunNotResident = errors.New("run is not resident in this process")

// Engine owns the live worlds and ties them to the persistence layer.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Recorder recorder.Recorder
	Config   *config.Config
	Now      func() time.Time

	mu   sync.Mutex
	live map[string]*liveRun
}

type liveRun struct {
	world        *sim.World
	locCursors   map[string]int
	truckCursors map[string]int
	finished     bool
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	return &Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Recorder: recorder.Recorder{DB: db},
		Config:   cfg,
		Now:      time.Now,
		live:     map[string]*liveRun{},
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// StartRun creates a world from the active scenario config and persists
// the run row plus every tick-0 creation event.
func (e *Engine) StartRun(ctx context.Context) (domain.Run, error) {
	if e.Config == nil {
		return domain.Run{}, errors.New("config not loaded")
	}
	world, err := sim.NewWorld(e.Config.Params())
	if err != nil {
		return domain.Run{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s|%d|%s", e.Config.Scenario.Name, e.Config.Scenario.Seed, now))).String()
	cfgYAML, err := e.Config.ToYAML()
	if err != nil {
		return domain.Run{}, err
	}

	run := domain.Run{
		ID:         id,
		Scenario:   e.Config.Scenario.Name,
		Seed:       e.Config.Scenario.Seed,
		Status:     "running",
		Tick:       0,
		ConfigYAML: string(cfgYAML),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Run{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertRun(ctx, tx, run); err != nil {
		return domain.Run{}, fmt.Errorf("insert run: %w", err)
	}

	lr := &liveRun{
		world:        world,
		locCursors:   map[string]int{},
		truckCursors: map[string]int{},
	}
	if err := e.Recorder.Append(ctx, tx, run.ID, "world", run.ID, sim.Event{
		Tick: 0,
		Type: "run_started",
		Details: map[string]any{
			"scenario":  run.Scenario,
			"seed":      run.Seed,
			"trucks":    len(world.Trucks()),
			"locations": len(world.Locations()),
		},
	}); err != nil {
		return domain.Run{}, err
	}
	if err := e.flushLogs(ctx, tx, run.ID, lr); err != nil {
		return domain.Run{}, err
	}
	if err := e.snapshot(ctx, tx, run.ID, lr); err != nil {
		return domain.Run{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Run{}, err
	}

	e.mu.Lock()
	e.live[run.ID] = lr
	e.mu.Unlock()
	return run, nil
}

// Advance steps a run's world forward and persists the events produced.
func (e *Engine) Advance(ctx context.Context, runID string, ticks int) (domain.Run, error) {
	if ticks < 1 {
		return domain.Run{}, errors.New("ticks must be at least 1")
	}
	lr, err := e.resident(ctx, runID)
	if err != nil {
		return domain.Run{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if lr.finished {
		return domain.Run{}, fmt.Errorf("run %s already finished", runID)
	}
	lr.world.Run(ticks)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Run{}, err
	}
	defer tx.Rollback()

	if err := e.flushLogs(ctx, tx, runID, lr); err != nil {
		return domain.Run{}, err
	}
	sum := lr.world.Summarize()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateRunProgress(ctx, tx, runID, lr.world.Tick(), sum.DeliveredUnits, sum.WastedUnits, now); err != nil {
		return domain.Run{}, err
	}
	if err := e.Recorder.Append(ctx, tx, runID, "world", runID, sim.Event{
		Tick: lr.world.Tick(),
		Type: "run_advanced",
		Details: map[string]any{
			"ticks": ticks,
			"tick":  lr.world.Tick(),
		},
	}); err != nil {
		return domain.Run{}, err
	}
	if err := e.snapshot(ctx, tx, runID, lr); err != nil {
		return domain.Run{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Run{}, err
	}
	return e.Repo.GetRun(ctx, runID)
}

// FinishRun closes a run: records the final summary event and snapshot
// and marks the row finished. The world stays resident read-only.
func (e *Engine) FinishRun(ctx context.Context, runID string) (domain.Run, error) {
	lr, err := e.resident(ctx, runID)
	if err != nil {
		return domain.Run{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if lr.finished {
		return domain.Run{}, fmt.Errorf("run %s already finished", runID)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Run{}, err
	}
	defer tx.Rollback()

	if err := e.flushLogs(ctx, tx, runID, lr); err != nil {
		return domain.Run{}, err
	}
	sum := lr.world.Summarize()
	if err := e.Recorder.Append(ctx, tx, runID, "world", runID, sim.Event{
		Tick: lr.world.Tick(),
		Type: "run_finished",
		Details: map[string]any{
			"ticks":           sum.Ticks,
			"delivered_units": sum.DeliveredUnits,
			"wasted_units":    sum.WastedUnits,
			"total_cargo_kg":  sum.TotalCargoKg,
		},
	}); err != nil {
		return domain.Run{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.FinishRun(ctx, tx, runID, now); err != nil {
		return domain.Run{}, err
	}
	if err := e.snapshot(ctx, tx, runID, lr); err != nil {
		return domain.Run{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Run{}, err
	}
	lr.finished = true
	return e.Repo.GetRun(ctx, runID)
}

// GetRun returns the persisted run row.
func (e *Engine) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	return e.Repo.GetRun(ctx, runID)
}

// ListRuns returns persisted runs, newest first.
func (e *Engine) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	return e.Repo.ListRuns(ctx, limit)
}

// State returns the current world view for a run: live state when the
// world is resident, the latest snapshot otherwise.
func (e *Engine) State(ctx context.Context, runID string) (domain.WorldState, error) {
	e.mu.Lock()
	if lr, ok := e.live[runID]; ok {
		state := worldState(runID, lr.world)
		e.mu.Unlock()
		return state, nil
	}
	e.mu.Unlock()
	if _, err := e.Repo.GetRun(ctx, runID); err != nil {
		return domain.WorldState{}, err
	}
	_, stateJSON, err := e.Repo.LatestSnapshot(ctx, runID)
	if err != nil {
		return domain.WorldState{}, err
	}
	var state domain.WorldState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return domain.WorldState{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return state, nil
}

// Summary computes the run summary from current state.
func (e *Engine) Summary(ctx context.Context, runID string) (domain.RunSummary, error) {
	state, err := e.State(ctx, runID)
	if err != nil {
		return domain.RunSummary{}, err
	}
	sum := state.Summary
	count, err := e.Repo.CountEvents(ctx, runID)
	if err != nil {
		return domain.RunSummary{}, err
	}
	sum.EventCount = count
	return sum, nil
}

func (e *Engine) resident(ctx context.Context, runID string) (*liveRun, error) {
	e.mu.Lock()
	lr, ok := e.live[runID]
	e.mu.Unlock()
	if ok {
		return lr, nil
	}
	if _, err := e.Repo.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrRunNotResident, runID)
}

func (e *Engine) flushLogs(ctx context.Context, tx *sql.Tx, runID string, lr *liveRun) error {
	for _, l := range lr.world.Locations() {
		cur, err := e.Recorder.FlushLog(ctx, tx, runID, "location", l.ID, l.EventLog(), lr.locCursors[l.ID])
		if err != nil {
			return err
		}
		lr.locCursors[l.ID] = cur
	}
	for _, t := range lr.world.Trucks() {
		cur, err := e.Recorder.FlushLog(ctx, tx, runID, "truck", t.ID, t.EventLog(), lr.truckCursors[t.ID])
		if err != nil {
			return err
		}
		lr.truckCursors[t.ID] = cur
	}
	return nil
}

func (e *Engine) snapshot(ctx context.Context, tx *sql.Tx, runID string, lr *liveRun) error {
	state := worldState(runID, lr.world)
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	return e.Repo.UpsertSnapshot(ctx, tx, runID, lr.world.Tick(), string(data), now)
}

func worldState(runID string, w *sim.World) domain.WorldState {
	state := domain.WorldState{Tick: w.Tick()}
	for _, l := range w.Locations() {
		state.Locations = append(state.Locations, locationView(l))
	}
	for _, t := range w.Trucks() {
		state.Trucks = append(state.Trucks, truckView(t))
	}
	sum := w.Summarize()
	state.Summary = domain.RunSummary{
		RunID:          runID,
		Ticks:          sum.Ticks,
		DeliveredUnits: sum.DeliveredUnits,
		WastedUnits:    sum.WastedUnits,
		DemandCounts:   sum.DemandCounts,
		TotalCargoKg:   sum.TotalCargoKg,
		EventCount:     sum.EventCount,
	}
	return state
}

func locationView(l *sim.Location) domain.LocationView {
	v := domain.LocationView{
		ID:            l.ID,
		Name:          l.Name,
		Type:          string(l.Type),
		Lat:           l.Lat,
		Lon:           l.Lon,
		Resources:     l.Resources(),
		TrucksPresent: l.TrucksPresent(),
	}
	for _, d := range l.Demands() {
		v.Demands = append(v.Demands, domain.DemandView{
			ID:        d.ID,
			Resource:  d.Resource,
			Quantity:  d.Requested,
			Fulfilled: d.Fulfilled,
			Status:    string(d.Status),
			CreatedAt: d.CreatedAt,
		})
	}
	return v
}

func truckView(t *sim.Truck) domain.TruckView {
	v := domain.TruckView{
		ID:         t.ID,
		CapacityKg: t.CapacityKg,
		Status:     string(t.Status()),
		CargoKg:    t.CargoKg(),
		Manifest:   t.Manifest(),
	}
	if loc := t.Location(); loc != nil {
		v.Location = loc.ID
	}
	for _, stop := range t.Route() {
		v.Route = append(v.Route, stop.ID)
	}
	return v
}
