package domain

type Run struct {
	ID             string  `json:"id"`
	Scenario       string  `json:"scenario"`
	Seed           int64   `json:"seed"`
	Status         string  `json:"status" enum:"running,finished"`
	Tick           int     `json:"tick"`
	ConfigYAML     string  `json:"config_yaml,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
	FinishedAt     *string `json:"finished_at,omitempty" format:"date-time"`
	DeliveredUnits int     `json:"delivered_units"`
	WastedUnits    int     `json:"wasted_units"`
}

type Event struct {
	ID         int64  `json:"id"`
	RunID      string `json:"run_id"`
	Tick       int    `json:"tick"`
	EntityKind string `json:"entity_kind" enum:"truck,location,world"`
	EntityID   string `json:"entity_id"`
	Type       string `json:"type"`
	Payload    string `json:"payload_json"`
	TS         string `json:"ts" format:"date-time"`
}

type LocationView struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          string         `json:"type" enum:"depot,customer,other"`
	Lat           float64        `json:"lat"`
	Lon           float64        `json:"lon"`
	Resources     map[string]int `json:"resources"`
	TrucksPresent []string       `json:"trucks_present"`
	Demands       []DemandView   `json:"demands,omitempty"`
}

type DemandView struct {
	ID        string `json:"id"`
	Resource  string `json:"resource"`
	Quantity  int    `json:"quantity"`
	Fulfilled int    `json:"fulfilled"`
	Status    string `json:"status" enum:"pending,partially_fulfilled,fulfilled"`
	CreatedAt int    `json:"created_at_tick"`
}

type TruckView struct {
	ID         string         `json:"id"`
	CapacityKg int            `json:"capacity_kg"`
	Status     string         `json:"status"`
	Location   string         `json:"location"`
	CargoKg    int            `json:"cargo_kg"`
	Manifest   map[string]int `json:"manifest"`
	Route      []string       `json:"route"`
}

// WorldState is the serialized view of a run at one tick, persisted as
// a snapshot so finished runs stay inspectable after the process exits.
type WorldState struct {
	Tick      int            `json:"tick"`
	Locations []LocationView `json:"locations"`
	Trucks    []TruckView    `json:"trucks"`
	Summary   RunSummary     `json:"summary"`
}

type RunSummary struct {
	RunID          string         `json:"run_id"`
	Ticks          int            `json:"ticks"`
	DeliveredUnits int            `json:"delivered_units"`
	WastedUnits    int            `json:"wasted_units"`
	DemandCounts   map[string]int `json:"demand_counts"`
	TotalCargoKg   int            `json:"total_cargo_kg"`
	EventCount     int            `json:"event_count"`
}
