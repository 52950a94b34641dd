package server

import (
	"fleetsim/internal/domain"
)

type AdvanceRunRequest struct {
	Ticks int `json:"ticks,omitempty" minimum:"0" maximum:"100000"`
}

type RunResponse struct {
	ID             string  `json:"id"`
	Scenario       string  `json:"scenario"`
	Seed           int64   `json:"seed"`
	Status         string  `json:"status"`
	Tick           int     `json:"tick"`
	DeliveredUnits int     `json:"delivered_units"`
	WastedUnits    int     `json:"wasted_units"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
	FinishedAt     *string `json:"finished_at,omitempty"`
}

func runResponse(r domain.Run) RunResponse {
	return RunResponse{
		ID:             r.ID,
		Scenario:       r.Scenario,
		Seed:           r.Seed,
		Status:         r.Status,
		Tick:           r.Tick,
		DeliveredUnits: r.DeliveredUnits,
		WastedUnits:    r.WastedUnits,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		FinishedAt:     r.FinishedAt,
	}
}

type DemandResponse struct {
	ID        string `json:"id"`
	Resource  string `json:"resource"`
	Quantity  int    `json:"quantity"`
	Fulfilled int    `json:"fulfilled"`
	Status    string `json:"status"`
	CreatedAt int    `json:"created_at_tick"`
}

type LocationResponse struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Type          string           `json:"type"`
	Lat           float64          `json:"lat"`
	Lon           float64          `json:"lon"`
	Resources     map[string]int   `json:"resources"`
	TrucksPresent []string         `json:"trucks_present"`
	Demands       []DemandResponse `json:"demands,omitempty"`
}

func locationResponse(l domain.LocationView) LocationResponse {
	resp := LocationResponse{
		ID:            l.ID,
		Name:          l.Name,
		Type:          l.Type,
		Lat:           l.Lat,
		Lon:           l.Lon,
		Resources:     l.Resources,
		TrucksPresent: l.TrucksPresent,
	}
	for _, d := range l.Demands {
		resp.Demands = append(resp.Demands, DemandResponse{
			ID:        d.ID,
			Resource:  d.Resource,
			Quantity:  d.Quantity,
			Fulfilled: d.Fulfilled,
			Status:    d.Status,
			CreatedAt: d.CreatedAt,
		})
	}
	return resp
}

type TruckResponse struct {
	ID         string         `json:"id"`
	CapacityKg int            `json:"capacity_kg"`
	Status     string         `json:"status"`
	Location   string         `json:"location"`
	CargoKg    int            `json:"cargo_kg"`
	Manifest   map[string]int `json:"manifest"`
	Route      []string       `json:"route"`
}

func truckResponse(t domain.TruckView) TruckResponse {
	return TruckResponse{
		ID:         t.ID,
		CapacityKg: t.CapacityKg,
		Status:     t.Status,
		Location:   t.Location,
		CargoKg:    t.CargoKg,
		Manifest:   t.Manifest,
		Route:      t.Route,
	}
}

type EventResponse struct {
	ID         int64  `json:"id"`
	RunID      string `json:"run_id"`
	Tick       int    `json:"tick"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Type       string `json:"type"`
	Payload    string `json:"payload_json"`
	TS         string `json:"ts"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		RunID:      e.RunID,
		Tick:       e.Tick,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Type:       e.Type,
		Payload:    e.Payload,
		TS:         e.TS,
	}
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor int64           `json:"next_cursor,omitempty"`
}

type SummaryResponse struct {
	RunID          string         `json:"run_id"`
	Ticks          int            `json:"ticks"`
	DeliveredUnits int            `json:"delivered_units"`
	WastedUnits    int            `json:"wasted_units"`
	DemandCounts   map[string]int `json:"demand_counts"`
	TotalCargoKg   int            `json:"total_cargo_kg"`
	EventCount     int            `json:"event_count"`
}

func summaryResponse(s domain.RunSummary) SummaryResponse {
	return SummaryResponse{
		RunID:          s.RunID,
		Ticks:          s.Ticks,
		DeliveredUnits: s.DeliveredUnits,
		WastedUnits:    s.WastedUnits,
		DemandCounts:   s.DemandCounts,
		TotalCargoKg:   s.TotalCargoKg,
		EventCount:     s.EventCount,
	}
}
