package fleetsimsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Fleetsim HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Run represents a simulation run.
type Run struct {
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

// Demand represents an open or settled customer demand.
type Demand struct {
	ID        string `json:"id"`
	Resource  string `json:"resource"`
	Quantity  int    `json:"quantity"`
	Fulfilled int    `json:"fulfilled"`
	Status    string `json:"status"`
	CreatedAt int    `json:"created_at_tick"`
}

// Location represents a map site with its stock and visitors.
type Location struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	Lat           float64        `json:"lat"`
	Lon           float64        `json:"lon"`
	Resources     map[string]int `json:"resources"`
	TrucksPresent []string       `json:"trucks_present"`
	Demands       []Demand       `json:"demands,omitempty"`
}

// Truck represents a vehicle with its cargo and route.
type Truck struct {
	ID         string         `json:"id"`
	CapacityKg int            `json:"capacity_kg"`
	Status     string         `json:"status"`
	Location   string         `json:"location"`
	CargoKg    int            `json:"cargo_kg"`
	Manifest   map[string]int `json:"manifest"`
	Route      []string       `json:"route"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	RunID      string `json:"run_id"`
	Tick       int    `json:"tick"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Type       string `json:"type"`
	Payload    string `json:"payload_json"`
	TS         string `json:"ts"`
}

// Summary aggregates a run's outcome.
type Summary struct {
	RunID          string         `json:"run_id"`
	Ticks          int            `json:"ticks"`
	DeliveredUnits int            `json:"delivered_units"`
	WastedUnits    int            `json:"wasted_units"`
	DemandCounts   map[string]int `json:"demand_counts"`
	TotalCargoKg   int            `json:"total_cargo_kg"`
	EventCount     int            `json:"event_count"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps event listings with a cursor.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor int64   `json:"next_cursor"`
}

// EventFilter narrows an event listing.
type EventFilter struct {
	EntityKind string
	EntityID   string
	Type       string
	FromTick   int
	ToTick     int
	Limit      int
	Cursor     int64
}

// StartRun creates a new run from the server's scenario config.
func (c *Client) StartRun(ctx context.Context) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodPost, "v1/runs", nil, &resp)
	return resp, err
}

// ListRuns returns recent runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	endpoint := "v1/runs"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Run
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetRun fetches a run by id.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodGet, c.runPath(runID, ""), nil, &resp)
	return resp, err
}

// Advance steps a run by the given number of ticks.
func (c *Client) Advance(ctx context.Context, runID string, ticks int) (Run, error) {
	body := map[string]any{"ticks": ticks}
	var resp Run
	err := c.do(ctx, http.MethodPost, c.runPath(runID, "advance"), body, &resp)
	return resp, err
}

// FinishRun stops a run. Further advances are rejected.
func (c *Client) FinishRun(ctx context.Context, runID string) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodPost, c.runPath(runID, "finish"), nil, &resp)
	return resp, err
}

// Summary returns a run's aggregate outcome.
func (c *Client) Summary(ctx context.Context, runID string) (Summary, error) {
	var resp Summary
	err := c.do(ctx, http.MethodGet, c.runPath(runID, "summary"), nil, &resp)
	return resp, err
}

// Locations returns the run's current map state.
func (c *Client) Locations(ctx context.Context, runID string) ([]Location, error) {
	var resp []Location
	err := c.do(ctx, http.MethodGet, c.runPath(runID, "locations"), nil, &resp)
	return resp, err
}

// Trucks returns the run's current fleet state.
func (c *Client) Trucks(ctx context.Context, runID string) ([]Truck, error) {
	var resp []Truck
	err := c.do(ctx, http.MethodGet, c.runPath(runID, "trucks"), nil, &resp)
	return resp, err
}

// Events returns the first page of a run's event log.
func (c *Client) Events(ctx context.Context, runID string, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, runID, EventFilter{Limit: limit})
	return page.Items, err
}

// EventsPage returns a filtered, paginated event listing.
func (c *Client) EventsPage(ctx context.Context, runID string, f EventFilter) (PaginatedEvents, error) {
	q := url.Values{}
	if f.EntityKind != "" {
		q.Set("entity_kind", f.EntityKind)
	}
	if f.EntityID != "" {
		q.Set("entity_id", f.EntityID)
	}
	if f.Type != "" {
		q.Set("type", f.Type)
	}
	if f.FromTick > 0 {
		q.Set("from_tick", strconv.Itoa(f.FromTick))
	}
	if f.ToTick > 0 {
		q.Set("to_tick", strconv.Itoa(f.ToTick))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Cursor > 0 {
		q.Set("cursor", strconv.FormatInt(f.Cursor, 10))
	}
	endpoint := c.runPath(runID, "events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) runPath(runID, suffix string) string {
	p := fmt.Sprintf("v1/runs/%s", url.PathEscape(runID))
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
