package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fleetsim/internal/config"
	"fleetsim/internal/db"
	"fleetsim/internal/engine"
	"fleetsim/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("api-test")
	cfg.Trucks.Count = 3
	cfg.Locations.Customers = 5
	cfg.Demand.Chance = 0.5
	cfg.Routes.Chance = 0.5
	conn, err := db.Open(workspace)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/runs", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start run status %d: %s", res.StatusCode, string(data))
	}
	var run RunResponse
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if run.Status != "running" || run.Tick != 0 {
		t.Fatalf("unexpected run: %+v", run)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/runs/"+run.ID+"/advance", map[string]any{"ticks": 10}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advance status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if run.Tick != 10 {
		t.Fatalf("tick = %d, want 10", run.Tick)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/runs/"+run.ID+"/finish", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("finish status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if run.Status != "finished" {
		t.Fatalf("status = %s", run.Status)
	}

	// advancing a finished run conflicts
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/runs/"+run.ID+"/advance", map[string]any{"ticks": 1}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("advance after finish status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "run_finished" {
		t.Fatalf("error code = %q", envelope.Error.Code)
	}
}

func TestStateAndEventsEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/runs", nil, nil)
	var run RunResponse
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatal(err)
	}
	doJSON(t, client, http.MethodPost, srv.URL+"/v1/runs/"+run.ID+"/advance", map[string]any{"ticks": 20}, nil)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs/"+run.ID+"/trucks", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("trucks status %d: %s", res.StatusCode, string(data))
	}
	var trucks []TruckResponse
	if err := json.Unmarshal(data, &trucks); err != nil {
		t.Fatal(err)
	}
	if len(trucks) != 3 {
		t.Fatalf("trucks = %d", len(trucks))
	}
	for _, truck := range trucks {
		if truck.CargoKg > truck.CapacityKg {
			t.Fatalf("truck %s over capacity", truck.ID)
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs/"+run.ID+"/locations", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("locations status %d: %s", res.StatusCode, string(data))
	}
	var locations []LocationResponse
	if err := json.Unmarshal(data, &locations); err != nil {
		t.Fatal(err)
	}
	if len(locations) != 7 {
		t.Fatalf("locations = %d", len(locations))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs/"+run.ID+"/events?limit=10", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 10 || page.NextCursor == 0 {
		t.Fatalf("unexpected page: %d items, cursor %d", len(page.Items), page.NextCursor)
	}

	// cursor resumes strictly after the previous page
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs/"+run.ID+"/events?limit=10&cursor="+itoa(page.NextCursor), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d: %s", res.StatusCode, string(data))
	}
	var page2 paginatedEvents
	if err := json.Unmarshal(data, &page2); err != nil {
		t.Fatal(err)
	}
	if len(page2.Items) == 0 || page2.Items[0].ID <= page.Items[len(page.Items)-1].ID {
		t.Fatalf("cursor did not advance: %+v", page2.Items)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs/"+run.ID+"/events?entity_kind=truck&type=status_change", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("filtered events status %d: %s", res.StatusCode, string(data))
	}
	var filtered paginatedEvents
	if err := json.Unmarshal(data, &filtered); err != nil {
		t.Fatal(err)
	}
	for _, ev := range filtered.Items {
		if ev.EntityKind != "truck" || ev.Type != "status_change" {
			t.Fatalf("filter leak: %+v", ev)
		}
	}
}

func TestUnknownRunReturnsNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/runs/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("error code = %q", envelope.Error.Code)
	}
}

func TestJWTAuth(t *testing.T) {
	secret := "test-secret"
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: secret})
	defer cleanup()
	client := srv.Client()

	// health stays open
	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status %d", res.StatusCode)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs", nil, map[string]string{
		"Authorization": "Bearer " + signed,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d", res.StatusCode)
	}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
