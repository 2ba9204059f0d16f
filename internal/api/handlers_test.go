// Herdmap - Cattle Farm Monitoring and Live Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herdmap

package api

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/herdmap/internal/broadcast"
	"github.com/tomtom215/herdmap/internal/config"
	"github.com/tomtom215/herdmap/internal/database"
	"github.com/tomtom215/herdmap/internal/logging"
	"github.com/tomtom215/herdmap/internal/models"
	ws "github.com/tomtom215/herdmap/internal/websocket"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

// testEnv bundles everything a handler test needs.
type testEnv struct {
	handler     *Handler
	router      http.Handler
	db          *database.DB
	broadcaster *broadcast.Broadcaster
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{Port: 8080, Host: "127.0.0.1", Timeout: 30 * time.Second},
		Database: config.DatabaseConfig{
			Path:                   "",
			MaxMemory:              "256MB",
			Threads:                2,
			PreserveInsertionOrder: true,
		},
		Stream:   config.StreamConfig{HeartbeatInterval: time.Second, BufferSize: 16},
		API:      config.APIConfig{DefaultPageSize: 100, MaxPageSize: 1000},
		Security: config.SecurityConfig{CORSOrigins: []string{"*"}, RateLimitDisabled: true},
		Logging:  config.LoggingConfig{Level: "info", Format: "json"},
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	broadcaster := broadcast.NewBroadcaster(cfg.Stream.BufferSize)
	t.Cleanup(func() { _ = broadcaster.Close() })

	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.RunWithContext(ctx) }()
	t.Cleanup(cancel)

	handler := NewHandler(db, cfg, broadcaster, hub)
	router := NewRouter(handler, NewChiMiddleware(&cfg.Security)).SetupChi()

	return &testEnv{
		handler:     handler,
		router:      router,
		db:          db,
		broadcaster: broadcaster,
	}
}

func postGPS(t *testing.T, env *testEnv, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/gps", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestIngestLocationSuccess(t *testing.T) {
	env := setupEnv(t)

	rec := postGPS(t, env, `{"latitude":39.78,"longitude":-89.65,"animal_id":7}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var resp models.IngestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Error("expected success=true")
	}
	if resp.ID <= 0 {
		t.Errorf("expected positive history id, got %d", resp.ID)
	}

	// The accepted report must appear in the snapshot.
	snapReq := httptest.NewRequest(http.MethodGet, "/api/v1/locations", nil)
	snapRec := httptest.NewRecorder()
	env.router.ServeHTTP(snapRec, snapReq)
	if snapRec.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d", snapRec.Code)
	}
	if !strings.Contains(snapRec.Body.String(), `"animal:7"`) {
		t.Errorf("snapshot missing animal:7: %s", snapRec.Body.String())
	}
}

func TestIngestLocationMissingCoordinates(t *testing.T) {
	env := setupEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing latitude", `{"longitude":-89.65}`},
		{"missing longitude", `{"latitude":39.78}`},
		{"empty body", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postGPS(t, env, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}

			var resp models.IngestResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Success {
				t.Error("expected success=false")
			}
			if resp.Error != "Missing coordinates" {
				t.Errorf("error = %q, want %q", resp.Error, "Missing coordinates")
			}
		})
	}

	// No rows may exist after rejected reports.
	count, err := env.db.CountHistoryRows(context.Background())
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("rejected reports wrote %d history rows", count)
	}
}

func TestIngestLocationOutOfRange(t *testing.T) {
	env := setupEnv(t)

	rec := postGPS(t, env, `{"latitude":95,"longitude":-89.65}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "latitude") {
		t.Errorf("error should mention latitude: %s", rec.Body.String())
	}
}

func TestIngestLocationInvalidJSON(t *testing.T) {
	env := setupEnv(t)

	rec := postGPS(t, env, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestIngestRejectedReportIsNotBroadcast(t *testing.T) {
	env := setupEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := env.broadcaster.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	postGPS(t, env, `{"longitude":-89.65}`)

	select {
	case got := <-updates:
		t.Errorf("rejected report was broadcast: %+v", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStreamUnavailableWhenBroadcasterClosed(t *testing.T) {
	env := setupEnv(t)
	_ = env.broadcaster.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/gps/stream", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "STREAM_UNAVAILABLE") {
		t.Errorf("expected STREAM_UNAVAILABLE code: %s", rec.Body.String())
	}
}

func TestIngestStaleReportIsNotBroadcast(t *testing.T) {
	env := setupEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := env.broadcaster.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	postGPS(t, env, `{"latitude":40.0,"longitude":-88.0,"animal_id":7,"recorded_at":"2026-08-30T12:00:00Z"}`)

	select {
	case got := <-updates:
		if got.Latitude != 40.0 {
			t.Errorf("unexpected first update: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("accepted report was not broadcast")
	}

	// A delayed uplink with an older fix is stored to history but must not
	// reach live consumers: the snapshot keeps the newer position and the
	// feed has to agree with it.
	rec := postGPS(t, env, `{"latitude":10.0,"longitude":10.0,"animal_id":7,"recorded_at":"2026-08-30T11:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("stale report status = %d, want 200", rec.Code)
	}

	select {
	case got := <-updates:
		t.Errorf("stale report was broadcast: %+v", got)
	case <-time.After(200 * time.Millisecond):
	}

	count, err := env.db.CountHistoryRows(context.Background())
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected both reports in history, got %d rows", count)
	}

	positions, err := env.db.GetCurrentLocations(context.Background())
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(positions) != 1 || positions[0].Latitude != 40.0 {
		t.Errorf("snapshot should keep the newer position: %+v", positions)
	}
}

func TestUnattributedBucketHoldsLatestReport(t *testing.T) {
	env := setupEnv(t)

	postGPS(t, env, `{"latitude":39.0,"longitude":-89.0,"recorded_at":"2026-08-30T10:00:00Z"}`)
	postGPS(t, env, `{"latitude":40.0,"longitude":-88.0,"recorded_at":"2026-08-30T11:00:00Z"}`)

	positions, err := env.db.GetCurrentLocations(context.Background())
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	if positions[0].EntityKey != models.UnattributedKey {
		t.Errorf("entity key = %q", positions[0].EntityKey)
	}
	if positions[0].Latitude != 40.0 {
		t.Errorf("bucket should hold the second report, lat = %v", positions[0].Latitude)
	}
}

func TestLocationHistoryLimitClamped(t *testing.T) {
	env := setupEnv(t)

	for i := 0; i < 5; i++ {
		postGPS(t, env, `{"latitude":39.78,"longitude":-89.65,"animal_id":1}`)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/gps?limit=3", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Success bool                   `json:"success"`
		Data    []models.HistoryRecord `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Data) != 3 {
		t.Errorf("expected 3 records, got %d", len(resp.Data))
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := setupEnv(t)

	for _, path := range []string{"/api/v1/health", "/api/v1/health/live", "/api/v1/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestStreamDeliversUpdates(t *testing.T) {
	env := setupEnv(t)

	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/gps/stream", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to connect to stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}

	// Headers received means the subscription is active.
	postGPS(t, env, `{"latitude":39.78,"longitude":-89.65,"animal_id":7}`)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var update models.LocationUpdate
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &update); err != nil {
			t.Fatalf("failed to decode SSE payload %q: %v", line, err)
		}
		if update.EntityKey != "animal:7" {
			t.Errorf("entity key = %q, want animal:7", update.EntityKey)
		}
		return
	}
	t.Fatalf("stream ended without a data event: %v", scanner.Err())
}

func TestStreamSendsKeepAlive(t *testing.T) {
	env := setupEnv(t)

	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/gps/stream", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to connect to stream: %v", err)
	}
	defer resp.Body.Close()

	// Heartbeat interval is 1s in the test config; a comment line must
	// arrive without any update being published.
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), ": keep-alive") {
			return
		}
	}
	t.Fatalf("stream ended without a keep-alive: %v", scanner.Err())
}

func TestStreamDisconnectReleasesSubscription(t *testing.T) {
	env := setupEnv(t)

	server := httptest.NewServer(env.router)
	defer server.Close()

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/gps/stream", nil)
		if err != nil {
			t.Fatalf("failed to build request: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("failed to connect to stream: %v", err)
		}
		cancel()
		_ = resp.Body.Close()
	}

	deadline := time.Now().Add(3 * time.Second)
	for env.broadcaster.SubscriberCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if got := env.broadcaster.SubscriberCount(); got != 0 {
		t.Errorf("subscriber count = %d after disconnects, want 0", got)
	}
}

func TestLocationsEmptySnapshot(t *testing.T) {
	env := setupEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/locations", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("empty snapshot should be an empty array: %s", rec.Body.String())
	}
}

func TestRequestIDHeaderPresent(t *testing.T) {
	env := setupEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/locations", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID response header")
	}
}
