package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/orderbook"
	et "github.com/alanyoungcy/predexchange/internal/orderbook/eventtest"
	"github.com/alanyoungcy/predexchange/internal/server/handler"
	"github.com/alanyoungcy/predexchange/internal/server/middleware"
	"github.com/alanyoungcy/predexchange/internal/server/ws"
	"github.com/alanyoungcy/predexchange/internal/service"
	"github.com/alanyoungcy/predexchange/internal/sim"
	"github.com/alanyoungcy/predexchange/internal/store/memory"
	"github.com/alanyoungcy/predexchange/internal/strategy"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeExporter struct{}

func (fakeExporter) Export(_ context.Context, assetID string, start, end int64) (domain.ExportResult, error) {
	if assetID == "empty" {
		return domain.ExportResult{AssetID: assetID, NoData: true}, nil
	}
	return domain.ExportResult{AssetID: assetID, StartTS: start, EndTS: end, Path: "exports/" + assetID + ".parquet", Events: 3}, nil
}

func (fakeExporter) List(context.Context, string) ([]domain.BlobInfo, error) {
	return []domain.BlobInfo{{Path: "exports/A.parquet", Size: 10}}, nil
}

type fixture struct {
	handler http.Handler
	mids    *memory.MidCache
	bus     *memory.SignalBus
	hub     *ws.Hub
}

func newFixture(t *testing.T, cfg Config, limiter domain.RateLimiter, checks map[string]handler.HealthCheck) *fixture {
	t.Helper()
	logger := discard()
	log := memory.NewEventLog()
	require.NoError(t, log.Append(context.Background(), et.Example("A")))
	mids := memory.NewMidCache()
	bus := memory.NewSignalBus()

	defaults := service.ReplayDefaults{ResolutionMS: 1000, DepthN: 10, TickSize: 0.01, TicksAroundMid: 5}
	replaySvc := service.NewReplayService(log, log, mids, orderbook.EngineMap, defaults, logger)

	reg := strategy.DefaultRegistry()
	simSvc := service.NewSimService(sim.NewEngine(reg, orderbook.EngineLadder), log, memory.NewRunStore(), reg, 2, logger)
	exportSvc := service.NewExportService(fakeExporter{}, 1, logger)
	hub := ws.NewHub(bus, "serve", nil, logger)

	h := NewHandler(cfg, Handlers{
		Health: handler.NewHealthHandler("serve", checks, logger),
		Replay: handler.NewReplayHandler(replaySvc, logger),
		Sim:    handler.NewSimHandler(simSvc, logger),
		Export: handler.NewExportHandler(exportSvc, logger),
		Hub:    hub,
	}, limiter, logger)
	return &fixture{handler: h, mids: mids, bus: bus, hub: hub}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Config{}, nil, map[string]handler.HealthCheck{
		"event_log": func(context.Context) error { return nil },
	})
	rec := do(t, f.handler, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "serve", body["mode"])
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	f = newFixture(t, Config{}, nil, map[string]handler.HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec = do(t, f.handler, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body = decode[map[string]any](t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"redis": "down"}, body["dependencies"])
}

func TestChartAndLastMid(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	rec := do(t, f.handler, http.MethodGet, "/api/assets/A/last-mid", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, f.handler, http.MethodGet, "/api/assets/A/chart?start_ts=0&end_ts=2000&resolution_ms=1000", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	chart := decode[service.ChartResult](t, rec)
	assert.False(t, chart.NoData)
	require.Len(t, chart.Buckets, 2)

	rec = do(t, f.handler, http.MethodGet, "/api/assets/A/last-mid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode[domain.LastMid](t, rec)
	assert.InDelta(t, 0.415, m.Mid, 1e-9)
}

func TestReplayQueryErrors(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	rec := do(t, f.handler, http.MethodGet, "/api/assets/A/chart?end_ts=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "end_ts")

	rec = do(t, f.handler, http.MethodGet, "/api/assets/A/heatmap?start_ts=10&end_ts=5", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f.handler, http.MethodGet, "/api/assets/unknown/mid?end_ts=2000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	mid := decode[service.MidResult](t, rec)
	assert.True(t, mid.NoData)
	assert.NotNil(t, mid.Points)
}

func TestEventStats(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	rec := do(t, f.handler, http.MethodGet, "/api/events/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[domain.EventStats](t, rec)
	assert.Equal(t, int64(3), st.TotalEvents)
}

func TestSimRunLifecycle(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	rec := do(t, f.handler, http.MethodGet, "/api/strategies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), strategy.MMInventoryName)

	rec = do(t, f.handler, http.MethodPost, "/api/sim/runs",
		`{"asset_id":"A","strategy":"mm_inventory","start_ts":0,"end_ts":2000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	run := decode[domain.SimRun](t, rec)
	assert.Equal(t, "/api/sim/runs/"+run.RunID, rec.Header().Get("Location"))
	assert.Equal(t, int64(3), run.EventsProcessed)

	rec = do(t, f.handler, http.MethodGet, "/api/sim/runs/"+run.RunID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[domain.SimRun](t, rec)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, run.Fills, got.Fills)

	rec = do(t, f.handler, http.MethodGet, "/api/sim/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSimRunListing(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	for range 2 {
		rec := do(t, f.handler, http.MethodPost, "/api/sim/runs",
			`{"asset_id":"A","strategy":"mm_inventory","start_ts":0,"end_ts":2000}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	type listing struct {
		Runs []domain.SimRun `json:"runs"`
	}
	rec := do(t, f.handler, http.MethodGet, "/api/sim/runs?asset_id=A&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[listing](t, rec)
	require.Len(t, got.Runs, 1)
	assert.Equal(t, "A", got.Runs[0].AssetID)
	assert.Empty(t, got.Runs[0].Fills)

	rec = do(t, f.handler, http.MethodGet, "/api/sim/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[listing](t, rec).Runs, 2)

	rec = do(t, f.handler, http.MethodGet, "/api/sim/runs?asset_id=B", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())

	for _, q := range []string{"limit=abc", "limit=-1", "limit=100000"} {
		rec = do(t, f.handler, http.MethodGet, "/api/sim/runs?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestSimRunRejects(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	for name, body := range map[string]string{
		"unknown strategy": `{"asset_id":"A","strategy":"nope","end_ts":10}`,
		"unknown field":    `{"asset_id":"A","strategy":"mm_inventory","bogus":1}`,
		"empty body":       ``,
		"missing asset":    `{"strategy":"mm_inventory"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(t, f.handler, http.MethodPost, "/api/sim/runs", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestExports(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	rec := do(t, f.handler, http.MethodPost, "/api/exports", `{"asset_id":"A","end_ts":2000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[domain.ExportResult](t, rec)
	assert.Equal(t, "exports/A.parquet", res.Path)

	rec = do(t, f.handler, http.MethodPost, "/api/exports", `{"asset_id":"empty"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, f.handler, http.MethodGet, "/api/exports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"exports":[`)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, Config{CORSOrigins: []string{"https://ui.example"}}, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/strategies", nil)
	req.Header.Set("Origin", "https://ui.example")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ui.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/strategies", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 2, RateWindow: time.Minute}, memory.NewRateLimiter(), nil)

	for range 2 {
		rec := do(t, f.handler, http.MethodGet, "/api/strategies", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}
	rec := do(t, f.handler, http.MethodGet, "/api/strategies", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 1, RateWindow: time.Minute}, brokenLimiter{}, nil)
	for range 3 {
		rec := do(t, f.handler, http.MethodGet, "/api/strategies", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestMidStream(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.hub.Run(ctx)

	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?channel=mid:A"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	type frame struct {
		Type    string          `json:"type"`
		Channel string          `json:"channel"`
		Payload json.RawMessage `json:"payload"`
	}
	var hello frame
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello.Type)

	// B is not subscribed and must not arrive before A.
	for _, asset := range []string{"B", "A"} {
		payload, err := json.Marshal(domain.LastMid{AssetID: asset, Mid: 0.5})
		require.NoError(t, err)
		require.NoError(t, f.bus.Publish(ctx, domain.MidChannel(asset), payload))
	}

	var msg frame
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "message", msg.Type)
	assert.Equal(t, "mid:A", msg.Channel)
	var m domain.LastMid
	require.NoError(t, json.Unmarshal(msg.Payload, &m))
	assert.Equal(t, "A", m.AssetID)
}

func TestMidStreamAfterHubStops(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- f.hub.Run(ctx) }()

	srv := httptest.NewServer(f.handler)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?channel=mid:A"

	// Clients racing the shutdown either get their hello or a closed socket.
	done := make(chan struct{})
	for range 8 {
		go func() {
			defer func() { done <- struct{}{} }()
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
	cancel()
	require.ErrorIs(t, <-stopped, context.Canceled)
	for range 8 {
		<-done
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "a stopped hub closes new connections")
}
