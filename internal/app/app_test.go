package app

import (
	"context"
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

	"github.com/alanyoungcy/predexchange/internal/config"
	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/feed"
	et "github.com/alanyoungcy/predexchange/internal/orderbook/eventtest"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Storage = config.StorageConfig{EventLog: "memory", RunStore: "memory", Cache: "memory"}
	return &cfg
}

func wire(t *testing.T, cfg *config.Config) *Dependencies {
	t.Helper()
	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return deps
}

func TestWireMemory(t *testing.T) {
	deps := wire(t, memoryConfig())
	assert.NotNil(t, deps.Events)
	assert.NotNil(t, deps.RunStore)
	assert.NotNil(t, deps.SignalBus)
	assert.Nil(t, deps.BlobWriter)
	assert.Empty(t, deps.Checks)
}

func TestSimulateMode(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "simulate"
	cfg.Sim.AssetIDs = []string{"A", "B"}
	cfg.Sim.EndTS = 2000
	deps := wire(t, cfg)
	require.NoError(t, deps.Events.Append(context.Background(), et.Example("A")))

	a := New(cfg, discard())
	require.NoError(t, a.SimulateMode(context.Background(), deps))
}

func TestSimulateModeUnknownStrategy(t *testing.T) {
	cfg := memoryConfig()
	cfg.Sim.AssetIDs = []string{"A"}
	cfg.Sim.Strategy = "nope"
	deps := wire(t, cfg)

	err := New(cfg, discard()).SimulateMode(context.Background(), deps)
	assert.ErrorIs(t, err, domain.ErrUnknownStrategy)
}

func TestExportModeNeedsBlobStorage(t *testing.T) {
	cfg := memoryConfig()
	cfg.Export.AssetIDs = []string{"A"}
	deps := wire(t, cfg)

	err := New(cfg, discard()).ExportMode(context.Background(), deps)
	assert.ErrorContains(t, err, "S3")
}

const bookFrame = `{"event_type":"book","asset_id":"A","market":"0xm","timestamp":"1000",` +
	`"bids":[{"price":"0.40","size":"10"}],"asks":[{"price":"0.43","size":"5"}]}`

// marketServer accepts one subscription and answers it with a book frame.
func marketServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
		if err := c.WriteMessage(websocket.TextMessage, []byte(bookFrame)); err != nil {
			return
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRecordMode(t *testing.T) {
	srv := marketServer(t)

	cfg := memoryConfig()
	cfg.Mode = "record"
	cfg.Polymarket.WSURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Polymarket.AssetIDs = []string{"A"}
	cfg.Recorder.FlushInterval.Duration = 10 * time.Millisecond
	cfg.Recorder.LockTTL.Duration = 3 * time.Second
	deps := wire(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- New(cfg, discard()).RecordMode(ctx, deps) }()

	require.Eventually(t, func() bool {
		st, err := deps.Events.Stats(context.Background())
		return err == nil && st.TotalEvents == 1
	}, 5*time.Second, 10*time.Millisecond)

	m, err := deps.MidCache.GetMid(context.Background(), "A")
	require.NoError(t, err)
	assert.InDelta(t, 0.415, m.Mid, 1e-9)

	// A second recorder cannot take the log while the first one runs.
	err = New(cfg, discard()).RecordMode(context.Background(), deps)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("record mode did not stop")
	}

	// The lease is released on exit.
	lease, err := deps.LockManager.Acquire(context.Background(), feed.WriterLockKey, time.Second)
	require.NoError(t, err)
	lease.Release()
}

func TestServeModeShutsDown(t *testing.T) {
	cfg := memoryConfig()
	cfg.Server.Port = 0
	deps := wire(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(cfg, discard()).ServeMode(ctx, deps) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(15 * time.Second):
		t.Fatal("serve mode did not stop")
	}
}
