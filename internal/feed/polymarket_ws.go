package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/predexchange/internal/platform/polymarket"
)

// Backoff bounds the delay between reconnect attempts.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) next(d time.Duration) time.Duration {
	if d <= 0 {
		return b.Base
	}
	return min(d*2, b.Max)
}

// PolymarketWSFeed keeps a market channel subscription open for the given
// assets and hands every frame to onFrame. It redials with exponential
// backoff whenever the connection drops.
type PolymarketWSFeed struct {
	wsURL    string
	assetIDs []string
	onFrame  polymarket.MessageHandler
	backoff  Backoff
	logger   *slog.Logger

	// dial is replaced in tests.
	dial func(ctx context.Context) (conn, error)

	closeOnce sync.Once
	done      chan struct{}
}

// conn is the part of polymarket.WSClient the feed uses.
type conn interface {
	Subscribe(assetIDs []string) error
	ReadLoop(ctx context.Context, handler polymarket.MessageHandler) error
	Close() error
}

// NewPolymarketWSFeed creates a feed that will subscribe to the given asset IDs.
func NewPolymarketWSFeed(wsURL string, assetIDs []string, onFrame polymarket.MessageHandler, backoff Backoff, logger *slog.Logger) *PolymarketWSFeed {
	if backoff.Base <= 0 {
		backoff.Base = 2 * time.Second
	}
	if backoff.Max < backoff.Base {
		backoff.Max = max(60*time.Second, backoff.Base)
	}
	f := &PolymarketWSFeed{
		wsURL:    wsURL,
		assetIDs: assetIDs,
		onFrame:  onFrame,
		backoff:  backoff,
		logger:   logger.With(slog.String("component", "polymarket_ws_feed")),
		done:     make(chan struct{}),
	}
	f.dial = f.dialWS
	return f
}

func (f *PolymarketWSFeed) dialWS(ctx context.Context) (conn, error) {
	c := polymarket.NewWSClient(f.wsURL)
	dctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := c.Connect(dctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Run connects, subscribes and reads until ctx is cancelled or Close is
// called. Disconnects are retried with exponential backoff; the delay resets
// once a connection has been subscribed.
func (f *PolymarketWSFeed) Run(ctx context.Context) error {
	if len(f.assetIDs) == 0 {
		f.logger.Info("no asset IDs to subscribe, exiting")
		return nil
	}

	var delay time.Duration
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		subscribed, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, polymarket.ErrClosed) {
			return nil
		}
		if subscribed {
			delay = 0
		}
		delay = f.backoff.next(delay)
		f.logger.Warn("polymarket ws disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
	}
}

func (f *PolymarketWSFeed) runConnection(ctx context.Context) (bool, error) {
	c, err := f.dial(ctx)
	if err != nil {
		return false, err
	}
	defer c.Close()

	if err := c.Subscribe(f.assetIDs); err != nil {
		return false, err
	}
	f.logger.Info("polymarket ws subscribed", slog.Int("assets", len(f.assetIDs)))

	// Close the connection when the feed is closed.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-f.done:
			_ = c.Close()
		case <-stop:
		}
	}()

	return true, c.ReadLoop(ctx, f.onFrame)
}

// Close stops the feed.
func (f *PolymarketWSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func errString(err error) string {
	if err == nil {
		return "connection ended"
	}
	return err.Error()
}
