package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultMarketWSURL is the public CLOB market channel endpoint.
const DefaultMarketWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("polymarket/ws: client closed")

// MessageHandler receives every frame read from the market channel, unparsed.
type MessageHandler func(raw []byte)

// WSClient is a single connection to the Polymarket market channel. It does
// not reconnect; callers own the retry policy and dial a new client.
type WSClient struct {
	wsURL string

	mu     sync.Mutex // guards conn writes and closed
	conn   *websocket.Conn
	closed bool

	done chan struct{}
}

// NewWSClient creates a client for wsURL, e.g. DefaultMarketWSURL.
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect dials the endpoint and installs the keep-alive pong handler.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	w.conn = conn
	return nil
}

// Subscribe asks the market channel for the given assets' book, price change
// and trade messages.
func (w *WSClient) Subscribe(assetIDs []string) error {
	return w.writeJSON(NewMarketSubscription(assetIDs))
}

// ReadLoop reads frames and passes each to handler until the connection
// fails, ctx is cancelled or Close is called. It always returns a non-nil
// error; after Close it returns ErrClosed.
func (w *WSClient) ReadLoop(ctx context.Context, handler MessageHandler) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	stop := make(chan struct{})
	defer close(stop)
	go w.pingLoop(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblock ReadMessage.
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return ErrClosed
			default:
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("polymarket/ws: read: %w", err)
		}
		handler(message)
	}
}

// Close sends a close frame and shuts the connection down. It is safe to call
// more than once.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn == nil {
		return nil
	}
	_ = w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return w.conn.Close()
}

func (w *WSClient) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal command: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("polymarket/ws: write: %w", err)
	}
	return nil
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (w *WSClient) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.closed || w.conn == nil {
				w.mu.Unlock()
				return
			}
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
