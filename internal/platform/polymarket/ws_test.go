package polymarket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// marketServer accepts one connection, records the subscription and then
// writes the given frames.
func marketServer(t *testing.T, frames []string, subs chan<- SubscribeMessage) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub SubscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subs <- sub
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSClientSubscribeAndRead(t *testing.T) {
	subs := make(chan SubscribeMessage, 1)
	srv := marketServer(t, []string{bookFrame, "PONG", tradeFrame}, subs)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := NewWSClient(wsURL(srv))
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe([]string{"A", "B"}))

	sub := <-subs
	assert.Equal(t, "MARKET", sub.Type)
	assert.Equal(t, []string{"A", "B"}, sub.AssetsIDs)

	got := make(chan string, 3)
	readCtx, stop := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() {
		errc <- c.ReadLoop(readCtx, func(raw []byte) {
			got <- string(raw)
			if len(got) == cap(got) {
				stop()
			}
		})
	}()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-ctx.Done():
		t.Fatal("read loop did not stop")
	}
	require.Len(t, got, 3)
	frames := []string{<-got, <-got, <-got}
	assert.JSONEq(t, bookFrame, frames[0])
	assert.Equal(t, "PONG", frames[1])
	assert.JSONEq(t, tradeFrame, frames[2])
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestWSClientClosed(t *testing.T) {
	c := NewWSClient("ws://127.0.0.1:1")
	require.NoError(t, c.Close())
	err := c.Connect(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
	assert.ErrorIs(t, c.Subscribe([]string{"A"}), ErrClosed)
}

func TestWSClientNotConnected(t *testing.T) {
	c := NewWSClient("ws://127.0.0.1:1")
	assert.Error(t, c.Subscribe([]string{"A"}))
	assert.Error(t, c.ReadLoop(context.Background(), func([]byte) {}))
}
