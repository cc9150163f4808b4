package memory

import (
	"context"
	"path"
	"sync"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

type subscriber struct {
	pattern string
	ch      chan []byte
}

// SignalBus is an in-process domain.SignalBus. Like Redis Pub/Sub it drops
// messages a subscriber is too slow to take.
type SignalBus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewSignalBus returns a bus with no subscribers.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[*subscriber]struct{})}
}

func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, err
	}
	s := &subscriber{pattern: channel, ch: make(chan []byte, 128)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
