package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predexchange/internal/domain"
	et "github.com/alanyoungcy/predexchange/internal/orderbook/eventtest"
)

func readAll(t *testing.T, l *EventLog, asset string, start, end int64) []domain.RawEvent {
	t.Helper()
	var out []domain.RawEvent
	for ev, err := range l.Read(context.Background(), asset, start, end) {
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func keys(evs []domain.RawEvent) [][2]int64 {
	out := make([][2]int64, 0, len(evs))
	for _, ev := range evs {
		out = append(out, [2]int64{ev.IngestTS, ev.Sequence})
	}
	return out
}

func TestEventLogOrdersAndFilters(t *testing.T) {
	ctx := context.Background()
	l := NewEventLog()
	require.NoError(t, l.Append(ctx, []domain.RawEvent{
		et.Trade("A", 200, 3, 0.5, 1),
		et.Trade("A", 100, 2, 0.5, 1),
		et.Trade("B", 150, 1, 0.5, 1),
		et.Trade("A", 100, 1, 0.5, 1),
		et.Trade("A", 300, 4, 0.5, 1),
	}))
	// Duplicate key is ignored.
	require.NoError(t, l.Append(ctx, []domain.RawEvent{et.Trade("A", 200, 3, 0.9, 9)}))

	assert.Equal(t, [][2]int64{{100, 1}, {100, 2}, {200, 3}, {300, 4}}, keys(readAll(t, l, "A", 0, 1000)))
	assert.Equal(t, [][2]int64{{100, 1}, {100, 2}, {200, 3}}, keys(readAll(t, l, "A", 100, 200)))
	assert.Empty(t, readAll(t, l, "C", 0, 1000))

	last, err := l.LastSequence(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(4), last)
}

func TestEventLogClosedHorizon(t *testing.T) {
	ctx := context.Background()
	l := NewEventLog()
	require.NoError(t, l.Append(ctx, et.Example("A")))
	before := readAll(t, l, "A", 0, 2000)

	require.NoError(t, l.Append(ctx, []domain.RawEvent{et.Trade("A", 2500, 4, 0.5, 1)}))
	assert.Equal(t, before, readAll(t, l, "A", 0, 2000))
}

func TestEventLogReadIsSnapshotAtStart(t *testing.T) {
	ctx := context.Background()
	l := NewEventLog()
	require.NoError(t, l.Append(ctx, et.Example("A")))

	n := 0
	for _, err := range l.Read(ctx, "A", 0, 10_000) {
		require.NoError(t, err)
		if n == 0 {
			require.NoError(t, l.Append(ctx, []domain.RawEvent{et.Trade("A", 5000, 9, 0.5, 1)}))
		}
		n++
	}
	assert.Equal(t, 3, n)
}

func TestEventLogEndNow(t *testing.T) {
	l := NewEventLog()
	l.now = func() time.Time { return time.UnixMilli(1200) }
	require.NoError(t, l.Append(context.Background(), et.Example("A")))
	assert.Len(t, readAll(t, l, "A", 0, 0), 2)
}

func TestEventLogStats(t *testing.T) {
	ctx := context.Background()
	l := NewEventLog()
	b := et.Trade("B", 50, 1, 0.5, 1)
	b.MarketID = "0xother"
	require.NoError(t, l.Append(ctx, append(et.Example("A"), b)))

	st, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.TotalEvents)
	assert.Equal(t, int64(0), st.MinIngestTS)
	assert.Equal(t, int64(1500), st.MaxIngestTS)
	assert.Equal(t, []domain.MarketCount{{MarketID: et.Market, Count: 3}, {MarketID: "0xother", Count: 1}}, st.ByMarket)
}

func TestRunStore(t *testing.T) {
	ctx := context.Background()
	s := NewRunStore()
	run := &domain.SimRun{RunID: "r1", Fills: []domain.Fill{{TS: 1, Side: domain.SideBuy, Price: 0.4, Size: 1}}}
	require.NoError(t, s.Put(ctx, run))
	assert.ErrorIs(t, s.Put(ctx, run), domain.ErrAlreadyExists)

	run.Fills[0].Size = 99
	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Fills[0].Size)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewRunStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, asset := range []string{"A", "B", "A", "A"} {
		require.NoError(t, s.Put(ctx, &domain.SimRun{
			RunID:     fmt.Sprintf("r%d", i),
			AssetID:   asset,
			Fills:     []domain.Fill{{TS: 1, Side: domain.SideBuy, Price: 0.4, Size: 1}},
			FillCount: 1,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := s.List(ctx, "A", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].RunID)
	assert.Equal(t, "r2", runs[1].RunID)
	assert.Nil(t, runs[0].Fills)
	assert.Equal(t, 1, runs[0].FillCount)

	runs, err = s.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 4)

	got, err := s.Get(ctx, "r3")
	require.NoError(t, err)
	assert.Len(t, got.Fills, 1)
}

func TestSequencer(t *testing.T) {
	ctx := context.Background()
	s := NewSequencer()
	require.NoError(t, s.Seed(ctx, "A", 10))
	require.NoError(t, s.Seed(ctx, "A", 5))

	var wg sync.WaitGroup
	seen := make(chan int64, 100)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.Next(ctx, "A")
			assert.NoError(t, err)
			seen <- n
		}()
	}
	wg.Wait()
	close(seen)

	uniq := make(map[int64]bool)
	for n := range seen {
		assert.Greater(t, n, int64(10))
		uniq[n] = true
	}
	assert.Len(t, uniq, 100)
}

func TestMidCache(t *testing.T) {
	ctx := context.Background()
	c := NewMidCache()
	_, err := c.GetMid(ctx, "A")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, c.SetMid(ctx, domain.LastMid{AssetID: "A", Mid: 0.41}))
	m, err := c.GetMid(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 0.41, m.Mid)
}

func TestSignalBusPatterns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewSignalBus()
	all, err := b.Subscribe(ctx, domain.MidChannel("*"))
	require.NoError(t, err)
	one, err := b.Subscribe(ctx, domain.MidChannel("B"))
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, domain.MidChannel("A"), []byte("a")))
	require.NoError(t, b.Publish(ctx, domain.MidChannel("B"), []byte("b")))

	assert.Equal(t, []byte("a"), <-all)
	assert.Equal(t, []byte("b"), <-all)
	assert.Equal(t, []byte("b"), <-one)

	cancel()
	_, open := <-all
	for open {
		_, open = <-all
	}
	_, err = b.Subscribe(context.Background(), "[")
	assert.Error(t, err)
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	m := NewLockManager()
	m.now = func() time.Time { return now }

	l1, err := m.Acquire(ctx, "eventlog", time.Second)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "eventlog", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	now = now.Add(500 * time.Millisecond)
	require.NoError(t, l1.Refresh(ctx))

	now = now.Add(2 * time.Second)
	assert.ErrorIs(t, l1.Refresh(ctx), domain.ErrLockHeld)

	l2, err := m.Acquire(ctx, "eventlog", time.Second)
	require.NoError(t, err)
	l1.Release()
	_, err = m.Acquire(ctx, "eventlog", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld, "stale release must not free the new holder")
	l2.Release()
	_, err = m.Acquire(ctx, "eventlog", time.Second)
	assert.NoError(t, err)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(100, 0)
	l := NewRateLimiter()
	l.now = func() time.Time { return now }

	for range 2 {
		ok, err := l.Allow(ctx, "ip", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "ip", 2, time.Second)
	assert.False(t, ok)
	ok, _ = l.Allow(ctx, "other", 2, time.Second)
	assert.True(t, ok)

	now = now.Add(1001 * time.Millisecond)
	ok, _ = l.Allow(ctx, "ip", 2, time.Second)
	assert.True(t, ok)
}
