package orderbook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predexchange/internal/domain"
	et "github.com/alanyoungcy/predexchange/internal/orderbook/eventtest"
)

func collectUpdates(t *testing.T, r *Reconstructor, events ...domain.RawEvent) []Update {
	t.Helper()
	var out []Update
	for u, err := range r.Replay(context.Background(), et.Seq(events...)) {
		require.NoError(t, err)
		out = append(out, u)
	}
	return out
}

func TestReplayExample(t *testing.T) {
	for _, e := range engines {
		t.Run(string(e), func(t *testing.T) {
			ups := collectUpdates(t, New(e), et.Example("A")...)
			require.Len(t, ups, 3)

			s0 := ups[0].State
			assert.Equal(t, []domain.PriceLevel{{Price: 0.40, Size: 100}}, s0.Bids)
			assert.Equal(t, []domain.PriceLevel{{Price: 0.42, Size: 80}}, s0.Asks)
			mid, ok := s0.Mid()
			require.True(t, ok)
			assert.InDelta(t, 0.41, mid, 1e-12)
			assert.Equal(t, et.Market, s0.MarketID)

			s1 := ups[1].State
			assert.Equal(t, []domain.PriceLevel{{Price: 0.41, Size: 50}, {Price: 0.40, Size: 100}}, s1.Bids)
			mid, _ = s1.Mid()
			assert.InDelta(t, 0.415, mid, 1e-12)

			// Trades are forwarded without touching the book.
			assert.Equal(t, domain.EventTrade, ups[2].Type)
			require.NotNil(t, ups[2].Trade)
			assert.Equal(t, 0.42, ups[2].Trade.Price)
			assert.Equal(t, s1, ups[2].State)
			assert.False(t, ups[2].Mutated())
		})
	}
}

func TestReplayOutOfOrder(t *testing.T) {
	tests := map[string][]domain.RawEvent{
		"earlier timestamp": {
			et.Snapshot("A", 100, 1, []et.L{{0.4, 1}}, []et.L{{0.5, 1}}),
			et.PriceChange("A", 50, 2, et.Bid(0.41, 1)),
		},
		"sequence tie": {
			et.Snapshot("A", 100, 2, []et.L{{0.4, 1}}, []et.L{{0.5, 1}}),
			et.PriceChange("A", 100, 2, et.Bid(0.41, 1)),
		},
	}
	for name, events := range tests {
		t.Run(name, func(t *testing.T) {
			var n int
			var gotErr error
			for _, err := range New(EngineLadder).Replay(context.Background(), et.Seq(events...)) {
				if err != nil {
					gotErr = err
					break
				}
				n++
			}
			assert.Equal(t, 1, n)
			assert.ErrorIs(t, gotErr, domain.ErrOutOfOrder)
		})
	}
}

func TestReplaySkipsMalformed(t *testing.T) {
	r := New(EngineMap)
	ups := collectUpdates(t, r,
		et.Snapshot("A", 0, 1, []et.L{{0.40, 100}}, []et.L{{0.42, 80}}),
		et.Raw("A", 1, 2, "tick_size_change", `{}`),
		et.Raw("A", 2, 3, domain.EventPriceChange, `{"price_changes":[{"side":"BUY","price":"7","size":"1"}]}`),
		et.Raw("B", 3, 4, domain.EventTrade, `{"price":"0.5"}`),
		et.PriceChange("A", 4, 5, et.Bid(0.41, 5)),
	)
	require.Len(t, ups, 5)
	for _, i := range []int{1, 2, 3} {
		assert.True(t, ups[i].Skipped, "update %d", i)
		assert.Equal(t, ups[0].State, ups[i].State)
	}
	assert.False(t, ups[4].Skipped)

	d := r.Diagnostics()
	assert.EqualValues(t, 3, d.Malformed)
	assert.Equal(t, map[string]int64{
		domain.ReasonUnknownType:   1,
		domain.ReasonOutOfRange:    1,
		domain.ReasonAssetMismatch: 1,
	}, d.MalformedByReason)
}

func TestReplayCrossedBook(t *testing.T) {
	r := New(EngineLadder)
	ups := collectUpdates(t, r,
		et.Snapshot("A", 0, 1, []et.L{{0.40, 100}}, []et.L{{0.42, 80}}),
		et.PriceChange("A", 1, 2, et.Bid(0.43, 5)),
		et.PriceChange("A", 2, 3, et.Bid(0.43, 0)),
	)
	assert.True(t, ups[1].State.Crossed)
	_, ok := ups[1].State.Mid()
	assert.False(t, ok)
	assert.False(t, ups[2].State.Crossed)
	assert.True(t, ups[2].State.Valid())
	assert.EqualValues(t, 1, r.Diagnostics().CrossedStates)
}

func TestReplayDeltaBeforeBook(t *testing.T) {
	r := New(EngineLadder)
	ups := collectUpdates(t, r,
		et.PriceChange("A", 0, 1, et.Bid(0.41, 5)),
		et.Snapshot("A", 1, 2, nil, []et.L{{0.42, 80}}),
	)
	assert.True(t, ups[0].Skipped)
	assert.Empty(t, ups[0].State.Bids)
	assert.EqualValues(t, 1, r.Diagnostics().DeltasBeforeBook)

	// One-sided books are not valid and have no mid.
	assert.False(t, ups[1].State.Valid())
}

func TestReplaySnapshotReplacesBook(t *testing.T) {
	ups := collectUpdates(t, New(EngineMap),
		et.Snapshot("A", 0, 1, []et.L{{0.40, 100}, {0.39, 5}}, []et.L{{0.42, 80}}),
		et.Snapshot("A", 1, 2, []et.L{{0.30, 1}}, []et.L{{0.70, 2}}),
	)
	assert.Equal(t, []domain.PriceLevel{{Price: 0.30, Size: 1}}, ups[1].State.Bids)
	assert.Equal(t, []domain.PriceLevel{{Price: 0.70, Size: 2}}, ups[1].State.Asks)
	// Earlier states are not aliased by later mutation.
	assert.Len(t, ups[0].State.Bids, 2)
}

func TestReplayDeterministic(t *testing.T) {
	events := append(et.Example("A"),
		et.PriceChange("A", 2000, 4, et.Ask(0.42, 0), et.Ask(0.44, 30)),
		et.PriceChange("A", 2000, 5, et.Bid(0.45, 1)),
		et.Snapshot("A", 2500, 6, []et.L{{0.2, 3}}, []et.L{{0.3, 4}}),
	)
	a := collectUpdates(t, New(EngineMap), events...)
	b := collectUpdates(t, New(EngineLadder), events...)
	c := collectUpdates(t, New(EngineLadder), events...)
	assert.Equal(t, a, b)
	assert.Equal(t, b, c)
}

func TestReplayCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var n int
	var gotErr error
	for _, err := range New(EngineLadder).Replay(ctx, et.Seq(et.Example("A")...)) {
		if err != nil {
			gotErr = err
			break
		}
		n++
		cancel()
	}
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, gotErr, context.Canceled)
}

func TestReplayPropagatesReadError(t *testing.T) {
	boom := errors.New("read failed")
	events := func(yield func(domain.RawEvent, error) bool) {
		if !yield(et.Example("A")[0], nil) {
			return
		}
		yield(domain.RawEvent{}, boom)
	}
	var gotErr error
	for _, err := range New(EngineMap).Replay(context.Background(), events) {
		if err != nil {
			gotErr = err
		}
	}
	assert.ErrorIs(t, gotErr, boom)
}
