package orderbook

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	require.ErrorIs(t, err, domain.ErrMalformedEvent)
	var me *malformedError
	require.True(t, errors.As(err, &me))
	return me.reason
}

func TestDecodeSnapshot(t *testing.T) {
	bids, asks, err := decodeSnapshot(json.RawMessage(`{
		"event_type": "book",
		"bids": [{"price": "0.40", "size": "100"}, {"price": 0.39, "size": 20}],
		"asks": [{"price": "0.42", "size": "80"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, []domain.PriceLevel{{Price: 0.40, Size: 100}, {Price: 0.39, Size: 20}}, bids)
	assert.Equal(t, []domain.PriceLevel{{Price: 0.42, Size: 80}}, asks)
}

func TestDecodeSnapshotBuysSells(t *testing.T) {
	bids, asks, err := decodeSnapshot(json.RawMessage(`{
		"buys": [{"price": "0.10", "size": "1"}],
		"sells": [{"price": "0.90", "size": "2"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, []domain.PriceLevel{{Price: 0.10, Size: 1}}, bids)
	assert.Equal(t, []domain.PriceLevel{{Price: 0.90, Size: 2}}, asks)
}

func TestDecodeSnapshotRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		reason  string
	}{
		{"not json", `{`, domain.ReasonBadPayload},
		{"price above one", `{"bids":[{"price":"1.2","size":"1"}]}`, domain.ReasonOutOfRange},
		{"negative size", `{"asks":[{"price":"0.5","size":"-1"}]}`, domain.ReasonOutOfRange},
		{"missing size", `{"asks":[{"price":"0.5"}]}`, domain.ReasonBadPayload},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := decodeSnapshot(json.RawMessage(tc.payload))
			assert.Equal(t, tc.reason, reasonOf(t, err))
		})
	}
}

func TestDecodeDeltas(t *testing.T) {
	payload := json.RawMessage(`{
		"event_type": "price_change",
		"price_changes": [
			{"asset_id": "A", "side": "BUY", "price": "0.41", "size": "50"},
			{"asset_id": "B", "side": "SELL", "price": "0.60", "size": "5"},
			{"asset_id": "A", "side": "sell", "price": "0.43", "size": "0"}
		]
	}`)
	deltas, err := decodeDeltas(payload, "A")
	require.NoError(t, err)
	assert.Equal(t, []domain.Delta{
		{Side: domain.SideBuy, Price: 0.41, Size: 50},
		{Side: domain.SideSell, Price: 0.43, Size: 0},
	}, deltas)
}

func TestDecodeDeltasInline(t *testing.T) {
	deltas, err := decodeDeltas(json.RawMessage(`{"side":"BUY","price":0.2,"size":3}`), "A")
	require.NoError(t, err)
	assert.Equal(t, []domain.Delta{{Side: domain.SideBuy, Price: 0.2, Size: 3}}, deltas)
}

func TestDecodeDeltasRejects(t *testing.T) {
	_, err := decodeDeltas(json.RawMessage(`{"price_changes":[{"asset_id":"B","side":"BUY","price":"0.4","size":"1"}]}`), "A")
	assert.Equal(t, domain.ReasonNoChanges, reasonOf(t, err))

	_, err = decodeDeltas(json.RawMessage(`{"price_changes":[{"side":"HOLD","price":"0.4","size":"1"}]}`), "A")
	assert.Equal(t, domain.ReasonBadPayload, reasonOf(t, err))
}

func TestDecodeTrade(t *testing.T) {
	tr, err := decodeTrade(json.RawMessage(`{"side":"SELL","price":"0.42","size":"12.5","fee_rate_bps":"20"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.Trade{Side: domain.SideSell, Price: 0.42, Size: 12.5, FeeRateBps: 20}, tr)

	tr, err = decodeTrade(json.RawMessage(`{"price":0.5}`))
	require.NoError(t, err)
	assert.Zero(t, tr.Size)

	_, err = decodeTrade(json.RawMessage(`{"size":"1"}`))
	assert.Equal(t, domain.ReasonBadPayload, reasonOf(t, err))
}
