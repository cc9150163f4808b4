package domain

// ChartBucket is one fixed-width time bucket of derived book metrics. Mid,
// Spread and the depths are nil until a valid book state has been observed.
type ChartBucket struct {
	BucketStartTS int64    `json:"bucket_start_ts"`
	Mid           *float64 `json:"mid,omitempty"`
	Spread        *float64 `json:"spread,omitempty"`
	DepthBid      *float64 `json:"depth_bid,omitempty"`
	DepthAsk      *float64 `json:"depth_ask,omitempty"`
	OFI           float64  `json:"ofi"`
}

// BookSnapshot is a tick-binned depth image around mid, used for heatmaps.
type BookSnapshot struct {
	TS       int64        `json:"ts"`
	SourceTS int64        `json:"source_ts"`
	Mid      float64      `json:"mid"`
	Bids     []PriceLevel `json:"bids"`
	Asks     []PriceLevel `json:"asks"`
}

// MidPoint is one sample of the mid-only series.
type MidPoint struct {
	TS  int64    `json:"ts"`
	Mid *float64 `json:"mid,omitempty"`
}

// Malformed-event reasons recorded in Diagnostics.
const (
	ReasonUnknownType   = "unknown_event_type"
	ReasonBadPayload    = "bad_payload"
	ReasonOutOfRange    = "out_of_range"
	ReasonAssetMismatch = "asset_mismatch"
	ReasonNoChanges     = "no_changes"
)

// Diagnostics is the tally of recoverable anomalies seen during one replay.
type Diagnostics struct {
	Malformed         int64            `json:"malformed"`
	MalformedByReason map[string]int64 `json:"malformed_by_reason,omitempty"`
	CrossedStates     int64            `json:"crossed_states"`
	DeltasBeforeBook  int64            `json:"deltas_before_book"`
}

// AddMalformed records one skipped event.
func (d *Diagnostics) AddMalformed(reason string) {
	d.Malformed++
	if d.MalformedByReason == nil {
		d.MalformedByReason = make(map[string]int64)
	}
	d.MalformedByReason[reason]++
}

// Clone returns a deep copy.
func (d Diagnostics) Clone() Diagnostics {
	out := d
	if d.MalformedByReason != nil {
		out.MalformedByReason = make(map[string]int64, len(d.MalformedByReason))
		for k, v := range d.MalformedByReason {
			out.MalformedByReason[k] = v
		}
	}
	return out
}
