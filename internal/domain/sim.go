package domain

import (
	"cmp"
	"slices"
	"time"
)

// Quote is a desired resting order returned by a strategy.
type Quote struct {
	Side  Side    `json:"side"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Fill is a simulated execution against a resting quote.
type Fill struct {
	TS    int64   `json:"ts"`
	Side  Side    `json:"side"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// SimRequest describes one simulation invocation.
type SimRequest struct {
	MarketID      string         `json:"market_id"`
	AssetID       string         `json:"asset_id"`
	StrategyName  string         `json:"strategy"`
	Params        map[string]any `json:"params,omitempty"`
	StartTS       int64          `json:"start_ts"`
	EndTS         int64          `json:"end_ts"`
	FillLatencyMS int64          `json:"fill_latency_ms,omitempty"`
}

// SimRun is the settled, write-once result of a simulation.
type SimRun struct {
	RunID           string         `json:"run_id"`
	StrategyName    string         `json:"strategy_name"`
	MarketID        string         `json:"market_id"`
	AssetID         string         `json:"asset_id"`
	Params          map[string]any `json:"params"`
	StartTS         int64          `json:"start_ts"`
	EndTS           int64          `json:"end_ts"`
	EventsProcessed int64          `json:"events_processed"`
	Fills           []Fill         `json:"fills"`
	FillCount       int            `json:"fill_count"`
	RealizedPnL     float64        `json:"realized_pnl"`
	FinalInventory  float64        `json:"final_inventory"`
	AvgCost         float64        `json:"avg_cost"`
	Diagnostics     Diagnostics    `json:"diagnostics"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (r *SimRun) Clone() *SimRun {
	out := *r
	out.Fills = append([]Fill(nil), r.Fills...)
	if r.Params != nil {
		out.Params = make(map[string]any, len(r.Params))
		for k, v := range r.Params {
			out.Params[k] = v
		}
	}
	out.Diagnostics = r.Diagnostics.Clone()
	return &out
}

// Summary is the run without its fills, as listings return it.
func (r *SimRun) Summary() *SimRun {
	out := r.Clone()
	out.Fills = nil
	return out
}

// SortRunsNewest orders runs by CreatedAt descending, then RunID.
func SortRunsNewest(runs []*SimRun) {
	slices.SortFunc(runs, func(a, b *SimRun) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.RunID, b.RunID)
	})
}
