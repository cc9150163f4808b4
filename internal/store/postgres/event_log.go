package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

const defaultReadBatch = 5000

// EventLog implements domain.EventLog, domain.EventStatter and
// domain.SequenceSource on the raw_events table.
type EventLog struct {
	pool      *pgxpool.Pool
	readBatch int
	now       func() time.Time
}

// NewEventLog creates an EventLog that reads in pages of readBatch rows.
func NewEventLog(pool *pgxpool.Pool, readBatch int) *EventLog {
	if readBatch <= 0 {
		readBatch = defaultReadBatch
	}
	return &EventLog{pool: pool, readBatch: readBatch, now: time.Now}
}

const eventSelectCols = `id, venue, market_id, asset_id, event_type, exchange_ts, ingest_ts, sequence, payload`

func scanEventRows(rows pgx.Rows) ([]domain.RawEvent, error) {
	defer rows.Close()
	var events []domain.RawEvent
	for rows.Next() {
		var (
			ev      domain.RawEvent
			typ     string
			payload []byte
		)
		if err := rows.Scan(
			&ev.ID, &ev.Venue, &ev.MarketID, &ev.AssetID, &typ,
			&ev.ExchangeTS, &ev.IngestTS, &ev.Sequence, &payload,
		); err != nil {
			return nil, err
		}
		ev.EventType = domain.EventType(typ)
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Append inserts events in one batch. Rows whose (asset_id, ingest_ts,
// sequence) already exist are skipped.
func (l *EventLog) Append(ctx context.Context, events []domain.RawEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO raw_events (
			venue, market_id, asset_id, event_type,
			exchange_ts, ingest_ts, sequence, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (asset_id, ingest_ts, sequence) DO NOTHING`

	for _, ev := range events {
		batch.Queue(query,
			ev.Venue, ev.MarketID, ev.AssetID, string(ev.EventType),
			ev.ExchangeTS, ev.IngestTS, ev.Sequence, []byte(ev.Payload),
		)
	}

	br := l.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append event batch item %d: %w", i, err)
		}
	}
	return nil
}

// Read pages through the asset's events in [startTS, endTS] with keyset
// pagination on (ingest_ts, sequence). An endTS of 0 means now. The id
// high-water mark taken on the first page pins the horizon, so rows appended
// while the read is in progress are never yielded.
func (l *EventLog) Read(ctx context.Context, assetID string, startTS, endTS int64) iter.Seq2[domain.RawEvent, error] {
	if endTS == 0 {
		endTS = l.now().UnixMilli()
	}
	return func(yield func(domain.RawEvent, error) bool) {
		var hwm int64
		if err := l.pool.QueryRow(ctx,
			"SELECT COALESCE(MAX(id), 0) FROM raw_events WHERE asset_id = $1", assetID,
		).Scan(&hwm); err != nil {
			yield(domain.RawEvent{}, fmt.Errorf("postgres: read events %s: high-water mark: %w", assetID, err))
			return
		}

		const query = `SELECT ` + eventSelectCols + ` FROM raw_events
			WHERE asset_id = $1
			  AND (ingest_ts, sequence) > ($2, $3)
			  AND ingest_ts <= $4
			  AND id <= $5
			ORDER BY ingest_ts, sequence
			LIMIT $6`

		cursorTS, cursorSeq := startTS, int64(math.MinInt64)
		for {
			rows, err := l.pool.Query(ctx, query, assetID, cursorTS, cursorSeq, endTS, hwm, l.readBatch)
			if err != nil {
				yield(domain.RawEvent{}, fmt.Errorf("postgres: read events %s: %w", assetID, err))
				return
			}
			page, err := scanEventRows(rows)
			if err != nil {
				yield(domain.RawEvent{}, fmt.Errorf("postgres: scan events %s: %w", assetID, err))
				return
			}
			for _, ev := range page {
				if !yield(ev, nil) {
					return
				}
			}
			if len(page) < l.readBatch {
				return
			}
			last := page[len(page)-1]
			cursorTS, cursorSeq = last.IngestTS, last.Sequence
		}
	}
}

// Stats returns totals, the ingest time range and the busiest markets.
func (l *EventLog) Stats(ctx context.Context) (domain.EventStats, error) {
	var st domain.EventStats
	err := l.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(MIN(ingest_ts), 0), COALESCE(MAX(ingest_ts), 0)
		FROM raw_events`,
	).Scan(&st.TotalEvents, &st.MinIngestTS, &st.MaxIngestTS)
	if err != nil {
		return st, fmt.Errorf("postgres: event stats: %w", err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT market_id, COUNT(*) AS n
		FROM raw_events
		GROUP BY market_id
		ORDER BY n DESC, market_id
		LIMIT $1`, domain.StatsTopMarkets)
	if err != nil {
		return st, fmt.Errorf("postgres: event stats by market: %w", err)
	}
	defer rows.Close()

	st.ByMarket = make([]domain.MarketCount, 0, domain.StatsTopMarkets)
	for rows.Next() {
		var mc domain.MarketCount
		if err := rows.Scan(&mc.MarketID, &mc.Count); err != nil {
			return st, fmt.Errorf("postgres: scan market count: %w", err)
		}
		st.ByMarket = append(st.ByMarket, mc)
	}
	return st, rows.Err()
}

// LastSequence returns the highest stored sequence for the asset, or 0.
func (l *EventLog) LastSequence(ctx context.Context, assetID string) (int64, error) {
	var last int64
	err := l.pool.QueryRow(ctx,
		"SELECT COALESCE(MAX(sequence), 0) FROM raw_events WHERE asset_id = $1", assetID,
	).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("postgres: last sequence %s: %w", assetID, err)
	}
	return last, nil
}
