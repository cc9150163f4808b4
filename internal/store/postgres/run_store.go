package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// RunStore implements domain.RunStore on sim_runs and sim_fills.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Put writes the run and its fills in one transaction. A second Put for the
// same run id returns domain.ErrAlreadyExists and changes nothing.
func (s *RunStore) Put(ctx context.Context, run *domain.SimRun) error {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("postgres: marshal run params: %w", err)
	}
	diag, err := json.Marshal(run.Diagnostics)
	if err != nil {
		return fmt.Errorf("postgres: marshal run diagnostics: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin put run: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO sim_runs (
			run_id, strategy_name, market_id, asset_id, params,
			start_ts, end_ts, events_processed, fill_count,
			realized_pnl, final_inventory, avg_cost, diagnostics, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (run_id) DO NOTHING`,
		run.RunID, run.StrategyName, run.MarketID, run.AssetID, params,
		run.StartTS, run.EndTS, run.EventsProcessed, run.FillCount,
		run.RealizedPnL, run.FinalInventory, run.AvgCost, diag, run.CreatedAt,
	)
	if err != nil {
		return mapWriteErr(run.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: run %s: %w", run.RunID, domain.ErrAlreadyExists)
	}

	if len(run.Fills) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"sim_fills"},
			[]string{"run_id", "idx", "ts", "side", "price", "size"},
			pgx.CopyFromSlice(len(run.Fills), func(i int) ([]any, error) {
				f := run.Fills[i]
				return []any{run.RunID, i, f.TS, string(f.Side), f.Price, f.Size}, nil
			}),
		)
		if err != nil {
			return mapWriteErr(run.RunID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit run %s: %w", run.RunID, err)
	}
	return nil
}

func mapWriteErr(runID string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("postgres: run %s: %w", runID, domain.ErrAlreadyExists)
	}
	return fmt.Errorf("postgres: put run %s: %w", runID, err)
}

// Get loads a run and its fills in order.
func (s *RunStore) Get(ctx context.Context, runID string) (*domain.SimRun, error) {
	var (
		run          domain.SimRun
		params, diag []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM sim_runs WHERE run_id = $1`, runID,
	).Scan(
		&run.RunID, &run.StrategyName, &run.MarketID, &run.AssetID, &params,
		&run.StartTS, &run.EndTS, &run.EventsProcessed, &run.FillCount,
		&run.RealizedPnL, &run.FinalInventory, &run.AvgCost, &diag, &run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: run %s: %w", runID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: get run %s: %w", runID, err)
	}
	if err := json.Unmarshal(params, &run.Params); err != nil {
		return nil, fmt.Errorf("postgres: decode run params %s: %w", runID, err)
	}
	if err := json.Unmarshal(diag, &run.Diagnostics); err != nil {
		return nil, fmt.Errorf("postgres: decode run diagnostics %s: %w", runID, err)
	}
	run.CreatedAt = run.CreatedAt.UTC()

	rows, err := s.pool.Query(ctx,
		"SELECT ts, side, price, size FROM sim_fills WHERE run_id = $1 ORDER BY idx", runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get fills %s: %w", runID, err)
	}
	defer rows.Close()

	run.Fills = make([]domain.Fill, 0, run.FillCount)
	for rows.Next() {
		var (
			f    domain.Fill
			side string
		)
		if err := rows.Scan(&f.TS, &side, &f.Price, &f.Size); err != nil {
			return nil, fmt.Errorf("postgres: scan fill %s: %w", runID, err)
		}
		f.Side = domain.Side(side)
		run.Fills = append(run.Fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate fills %s: %w", runID, err)
	}
	return &run, nil
}

const runColumns = `run_id, strategy_name, market_id, asset_id, params,
	start_ts, end_ts, events_processed, fill_count,
	realized_pnl, final_inventory, avg_cost, diagnostics, created_at`

// List returns the newest runs without fills. A non-empty assetID is served
// by idx_sim_runs_asset.
func (s *RunStore) List(ctx context.Context, assetID string, limit int) ([]*domain.SimRun, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}

	var (
		rows pgx.Rows
		err  error
	)
	if assetID != "" {
		rows, err = s.pool.Query(ctx, `SELECT `+runColumns+`
			FROM sim_runs WHERE asset_id = $1
			ORDER BY created_at DESC, run_id LIMIT $2`, assetID, limit)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+runColumns+`
			FROM sim_runs
			ORDER BY created_at DESC, run_id LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.SimRun, error) {
		var (
			run          domain.SimRun
			params, diag []byte
		)
		if err := row.Scan(
			&run.RunID, &run.StrategyName, &run.MarketID, &run.AssetID, &params,
			&run.StartTS, &run.EndTS, &run.EventsProcessed, &run.FillCount,
			&run.RealizedPnL, &run.FinalInventory, &run.AvgCost, &diag, &run.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(params, &run.Params); err != nil {
			return nil, fmt.Errorf("decode params of %s: %w", run.RunID, err)
		}
		if err := json.Unmarshal(diag, &run.Diagnostics); err != nil {
			return nil, fmt.Errorf("decode diagnostics of %s: %w", run.RunID, err)
		}
		run.CreatedAt = run.CreatedAt.UTC()
		return &run, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	return runs, nil
}
