package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

const defaultRunPrefix = "runs"

// RunStore implements domain.RunStore as one JSON object per run at
// <prefix>/<run_id>.json. Immutability relies on an existence check, so at
// most one process should write runs to a given prefix. Keys carry no asset
// or time, so List downloads every run under the prefix.
type RunStore struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
}

// NewRunStore creates a RunStore. An empty prefix means "runs".
func NewRunStore(w domain.BlobWriter, r domain.BlobReader, prefix string) *RunStore {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultRunPrefix
	}
	return &RunStore{writer: w, reader: r, prefix: prefix}
}

func (s *RunStore) path(runID string) string {
	return s.prefix + "/" + runID + ".json"
}

// Put uploads run unless an object already exists for its id.
func (s *RunStore) Put(ctx context.Context, run *domain.SimRun) error {
	p := s.path(run.RunID)
	exists, err := s.reader.Exists(ctx, p)
	if err != nil {
		return fmt.Errorf("s3blob: put run %s: %w", run.RunID, err)
	}
	if exists {
		return fmt.Errorf("s3blob: run %s: %w", run.RunID, domain.ErrAlreadyExists)
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("s3blob: marshal run %s: %w", run.RunID, err)
	}
	if err := s.writer.Put(ctx, p, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: put run %s: %w", run.RunID, err)
	}
	return nil
}

// Get downloads and decodes a run. Unknown ids return domain.ErrNotFound.
func (s *RunStore) Get(ctx context.Context, runID string) (*domain.SimRun, error) {
	body, err := s.reader.Get(ctx, s.path(runID))
	if err != nil {
		return nil, fmt.Errorf("s3blob: get run %s: %w", runID, err)
	}
	defer body.Close()

	var run domain.SimRun
	if err := json.NewDecoder(body).Decode(&run); err != nil {
		return nil, fmt.Errorf("s3blob: decode run %s: %w", runID, err)
	}
	return &run, nil
}

// List decodes every run under the prefix and returns the newest, filtered
// by asset when assetID is set.
func (s *RunStore) List(ctx context.Context, assetID string, limit int) ([]*domain.SimRun, error) {
	infos, err := s.reader.List(ctx, s.prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: list runs: %w", err)
	}

	out := make([]*domain.SimRun, 0, len(infos))
	for _, info := range infos {
		runID, ok := strings.CutSuffix(strings.TrimPrefix(info.Path, s.prefix+"/"), ".json")
		if !ok || runID == "" || strings.Contains(runID, "/") {
			continue
		}
		run, err := s.Get(ctx, runID)
		if err != nil {
			return nil, err
		}
		if assetID != "" && run.AssetID != assetID {
			continue
		}
		run.Fills = nil
		out = append(out, run)
	}

	domain.SortRunsNewest(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
