package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/postgres"
)

// Snapshot is a Stats value captured at a point in time.
type Snapshot struct {
	Stats      Stats     `json:"stats"`
	CapturedAt time.Time `json:"captured_at"`
}

// SnapshotStore persists aggregated stats in a table:
//
//	CREATE TABLE search_analytics_snapshots (
//	    id          BIGSERIAL PRIMARY KEY,
//	    data        JSONB NOT NULL,
//	    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type SnapshotStore struct {
	db     *postgres.Client
	table  string
	logger *slog.Logger
}

// NewSnapshotStore creates the table if it does not exist.
func NewSnapshotStore(ctx context.Context, db *postgres.Client, table string) (*SnapshotStore, error) {
	if err := postgres.CheckTableName(table); err != nil {
		return nil, err
	}
	_, err := db.DB.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id          BIGSERIAL PRIMARY KEY,
		data        JSONB NOT NULL,
		captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, table))
	if err != nil {
		return nil, fmt.Errorf("creating table %s: %w", table, err)
	}
	return &SnapshotStore{
		db:     db,
		table:  table,
		logger: slog.Default().With("component", "analytics-snapshots"),
	}, nil
}

func (s *SnapshotStore) Save(ctx context.Context, stats Stats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (data, captured_at) VALUES ($1, $2)`, s.table),
		data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.logger.Debug("analytics snapshot saved", "total_searches", stats.TotalSearches)
	return nil
}

// Latest returns the newest snapshot, or nil when none exist.
func (s *SnapshotStore) Latest(ctx context.Context) (*Snapshot, error) {
	snaps, err := s.List(ctx, 1)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return &snaps[0], nil
}

// List returns up to limit snapshots, newest first. Rows that no longer decode
// are skipped.
func (s *SnapshotStore) List(ctx context.Context, limit int) ([]Snapshot, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		fmt.Sprintf(`SELECT data, captured_at FROM %s ORDER BY captured_at DESC LIMIT $1`, s.table),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []Snapshot{}
	for rows.Next() {
		var (
			data []byte
			snap Snapshot
		)
		if err := rows.Scan(&data, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		if err := json.Unmarshal(data, &snap.Stats); err != nil {
			s.logger.Warn("skipping corrupt snapshot", "error", err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// RunPeriodic saves agg's stats every interval until ctx is cancelled, then
// saves a final snapshot.
func (s *SnapshotStore) RunPeriodic(ctx context.Context, agg *Aggregator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("periodic snapshots started", "interval", interval)
	for {
		select {
		case <-ticker.C:
			if err := s.Save(ctx, agg.Stats()); err != nil {
				s.logger.Error("periodic snapshot failed", "error", err)
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Save(final, agg.Stats()); err != nil {
				s.logger.Error("final snapshot failed", "error", err)
			}
			cancel()
			return
		}
	}
}
