// Package aggregator persists periodic snapshots of the search analytics to
// PostgreSQL so statistics survive searcher restarts. Only the newest
// snapshots are retained.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/resilience"
)

// DefaultRetain is how many snapshots survive each prune.
const DefaultRetain = 288

var schema = []string{
	`CREATE TABLE IF NOT EXISTS analytics_snapshots (
    id             BIGSERIAL PRIMARY KEY,
    data           JSONB NOT NULL,
    total_searches BIGINT NOT NULL DEFAULT 0,
    index_checksum TEXT NOT NULL DEFAULT '',
    captured_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS analytics_snapshots_captured_at
    ON analytics_snapshots (captured_at DESC)`,
}

type Store struct {
	db     *postgres.Client
	retain int
	logger *slog.Logger

	// last is the stats most recently written by this process; only the
	// periodic saver goroutine touches it.
	last *analytics.AggregatedStats
}

// NewStore keeps retain snapshots; retain < 1 means DefaultRetain.
func NewStore(db *postgres.Client, retain int) *Store {
	if retain < 1 {
		retain = DefaultRetain
	}
	return &Store{
		db:     db,
		retain: retain,
		logger: slog.Default().With("component", "analytics-store"),
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.db.Exec(ctx, schema...); err != nil {
		return fmt.Errorf("creating analytics_snapshots: %w", err)
	}
	return nil
}

// SaveSnapshot inserts stats, retrying transient database errors.
func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}
	checksum := ""
	if stats.LastBuild != nil {
		checksum = stats.LastBuild.Checksum
	}
	err = resilience.Retry(ctx, "analytics.save", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		_, err := s.db.DB.ExecContext(ctx,
			`INSERT INTO analytics_snapshots (data, total_searches, index_checksum, captured_at)
			VALUES ($1, $2, $3, $4)`,
			data, stats.TotalSearches, checksum, time.Now().UTC(),
		)
		if err != nil && !postgres.IsTransient(err) {
			return resilience.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.logger.Info("analytics snapshot saved", "total_searches", stats.TotalSearches, "index_checksum", checksum)
	return nil
}

// Prune deletes all but the newest retained snapshots.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM analytics_snapshots WHERE id NOT IN (
			SELECT id FROM analytics_snapshots ORDER BY captured_at DESC LIMIT $1
		)`, s.retain)
	if err != nil {
		return 0, fmt.Errorf("pruning analytics snapshots: %w", err)
	}
	return res.RowsAffected()
}

// LatestSnapshot returns nil, nil when nothing has been saved yet.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data FROM analytics_snapshots ORDER BY captured_at DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}
	var stats analytics.AggregatedStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &stats, nil
}

// StartPeriodicSave snapshots agg every interval when anything changed, and
// once more on shutdown.
func (s *Store) StartPeriodicSave(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.saveIfChanged(ctx, agg.Stats())
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				s.saveIfChanged(shutdownCtx, agg.Stats())
				cancel()
				return
			}
		}
	}()
	s.logger.Info("periodic snapshot started", "interval", interval, "retain", s.retain)
}

func (s *Store) saveIfChanged(ctx context.Context, stats analytics.AggregatedStats) {
	if !changed(s.last, stats) {
		return
	}
	if err := s.SaveSnapshot(ctx, stats); err != nil {
		s.logger.Error("snapshot failed", "error", err)
		return
	}
	s.last = &stats
	if n, err := s.Prune(ctx); err != nil {
		s.logger.Warn("snapshot prune failed", "error", err)
	} else if n > 0 {
		s.logger.Debug("old snapshots pruned", "deleted", n)
	}
}

// changed reports whether next carries searches or a build that prev did
// not. A nil prev always counts as changed.
func changed(prev *analytics.AggregatedStats, next analytics.AggregatedStats) bool {
	if prev == nil {
		return true
	}
	if prev.TotalSearches != next.TotalSearches {
		return true
	}
	switch {
	case prev.LastBuild == nil && next.LastBuild == nil:
		return false
	case prev.LastBuild == nil || next.LastBuild == nil:
		return true
	}
	return prev.LastBuild.Checksum != next.LastBuild.Checksum ||
		!prev.LastBuild.Timestamp.Equal(next.LastBuild.Timestamp)
}
