// Package ledger records completed index builds in PostgreSQL so operators
// can see when each snapshot was produced and how much of it fell back to
// local tagging.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/resilience"
)

const schema = `CREATE TABLE IF NOT EXISTS index_builds (
    id              BIGSERIAL PRIMARY KEY,
    snapshot_path   TEXT        NOT NULL,
    checksum        TEXT        NOT NULL,
    files           INTEGER     NOT NULL,
    entries         INTEGER     NOT NULL,
    model_tagged    INTEGER     NOT NULL,
    fallbacks       INTEGER     NOT NULL,
    converted_files INTEGER     NOT NULL,
    started_at      TIMESTAMPTZ NOT NULL,
    finished_at     TIMESTAMPTZ NOT NULL
)`

// Build is one ledger row.
type Build struct {
	ID             int64     `json:"id"`
	SnapshotPath   string    `json:"snapshot_path"`
	Checksum       string    `json:"checksum"`
	Files          int       `json:"files"`
	Entries        int       `json:"entries"`
	ModelTagged    int       `json:"model_tagged"`
	Fallbacks      int       `json:"fallbacks"`
	ConvertedFiles int       `json:"converted_files"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Ledger implements indexer.Recorder.
type Ledger struct {
	db     *postgres.Client
	logger *slog.Logger
}

func New(db *postgres.Client) *Ledger {
	return &Ledger{
		db:     db,
		logger: slog.Default().With("component", "build-ledger"),
	}
}

// EnsureSchema creates the index_builds table when missing.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if err := l.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating index_builds: %w", err)
	}
	return nil
}

// RecordBuild inserts res, retrying transient failures.
func (l *Ledger) RecordBuild(ctx context.Context, res *indexer.BuildResult) error {
	var id int64
	err := resilience.Retry(ctx, "ledger.record", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		err := l.db.InTx(ctx, func(tx *sql.Tx) error {
			return tx.QueryRowContext(ctx,
				`INSERT INTO index_builds
				(snapshot_path, checksum, files, entries, model_tagged, fallbacks, converted_files, started_at, finished_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				RETURNING id`,
				res.SnapshotPath, res.Checksum, res.Files, len(res.Entries), res.ModelTagged,
				res.Fallbacks, len(res.ConvertedFiles), res.StartedAt.UTC(), res.FinishedAt.UTC(),
			).Scan(&id)
		})
		if err != nil && !postgres.IsTransient(err) {
			return resilience.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("recording build: %w", err)
	}
	l.logger.Info("build recorded", "id", id, "checksum", res.Checksum)
	return nil
}

// Recent returns the last limit builds, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Build, error) {
	rows, err := l.db.DB.QueryContext(ctx,
		`SELECT id, snapshot_path, checksum, files, entries, model_tagged, fallbacks, converted_files, started_at, finished_at
		FROM index_builds ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	defer rows.Close()

	var builds []Build
	for rows.Next() {
		var b Build
		if err := rows.Scan(&b.ID, &b.SnapshotPath, &b.Checksum, &b.Files, &b.Entries,
			&b.ModelTagged, &b.Fallbacks, &b.ConvertedFiles, &b.StartedAt, &b.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning build row: %w", err)
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}
