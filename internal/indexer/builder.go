// Package indexer builds the bulletin index from a directory of CSV dumps.
// Files are processed in lexicographic order and rows in file order; the
// per-row tag extraction may fan out over a worker pool, but results are
// slotted back by position so the output never depends on scheduling.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/bulletin"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/indexer/normalize"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/indexer/tagger"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/source"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/config"
)

// TagExtractor derives the summary and tags of one article body. It must
// not fail; degraded results are reported through Extraction.Source.
type TagExtractor interface {
	Extract(ctx context.Context, text string) tagger.Extraction
}

// Recorder is notified after a snapshot has been written. Recorder errors
// are logged and never fail the build.
type Recorder interface {
	RecordBuild(ctx context.Context, res *BuildResult) error
}

// BuildResult describes one build run.
type BuildResult struct {
	Entries        []bulletin.Entry
	Files          int
	ConvertedFiles []string
	ModelTagged    int
	Fallbacks      int
	Empty          int
	SnapshotPath   string
	Checksum       string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Duration is the wall time of the run.
func (r *BuildResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Builder turns CSV dumps into index entries.
type Builder struct {
	sourceDir    string
	snapshotPath string
	workers      int
	extractor    TagExtractor
	recorders    []Recorder
	logger       *slog.Logger
}

// NewBuilder creates a Builder from cfg. workers below 1 are treated as 1.
func NewBuilder(cfg config.IndexConfig, extractor TagExtractor, recorders ...Recorder) *Builder {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Builder{
		sourceDir:    cfg.SourceDir,
		snapshotPath: cfg.SnapshotPath,
		workers:      workers,
		extractor:    extractor,
		recorders:    recorders,
		logger:       slog.Default().With("component", "index-builder"),
	}
}

// Run builds the entries, writes the snapshot atomically and notifies
// recorders. Any build error leaves the previous snapshot in place.
func (b *Builder) Run(ctx context.Context) (*BuildResult, error) {
	res, err := b.Build(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("build aborted: %w", err)
	}
	sum, err := snapshot.Write(b.snapshotPath, res.Entries)
	if err != nil {
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}
	res.SnapshotPath = b.snapshotPath
	res.Checksum = sum
	res.FinishedAt = time.Now()
	b.logger.Info("snapshot written",
		"path", b.snapshotPath,
		"entries", len(res.Entries),
		"files", res.Files,
		"fallbacks", res.Fallbacks,
		"checksum", sum,
		"duration", res.Duration(),
	)
	for _, r := range b.recorders {
		if err := r.RecordBuild(ctx, res); err != nil {
			b.logger.Warn("build recorder failed", "error", err)
		}
	}
	return res, nil
}

// Build produces the ordered entry list without writing anything but
// encoding repairs to the source files.
func (b *Builder) Build(ctx context.Context) (*BuildResult, error) {
	res := &BuildResult{StartedAt: time.Now()}

	files, err := filepath.Glob(filepath.Join(b.sourceDir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", b.sourceDir, err)
	}
	sort.Strings(files)

	snapshotDir, err := filepath.Abs(filepath.Dir(b.snapshotPath))
	if err != nil {
		return nil, fmt.Errorf("resolving snapshot directory: %w", err)
	}

	pool, err := ants.NewPool(b.workers)
	if err != nil {
		return nil, fmt.Errorf("creating extraction pool: %w", err)
	}
	defer pool.Release()

	entries := make([]bulletin.Entry, 0)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		converted, err := normalize.EnsureUTF8(file)
		if err != nil {
			return nil, err
		}
		if converted {
			res.ConvertedFiles = append(res.ConvertedFiles, file)
		}
		table, err := source.ReadTable(file)
		if err != nil {
			return nil, err
		}
		rel, err := relativeSource(snapshotDir, file)
		if err != nil {
			return nil, err
		}
		fileEntries, err := b.buildFile(ctx, pool, table, rel)
		if err != nil {
			return nil, err
		}
		for _, e := range fileEntries {
			entries = append(entries, e.entry)
			switch e.source {
			case tagger.SourceModel:
				res.ModelTagged++
			case tagger.SourceFallback:
				res.Fallbacks++
			default:
				res.Empty++
			}
		}
		res.Files++
		b.logger.Info("source file indexed", "file", file, "rows", table.Len())
	}

	res.Entries = entries
	res.FinishedAt = time.Now()
	return res, nil
}

type slot struct {
	entry  bulletin.Entry
	source string
}

func (b *Builder) buildFile(ctx context.Context, pool *ants.Pool, t *source.Table, rel string) ([]slot, error) {
	base := filepath.Base(t.Path)
	out := make([]slot, t.Len())
	var wg sync.WaitGroup
	for i := 0; i < t.Len(); i++ {
		out[i].entry = bulletin.Entry{
			ID:           base + "-" + strconv.Itoa(i),
			Municipality: t.Field(i, bulletin.ColumnMunicipality),
			Date:         t.Field(i, bulletin.ColumnDate),
			IssueTitle:   t.Field(i, bulletin.ColumnIssueTitle),
			ArticleTitle: t.Field(i, bulletin.ColumnArticleTitle),
			Category:     t.Field(i, bulletin.ColumnCategory),
			Source:       rel,
			Row:          i + 1,
		}
		body := t.Field(i, bulletin.ColumnBody)
		s := &out[i]
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			ex := b.extractor.Extract(ctx, body)
			s.entry.Summary = ex.Summary
			s.entry.Tags = bulletin.UniqueTags(ex.Tags)
			s.source = ex.Source
		}); err != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("submitting extraction for %s row %d: %w", base, i+1, err)
		}
	}
	wg.Wait()
	// A cancelled analyzer call degrades to the fallback, so rows
	// extracted after cancellation cannot be told apart from real ones.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extracting %s: %w", base, err)
	}
	return out, nil
}

// relativeSource expresses file relative to the snapshot directory with
// forward slashes, so the snapshot is portable across platforms.
func relativeSource(snapshotDir, file string) (string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", file, err)
	}
	rel, err := filepath.Rel(snapshotDir, abs)
	if err != nil {
		return "", fmt.Errorf("relating %s to %s: %w", file, snapshotDir, err)
	}
	return filepath.ToSlash(rel), nil
}
