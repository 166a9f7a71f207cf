package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/indexer/tagger"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/kafka"
)

const header = "自治体名,公開年月,発行号タイトル,記事タイトル,カテゴリ,記事本文\n"

// pinnedExtractor returns a deterministic extraction derived from the text.
type pinnedExtractor struct {
	mu    sync.Mutex
	calls []string
}

func (p *pinnedExtractor) Extract(_ context.Context, text string) tagger.Extraction {
	p.mu.Lock()
	p.calls = append(p.calls, text)
	p.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return tagger.Extraction{Tags: []string{}, Source: tagger.SourceEmpty}
	}
	if strings.Contains(text, "FAIL") {
		return tagger.Extraction{Summary: tagger.FallbackSummary(text), Tags: tagger.FallbackTags(text), Source: tagger.SourceFallback}
	}
	return tagger.Extraction{Summary: "要約:" + text, Tags: []string{"タグ", "タグ", "記事"}, Source: tagger.SourceModel}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func fixture(t *testing.T) (root string, cfg config.IndexConfig) {
	t.Helper()
	root = t.TempDir()
	writeFile(t, filepath.Join(root, "csv", "b-town.csv"), []byte(header+
		"東町,2024.04,広報ひがし4月号,子育て支援,福祉,子育て世帯への支援金\n"))
	writeFile(t, filepath.Join(root, "csv", "a-town.csv"), []byte(header+
		"西町,2024.05,広報にしまち5月号,空き家バンク,住宅,空家の活用\n"+
		"西町,2024.05,広報にしまち5月号,お知らせ,その他,\n"+
		"西町,2024.05\n"))
	cfg = config.IndexConfig{
		SourceDir:    filepath.Join(root, "csv"),
		SnapshotPath: filepath.Join(root, "docs", "index.json"),
		Workers:      4,
	}
	return root, cfg
}

func TestBuild_OrderAndFields(t *testing.T) {
	_, cfg := fixture(t)
	res, err := NewBuilder(cfg, &pinnedExtractor{}).Build(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Entries, 4)
	assert.Equal(t, 2, res.Files)

	first := res.Entries[0]
	assert.Equal(t, "a-town.csv-0", first.ID)
	assert.Equal(t, 1, first.Row)
	assert.Equal(t, "西町", first.Municipality)
	assert.Equal(t, "2024.05", first.Date)
	assert.Equal(t, "広報にしまち5月号", first.IssueTitle)
	assert.Equal(t, "空き家バンク", first.ArticleTitle)
	assert.Equal(t, "住宅", first.Category)
	assert.Equal(t, "要約:空家の活用", first.Summary)
	assert.Equal(t, []string{"タグ", "記事"}, first.Tags)
	assert.Equal(t, "../csv/a-town.csv", first.Source)

	short := res.Entries[2]
	assert.Equal(t, "a-town.csv-2", short.ID)
	assert.Equal(t, 3, short.Row)
	assert.Equal(t, "", short.ArticleTitle)
	assert.Equal(t, "", short.Summary)
	assert.Equal(t, []string{}, short.Tags)

	assert.Equal(t, "b-town.csv-0", res.Entries[3].ID)
	assert.Equal(t, 2, res.ModelTagged)
	assert.Equal(t, 2, res.Empty)
}

func TestBuild_IDsUnique(t *testing.T) {
	_, cfg := fixture(t)
	res, err := NewBuilder(cfg, &pinnedExtractor{}).Build(context.Background())
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, e := range res.Entries {
		assert.False(t, seen[e.ID], "duplicate id %s", e.ID)
		seen[e.ID] = true
	}
}

func TestRun_RoundTripByteIdentical(t *testing.T) {
	_, cfg := fixture(t)

	_, err := NewBuilder(cfg, &pinnedExtractor{}).Run(context.Background())
	require.NoError(t, err)
	first, err := os.ReadFile(cfg.SnapshotPath)
	require.NoError(t, err)

	cfg.Workers = 1
	_, err = NewBuilder(cfg, &pinnedExtractor{}).Run(context.Background())
	require.NoError(t, err)
	second, err := os.ReadFile(cfg.SnapshotPath)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

type recorderFunc func(ctx context.Context, res *BuildResult) error

func (f recorderFunc) RecordBuild(ctx context.Context, res *BuildResult) error { return f(ctx, res) }

func TestRun_RecordersSeeChecksum(t *testing.T) {
	_, cfg := fixture(t)
	var got *BuildResult
	ok := recorderFunc(func(_ context.Context, res *BuildResult) error { got = res; return nil })
	broken := recorderFunc(func(context.Context, *BuildResult) error { return errors.New("ledger down") })

	res, err := NewBuilder(cfg, &pinnedExtractor{}, broken, ok).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, res.Checksum, got.Checksum)
	assert.NotEmpty(t, res.Checksum)
}

func TestRun_FailureKeepsPreviousSnapshot(t *testing.T) {
	root, cfg := fixture(t)
	_, err := NewBuilder(cfg, &pinnedExtractor{}).Run(context.Background())
	require.NoError(t, err)
	before, err := os.ReadFile(cfg.SnapshotPath)
	require.NoError(t, err)

	// A directory with a .csv name cannot be read as a file.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "csv", "c-broken.csv"), 0755))

	_, err = NewBuilder(cfg, &pinnedExtractor{}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrSourceUnreadable))

	after, err := os.ReadFile(cfg.SnapshotPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

type analyzerFunc func(ctx context.Context, text string) (tagger.Analysis, error)

func (f analyzerFunc) Analyze(ctx context.Context, text string) (tagger.Analysis, error) {
	return f(ctx, text)
}

func TestRun_CancelDuringLastFileKeepsPreviousSnapshot(t *testing.T) {
	_, cfg := fixture(t)
	_, err := NewBuilder(cfg, &pinnedExtractor{}).Run(context.Background())
	require.NoError(t, err)
	before, err := os.ReadFile(cfg.SnapshotPath)
	require.NoError(t, err)

	// b-town.csv sorts last; cancelling inside its only row leaves no
	// per-file check before the snapshot would be written.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var modelCalls int
	var mu sync.Mutex
	analyzer := analyzerFunc(func(ctx context.Context, text string) (tagger.Analysis, error) {
		mu.Lock()
		modelCalls++
		mu.Unlock()
		if strings.Contains(text, "子育て") {
			cancel()
			return tagger.Analysis{}, ctx.Err()
		}
		return tagger.Analysis{Summary: "要約", Tags: []string{"住宅"}}, nil
	})

	recorded := false
	rec := recorderFunc(func(context.Context, *BuildResult) error {
		recorded = true
		return nil
	})
	res, err := NewBuilder(cfg, tagger.NewExtractor(analyzer), rec).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	assert.False(t, recorded)
	assert.Positive(t, modelCalls)

	after, err := os.ReadFile(cfg.SnapshotPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestBuild_ConvertsShiftJIS(t *testing.T) {
	root := t.TempDir()
	text := header + strings.Repeat("南村,2023.12,広報みなみ12月号,年末年始のごみ収集について,生活,年末年始はごみの収集日が変わりますのでご注意ください。\r\n", 20)
	sjis, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(text))
	require.NoError(t, err)
	writeFile(t, filepath.Join(root, "csv", "sjis.csv"), sjis)

	cfg := config.IndexConfig{
		SourceDir:    filepath.Join(root, "csv"),
		SnapshotPath: filepath.Join(root, "docs", "index.json"),
		Workers:      2,
	}
	res, err := NewBuilder(cfg, &pinnedExtractor{}).Build(context.Background())
	require.NoError(t, err)
	require.Len(t, res.ConvertedFiles, 1)
	require.Len(t, res.Entries, 20)
	assert.Equal(t, "南村", res.Entries[0].Municipality)
	assert.Equal(t, "年末年始のごみ収集について", res.Entries[0].ArticleTitle)
}

func TestBuild_EmptyDir(t *testing.T) {
	root := t.TempDir()
	cfg := config.IndexConfig{SourceDir: root, SnapshotPath: filepath.Join(root, "index.json"), Workers: 1}
	res, err := NewBuilder(cfg, &pinnedExtractor{}).Build(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.NotNil(t, res.Entries)
}

type capturePublisher struct {
	events []kafka.Event
}

func (c *capturePublisher) Publish(_ context.Context, ev kafka.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func TestCompletionNotifier(t *testing.T) {
	_, cfg := fixture(t)
	pub := &capturePublisher{}
	res, err := NewBuilder(cfg, &pinnedExtractor{}, NewCompletionNotifier(pub)).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, res.Checksum, pub.events[0].Key)
	assert.Equal(t, "index_complete", pub.events[0].Type)
	ev, ok := pub.events[0].Value.(analytics.IndexCompleteEvent)
	require.True(t, ok)
	assert.Equal(t, analytics.EventIndexComplete, ev.Type)
	assert.Equal(t, 4, ev.Entries)
	assert.Equal(t, 2, ev.Files)
}
