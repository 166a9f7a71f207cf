// Package integration wires the index builder and the search service
// together over real files. Tests that need PostgreSQL or Redis skip when
// those are unreachable.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/bulletin"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/indexer/ledger"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/indexer/tagger"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/render"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/synonym"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/source"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/redis"
)

const csvHeader = "自治体名,公開年月,発行号タイトル,記事タイトル,カテゴリ,記事本文\n"

var fixtures = map[string]string{
	"east.csv": csvHeader +
		"東町,2023.11,広報ひがし11月号,空家の適正管理について,住宅,管理されていない空家は倒壊の危険があります。\n" +
		"東町,2024.02,広報ひがし2月号,図書館の休館日,文化,2月は蔵書点検のため休館します。\n",
	"west.csv": csvHeader +
		"西町,2024.05,広報にし5月号,空き家バンク登録物件,住宅,\"空き家バンクに新しい物件が登録されました。\n見学は予約制です。\"\n" +
		"西町,2022.08,広報にし8月号,高齢者の熱中症予防,福祉,こまめな水分補給を心がけましょう。\n",
}

// buildIndex writes the fixtures under root/csv and builds root/docs/index.json
// with the local fallback extractor.
func buildIndex(t *testing.T) (*indexer.BuildResult, *snapshot.Index) {
	t.Helper()
	root := t.TempDir()
	csvDir := filepath.Join(root, "csv")
	require.NoError(t, os.MkdirAll(csvDir, 0o755))
	for name, body := range fixtures {
		require.NoError(t, os.WriteFile(filepath.Join(csvDir, name), []byte(body), 0o644))
	}

	cfg := config.IndexConfig{
		SourceDir:    csvDir,
		SnapshotPath: filepath.Join(root, "docs", "index.json"),
		Workers:      2,
	}
	res, err := indexer.NewBuilder(cfg, tagger.NewExtractor(nil)).Run(context.Background())
	require.NoError(t, err)

	ix, err := snapshot.Load(cfg.SnapshotPath)
	require.NoError(t, err)
	return res, ix
}

func newSearchServer(t *testing.T, ix *snapshot.Index, c *cache.QueryCache) (*httptest.Server, *analytics.Aggregator) {
	t.Helper()
	agg := analytics.NewAggregator()
	collector := analytics.NewCollector(analytics.NewLocalPublisher(agg), 100)
	ctx, cancel := context.WithCancel(context.Background())
	collector.Start(ctx)
	t.Cleanup(func() {
		cancel()
		collector.Close()
	})

	m := metrics.New(prometheus.NewRegistry())
	h := handler.New(handler.Deps{
		Executor:  executor.New(ix.Entries, synonym.Default()),
		Renderer:  render.New(source.NewFetcher(ix.BaseDir)),
		Index:     ix,
		Cache:     c,
		Collector: collector,
		Metrics:   m,
	}, config.Default().Search)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.HandleFunc("/api/v1/analytics", analytics.NewHandler(agg).Stats)

	var chain http.Handler = mux
	chain = middleware.Timeout(5 * time.Second)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)
	chain = middleware.Recover(chain)

	srv := httptest.NewServer(chain)
	t.Cleanup(srv.Close)
	return srv, agg
}

func get(t *testing.T, srv *httptest.Server, path string, params url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path + "?" + params.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestPipeline_BuildThenSearch(t *testing.T) {
	res, ix := buildIndex(t)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 4, ix.Len())
	assert.Equal(t, res.Checksum, ix.Checksum)

	srv, _ := newSearchServer(t, ix, nil)

	resp, body := get(t, srv, "/api/v1/search", url.Values{"q": {"空き家 新しい順"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))

	var entries []bulletin.Entry
	require.NoError(t, json.Unmarshal([]byte(body), &entries))
	require.Len(t, entries, 2, "synonyms match both spellings")
	assert.Equal(t, "west.csv-0", entries[0].ID)
	assert.Equal(t, "east.csv-0", entries[1].ID)
	assert.Equal(t, "../csv/west.csv", entries[0].Source)
	assert.Equal(t, 1, entries[0].Row)
}

func TestPipeline_MarkdownRereadsSource(t *testing.T) {
	_, ix := buildIndex(t)
	srv, _ := newSearchServer(t, ix, nil)

	resp, body := get(t, srv, "/api/v1/search", url.Values{"q": {"空き家バンク"}, "format": {"markdown"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/markdown; charset=utf-8", resp.Header.Get("Content-Type"))

	want := "# 空き家バンク登録物件\n\n" +
		"- 自治体: 西町\n- 日付: 2024.05\n- 号: 広報にし5月号\n- カテゴリ: 住宅\n\n" +
		"空き家バンクに新しい物件が登録されました。\n見学は予約制です。"
	assert.Equal(t, want, body)
}

func TestPipeline_MissingSourceRendersEmptyBody(t *testing.T) {
	_, ix := buildIndex(t)
	require.NoError(t, os.Remove(filepath.Join(ix.BaseDir, "..", "csv", "east.csv")))
	srv, _ := newSearchServer(t, ix, nil)

	resp, body := get(t, srv, "/api/v1/search", url.Values{"q": {"図書館"}, "format": {"markdown"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasSuffix(body, "- カテゴリ: 文化"))
}

func TestPipeline_AnalyticsRecorded(t *testing.T) {
	_, ix := buildIndex(t)
	srv, agg := newSearchServer(t, ix, nil)

	get(t, srv, "/api/v1/search", url.Values{"q": {"熱中症"}})
	get(t, srv, "/api/v1/search", url.Values{"q": {"プール"}})

	require.Eventually(t, func() bool {
		return agg.Stats().TotalSearches == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), agg.Stats().ZeroResultCount)
}

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "bulletin_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "bulletin"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLedger_RecordsBuild(t *testing.T) {
	db := skipIfNoPostgres(t)
	l := ledger.New(db)
	require.NoError(t, l.EnsureSchema(context.Background()))

	res, _ := buildIndex(t)
	require.NoError(t, l.RecordBuild(context.Background(), res))

	builds, err := l.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, res.Checksum, builds[0].Checksum)
	assert.Equal(t, 4, builds[0].Entries)
}

func TestCache_Redis(t *testing.T) {
	client, err := pkgredis.NewClient(config.RedisConfig{
		Addr:     envOrDefault("TEST_REDIS_ADDR", "localhost:6379"),
		PoolSize: 2,
	})
	if err != nil {
		t.Skipf("skipping: redis unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	_, ix := buildIndex(t)
	c := cache.New(client, time.Minute, ix.Checksum)
	t.Cleanup(func() { c.Invalidate(context.Background()) })

	srv, _ := newSearchServer(t, ix, c)
	for i := 0; i < 2; i++ {
		resp, _ := get(t, srv, "/api/v1/search", url.Values{"q": {"図書館"}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	_, ok := c.Get(context.Background(), parser.Parse("図書館"))
	assert.True(t, ok)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
