package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanRequest(t *testing.T) {
	p := plan{baseURL: "http://search", markdownEvery: 2, postEvery: 3, queries: []string{"空き家", "防災"}}
	ctx := context.Background()

	req, format, err := p.request(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "json", format)
	assert.Equal(t, "空き家", req.URL.Query().Get("q"))

	_, format, err = p.request(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "markdown", format)

	req, _, err = p.request(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, req.Method)
	var body map[string]string
	require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
	assert.Equal(t, "空き家", body["q"])
}

func TestPercentile(t *testing.T) {
	var ls []time.Duration
	for i := 1; i <= 100; i++ {
		ls = append(ls, time.Duration(i)*time.Millisecond)
	}
	assert.Equal(t, 50*time.Millisecond, percentile(ls, 50))
	assert.Equal(t, 99*time.Millisecond, percentile(ls, 99))
	assert.Equal(t, 7*time.Millisecond, percentile([]time.Duration{7 * time.Millisecond}, 95))
	assert.Zero(t, percentile(nil, 50))
}

func TestRun_AgainstStub(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte("[]\n"))
	}))
	defer srv.Close()

	p := plan{
		baseURL:       srv.URL,
		concurrency:   2,
		duration:      100 * time.Millisecond,
		markdownEvery: 2,
		queries:       []string{"空き家", "bad"},
	}
	rec := newRecorder()
	run(context.Background(), p, srv.Client(), rec)
	s := rec.summarize(p.duration)

	assert.Positive(t, s.Total)
	assert.Positive(t, s.Success)
	assert.Positive(t, s.Codes[http.StatusBadRequest])
	assert.Zero(t, s.TransportErrors)
	assert.Contains(t, s.Latency, "json")

	var out strings.Builder
	report(&out, s)
	assert.Contains(t, out.String(), "=== Status codes ===")
	assert.Contains(t, out.String(), "400:")
}

func TestReadQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comment\n空き家\n\n  防災  \n"), 0o644))
	qs, err := readQueries(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"空き家", "防災"}, qs)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o644))
	_, err = readQueries(empty)
	assert.Error(t, err)
}
