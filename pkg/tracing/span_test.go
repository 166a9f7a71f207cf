package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "search", "req-1")
	_, parse := StartChildSpan(ctx, "parse")
	parse.SetAttr("terms", 2)
	parse.End()
	_, render := StartChildSpan(ctx, "render")
	render.End()
	root.End()

	assert.Equal(t, "req-1", parse.TraceID)
	assert.Same(t, root, SpanFromContext(ctx))
	assert.GreaterOrEqual(t, root.Duration(), parse.Duration())

	d := root.Duration()
	time.Sleep(time.Millisecond)
	root.End()
	assert.Equal(t, d, root.Duration())
}

func TestStartChildSpan_NoParent(t *testing.T) {
	_, s := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, s.TraceID)
	assert.Nil(t, SpanFromContext(context.Background()))
}

func TestLog_NestsChildren(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx, root := StartSpan(context.Background(), "search", "req-2")
	_, match := StartChildSpan(ctx, "match")
	match.SetAttr("cache_hit", true)
	match.End()
	root.End()
	root.Log()

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "trace", rec["msg"])
	assert.Equal(t, "req-2", rec["trace_id"])
	search, ok := rec["search"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, search, "duration_us")
	m, ok := search["match"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, m["cache_hit"])
}

func TestLog_SilentAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	_, root := StartSpan(context.Background(), "search", "req-3")
	root.End()
	root.Log()
	assert.Zero(t, buf.Len())
}
