// Package handler serves the bulletin search HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/render"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/tracing"
)

const (
	forbiddenQueryChars = `<>"'\`
	maxBodyBytes        = 64 << 10
)

var errBadQuery = apperrors.New(apperrors.ErrInvalidQuery, http.StatusBadRequest, "invalid or missing query")

// Search modes. Advanced takes its terms from the text analyzer instead of
// the rule-based parser.
const (
	ModeStandard = "standard"
	ModeAdvanced = "advanced"
)

type SearchExecutor interface {
	Execute(ctx context.Context, plan *parser.QueryPlan) (*executor.SearchResult, error)
}

// KeywordExtractor asks the text analyzer for the keywords of a query.
type KeywordExtractor interface {
	Keywords(ctx context.Context, text string) ([]string, error)
}

// Deps are the collaborators of a Handler. Executor and Renderer are
// required; the rest may be nil when the corresponding feature is off.
type Deps struct {
	Executor  SearchExecutor
	Renderer  *render.Renderer
	Index     *snapshot.Index
	Cache     *cache.QueryCache
	Collector *analytics.Collector
	Metrics   *metrics.Metrics
	Keywords  KeywordExtractor
}

type Handler struct {
	executor       SearchExecutor
	renderer       *render.Renderer
	index          *snapshot.Index
	cache          *cache.QueryCache
	collector      *analytics.Collector
	metrics        *metrics.Metrics
	keywords       KeywordExtractor
	maxResults     int
	maxQueryLength int
	logger         *slog.Logger
}

func New(deps Deps, cfg config.SearchConfig) *Handler {
	return &Handler{
		executor:       deps.Executor,
		renderer:       deps.Renderer,
		index:          deps.Index,
		cache:          deps.Cache,
		collector:      deps.Collector,
		metrics:        deps.Metrics,
		keywords:       deps.Keywords,
		maxResults:     cfg.MaxResults,
		maxQueryLength: cfg.MaxQueryLength,
		logger:         slog.Default().With("component", "search-handler"),
	}
}

type searchRequest struct {
	Q      string `json:"q"`
	Format string `json:"format"`
	Mode   string `json:"mode"`
}

// Search serves GET /api/v1/search?q=...&format=...&mode=... and POST with
// a JSON body of the same fields. URL parameters take precedence.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	req, err := decodeRequest(r)
	if err != nil {
		if errors.Is(err, errMethod) {
			w.Header().Set("Allow", "GET, POST")
			h.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		h.observeOutcome("invalid")
		h.writeError(w, err)
		return
	}

	query, err := h.validateQuery(req.Q)
	if err != nil {
		h.observeOutcome("invalid")
		log.Debug("rejected query", "length", utf8.RuneCountInString(req.Q))
		h.writeError(w, err)
		return
	}
	format := render.ParseFormat(req.Format)
	mode, err := h.parseMode(req.Mode)
	if err != nil {
		h.observeOutcome("invalid")
		h.writeError(w, err)
		return
	}

	ctx, root := tracing.StartSpan(ctx, "search", middleware.GetRequestID(ctx))
	defer func() {
		root.End()
		root.Log()
	}()

	pctx, span := tracing.StartChildSpan(ctx, "parse")
	plan := parser.Parse(query)
	if mode == ModeAdvanced {
		plan = h.advancedPlan(pctx, plan)
	}
	span.SetAttr("mode", mode)
	span.SetAttr("terms", len(plan.Terms))
	span.End()

	_, span = tracing.StartChildSpan(ctx, "match")
	result, cacheHit, err := h.execute(ctx, plan)
	span.SetAttr("cache_hit", cacheHit)
	span.End()
	if err != nil {
		h.observeOutcome("error")
		log.Error("search execution failed", "query", query, "error", err)
		h.writeError(w, err)
		return
	}

	entries := result.Entries
	if len(entries) > h.maxResults {
		entries = entries[:h.maxResults]
	}

	_, span = tracing.StartChildSpan(ctx, "render")
	body, err := h.renderer.Render(ctx, format, entries)
	span.SetAttr("format", string(format))
	span.End()
	if err != nil {
		h.observeOutcome("error")
		log.Error("rendering results failed", "query", query, "error", err)
		h.writeError(w, err)
		return
	}

	latency := time.Since(start)
	outcome := "hit"
	if result.TotalHits == 0 {
		outcome = "zero_result"
	}
	h.observeOutcome(outcome)
	if h.metrics != nil {
		h.metrics.SearchLatency.WithLabelValues(string(format)).Observe(latency.Seconds())
		h.metrics.SearchResultsCount.Observe(float64(len(entries)))
	}

	log.Info("search completed",
		"query", query,
		"mode", mode,
		"terms", plan.Terms,
		"order", plan.Order,
		"format", format,
		"total_hits", result.TotalHits,
		"returned", len(entries),
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	if h.collector != nil {
		h.collector.Track(analytics.SearchEvent{
			Type:      analytics.EventSearch,
			Query:     query,
			Terms:     plan.Terms,
			Order:     string(plan.Order),
			Format:    string(format),
			TotalHits: result.TotalHits,
			Returned:  len(entries),
			LatencyMs: latency.Milliseconds(),
			CacheHit:  cacheHit,
			Timestamp: time.Now().UTC(),
			RequestID: middleware.GetRequestID(ctx),
		})
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error("failed to write response", "error", err)
	}
}

func (h *Handler) execute(ctx context.Context, plan *parser.QueryPlan) (*executor.SearchResult, bool, error) {
	if h.cache == nil || plan.Empty() {
		res, err := h.executor.Execute(ctx, plan)
		return res, false, err
	}
	res, hit, err := h.cache.GetOrCompute(ctx, plan, func(ctx context.Context) (*executor.SearchResult, error) {
		return h.executor.Execute(ctx, plan)
	})
	if err == nil && h.metrics != nil {
		if hit {
			h.metrics.CacheHitsTotal.Inc()
		} else {
			h.metrics.CacheMissesTotal.Inc()
		}
	}
	return res, hit, err
}

// advancedPlan replaces the parsed terms with the analyzer's keywords for
// the query, keeping the order directive. Analyzer failure or silence
// yields no terms, which matches nothing.
func (h *Handler) advancedPlan(ctx context.Context, parsed *parser.QueryPlan) *parser.QueryPlan {
	plan := &parser.QueryPlan{Terms: []string{}, Order: parsed.Order, RawQuery: parsed.RawQuery}
	words, err := h.keywords.Keywords(ctx, parsed.RawQuery)
	if err != nil {
		logger.FromContext(ctx).Warn("keyword extraction failed", "error", err)
		return plan
	}
	plan.Terms = append(plan.Terms, words...)
	return plan
}

func (h *Handler) parseMode(mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeStandard:
		return ModeStandard, nil
	case ModeAdvanced:
		if h.keywords == nil {
			return "", apperrors.New(apperrors.ErrAnalyzerUnavailable, http.StatusServiceUnavailable, "advanced search is disabled")
		}
		return ModeAdvanced, nil
	}
	return "", apperrors.Newf(apperrors.ErrInvalidQuery, http.StatusBadRequest, "unknown search mode %q", mode)
}

var errMethod = errors.New("method not allowed")

// decodeRequest reads q, format and mode from the URL, and for POST falls
// back to the JSON body for any the URL leaves empty. A POST whose URL
// already carries q needs no body.
func decodeRequest(r *http.Request) (searchRequest, error) {
	params := r.URL.Query()
	req := searchRequest{
		Q:      params.Get("q"),
		Format: params.Get("format"),
		Mode:   params.Get("mode"),
	}
	switch r.Method {
	case http.MethodGet:
		return req, nil
	case http.MethodPost:
		var body searchRequest
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		if err := dec.Decode(&body); err != nil {
			if req.Q != "" && errors.Is(err, io.EOF) {
				return req, nil
			}
			return req, apperrors.Wrap(err, apperrors.ErrInvalidQuery, http.StatusBadRequest, "invalid or missing query")
		}
		if req.Q == "" {
			req.Q = body.Q
		}
		if req.Format == "" {
			req.Format = body.Format
		}
		if req.Mode == "" {
			req.Mode = body.Mode
		}
		return req, nil
	default:
		return searchRequest{}, errMethod
	}
}

// validateQuery trims q and checks its length in characters and that it
// carries none of the markup-significant characters.
func (h *Handler) validateQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	n := utf8.RuneCountInString(q)
	if n == 0 || n > h.maxQueryLength {
		return "", errBadQuery
	}
	if strings.ContainsAny(q, forbiddenQueryChars) {
		return "", errBadQuery
	}
	return q, nil
}

func (h *Handler) observeOutcome(outcome string) {
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	}
}

// IndexStats serves GET /api/v1/index/stats.
func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		h.writeError(w, apperrors.New(apperrors.ErrIndexUnavailable, http.StatusServiceUnavailable, "index not loaded"))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"entries":   h.index.Len(),
		"checksum":  h.index.Checksum,
		"loaded_at": h.index.LoadedAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if h.cache == nil {
		h.writeError(w, apperrors.New(apperrors.ErrCacheUnavailable, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}

	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{"error": apperrors.PublicMessage(err)})
}
