package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/kafka"
)

// maxLatencySamples bounds the latency window used for percentiles.
const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalSearches     int64               `json:"total_searches"`
	CacheHits         int64               `json:"cache_hits"`
	CacheMisses       int64               `json:"cache_misses"`
	ZeroResultCount   int64               `json:"zero_result_count"`
	AvgLatencyMs      float64             `json:"avg_latency_ms"`
	P50LatencyMs      int64               `json:"p50_latency_ms"`
	P95LatencyMs      int64               `json:"p95_latency_ms"`
	P99LatencyMs      int64               `json:"p99_latency_ms"`
	TopQueries        []QueryCount        `json:"top_queries"`
	TopTerms          []QueryCount        `json:"top_terms"`
	ZeroResultQueries []QueryCount        `json:"zero_result_queries"`
	OrderUsage        map[string]int64    `json:"order_usage"`
	FormatUsage       map[string]int64    `json:"format_usage"`
	QueriesPerMinute  float64             `json:"queries_per_minute"`
	LastBuild         *IndexCompleteEvent `json:"last_build,omitempty"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds events into running statistics. It is safe for
// concurrent use.
type Aggregator struct {
	mu                sync.RWMutex
	totalSearches     atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	zeroResults       atomic.Int64
	latencies         []int64
	queryCounts       map[string]int64
	termCounts        map[string]int64
	zeroResultQueries map[string]int64
	orderUsage        map[string]int64
	formatUsage       map[string]int64
	lastBuild         *IndexCompleteEvent
	startTime         time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		termCounts:        make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		orderUsage:        make(map[string]int64),
		formatUsage:       make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// Consume runs consumer until ctx is cancelled, feeding every message to a.
func (a *Aggregator) Consume(ctx context.Context, consumer *kafka.Consumer) error {
	a.logger.Info("analytics aggregator consuming")
	return consumer.Start(ctx)
}

// HandleEvent is the kafka.MessageHandler for analytics topics. The type
// header routes the message; without one the body's "type" field is used.
// Undecodable messages are logged and skipped so they never block the
// partition.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		typ := EventType(msg.Type)
		if typ == "" {
			env, err := kafka.DecodeJSON[envelope](msg.Value)
			if err != nil {
				agg.logger.Error("failed to decode analytics event", "offset", msg.Offset, "error", err)
				return nil
			}
			typ = env.Type
		}
		switch typ {
		case EventSearch:
			ev, err := kafka.DecodeJSON[SearchEvent](msg.Value)
			if err != nil {
				agg.logger.Error("failed to decode search event", "offset", msg.Offset, "error", err)
				return nil
			}
			agg.recordSearchEvent(ev)
		case EventIndexComplete:
			ev, err := kafka.DecodeJSON[IndexCompleteEvent](msg.Value)
			if err != nil {
				agg.logger.Error("failed to decode index event", "offset", msg.Offset, "error", err)
				return nil
			}
			agg.recordIndexEvent(ev)
		default:
			agg.logger.Warn("unknown analytics event type", "type", typ)
		}
		return nil
	}
}

// Record folds an already-decoded event.
func (a *Aggregator) Record(event any) {
	switch ev := event.(type) {
	case SearchEvent:
		a.recordSearchEvent(ev)
	case *SearchEvent:
		a.recordSearchEvent(*ev)
	case IndexCompleteEvent:
		a.recordIndexEvent(ev)
	case *IndexCompleteEvent:
		a.recordIndexEvent(*ev)
	default:
		a.logger.Warn("ignoring unknown analytics event", "type", fmt.Sprintf("%T", event))
	}
}

func (a *Aggregator) recordSearchEvent(event SearchEvent) {
	a.totalSearches.Add(1)

	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}
	if event.TotalHits == 0 {
		a.zeroResults.Add(1)
	}

	order := event.Order
	if order == "" {
		order = "none"
	}

	a.mu.Lock()
	if len(a.latencies) == maxLatencySamples {
		a.latencies = a.latencies[1:]
	}
	a.latencies = append(a.latencies, event.LatencyMs)
	a.queryCounts[event.Query]++
	for _, t := range event.Terms {
		a.termCounts[t]++
	}
	if event.TotalHits == 0 {
		a.zeroResultQueries[event.Query]++
	}
	a.orderUsage[order]++
	a.formatUsage[event.Format]++
	a.mu.Unlock()
}

// LastBuild returns the most recent index-complete event, if any.
func (a *Aggregator) LastBuild() (IndexCompleteEvent, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.lastBuild == nil {
		return IndexCompleteEvent{}, false
	}
	return *a.lastBuild, true
}

func (a *Aggregator) recordIndexEvent(event IndexCompleteEvent) {
	a.mu.Lock()
	a.lastBuild = &event
	a.mu.Unlock()
}

// DefaultTopN is how many queries and terms Stats ranks.
const DefaultTopN = 10

func (a *Aggregator) Stats() AggregatedStats {
	return a.StatsTop(DefaultTopN)
}

// StatsTop is Stats with the ranked lists cut to n entries.
func (a *Aggregator) StatsTop(n int) AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:   a.totalSearches.Load(),
		CacheHits:       a.cacheHits.Load(),
		CacheMisses:     a.cacheMisses.Load(),
		ZeroResultCount: a.zeroResults.Load(),
		OrderUsage:      copyCounts(a.orderUsage),
		FormatUsage:     copyCounts(a.formatUsage),
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, n)
	stats.TopTerms = topN(a.termCounts, n)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, n)
	if a.lastBuild != nil {
		b := *a.lastBuild
		stats.LastBuild = &b
	}
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n highest counts; ties are broken by key so the output
// is stable.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
