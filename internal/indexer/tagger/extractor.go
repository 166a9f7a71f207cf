package tagger

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/bulletin"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/resilience"
)

// Where an extraction's summary and tags came from.
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
	SourceEmpty    = "empty"
)

// Extraction is the summary/tags pair stored on an index entry.
type Extraction struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
	Source  string   `json:"source"`
}

// Extractor turns article text into an Extraction. It never fails: any
// analyzer error or empty answer degrades to the local heuristic for that
// text only.
type Extractor struct {
	analyzer Analyzer
	timeout  time.Duration
	breaker  *resilience.CircuitBreaker
	logger   *slog.Logger
}

// Option customises an Extractor.
type Option func(*Extractor)

// WithTimeout bounds each analyzer call.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) { e.timeout = d }
}

// WithCircuitBreaker stops calling the analyzer after threshold consecutive
// failures until resetTimeout has passed. A threshold of 0 leaves it off.
func WithCircuitBreaker(threshold int, resetTimeout time.Duration) Option {
	return func(e *Extractor) {
		if threshold <= 0 {
			e.breaker = nil
			return
		}
		e.breaker = resilience.NewCircuitBreaker("tagger", resilience.CircuitBreakerConfig{
			FailureThreshold: threshold,
			ResetTimeout:     resetTimeout,
		})
	}
}

// NewExtractor wraps analyzer. A nil analyzer always uses the fallback.
func NewExtractor(analyzer Analyzer, opts ...Option) *Extractor {
	e := &Extractor{
		analyzer: analyzer,
		logger:   slog.Default().With("component", "tagger"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewAnalyzer builds the analyzer selected by cfg.Mode; "none" yields nil.
func NewAnalyzer(cfg config.TaggerConfig) (Analyzer, error) {
	switch cfg.Mode {
	case "command":
		return NewCommandAnalyzer(cfg.Command, cfg.Token)
	case "llm":
		return NewLLMAnalyzer(cfg.Host, cfg.Model, cfg.Token)
	}
	return nil, nil
}

// FromConfig is NewAnalyzer plus NewExtractor with cfg's timeout and breaker.
func FromConfig(cfg config.TaggerConfig) (*Extractor, error) {
	a, err := NewAnalyzer(cfg)
	if err != nil {
		return nil, err
	}
	return NewExtractor(a,
		WithTimeout(cfg.Timeout),
		WithCircuitBreaker(cfg.FailureThreshold, cfg.ResetTimeout),
	), nil
}

// Extract derives a summary and tags for text. Blank text yields an empty
// extraction without calling the analyzer.
func (e *Extractor) Extract(ctx context.Context, text string) Extraction {
	text = Normalize(text)
	if text == "" {
		return Extraction{Tags: []string{}, Source: SourceEmpty}
	}
	if e.analyzer != nil {
		a, err := e.analyze(ctx, text)
		switch {
		case err != nil:
			e.logger.Warn("analyzer failed, using fallback", "error", err)
		case a.Empty():
			e.logger.Debug("analyzer returned nothing, using fallback")
		default:
			return Extraction{Summary: a.Summary, Tags: bulletin.UniqueTags(a.Tags), Source: SourceModel}
		}
	}
	return Extraction{
		Summary: FallbackSummary(text),
		Tags:    FallbackTags(text),
		Source:  SourceFallback,
	}
}

// Keywords returns the analyzer's tags for a free-text query. Unlike
// Extract it has no fallback: no analyzer, blank text or an empty answer
// yield no keywords.
func (e *Extractor) Keywords(ctx context.Context, text string) ([]string, error) {
	text = Normalize(text)
	if text == "" || e.analyzer == nil {
		return []string{}, nil
	}
	a, err := e.analyze(ctx, text)
	if err != nil {
		return []string{}, err
	}
	return bulletin.UniqueTags(a.Tags), nil
}

// HasAnalyzer reports whether an external analyzer is configured.
func (e *Extractor) HasAnalyzer() bool {
	return e.analyzer != nil
}

func (e *Extractor) analyze(ctx context.Context, text string) (Analysis, error) {
	// The analyzer may still be running after a timeout, so its result is
	// handed over through a buffered channel rather than a shared variable.
	result := make(chan Analysis, 1)
	call := func() error {
		return resilience.WithTimeout(ctx, e.timeout, "tagger.analyze", func(ctx context.Context) error {
			a, err := e.analyzer.Analyze(ctx, text)
			if err != nil {
				return err
			}
			result <- a
			return nil
		})
	}
	var err error
	if e.breaker == nil {
		err = call()
	} else {
		err = e.breaker.Execute(call)
	}
	if err != nil {
		return Analysis{}, err
	}
	return <-result, nil
}
