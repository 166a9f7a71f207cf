// Command loadtest drives concurrent searches against a running searcher
// and reports throughput, per-format latency percentiles and status codes.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
)

var defaultQueries = []string{
	"空き家",
	"高齢者 新しい順",
	"子育て 支援",
	"防災訓練について",
	"ごみ収集の記事",
	"補助金 申請 古い順",
	"図書館",
	"ワクチン接種",
	"健康診断を知りたい",
	"住宅 補助金",
	"イベント、祭り",
	"移住と定住",
}

type plan struct {
	baseURL       string
	concurrency   int
	duration      time.Duration
	markdownEvery int
	postEvery     int
	queries       []string
}

// request is the i-th request a worker sends under p.
func (p plan) request(ctx context.Context, i int) (*http.Request, string, error) {
	q := p.queries[i%len(p.queries)]
	format := "json"
	if p.markdownEvery > 0 && i%p.markdownEvery == p.markdownEvery-1 {
		format = "markdown"
	}
	endpoint := p.baseURL + "/api/v1/search"

	if p.postEvery > 0 && i%p.postEvery == p.postEvery-1 {
		body, err := json.Marshal(map[string]string{"q": q, "format": format})
		if err != nil {
			return nil, "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, format, nil
	}
	params := url.Values{"q": {q}, "format": {format}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	return req, format, err
}

// recorder collects outcomes from all workers.
type recorder struct {
	total     atomic.Int64
	transport atomic.Int64

	mu        sync.Mutex
	latencies map[string][]time.Duration
	codes     map[int]int64
}

func newRecorder() *recorder {
	return &recorder{
		latencies: make(map[string][]time.Duration),
		codes:     make(map[int]int64),
	}
}

func (r *recorder) record(format string, d time.Duration, code int, err error) {
	r.total.Add(1)
	if err != nil {
		r.transport.Add(1)
		return
	}
	r.mu.Lock()
	r.codes[code]++
	if code < 300 {
		r.latencies[format] = append(r.latencies[format], d)
	}
	r.mu.Unlock()
}

type latencySummary struct {
	Count              int
	Min, P50, P95, P99 time.Duration
	Max                time.Duration
}

type summary struct {
	Total           int64
	Success         int64
	TransportErrors int64
	RPS             float64
	Codes           map[int]int64
	Latency         map[string]latencySummary
}

func (r *recorder) summarize(elapsed time.Duration) summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := summary{
		Total:           r.total.Load(),
		TransportErrors: r.transport.Load(),
		Codes:           make(map[int]int64, len(r.codes)),
		Latency:         make(map[string]latencySummary, len(r.latencies)),
	}
	for code, n := range r.codes {
		s.Codes[code] = n
		if code >= 200 && code < 300 {
			s.Success += n
		}
	}
	if elapsed > 0 {
		s.RPS = float64(s.Total) / elapsed.Seconds()
	}
	for format, ls := range r.latencies {
		sorted := append([]time.Duration(nil), ls...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		s.Latency[format] = latencySummary{
			Count: len(sorted),
			Min:   sorted[0],
			P50:   percentile(sorted, 50),
			P95:   percentile(sorted, 95),
			P99:   percentile(sorted, 99),
			Max:   sorted[len(sorted)-1],
		}
	}
	return s
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func run(ctx context.Context, p plan, client *http.Client, rec *recorder) {
	ctx, cancel := context.WithTimeout(ctx, p.duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < p.concurrency; w++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := offset; ctx.Err() == nil; i += p.concurrency {
				req, format, err := p.request(ctx, i)
				if err != nil {
					rec.record(format, 0, 0, err)
					return
				}
				start := time.Now()
				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() == nil {
						rec.record(format, time.Since(start), 0, err)
					}
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				rec.record(format, time.Since(start), resp.StatusCode, nil)
			}
		}(w)
	}
	wg.Wait()
}

func report(w io.Writer, s summary) {
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "requests:          %d\n", s.Total)
	fmt.Fprintf(w, "2xx:               %d\n", s.Success)
	fmt.Fprintf(w, "transport errors:  %d\n", s.TransportErrors)
	fmt.Fprintf(w, "requests/sec:      %.2f\n", s.RPS)

	formats := make([]string, 0, len(s.Latency))
	for f := range s.Latency {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	for _, f := range formats {
		l := s.Latency[f]
		fmt.Fprintf(w, "\n--- %s (%d ok) ---\n", f, l.Count)
		fmt.Fprintf(w, "min %v  p50 %v  p95 %v  p99 %v  max %v\n", l.Min, l.P50, l.P95, l.P99, l.Max)
	}

	codes := make([]int, 0, len(s.Codes))
	for c := range s.Codes {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	fmt.Fprintln(w, "\n=== Status codes ===")
	for _, c := range codes {
		fmt.Fprintf(w, "  %d: %d\n", c, s.Codes[c])
	}
}

func readQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if q := strings.TrimSpace(sc.Text()); q != "" && !strings.HasPrefix(q, "#") {
			out = append(out, q)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s has no queries", path)
	}
	return out, nil
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "loadtest",
		Usage: "drive concurrent searches against a bulletin searcher",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "searcher base URL"},
			&cli.IntFlag{Name: "concurrency", Aliases: []string{"c"}, Value: 10, Usage: "concurrent workers"},
			&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Value: 30 * time.Second, Usage: "test length"},
			&cli.IntFlag{Name: "markdown-every", Value: 4, Usage: "ask for markdown on every Nth request (0 disables)"},
			&cli.IntFlag{Name: "post-every", Value: 0, Usage: "send every Nth request as a JSON POST (0 disables)"},
			&cli.StringFlag{Name: "queries", Usage: "file with one query per line; # starts a comment"},
		},
		Action: func(c *cli.Context) error {
			p := plan{
				baseURL:       strings.TrimSuffix(c.String("url"), "/"),
				concurrency:   c.Int("concurrency"),
				duration:      c.Duration("duration"),
				markdownEvery: c.Int("markdown-every"),
				postEvery:     c.Int("post-every"),
				queries:       defaultQueries,
			}
			if p.concurrency < 1 {
				return cli.Exit("concurrency must be at least 1", 2)
			}
			if path := c.String("queries"); path != "" {
				qs, err := readQueries(path)
				if err != nil {
					return cli.Exit(fmt.Sprintf("reading queries: %v", err), 2)
				}
				p.queries = qs
			}

			out := c.App.Writer
			fmt.Fprintf(out, "target %s, %d workers, %v, %d queries\n\n", p.baseURL, p.concurrency, p.duration, len(p.queries))
			client := &http.Client{
				Timeout: 10 * time.Second,
				Transport: &http.Transport{
					MaxIdleConns:        p.concurrency * 2,
					MaxIdleConnsPerHost: p.concurrency * 2,
					IdleConnTimeout:     90 * time.Second,
				},
			}
			rec := newRecorder()
			start := time.Now()
			run(c.Context, p, client, rec)
			s := rec.summarize(time.Since(start))
			report(out, s)
			if s.Success == 0 {
				return cli.Exit("no successful requests; is the searcher running?", 1)
			}
			return nil
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
