package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Timeout gives each request a deadline. If it passes before the handler
// has written anything the client gets a 504 and the handler's later writes
// fail with http.ErrHandlerTimeout. A handler that already started its
// response is left to finish it.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			gw := &guardedWriter{w: w}
			done := make(chan any, 1)
			go func() {
				defer func() { done <- recover() }()
				next.ServeHTTP(gw, r.WithContext(ctx))
			}()

			finished := false
			select {
			case p := <-done:
				if p != nil {
					panic(p)
				}
				finished = true
			case <-ctx.Done():
			}

			if ctx.Err() != nil && gw.expire() {
				slog.WarnContext(r.Context(), "request deadline exceeded",
					"method", r.Method, "path", r.URL.Path, "timeout", d)
				writeJSONError(w, http.StatusGatewayTimeout, "request timeout")
				return
			}
			// The response is already under way; the writer must not outlive
			// this call.
			if !finished {
				if p := <-done; p != nil {
					panic(p)
				}
			}
			// Headers set by a handler that never wrote still belong in the
			// implicit 200.
			gw.mu.Lock()
			gw.start()
			gw.mu.Unlock()
		})
	}
}

// guardedWriter forwards to w until expire wins the race against the
// handler's first write.
type guardedWriter struct {
	w       http.ResponseWriter
	h       http.Header
	mu      sync.Mutex
	started bool
	expired bool
}

// Header is private to the handler until it starts writing, so a 504 sent
// concurrently never sees half-set handler headers.
func (g *guardedWriter) Header() http.Header {
	if g.h == nil {
		g.h = make(http.Header)
	}
	return g.h
}

func (g *guardedWriter) start() {
	if g.started {
		return
	}
	g.started = true
	dst := g.w.Header()
	for k, v := range g.h {
		dst[k] = v
	}
}

func (g *guardedWriter) WriteHeader(code int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.expired {
		return
	}
	g.start()
	g.w.WriteHeader(code)
}

func (g *guardedWriter) Write(b []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.expired {
		return 0, http.ErrHandlerTimeout
	}
	g.start()
	return g.w.Write(b)
}

// expire reports whether the handler had not started writing, and if so
// shuts it out.
func (g *guardedWriter) expire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return false
	}
	g.expired = true
	return true
}
