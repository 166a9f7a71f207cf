package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/bulletin"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/parser"
)

// memStore is an in-memory Store that reports misses as redis.Nil.
type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	default:
		return errors.New("unsupported value")
	}
	return nil
}

func (m *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func result(q string) *executor.SearchResult {
	return &executor.SearchResult{
		Query:     q,
		TotalHits: 1,
		Entries:   []bulletin.Entry{{ID: "a", ArticleTitle: "防災訓練", Tags: []string{"避難"}}},
	}
}

func TestGetOrCompute(t *testing.T) {
	c := New(newMemStore(), time.Minute, "v1")
	plan := parser.Parse("防災 避難")

	var calls atomic.Int32
	compute := func(context.Context) (*executor.SearchResult, error) {
		calls.Add(1)
		return result(plan.RawQuery), nil
	}

	got, hit, err := c.GetOrCompute(context.Background(), plan, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "a", got.Entries[0].ID)

	got, hit, err = c.GetOrCompute(context.Background(), parser.Parse("避難 防災"), compute)
	require.NoError(t, err)
	assert.True(t, hit, "term order does not change the key")
	assert.Equal(t, "避難 防災", got.Query)
	assert.Equal(t, int32(1), calls.Load())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestKey_OrderAndVersionMatter(t *testing.T) {
	store := newMemStore()
	a := New(store, time.Minute, "v1")
	b := New(store, time.Minute, "v2")

	assert.NotEqual(t, a.buildKey(parser.Parse("防災")), a.buildKey(parser.Parse("防災 新しい順")))
	assert.NotEqual(t, a.buildKey(parser.Parse("防災")), b.buildKey(parser.Parse("防災")))
	assert.Equal(t, a.buildKey(parser.Parse("防災 防災")), a.buildKey(parser.Parse("防災")))
}

func TestGetOrCompute_ErrorNotCached(t *testing.T) {
	c := New(newMemStore(), time.Minute, "v1")
	plan := parser.Parse("防災")
	_, _, err := c.GetOrCompute(context.Background(), plan, func(context.Context) (*executor.SearchResult, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	_, ok := c.Get(context.Background(), plan)
	assert.False(t, ok)
}

func TestGetOrCompute_SharedWorkIgnoresCallerCancel(t *testing.T) {
	c := New(newMemStore(), time.Minute, "v1")
	plan := parser.Parse("防災")

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	compute := func(ctx context.Context) (*executor.SearchResult, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return result(plan.RawQuery), nil
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(first, plan, compute)
		firstErr <- err
	}()
	<-started

	secondErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(context.Background(), plan, compute)
		secondErr <- err
	}()
	// Give the second caller time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(release)

	assert.NoError(t, <-firstErr)
	assert.NoError(t, <-secondErr)
	_, ok := c.Get(context.Background(), plan)
	assert.True(t, ok)
}

func TestInvalidate(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, "v1")
	c.Set(context.Background(), parser.Parse("防災"), result("防災"))
	c.Set(context.Background(), parser.Parse("福祉"), result("福祉"))
	store.data["unrelated"] = "x"

	n, err := c.Invalidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Contains(t, store.data, "unrelated")
}
