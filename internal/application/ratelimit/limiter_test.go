package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-pixel-ai-api/internal/domain/repository"
)

// memStore 内存实现，按键保存时间戳
type memStore struct {
	entries map[string][]time.Time
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string][]time.Time)}
}

func (s *memStore) key(scopeKey, identifier string) string {
	return scopeKey + ":" + identifier
}

func (s *memStore) Window(_ context.Context, scopeKey, identifier string, since time.Time) (repository.WindowStat, error) {
	var stat repository.WindowStat
	for _, ts := range s.entries[s.key(scopeKey, identifier)] {
		if ts.Before(since) {
			continue
		}
		stat.Count++
		if stat.Oldest.IsZero() || ts.Before(stat.Oldest) {
			stat.Oldest = ts
		}
	}
	return stat, nil
}

func (s *memStore) Record(_ context.Context, scopeKey, identifier string, now time.Time, window time.Duration) error {
	k := s.key(scopeKey, identifier)
	kept := s.entries[k][:0]
	for _, ts := range s.entries[k] {
		if !ts.Before(now.Add(-window)) {
			kept = append(kept, ts)
		}
	}
	s.entries[k] = append(kept, now)
	return nil
}

type failingStore struct{}

func (failingStore) Window(context.Context, string, string, time.Time) (repository.WindowStat, error) {
	return repository.WindowStat{}, errors.New("store unreachable")
}

func (failingStore) Record(context.Context, string, string, time.Time, time.Duration) error {
	return errors.New("store unreachable")
}

func newTestLimiter(store repository.RateLimitStore, failOpen bool, now *time.Time) *Limiter {
	l := NewLimiter(store, failOpen)
	l.now = func() time.Time { return *now }
	return l
}

func TestLimiter_SlidingWindowNeverOverAdmits(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	scope := Scope{KeyPrefix: "rl:test", MaxRequests: 5, Window: time.Minute}
	l := newTestLimiter(newMemStore(), true, &now)

	allowed := 0
	// 任意一分钟窗口内的放行数不得超过 MaxRequests
	for i := 0; i < 20; i++ {
		d, err := l.Admit(ctx, scope, "user-1")
		require.NoError(t, err)
		if d.Allowed {
			allowed++
		}
		now = now.Add(2 * time.Second)
	}
	assert.Equal(t, 5, allowed)
}

func TestLimiter_WindowSlidesForward(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	scope := Scope{KeyPrefix: "rl:test", MaxRequests: 2, Window: time.Minute}
	l := newTestLimiter(newMemStore(), true, &now)

	for i := 0; i < 2; i++ {
		d, err := l.Admit(ctx, scope, "user-1")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := l.CheckLimit(ctx, scope, "user-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// 窗口滑过最早记录后恢复放行
	now = now.Add(61 * time.Second)
	d, err = l.CheckLimit(ctx, scope, "user-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_DenialCarriesRetryAfter(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	scope := Scope{KeyPrefix: "rl:test", MaxRequests: 1, Window: time.Minute}
	l := newTestLimiter(newMemStore(), true, &now)

	d, err := l.Admit(ctx, scope, "user-1")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	now = now.Add(15 * time.Second)
	d, err = l.CheckLimit(ctx, scope, "user-1")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	// 最早记录在 45 秒后滑出窗口
	assert.Equal(t, 45, d.RetryAfterSeconds)
	assert.Equal(t, now.Add(45*time.Second), d.ResetTime)
}

func TestLimiter_IdentifiersAreIndependent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	scope := Scope{KeyPrefix: "rl:test", MaxRequests: 1, Window: time.Minute}
	l := newTestLimiter(newMemStore(), true, &now)

	d, err := l.Admit(ctx, scope, "user-1")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.CheckLimit(ctx, scope, "user-2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestLimiter_FailOpenOnStoreError(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	scope := Scope{KeyPrefix: "rl:test", MaxRequests: 1, Window: time.Minute}

	l := newTestLimiter(failingStore{}, true, &now)
	d, err := l.CheckLimit(ctx, scope, "user-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_FailClosedOnStoreError(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	scope := Scope{KeyPrefix: "rl:test", MaxRequests: 1, Window: time.Minute}

	l := newTestLimiter(failingStore{}, false, &now)
	_, err := l.CheckLimit(ctx, scope, "user-1")
	assert.Error(t, err)
}
