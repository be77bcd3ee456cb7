package smtp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestConnectionLimiter_PerIPRate(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	l := NewConnectionLimiter(0, 2)
	l.now = clock.Now

	for i := 0; i < 2; i++ {
		ok, _ := l.Acquire("10.0.0.1")
		require.True(t, ok)
	}
	ok, reason := l.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, "rate", reason)

	ok, _ = l.Acquire("10.0.0.2")
	assert.True(t, ok, "其他 IP 不受影响")

	clock.Advance(30 * time.Second)
	ok, _ = l.Acquire("10.0.0.1")
	assert.True(t, ok, "30 秒后补充一个令牌")
}

func TestConnectionLimiter_MaxConns(t *testing.T) {
	l := NewConnectionLimiter(2, 0)

	ok, _ := l.Acquire("a")
	require.True(t, ok)
	ok, _ = l.Acquire("b")
	require.True(t, ok)
	ok, reason := l.Acquire("c")
	assert.False(t, ok)
	assert.Equal(t, "conns", reason)
	assert.Equal(t, 2, l.Current())

	l.Release()
	ok, _ = l.Acquire("c")
	assert.True(t, ok)

	l.Release()
	l.Release()
	l.Release()
	assert.Equal(t, 0, l.Current(), "多次释放不会变为负数")
}

func TestConnectionLimiter_IdleEntriesPruned(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	l := NewConnectionLimiter(0, 5)
	l.now = clock.Now

	l.Acquire("10.0.0.1")
	l.Acquire("10.0.0.2")
	assert.Len(t, l.perIP, 2)

	clock.Advance(idleLimiterTTL + 2*time.Minute)
	l.Acquire("10.0.0.3")
	assert.Len(t, l.perIP, 1)
}

func TestConnectionLimiter_Concurrent(t *testing.T) {
	l := NewConnectionLimiter(50, 0)
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Acquire("x"); ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, granted)
	assert.Equal(t, 50, l.Current())
}
