package smtp

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// 超过该时长没有新会话的 IP 会被清理
const idleLimiterTTL = 10 * time.Minute

// ConnectionLimiter SMTP 连接限流器：限制并发会话数与单 IP 新建速率
type ConnectionLimiter struct {
	maxConns int
	current  int
	limit    rate.Limit
	burst    int
	perIP    map[string]*ipLimiter
	lastGC   time.Time
	now      func() time.Time
	mu       sync.Mutex
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewConnectionLimiter 创建连接限流器
//
// 参数:
//   - maxConns: 最大并发会话数，<=0 表示不限制
//   - perMinute: 单个 IP 每分钟允许新建的会话数，<=0 表示不限制
func NewConnectionLimiter(maxConns, perMinute int) *ConnectionLimiter {
	l := &ConnectionLimiter{
		maxConns: maxConns,
		limit:    rate.Inf,
		perIP:    make(map[string]*ipLimiter),
		now:      time.Now,
	}
	if perMinute > 0 {
		l.limit = rate.Every(time.Minute / time.Duration(perMinute))
		l.burst = perMinute
	}
	return l
}

// Acquire 获取会话许可
//
// 返回值:
//   - ok: 是否获取成功
//   - reason: 失败原因，"conns" 或 "rate"
func (l *ConnectionLimiter) Acquire(ip string) (ok bool, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.gc(now)

	if l.maxConns > 0 && l.current >= l.maxConns {
		return false, "conns"
	}

	if l.limit != rate.Inf {
		entry, exists := l.perIP[ip]
		if !exists {
			entry = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
			l.perIP[ip] = entry
		}
		entry.lastSeen = now
		if !entry.limiter.AllowN(now, 1) {
			return false, "rate"
		}
	}

	l.current++
	return true, ""
}

// Release 释放会话
func (l *ConnectionLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current > 0 {
		l.current--
	}
}

// Current 当前会话数
func (l *ConnectionLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// 调用方需持有锁
func (l *ConnectionLimiter) gc(now time.Time) {
	if now.Sub(l.lastGC) < time.Minute {
		return
	}
	l.lastGC = now
	for ip, entry := range l.perIP {
		if now.Sub(entry.lastSeen) > idleLimiterTTL {
			delete(l.perIP, ip)
		}
	}
}
