// Package health 提供存活与就绪探针。
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

const (
	// 默认协程数上限，超过视为泄漏
	defaultGoroutineThreshold = 10000
	checkTimeout              = 2 * time.Second
)

// Pinger 是可以探测连通性的依赖，关系型存储实现它
type Pinger interface {
	Health() error
}

// Writable 报告对象存储目录是否可写
type Writable interface {
	Writable() error
}

// ContextPinger 是带上下文的连通性探测，Redis 客户端实现它
type ContextPinger interface {
	Ping(ctx context.Context) error
}

// Checker 健康检查器
type Checker struct {
	handler   healthcheck.Handler
	threshold int
	logger    *zap.Logger
}

// Option 配置检查项
type Option func(*Checker)

// WithDatabase 把数据库连通性加入就绪检查
func WithDatabase(p Pinger) Option {
	return func(c *Checker) {
		c.handler.AddReadinessCheck("database", healthcheck.Timeout(p.Health, checkTimeout))
	}
}

// WithBlob 把对象存储可写性加入就绪检查
func WithBlob(w Writable) Option {
	return func(c *Checker) {
		c.handler.AddReadinessCheck("blob", w.Writable)
	}
}

// WithRedis 把 Redis 连通性加入就绪检查
func WithRedis(p ContextPinger) Option {
	return func(c *Checker) {
		c.handler.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
			defer cancel()
			return p.Ping(ctx)
		})
	}
}

// WithGoroutineThreshold 设置存活检查的协程数上限
func WithGoroutineThreshold(n int) Option {
	return func(c *Checker) { c.threshold = n }
}

// NewChecker 创建健康检查器；演示模式下不传任何依赖，就绪检查始终通过
func NewChecker(logger *zap.Logger, opts ...Option) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Checker{
		handler:   healthcheck.NewHandler(),
		threshold: defaultGoroutineThreshold,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.handler.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(c.threshold))
	return c
}

// Live 存活探针
func (c *Checker) Live(w http.ResponseWriter, r *http.Request) {
	c.handler.LiveEndpoint(w, r)
}

// Ready 就绪探针，失败时记录日志
func (c *Checker) Ready(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	c.handler.ReadyEndpoint(rec, r)
	if rec.status != http.StatusOK {
		c.logger.Warn("readiness check failed", zap.Int("status", rec.status))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
