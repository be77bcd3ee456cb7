package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"mailfree/backend/internal/monitoring"
)

// RouteKey 是分发器写入 gin 上下文的路由模式键，用作指标标签
const RouteKey = "mailfree.route"

// RouteLabel 返回请求命中的路由模式；/api 下由分发器设置，其余取 gin 的注册路径
func RouteLabel(c *gin.Context) string {
	if v, ok := c.Get(RouteKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return c.FullPath()
}

// HTTPMetrics HTTP 指标中间件
func HTTPMetrics(metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := RouteLabel(c)
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}
