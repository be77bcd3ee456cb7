package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailfree/backend/internal/auth"
)

// TokenVerifier 校验会话令牌，auth.TokenManager 实现它
type TokenVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

// Session 会话中间件
//
// 从 iding-session Cookie 或 Authorization: Bearer 头中取出令牌并校验签名，
// 成功时把身份放入请求上下文，身份解析会优先使用它。
// 无效令牌只记录日志并从请求中移除会话 Cookie，请求按访客继续处理，
// 身份解析的解码回退因此只会看到已验证过的令牌。
func Session(verifier TokenVerifier, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.Next()
			return
		}

		id, err := verifier.Verify(token)
		if err != nil {
			log.Debug("ignore invalid session token",
				zap.Error(err),
				zap.String("ip", c.ClientIP()),
			)
			stripSessionCookie(c.Request)
			c.Next()
			return
		}

		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// extractToken 从请求中提取会话令牌，Authorization 头优先
func extractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if token, err := c.Cookie(auth.SessionCookie); err == nil {
		return token
	}
	return ""
}

// stripSessionCookie 重写 Cookie 头，去掉会话 Cookie
func stripSessionCookie(r *http.Request) {
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, ck := range cookies {
		if ck.Name != auth.SessionCookie {
			r.AddCookie(ck)
		}
	}
}
