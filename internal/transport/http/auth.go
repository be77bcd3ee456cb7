package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailfree/backend/internal/auth"
)

const (
	msgInvalidCredentials = "用户名或密码错误"
	msgLoginFailed        = "登录失败"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// sessionResponse 是 /api/auth/session 的响应
type sessionResponse struct {
	Authenticated bool `json:"authenticated"`
	*auth.Identity
	StrictAdmin bool   `json:"strictAdmin"`
	Tier        string `json:"tier"`
}

// login 校验凭证并把会话令牌写入 HttpOnly Cookie
//
// @Summary 登录
// @Tags auth
// @Accept json
// @Router /api/auth/login [post]
func (h *Handler) login(r *request) {
	if h.demo {
		r.text(http.StatusForbidden, MsgDemoNoLogin)
		return
	}
	var req loginRequest
	if !r.bindJSON(&req) {
		return
	}

	id, err := h.auth.Login(r.ctx(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.metrics.RecordAuthDenied(auth.TierGuest.String(), "invalid_credentials")
		r.text(http.StatusUnauthorized, msgInvalidCredentials)
		return
	}
	if err != nil {
		h.writeError(r, err, msgLoginFailed)
		return
	}

	token, expiresAt, err := h.tokens.Issue(*id)
	if err != nil {
		h.writeError(r, err, msgLoginFailed)
		return
	}
	h.setSessionCookie(r.c, token, int(h.tokens.Expiry().Seconds()))
	h.logger.Info("login succeeded",
		zap.String("username", id.Username),
		zap.String("role", id.Role),
		zap.Time("expires_at", expiresAt),
	)
	r.ok(gin.H{"success": true, "role": id.Role, "username": id.Username})
}

// session 返回当前会话身份
//
// @Summary 当前会话
// @Tags auth
// @Router /api/auth/session [get]
func (h *Handler) session(r *request) {
	if r.id == nil {
		r.text(http.StatusUnauthorized, MsgUnauthenticated)
		return
	}
	r.ok(sessionResponse{
		Authenticated: true,
		Identity:      r.id,
		StrictAdmin:   r.tier == auth.TierStrictAdmin,
		Tier:          r.tier.String(),
	})
}

// logout 清除会话 Cookie
//
// @Summary 退出登录
// @Tags auth
// @Router /api/auth/logout [post]
func (h *Handler) logout(r *request) {
	h.setSessionCookie(r.c, "", -1)
	r.ok(gin.H{"success": true})
}

func (h *Handler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	secure := c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https"
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.SessionCookie, value, maxAge, "/", "", secure, true)
}
