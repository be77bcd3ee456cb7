package httptransport

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"mailfree/backend/internal/auth"
	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/middleware"
)

// matcher 判断路径是否命中
type matcher func(path string) bool

func exact(p string) matcher {
	return func(path string) bool { return path == p }
}

// prefix 要求路径以 p 开头且后面还有内容
func prefix(p string) matcher {
	return func(path string) bool { return len(path) > len(p) && strings.HasPrefix(path, p) }
}

func prefixSuffix(p, s string) matcher {
	return func(path string) bool {
		return len(path) > len(p)+len(s) && strings.HasPrefix(path, p) && strings.HasSuffix(path, s)
	}
}

// route 是路由表中的一行，按顺序匹配，首个命中者处理请求
type route struct {
	method  string // 空字符串匹配任意方法
	pattern string // 监控指标使用的路由模板
	match   matcher
	tier    auth.Tier
	handle  func(*request)
}

// request 是一次 /api 请求的上下文
type request struct {
	c     *gin.Context
	path  string
	query url.Values
	id    *auth.Identity
	tier  auth.Tier
	vis   domain.Visibility
}

func (r *request) ctx() context.Context {
	return r.c.Request.Context()
}

// segment 返回路径按 "/" 切分后的第 i 段，"/api/users/5" 的第 3 段为 "5"
func (r *request) segment(i int) string {
	parts := strings.Split(r.path, "/")
	if i < 0 || i >= len(parts) {
		return ""
	}
	return parts[i]
}

func (r *request) mailboxSession() bool {
	return r.tier == auth.TierMailbox
}

// userID 返回会话中的用户 ID，未登录时为 0
func (r *request) userID() int64 {
	if r.id == nil {
		return 0
	}
	return r.id.UserID
}

func (h *Handler) routeTable() []route {
	const (
		guest     = auth.TierGuest
		mailbox   = auth.TierMailbox
		user      = auth.TierUser
		delegated = auth.TierDelegatedAdmin
		strict    = auth.TierStrictAdmin
	)
	routes := []route{
		{http.MethodGet, "/api/domains", exact("/api/domains"), guest, h.listDomains},
		{"", "/api/generate", exact("/api/generate"), guest, h.generateMailbox},
		{http.MethodPost, "/api/create", exact("/api/create"), guest, h.createMailbox},
		{http.MethodGet, "/api/user/quota", exact("/api/user/quota"), guest, h.quota},
		{http.MethodGet, "/api/quota", exact("/api/quota"), guest, h.quota},

		{http.MethodGet, "/api/users", exact("/api/users"), strict, h.listUsers},
		{http.MethodPost, "/api/users", exact("/api/users"), strict, h.createUser},
		{http.MethodPost, "/api/users/assign", exact("/api/users/assign"), strict, h.assignMailbox},
		{http.MethodGet, "/api/users/{id}/mailboxes", prefixSuffix("/api/users/", "/mailboxes"), delegated, h.userMailboxes},
		{http.MethodPatch, "/api/users/{id}", prefix("/api/users/"), strict, h.updateUser},
		{http.MethodDelete, "/api/users/{id}", prefix("/api/users/"), strict, h.deleteUser},

		{http.MethodGet, "/api/mailboxes", exact("/api/mailboxes"), guest, h.listMailboxes},
		{http.MethodDelete, "/api/mailboxes", exact("/api/mailboxes"), delegated, h.deleteMailbox},
		{http.MethodPost, "/api/mailboxes/reset-password", exact("/api/mailboxes/reset-password"), strict, h.resetMailboxPassword},
		{http.MethodPost, "/api/mailboxes/pin", exact("/api/mailboxes/pin"), user, h.togglePin},
		{http.MethodPost, "/api/mailboxes/toggle-login", exact("/api/mailboxes/toggle-login"), strict, h.toggleLogin},
		{http.MethodPost, "/api/mailboxes/change-password", exact("/api/mailboxes/change-password"), strict, h.changeMailboxPassword},

		{http.MethodGet, "/api/emails/batch", exact("/api/emails/batch"), mailbox, h.batchEmails},
		{http.MethodGet, "/api/emails", exact("/api/emails"), mailbox, h.listEmails},
		{http.MethodDelete, "/api/emails", exact("/api/emails"), mailbox, h.clearEmails},
		{http.MethodGet, "/api/email/{id}/download", prefixSuffix("/api/email/", "/download"), mailbox, h.downloadEmail},
		{http.MethodGet, "/api/email/{id}", prefix("/api/email/"), mailbox, h.emailDetail},
		{http.MethodDelete, "/api/email/{id}", prefix("/api/email/"), mailbox, h.deleteEmail},
		{http.MethodPut, "/api/mailbox/password", exact("/api/mailbox/password"), mailbox, h.changeOwnPassword},

		{http.MethodGet, "/api/sent", exact("/api/sent"), user, h.listSent},
		{http.MethodGet, "/api/sent/{id}", prefix("/api/sent/"), user, h.sentDetail},
		{http.MethodDelete, "/api/sent/{id}", prefix("/api/sent/"), user, h.deleteSent},
		{http.MethodPost, "/api/send", exact("/api/send"), guest, h.sendEmail},
		{http.MethodPost, "/api/send/batch", exact("/api/send/batch"), guest, h.sendBatch},
		{http.MethodPost, "/api/send/{id}/cancel", prefixSuffix("/api/send/", "/cancel"), guest, h.cancelSend},
		{http.MethodGet, "/api/send/{id}", prefix("/api/send/"), guest, h.getSend},
		{http.MethodPatch, "/api/send/{id}", prefix("/api/send/"), guest, h.updateSend},

		{http.MethodPost, "/api/auth/login", exact("/api/auth/login"), guest, h.login},
		{http.MethodGet, "/api/auth/session", exact("/api/auth/session"), guest, h.session},
		{http.MethodPost, "/api/auth/logout", exact("/api/auth/logout"), guest, h.logout},
	}
	if h.stream != nil {
		stream := route{http.MethodGet, "/api/emails/stream", exact("/api/emails/stream"), mailbox, h.streamEmails}
		routes = append([]route{stream}, routes...)
	}
	return routes
}

// lookup 返回首个匹配方法与路径的路由
func (h *Handler) lookup(method, path string) (route, bool) {
	for _, rt := range h.routes {
		if rt.method != "" && rt.method != method {
			continue
		}
		if rt.match(path) {
			return rt, true
		}
	}
	return route{}, false
}

// ServeAPI 是 /api/*path 的统一入口：解析身份、执行授权门禁、按路由表分发
//
// @Summary API 分发入口
// @Tags api
// @Router /api/{path} [get]
func (h *Handler) ServeAPI(c *gin.Context) {
	id := auth.Resolve(c.Request)
	r := &request{
		c:     c,
		path:  c.Request.URL.Path,
		query: c.Request.URL.Query(),
		id:    id,
		tier:  h.classifier.Classify(id),
	}

	if r.mailboxSession() && !h.mailboxGate(r) {
		return
	}

	rt, ok := h.lookup(c.Request.Method, r.path)
	if !ok {
		r.text(http.StatusNotFound, MsgNotFoundRoute)
		return
	}
	c.Set(middleware.RouteKey, rt.pattern)

	if !h.demo && r.tier < rt.tier {
		h.deny(r, rt.tier)
		return
	}
	rt.handle(r)
}

// deny 拒绝层级不足的请求：未登录返回 401，已登录返回 403
func (h *Handler) deny(r *request, required auth.Tier) {
	if r.id == nil {
		h.metrics.RecordAuthDenied(required.String(), "unauthenticated")
		r.text(http.StatusUnauthorized, MsgUnauthenticated)
		return
	}
	h.metrics.RecordAuthDenied(required.String(), "insufficient_tier")
	r.text(http.StatusForbidden, MsgForbidden)
}
