package httptransport

import (
	"net/http"
	"strings"
	"time"

	"mailfree/backend/internal/apperr"
)

// MailboxRetention 是邮箱会话可见邮件的时间窗口
const MailboxRetention = 24 * time.Hour

// 邮箱会话可以访问的路径前缀
var mailboxAllowedPrefixes = []string{
	"/api/emails",
	"/api/email/",
	"/api/auth",
	"/api/quota",
	"/api/mailbox/password",
}

const (
	msgMessageMissing   = "邮件不存在"
	msgMessageNotOwned  = "无权访问此邮件"
	msgOwnerCheckFailed = "验证失败"
)

// mailboxGate 把邮箱会话限制在自己的邮箱内，返回 false 时已写入响应
func (h *Handler) mailboxGate(r *request) bool {
	if !mailboxAllowed(r.path) {
		h.metrics.RecordAuthDenied(r.tier.String(), "mailbox_scope")
		r.text(http.StatusForbidden, MsgAccessDenied)
		return false
	}

	own := strings.ToLower(strings.TrimSpace(r.id.MailboxAddress))
	method := r.c.Request.Method
	scoped := r.path == "/api/emails/stream" ||
		(r.path == "/api/emails" && (method == http.MethodGet || method == http.MethodDelete))
	if scoped {
		requested := strings.ToLower(strings.TrimSpace(r.query.Get("mailbox")))
		switch {
		case requested != "" && requested != own:
			h.metrics.RecordAuthDenied(r.tier.String(), "mailbox_scope")
			r.text(http.StatusForbidden, MsgOwnMailboxOnly)
			return false
		case requested == "" && own != "":
			r.query.Set("mailbox", own)
		}
	}

	if strings.HasPrefix(r.path, "/api/email/") && r.id.MailboxID != 0 && !h.demo {
		if seg := r.segment(3); seg != "" && seg != "batch" {
			if !h.checkMessageOwner(r, seg) {
				return false
			}
		}
	}

	r.vis.ReceivedAfter = h.now().Add(-MailboxRetention)
	return true
}

func mailboxAllowed(path string) bool {
	for _, p := range mailboxAllowedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// checkMessageOwner 校验单封邮件属于会话邮箱
func (h *Handler) checkMessageOwner(r *request, seg string) bool {
	id, ok := parseID(seg)
	if !ok {
		r.text(http.StatusNotFound, msgMessageMissing)
		return false
	}
	owner, err := h.store.MessageOwner(r.ctx(), id)
	switch {
	case apperr.Is(err, apperr.CodeNotFound):
		r.text(http.StatusNotFound, msgMessageMissing)
		return false
	case err != nil:
		h.writeError(r, err, msgOwnerCheckFailed)
		return false
	case owner != r.id.MailboxID:
		h.metrics.RecordAuthDenied(r.tier.String(), "message_owner")
		r.text(http.StatusForbidden, msgMessageNotOwned)
		return false
	}
	return true
}
