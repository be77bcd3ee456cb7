package httptransport

import (
	"crypto/rand"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"mailfree/backend/internal/apperr"
	"mailfree/backend/internal/auth"
	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/storage/memory"
)

const (
	// 随机邮箱本地部分长度
	defaultLocalLength = 10
	minLocalLength     = 4
	maxLocalLength     = 16

	// 生成的邮箱在前端展示的有效期
	mailboxTTL = time.Hour

	mailboxListDefault = 10
	mailboxListMax     = 100

	msgCreateFailed     = "创建失败"
	msgQueryFailed      = "查询失败"
	msgDeleteFailed     = "删除失败"
	msgOperateFailed    = "操作失败"
	msgPasswordTooShort = "密码长度至少6位"
)

type createMailboxRequest struct {
	Local       string          `json:"local"`
	DomainIndex json.RawMessage `json:"domainIndex"`
}

type addressRequest struct {
	Address     string          `json:"address"`
	CanLogin    json.RawMessage `json:"can_login"`
	NewPassword string          `json:"new_password"`
}

type generatedMailbox struct {
	Email   string `json:"email"`
	Expires int64  `json:"expires"`
}

// domainList 返回当前模式下的可用域名
func (h *Handler) domainList() []string {
	if h.demo {
		return h.mock.Domains()
	}
	return h.domains
}

// pickDomain 按下标选择域名，越界时夹到有效范围
func (h *Handler) pickDomain(index int) string {
	domains := h.domainList()
	if len(domains) == 0 {
		return ""
	}
	if index < 0 {
		index = 0
	}
	if index >= len(domains) {
		index = len(domains) - 1
	}
	return domains[index]
}

// randomLocal 生成小写随机本地部分，取 ULID 的随机段
func randomLocal(length int) string {
	if length < minLocalLength || length > maxLocalLength {
		length = defaultLocalLength
	}
	id := strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
	return id[len(id)-length:]
}

// listDomains 返回可用域名列表
//
// @Summary 可用域名
// @Tags mailbox
// @Produce json
// @Router /api/domains [get]
func (h *Handler) listDomains(r *request) {
	domains := h.domainList()
	if domains == nil {
		domains = []string{}
	}
	r.ok(domains)
}

// generateMailbox 随机生成邮箱；已登录用户会把邮箱绑定到自己名下
//
// @Summary 随机生成邮箱
// @Tags mailbox
// @Param length query int false "本地部分长度"
// @Param domainIndex query int false "域名下标"
// @Router /api/generate [get]
func (h *Handler) generateMailbox(r *request) {
	index := queryInt(r.query.Get("domainIndex"), 0)
	local := randomLocal(queryInt(r.query.Get("length"), defaultLocalLength))
	h.issueMailbox(r, local+"@"+h.pickDomain(index))
}

// createMailbox 按指定本地部分创建邮箱
//
// @Summary 自定义创建邮箱
// @Tags mailbox
// @Accept json
// @Router /api/create [post]
func (h *Handler) createMailbox(r *request) {
	var req createMailboxRequest
	if !r.bindJSON(&req) {
		return
	}
	local := strings.ToLower(strings.TrimSpace(req.Local))
	if !domain.ValidLocalPart(local) {
		r.text(http.StatusBadRequest, domain.MsgInvalidLocalPart)
		return
	}
	index, _ := looseInt(req.DomainIndex)
	h.issueMailbox(r, local+"@"+h.pickDomain(index))
}

// issueMailbox 持久化新邮箱并返回地址与展示用过期时间
func (h *Handler) issueMailbox(r *request, address string) {
	if !h.demo {
		var err error
		if uid := r.userID(); uid != 0 {
			err = h.store.AssignMailbox(r.ctx(), domain.AssignInput{UserID: uid, Address: address})
		} else {
			_, err = h.store.GetOrCreateMailbox(r.ctx(), address)
		}
		if err != nil {
			if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
				h.logger.Error("issue mailbox failed", zap.String("address", address), zap.Error(err))
			}
			r.text(http.StatusBadRequest, apperr.Message(err, msgCreateFailed))
			return
		}
	}
	r.ok(generatedMailbox{
		Email:   address,
		Expires: h.now().Add(mailboxTTL).UnixMilli(),
	})
}

// quota 返回当前用户的邮箱配额
//
// @Summary 邮箱配额
// @Tags mailbox
// @Router /api/user/quota [get]
func (h *Handler) quota(r *request) {
	if h.demo {
		r.ok(domain.Quota{Used: 0, Limit: domain.DefaultMailboxLimit})
		return
	}
	uid := r.userID()
	if uid == 0 {
		r.ok(domain.Quota{})
		return
	}
	q, err := h.store.Quota(r.ctx(), uid)
	if err != nil {
		h.writeError(r, err, msgQueryFailed)
		return
	}
	r.ok(q)
}

// listMailboxes 分页列出邮箱：严格管理员看到全部，其他用户只看到自己绑定的
//
// @Summary 邮箱列表
// @Tags mailbox
// @Param limit query int false "每页数量，默认 10，最大 100"
// @Param offset query int false "偏移量"
// @Param q query string false "地址关键字"
// @Router /api/mailboxes [get]
func (h *Handler) listMailboxes(r *request) {
	limit, offset := domain.ClampPage(
		queryInt(r.query.Get("limit"), mailboxListDefault),
		queryInt(r.query.Get("offset"), 0),
		mailboxListDefault, mailboxListMax,
	)
	if h.demo {
		r.ok(h.mock.Mailboxes(limit, offset, memory.MockDomains))
		return
	}

	q := domain.MailboxQuery{Limit: limit, Offset: offset, Search: domain.SanitizeSearch(r.query.Get("q"))}
	var (
		items []domain.MailboxListItem
		err   error
	)
	switch {
	case r.tier == auth.TierStrictAdmin:
		items, err = h.store.ListAllMailboxes(r.ctx(), r.userID(), q)
	case r.userID() == 0:
		items = []domain.MailboxListItem{}
	default:
		items, err = h.store.ListOwnMailboxes(r.ctx(), r.userID(), q)
	}
	if err != nil {
		h.logger.Warn("list mailboxes failed", zap.Error(err))
		items = []domain.MailboxListItem{}
	}
	r.ok(items)
}

// deleteMailbox 删除邮箱及其邮件；非严格管理员只能删除绑定在自己名下的邮箱
//
// @Summary 删除邮箱
// @Tags mailbox
// @Param address query string true "邮箱地址"
// @Router /api/mailboxes [delete]
func (h *Handler) deleteMailbox(r *request) {
	if h.demo {
		r.text(http.StatusForbidden, MsgDemoNoDelete)
		return
	}
	address := domain.ExtractAddress(r.query.Get("address"))
	if address == "" {
		r.text(http.StatusBadRequest, MsgMissingAddress)
		return
	}
	mailboxID, err := h.store.MailboxIDByAddress(r.ctx(), address)
	if err != nil {
		h.writeError(r, err, msgDeleteFailed)
		return
	}
	if mailboxID == 0 {
		r.json(http.StatusNotFound, gin.H{"success": false, "message": MsgMailboxNotFound})
		return
	}

	if r.tier != auth.TierStrictAdmin {
		bound := false
		if r.userID() != 0 {
			if bound, err = h.store.IsBound(r.ctx(), r.userID(), mailboxID); err != nil {
				h.writeError(r, err, msgDeleteFailed)
				return
			}
		}
		if !bound {
			h.metrics.RecordAuthDenied(r.tier.String(), "mailbox_not_bound")
			r.text(http.StatusForbidden, MsgForbidden)
			return
		}
	}

	deleted, err := h.store.DeleteMailbox(r.ctx(), mailboxID)
	if err != nil {
		h.writeError(r, err, msgDeleteFailed)
		return
	}
	h.logger.Info("mailbox deleted", zap.String("address", address), zap.String("by", r.id.Username))
	r.ok(gin.H{"success": deleted, "deleted": deleted})
}

// resetMailboxPassword 把邮箱密码恢复为地址本身
//
// @Summary 重置邮箱密码
// @Tags mailbox
// @Param address query string true "邮箱地址"
// @Router /api/mailboxes/reset-password [post]
func (h *Handler) resetMailboxPassword(r *request) {
	if h.demo {
		r.ok(gin.H{"success": true, "mock": true})
		return
	}
	address := domain.ExtractAddress(r.query.Get("address"))
	if address == "" {
		r.text(http.StatusBadRequest, MsgMissingAddress)
		return
	}
	if err := h.store.ResetMailboxPassword(r.ctx(), address); err != nil {
		h.writeError(r, err, msgOperateFailed)
		return
	}
	r.ok(gin.H{"success": true})
}

// togglePin 切换当前用户对邮箱的置顶状态
//
// @Summary 切换置顶
// @Tags mailbox
// @Param address query string true "邮箱地址"
// @Router /api/mailboxes/pin [post]
func (h *Handler) togglePin(r *request) {
	if h.demo {
		r.text(http.StatusForbidden, MsgDemoNoOperate)
		return
	}
	address := domain.ExtractAddress(r.query.Get("address"))
	if address == "" {
		r.text(http.StatusBadRequest, MsgMissingAddress)
		return
	}

	uid := r.userID()
	if uid == 0 && r.tier == auth.TierStrictAdmin {
		name := h.adminName
		if name == "" {
			name = domain.RoleAdmin
		}
		var err error
		if uid, err = h.store.EnsureAdminUser(r.ctx(), strings.ToLower(name)); err != nil {
			h.writeError(r, err, msgOperateFailed)
			return
		}
	}
	if uid == 0 {
		r.text(http.StatusUnauthorized, MsgUnauthenticated)
		return
	}

	res, err := h.store.TogglePin(r.ctx(), address, uid)
	if err != nil {
		h.writeError(r, err, msgOperateFailed)
		return
	}
	r.ok(gin.H{"success": true, "is_pinned": res.IsPinned})
}

// toggleLogin 允许或禁止邮箱登录
//
// @Summary 设置邮箱登录权限
// @Tags mailbox
// @Accept json
// @Router /api/mailboxes/toggle-login [post]
func (h *Handler) toggleLogin(r *request) {
	if h.demo {
		r.text(http.StatusForbidden, MsgDemoNoOperate)
		return
	}
	var req addressRequest
	if !r.bindJSON(&req) {
		return
	}
	address := domain.ExtractAddress(req.Address)
	if address == "" {
		r.text(http.StatusBadRequest, MsgMissingAddress)
		return
	}
	canLogin := truthy(req.CanLogin)
	if err := h.store.SetCanLogin(r.ctx(), address, canLogin); err != nil {
		h.writeError(r, err, msgOperateFailed)
		return
	}
	r.ok(gin.H{"success": true, "can_login": canLogin})
}

// changeMailboxPassword 由管理员为邮箱设置新密码
//
// @Summary 修改邮箱密码
// @Tags mailbox
// @Accept json
// @Router /api/mailboxes/change-password [post]
func (h *Handler) changeMailboxPassword(r *request) {
	if h.demo {
		r.text(http.StatusForbidden, MsgDemoNoOperate)
		return
	}
	var req addressRequest
	if !r.bindJSON(&req) {
		return
	}
	address := domain.ExtractAddress(req.Address)
	if address == "" {
		r.text(http.StatusBadRequest, MsgMissingAddress)
		return
	}
	if len(req.NewPassword) < domain.MinPasswordLength {
		r.text(http.StatusBadRequest, msgPasswordTooShort)
		return
	}
	mailbox, err := h.store.GetMailboxByAddress(r.ctx(), address)
	if err != nil {
		h.writeError(r, err, msgOperateFailed)
		return
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		h.writeError(r, err, msgOperateFailed)
		return
	}
	if err := h.store.SetMailboxPassword(r.ctx(), mailbox.ID, hash); err != nil {
		h.writeError(r, err, msgOperateFailed)
		return
	}
	r.ok(gin.H{"success": true})
}
