package httptransport

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailfree/backend/internal/apperr"
	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/send"
)

const (
	sentListLimit = 50

	msgSendNotConfigured = "未配置 Resend API Key"
	msgSendNotGranted    = "该用户未被授予发件权限"
	msgSendUnauthorized  = "未授权发件"
	msgMissingFrom       = "缺少 from 参数"
	msgSendFailed        = "发送失败: "
	msgBatchSendFailed   = "批量发送失败: "
	msgProviderQuery     = "查询失败: "
	msgProviderUpdate    = "更新失败: "
	msgProviderCancel    = "取消失败: "
	msgSentNotFound      = "未找到发件"
	msgSentQueryFailed   = "查询发件记录失败"
	msgSentDeleteFailed  = "删除发件记录失败"
)

// sendGuard 依次检查演示模式、服务商配置与发件权限，返回 false 时已写入响应
func (h *Handler) sendGuard(r *request, demoMsg string) bool {
	if h.demo {
		r.text(http.StatusForbidden, demoMsg)
		return false
	}
	if h.sender == nil || !h.sender.Configured() {
		r.text(http.StatusInternalServerError, msgSendNotConfigured)
		return false
	}

	switch {
	case r.userID() != 0:
		user, err := h.store.GetUser(r.ctx(), r.userID())
		if err != nil && !apperr.Is(err, apperr.CodeNotFound) {
			h.writeError(r, err, strings.TrimSuffix(msgSendFailed, ": "))
			return false
		}
		if user == nil || !user.CanSend {
			h.metrics.RecordAuthDenied(r.tier.String(), "send_not_granted")
			r.text(http.StatusForbidden, msgSendNotGranted)
			return false
		}
	case r.id != nil && r.id.Role == domain.RoleAdmin:
	default:
		h.metrics.RecordAuthDenied(r.tier.String(), "send_unauthorized")
		r.text(http.StatusForbidden, msgSendUnauthorized)
		return false
	}
	return true
}

// providerFailure 把服务商错误转换为带前缀的 500 响应
func (h *Handler) providerFailure(r *request, err error, prefix string) {
	h.logger.Warn("send provider call failed", zap.String("path", r.path), zap.Error(err))
	r.text(http.StatusInternalServerError, prefix+apperr.Message(err, err.Error()))
}

// sentRecord 根据提交的邮件与服务商 ID 构造发件记录
func sentRecord(email send.Email, resendID string) *domain.SentEmail {
	rec := &domain.SentEmail{
		FromAddr: domain.ExtractAddress(email.From),
		ToAddrs:  email.To.String(),
		Subject:  email.Subject,
		Status:   domain.SentStatusDelivered,
	}
	if resendID != "" {
		rec.ResendID = &resendID
	}
	if name := strings.TrimSpace(email.FromName); name != "" {
		rec.FromName = &name
	}
	if email.HTML != "" {
		rec.HTMLContent = &email.HTML
	}
	if email.Text != "" {
		rec.TextContent = &email.Text
	}
	if email.ScheduledAt != "" {
		rec.ScheduledAt = &email.ScheduledAt
	}
	return rec
}

// recordSent 写入发件记录；邮件已提交成功，记录失败只记日志
func (h *Handler) recordSent(r *request, rec *domain.SentEmail) {
	if err := h.store.RecordSent(r.ctx(), rec); err != nil {
		h.logger.Error("record sent email failed", zap.String("from", rec.FromAddr), zap.Error(err))
	}
}

// sendEmail 通过服务商发送单封邮件
//
// @Summary 发送邮件
// @Tags send
// @Accept json
// @Router /api/send [post]
func (h *Handler) sendEmail(r *request) {
	if !h.sendGuard(r, MsgDemoNoSend) {
		return
	}
	var email send.Email
	if !r.bindJSON(&email) {
		return
	}
	res, err := h.sender.Send(r.ctx(), email)
	if err != nil {
		h.providerFailure(r, err, msgSendFailed)
		return
	}
	h.recordSent(r, sentRecord(email, res.ID))
	r.ok(gin.H{"success": true, "id": res.ID})
}

// sendBatch 批量发送邮件，按返回顺序逐条记录
//
// @Summary 批量发送
// @Tags send
// @Accept json
// @Router /api/send/batch [post]
func (h *Handler) sendBatch(r *request) {
	if !h.sendGuard(r, MsgDemoNoSend) {
		return
	}
	var emails []send.Email
	if !r.bindJSON(&emails) {
		return
	}
	results, err := h.sender.SendBatch(r.ctx(), emails)
	if err != nil {
		h.providerFailure(r, err, msgBatchSendFailed)
		return
	}
	for i, res := range results {
		if i >= len(emails) {
			break
		}
		h.recordSent(r, sentRecord(emails[i], res.ID))
	}
	r.ok(gin.H{"success": true, "result": results})
}

// getSend 查询服务商侧的发送结果
//
// @Summary 查询发送结果
// @Tags send
// @Param id path string true "服务商 ID"
// @Router /api/send/{id} [get]
func (h *Handler) getSend(r *request) {
	if !h.sendGuard(r, MsgDemoNoQuery) {
		return
	}
	data, err := h.sender.Get(r.ctx(), r.segment(3))
	if err != nil {
		h.providerFailure(r, err, msgProviderQuery)
		return
	}
	r.c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// updateSend 更新本地状态或修改服务商侧的定时时间
//
// @Summary 更新发送
// @Tags send
// @Accept json
// @Param id path string true "服务商 ID"
// @Router /api/send/{id} [patch]
func (h *Handler) updateSend(r *request) {
	if !h.sendGuard(r, MsgDemoNoOperate) {
		return
	}
	resendID := r.segment(3)
	var body map[string]interface{}
	if !r.bindJSON(&body) {
		return
	}

	var data json.RawMessage
	if status, ok := body["status"].(string); ok && status != "" {
		if err := h.store.UpdateSent(r.ctx(), resendID, domain.SentEmailUpdate{Status: &status}); err != nil {
			h.providerFailure(r, err, msgProviderUpdate)
			return
		}
	}
	if scheduledAt, ok := body["scheduledAt"].(string); ok && scheduledAt != "" {
		var err error
		if data, err = h.sender.Update(r.ctx(), resendID, scheduledAt); err != nil {
			h.providerFailure(r, err, msgProviderUpdate)
			return
		}
		if err := h.store.UpdateSent(r.ctx(), resendID, domain.SentEmailUpdate{ScheduledAt: &scheduledAt}); err != nil {
			h.providerFailure(r, err, msgProviderUpdate)
			return
		}
	}
	if len(data) == 0 {
		r.ok(gin.H{"ok": true})
		return
	}
	r.c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// cancelSend 取消定时发送并把本地状态置为 canceled
//
// @Summary 取消发送
// @Tags send
// @Param id path string true "服务商 ID"
// @Router /api/send/{id}/cancel [post]
func (h *Handler) cancelSend(r *request) {
	if !h.sendGuard(r, MsgDemoNoOperate) {
		return
	}
	resendID := r.segment(3)
	data, err := h.sender.Cancel(r.ctx(), resendID)
	if err != nil {
		h.providerFailure(r, err, msgProviderCancel)
		return
	}
	status := domain.SentStatusCanceled
	if err := h.store.UpdateSent(r.ctx(), resendID, domain.SentEmailUpdate{Status: &status}); err != nil {
		h.providerFailure(r, err, msgProviderCancel)
		return
	}
	if len(data) == 0 {
		r.ok(gin.H{"ok": true})
		return
	}
	r.c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// listSent 列出某个发件地址的最近发件记录
//
// @Summary 发件记录
// @Tags send
// @Param from query string true "发件地址"
// @Router /api/sent [get]
func (h *Handler) listSent(r *request) {
	if h.demo {
		r.ok([]domain.SentEmailSummary{})
		return
	}
	from := r.query.Get("from")
	if from == "" {
		from = r.query.Get("mailbox")
	}
	from = domain.ExtractAddress(from)
	if from == "" {
		r.text(http.StatusBadRequest, msgMissingFrom)
		return
	}
	items, err := h.store.ListSent(r.ctx(), from, sentListLimit)
	if err != nil {
		h.writeError(r, err, msgSentQueryFailed)
		return
	}
	r.ok(items)
}

// sentDetail 读取单条发件记录
//
// @Summary 发件详情
// @Tags send
// @Param id path int true "记录 ID"
// @Router /api/sent/{id} [get]
func (h *Handler) sentDetail(r *request) {
	if h.demo {
		r.text(http.StatusForbidden, MsgDemoNoQuery)
		return
	}
	id, ok := parseID(r.segment(3))
	if !ok {
		r.text(http.StatusNotFound, msgSentNotFound)
		return
	}
	rec, err := h.store.GetSent(r.ctx(), id)
	if err != nil {
		h.writeError(r, err, msgSentQueryFailed)
		return
	}
	r.ok(rec)
}

// deleteSent 删除发件记录
//
// @Summary 删除发件记录
// @Tags send
// @Param id path int true "记录 ID"
// @Router /api/sent/{id} [delete]
func (h *Handler) deleteSent(r *request) {
	if h.demo {
		r.text(http.StatusForbidden, MsgDemoNoOperate)
		return
	}
	id, ok := parseID(r.segment(3))
	if !ok {
		r.text(http.StatusBadRequest, MsgInvalidID)
		return
	}
	if err := h.store.DeleteSent(r.ctx(), id); err != nil {
		h.writeError(r, err, msgSentDeleteFailed)
		return
	}
	r.ok(gin.H{"success": true})
}
