package httptransport

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailfree/backend/internal/apperr"
	"mailfree/backend/internal/auth"
	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/ingest"
	"mailfree/backend/internal/storage/blob"
)

const (
	// 演示模式邮件列表条数
	demoEmailCount = 6

	msgMessageNotFound      = "未找到邮件"
	msgMessageExpired       = "邮件不存在或已超过24小时访问期限"
	msgInvalidMessageID     = "无效的邮件ID"
	msgMessageDeleted       = "邮件已删除"
	msgMessageAlreadyGone   = "邮件不存在或已被删除"
	msgObjectNotFound       = "未找到对象"
	msgBlobUnavailable      = "对象存储未配置"
	msgListMessagesFailed   = "查询邮件失败"
	msgDeleteMessageFailed  = "删除邮件时发生错误"
	msgClearMessagesFailed  = "清空邮件失败"
	msgDownloadFailed       = "下载失败"
	msgPasswordFieldsEmpty  = "当前密码和新密码不能为空"
	msgNewPasswordTooShort  = "新密码长度至少6位"
	msgNoMailboxInSession   = "未找到邮箱信息"
	msgWrongCurrentPassword = "当前密码错误"
	msgPasswordChanged      = "密码修改成功"
)

type ownPasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// listEmails 列出邮箱中的邮件
//
// @Summary 邮件列表
// @Tags message
// @Param mailbox query string true "邮箱地址"
// @Router /api/emails [get]
func (h *Handler) listEmails(r *request) {
	mailbox := domain.ExtractAddress(r.query.Get("mailbox"))
	if mailbox == "" {
		r.text(http.StatusBadRequest, MsgMissingMailbox)
		return
	}
	if h.demo {
		r.ok(h.mock.Emails(demoEmailCount))
		return
	}
	mailboxID, err := h.store.MailboxIDByAddress(r.ctx(), mailbox)
	if err != nil {
		h.writeError(r, err, msgListMessagesFailed)
		return
	}
	if mailboxID == 0 {
		r.ok([]domain.MessageSummary{})
		return
	}
	items, err := h.store.ListMessages(r.ctx(), mailboxID, r.vis)
	if err != nil {
		h.writeError(r, err, msgListMessagesFailed)
		return
	}
	r.ok(items)
}

// batchEmails 按 ID 列表批量读取邮件元数据
//
// @Summary 批量读取邮件
// @Tags message
// @Param ids query string true "逗号分隔的邮件 ID"
// @Router /api/emails/batch [get]
func (h *Handler) batchEmails(r *request) {
	ids := parseIDList(r.query.Get("ids"))
	if len(ids) == 0 {
		r.ok([]domain.Message{})
		return
	}
	if h.demo {
		out := make([]domain.MessageDetail, 0, len(ids))
		for _, id := range ids {
			out = append(out, h.mock.EmailDetail(id))
		}
		r.ok(out)
		return
	}
	items, err := h.store.GetMessages(r.ctx(), ids, r.vis)
	if err != nil {
		h.writeError(r, err, msgListMessagesFailed)
		return
	}
	// 邮箱会话只能看到自己邮箱的邮件
	if r.mailboxSession() {
		own := items[:0]
		for _, m := range items {
			if m.MailboxID == r.id.MailboxID {
				own = append(own, m)
			}
		}
		items = own
	}
	r.ok(items)
}

// parseIDList 解析逗号分隔的正整数，忽略非法项
func parseIDList(s string) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		if id, ok := parseID(part); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// clearEmails 清空邮箱中的全部邮件
//
// @Summary 清空邮箱
// @Tags message
// @Param mailbox query string true "邮箱地址"
// @Router /api/emails [delete]
func (h *Handler) clearEmails(r *request) {
	if h.demo {
		r.text(http.StatusForbidden, MsgDemoNoClear)
		return
	}
	mailbox := domain.ExtractAddress(r.query.Get("mailbox"))
	if mailbox == "" {
		r.text(http.StatusBadRequest, MsgMissingMailbox)
		return
	}
	mailboxID, err := h.store.MailboxIDByAddress(r.ctx(), mailbox)
	if err != nil {
		h.writeError(r, err, msgClearMessagesFailed)
		return
	}
	if mailboxID == 0 {
		r.ok(gin.H{"success": true, "deletedCount": 0, "previousCount": 0})
		return
	}
	deleted, previous, err := h.store.ClearMessages(r.ctx(), mailboxID)
	if err != nil {
		h.writeError(r, err, msgClearMessagesFailed)
		return
	}
	r.ok(gin.H{"success": true, "deletedCount": deleted, "previousCount": previous})
}

// emailDetail 读取邮件详情，正文从原文对象解析，旧数据回退到表内正文
//
// @Summary 邮件详情
// @Tags message
// @Param id path int true "邮件 ID"
// @Router /api/email/{id} [get]
func (h *Handler) emailDetail(r *request) {
	if h.demo {
		id, _ := strconv.ParseInt(r.segment(3), 10, 64)
		r.ok(h.mock.EmailDetail(id))
		return
	}

	notFound := msgMessageNotFound
	if r.mailboxSession() {
		notFound = msgMessageExpired
	}
	id, ok := parseID(r.segment(3))
	if !ok {
		r.text(http.StatusNotFound, notFound)
		return
	}
	msg, err := h.store.GetMessage(r.ctx(), id, r.vis)
	if apperr.Is(err, apperr.CodeNotFound) {
		r.text(http.StatusNotFound, notFound)
		return
	}
	if err != nil {
		h.writeError(r, err, msgListMessagesFailed)
		return
	}
	if err := h.store.MarkMessageRead(r.ctx(), id); err != nil {
		h.logger.Warn("mark message read failed", zap.Int64("id", id), zap.Error(err))
	}

	detail := domain.MessageDetail{Message: *msg}
	if msg.R2ObjectKey != "" {
		detail.Download = fmt.Sprintf("/api/email/%d/download", id)
		h.fillBodyFromBlob(r, &detail)
	}
	if detail.Content == "" && detail.HTMLContent == "" {
		body, err := h.store.LegacyBody(r.ctx(), id)
		if err != nil {
			h.logger.Warn("read legacy body failed", zap.Int64("id", id), zap.Error(err))
		}
		detail.Content = body.Content
		detail.HTMLContent = body.HTMLContent
	}
	r.ok(detail)
}

// fillBodyFromBlob 解析原文对象填充正文，失败时保持为空
func (h *Handler) fillBodyFromBlob(r *request, detail *domain.MessageDetail) {
	if h.blobs == nil {
		return
	}
	raw, err := h.blobs.Get(r.ctx(), detail.R2ObjectKey)
	if err != nil {
		h.logger.Warn("read eml failed", zap.String("key", detail.R2ObjectKey), zap.Error(err))
		return
	}
	parsed, err := ingest.ParseEmail(raw)
	if err != nil {
		h.logger.Warn("parse eml failed", zap.String("key", detail.R2ObjectKey), zap.Error(err))
		return
	}
	detail.Content = parsed.Text
	detail.HTMLContent = parsed.HTML
}

// downloadEmail 以附件形式下载邮件原文
//
// @Summary 下载原文
// @Tags message
// @Produce message/rfc822
// @Param id path int true "邮件 ID"
// @Router /api/email/{id}/download [get]
func (h *Handler) downloadEmail(r *request) {
	if h.demo {
		r.text(http.StatusForbidden, MsgDemoNoDownload)
		return
	}
	id, ok := parseID(r.segment(3))
	if !ok {
		r.text(http.StatusNotFound, msgObjectNotFound)
		return
	}
	msg, err := h.store.GetMessage(r.ctx(), id, r.vis)
	if apperr.Is(err, apperr.CodeNotFound) || (err == nil && msg.R2ObjectKey == "") {
		r.text(http.StatusNotFound, msgObjectNotFound)
		return
	}
	if err != nil {
		h.writeError(r, err, msgDownloadFailed)
		return
	}
	if h.blobs == nil {
		r.text(http.StatusInternalServerError, msgBlobUnavailable)
		return
	}
	raw, err := h.blobs.Get(r.ctx(), msg.R2ObjectKey)
	if apperr.Is(err, apperr.CodeNotFound) {
		r.text(http.StatusNotFound, blob.MsgObjectMissing)
		return
	}
	if err != nil {
		h.writeError(r, err, msgDownloadFailed)
		return
	}
	r.c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, blob.FileName(msg.R2ObjectKey)))
	r.c.Data(http.StatusOK, "message/rfc822", raw)
}

// deleteEmail 删除单封邮件，重复删除同样返回成功
//
// @Summary 删除邮件
// @Tags message
// @Param id path int true "邮件 ID"
// @Router /api/email/{id} [delete]
func (h *Handler) deleteEmail(r *request) {
	if h.demo {
		r.text(http.StatusForbidden, MsgDemoNoDelete)
		return
	}
	id, ok := parseID(r.segment(3))
	if !ok {
		r.text(http.StatusBadRequest, msgInvalidMessageID)
		return
	}
	// 邮箱会话只能删除时间窗内可见的邮件
	if r.mailboxSession() {
		_, err := h.store.GetMessage(r.ctx(), id, r.vis)
		if apperr.Is(err, apperr.CodeNotFound) {
			r.text(http.StatusNotFound, msgMessageExpired)
			return
		}
		if err != nil {
			h.writeError(r, err, msgDeleteMessageFailed)
			return
		}
	}
	deleted, err := h.store.DeleteMessage(r.ctx(), id)
	if err != nil {
		h.writeError(r, err, msgDeleteMessageFailed)
		return
	}
	msg := msgMessageAlreadyGone
	if deleted {
		msg = msgMessageDeleted
	}
	r.ok(gin.H{"success": true, "deleted": deleted, "message": msg})
}

// changeOwnPassword 邮箱会话修改自己邮箱的密码
//
// @Summary 修改本邮箱密码
// @Tags message
// @Accept json
// @Router /api/mailbox/password [put]
func (h *Handler) changeOwnPassword(r *request) {
	if h.demo {
		r.text(http.StatusForbidden, MsgDemoNoPassword)
		return
	}
	var req ownPasswordRequest
	if !r.bindJSON(&req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		r.text(http.StatusBadRequest, msgPasswordFieldsEmpty)
		return
	}
	if len(req.NewPassword) < domain.MinPasswordLength {
		r.text(http.StatusBadRequest, msgNewPasswordTooShort)
		return
	}
	if r.id == nil || r.id.MailboxAddress == "" || r.id.MailboxID == 0 {
		r.text(http.StatusUnauthorized, msgNoMailboxInSession)
		return
	}

	mailbox, err := h.store.GetMailboxByAddress(r.ctx(), r.id.MailboxAddress)
	if apperr.Is(err, apperr.CodeNotFound) || (err == nil && mailbox.ID != r.id.MailboxID) {
		r.text(http.StatusNotFound, MsgMailboxNotFound)
		return
	}
	if err != nil {
		h.writeError(r, err, msgOperateFailed)
		return
	}
	if !auth.CheckMailboxPassword(mailbox, req.CurrentPassword) {
		r.text(http.StatusBadRequest, msgWrongCurrentPassword)
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
	r.ok(gin.H{"success": true, "message": msgPasswordChanged})
}

// streamEmails 把连接升级为 WebSocket，推送该邮箱的新邮件事件
//
// @Summary 新邮件推送
// @Tags message
// @Param mailbox query string true "邮箱地址"
// @Router /api/emails/stream [get]
func (h *Handler) streamEmails(r *request) {
	mailbox := domain.ExtractAddress(r.query.Get("mailbox"))
	if mailbox == "" {
		r.text(http.StatusBadRequest, MsgMissingMailbox)
		return
	}
	if err := h.stream.Serve(r.c.Writer, r.c.Request, mailbox); err != nil {
		h.logger.Debug("stream upgrade failed", zap.String("mailbox", mailbox), zap.Error(err))
	}
}
