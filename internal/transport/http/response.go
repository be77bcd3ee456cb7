package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"mailfree/backend/internal/apperr"
)

// 面向操作者的通用消息
const (
	MsgNotFoundRoute   = "未找到 API 路径"
	MsgUnauthenticated = "未登录"
	MsgForbidden       = "Forbidden"
	MsgAccessDenied    = "访问被拒绝"
	MsgOwnMailboxOnly  = "只能访问自己的邮箱"
	MsgInvalidBody     = "请求体格式错误"
	MsgInvalidID       = "无效ID"
	MsgMissingMailbox  = "缺少 mailbox 参数"
	MsgMissingAddress  = "缺少 address 参数"
	MsgMailboxNotFound = "邮箱不存在"
)

// 演示模式下拒绝操作的消息
const (
	MsgDemoNoOperate  = "演示模式不可操作"
	MsgDemoNoDelete   = "演示模式不可删除"
	MsgDemoNoClear    = "演示模式不可清空"
	MsgDemoNoDownload = "演示模式不可下载"
	MsgDemoNoSend     = "演示模式不可发送"
	MsgDemoNoQuery    = "演示模式不可查询真实发送"
	MsgDemoNoPassword = "演示模式不可修改密码"
	MsgDemoNoLogin    = "演示模式不可登录"
)

// text 写入纯文本响应
func (r *request) text(status int, msg string) {
	r.c.String(status, msg)
}

// json 写入 JSON 响应
func (r *request) json(status int, v interface{}) {
	r.c.JSON(status, v)
}

// ok 写入 200 JSON 响应
func (r *request) ok(v interface{}) {
	r.c.JSON(http.StatusOK, v)
}

// bindJSON 解析请求体，失败时返回 400
func (r *request) bindJSON(v interface{}) bool {
	if err := r.c.ShouldBindJSON(v); err != nil {
		r.text(http.StatusBadRequest, MsgInvalidBody)
		return false
	}
	return true
}

// writeError 把错误转换为纯文本响应。
// 已分类的业务错误返回其消息；存储错误等 5xx 记录日志后返回 fallback。
func (h *Handler) writeError(r *request, err error, fallback string) {
	status := apperr.HTTPStatus(err)
	msg := apperr.Message(err, fallback)
	if status >= http.StatusInternalServerError {
		h.logger.Error("api request failed",
			zap.String("method", r.c.Request.Method),
			zap.String("path", r.path),
			zap.Error(err),
		)
		msg = fallback
	}
	r.text(status, msg)
}

// parseID 解析正整数 ID
func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// looseInt 兼容数字与数字字符串，缺省或无法解析时 ok 为 false
func looseInt(raw json.RawMessage) (int, bool) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f), true
	}
	return 0, false
}

// truthy 按前端习惯判断布尔值：false、0、空串与 null 为假
func truthy(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", "0", `""`:
		return false
	default:
		return true
	}
}

// queryInt 读取整数查询参数，缺省或无法解析时返回 def
func queryInt(value string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return n
}
