package httptransport

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mailfree/backend/internal/auth"
	"mailfree/backend/internal/domain"
)

const (
	userListDefault = 50
	userListMax     = 100

	msgAssignIncomplete = "参数不完整"
	msgUpdateFailed     = "更新失败"
	msgAssignFailed     = "分配失败"
)

type createUserRequest struct {
	Username     string          `json:"username"`
	Password     string          `json:"password"`
	Role         string          `json:"role"`
	MailboxLimit json.RawMessage `json:"mailboxLimit"`
	CanSend      json.RawMessage `json:"can_send"`
}

type updateUserRequest struct {
	Role         *string         `json:"role"`
	MailboxLimit json.RawMessage `json:"mailboxLimit"`
	CanSend      json.RawMessage `json:"can_send"`
	Password     string          `json:"password"`
}

type assignRequest struct {
	Username string `json:"username"`
	Address  string `json:"address"`
}

// listUsers 分页列出用户及其邮箱数量
//
// @Summary 用户列表
// @Tags user
// @Param limit query int false "每页数量，默认 50，最大 100"
// @Param offset query int false "偏移量"
// @Router /api/users [get]
func (h *Handler) listUsers(r *request) {
	limit, offset := domain.ClampPage(
		queryInt(r.query.Get("limit"), userListDefault),
		queryInt(r.query.Get("offset"), 0),
		userListDefault, userListMax,
	)
	users, err := h.users.ListUsers(r.ctx(), limit, offset)
	if err != nil {
		h.writeError(r, err, msgQueryFailed)
		return
	}
	r.ok(users)
}

// createUser 创建用户
//
// @Summary 创建用户
// @Tags user
// @Accept json
// @Router /api/users [post]
func (h *Handler) createUser(r *request) {
	var req createUserRequest
	if !r.bindJSON(&req) {
		return
	}
	limit, ok := looseInt(req.MailboxLimit)
	if !ok || limit == 0 {
		limit = h.mailboxLimit
	}
	in := domain.CreateUserInput{
		Username:     strings.TrimSpace(req.Username),
		Role:         domain.NormalizeRole(strings.TrimSpace(req.Role)),
		MailboxLimit: max(limit, 0),
		CanSend:      truthy(req.CanSend),
	}
	if !h.demo && req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			h.writeError(r, err, msgCreateFailed)
			return
		}
		in.PasswordHash = &hash
	}

	user, err := h.users.CreateUser(r.ctx(), in)
	if err != nil {
		h.writeError(r, err, msgCreateFailed)
		return
	}
	r.ok(user)
}

// updateUser 更新用户的角色、上限、发件权限或密码
//
// @Summary 更新用户
// @Tags user
// @Accept json
// @Param id path int true "用户 ID"
// @Router /api/users/{id} [patch]
func (h *Handler) updateUser(r *request) {
	id, ok := parseID(r.segment(3))
	if !ok {
		r.text(http.StatusBadRequest, MsgInvalidID)
		return
	}
	var req updateUserRequest
	if !r.bindJSON(&req) {
		return
	}

	var patch domain.UserPatch
	if req.Role != nil {
		role := domain.NormalizeRole(strings.TrimSpace(*req.Role))
		patch.Role = &role
	}
	if limit, ok := looseInt(req.MailboxLimit); ok {
		limit = max(limit, 0)
		patch.MailboxLimit = &limit
	}
	if len(req.CanSend) > 0 {
		canSend := truthy(req.CanSend)
		patch.CanSend = &canSend
	}
	if !h.demo && req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			h.writeError(r, err, msgUpdateFailed)
			return
		}
		patch.PasswordHash = &hash
	}

	if err := h.users.UpdateUser(r.ctx(), id, patch); err != nil {
		h.writeError(r, err, msgUpdateFailed)
		return
	}
	r.ok(gin.H{"success": true})
}

// deleteUser 删除用户，其绑定随之删除，邮箱本身保留
//
// @Summary 删除用户
// @Tags user
// @Param id path int true "用户 ID"
// @Router /api/users/{id} [delete]
func (h *Handler) deleteUser(r *request) {
	id, ok := parseID(r.segment(3))
	if !ok {
		r.text(http.StatusBadRequest, MsgInvalidID)
		return
	}
	if err := h.users.DeleteUser(r.ctx(), id); err != nil {
		h.writeError(r, err, msgDeleteFailed)
		return
	}
	r.ok(gin.H{"success": true})
}

// assignMailbox 把邮箱分配给用户，受用户邮箱上限约束
//
// @Summary 分配邮箱
// @Tags user
// @Accept json
// @Router /api/users/assign [post]
func (h *Handler) assignMailbox(r *request) {
	var req assignRequest
	if !r.bindJSON(&req) {
		return
	}
	username := strings.TrimSpace(req.Username)
	address := domain.ExtractAddress(req.Address)
	if username == "" || address == "" {
		r.text(http.StatusBadRequest, msgAssignIncomplete)
		return
	}
	err := h.users.AssignMailbox(r.ctx(), domain.AssignInput{Username: username, Address: address})
	if err != nil {
		h.writeError(r, err, msgAssignFailed)
		return
	}
	r.ok(gin.H{"success": true})
}

// userMailboxes 列出用户绑定的邮箱
//
// @Summary 用户的邮箱
// @Tags user
// @Param id path int true "用户 ID"
// @Router /api/users/{id}/mailboxes [get]
func (h *Handler) userMailboxes(r *request) {
	id, ok := parseID(r.segment(3))
	if !ok {
		r.text(http.StatusBadRequest, MsgInvalidID)
		return
	}
	items, err := h.users.UserMailboxes(r.ctx(), id)
	if err != nil {
		h.writeError(r, err, msgQueryFailed)
		return
	}
	r.ok(items)
}
