package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"mailfree/backend/internal/apperr"
	"mailfree/backend/internal/domain"
)

// ErrInvalidCredentials 凭证无效
var ErrInvalidCredentials = errors.New("invalid credentials")

// CredentialStore 是登录所需的只读查询
type CredentialStore interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetMailboxByAddress(ctx context.Context, address string) (*domain.Mailbox, error)
}

// Service 认证服务：校验根管理员、用户与邮箱三类凭证
type Service struct {
	store         CredentialStore
	adminName     string
	adminPassword string
}

// NewService 创建认证服务
//
// 参数:
//   - store: 用户与邮箱查询
//   - adminName: 根管理员登录名，同时是严格管理员判定用的配置名
//   - adminPassword: 根管理员密码，为空时禁用根管理员登录
func NewService(store CredentialStore, adminName, adminPassword string) *Service {
	return &Service{
		store:         store,
		adminName:     strings.ToLower(adminName),
		adminPassword: adminPassword,
	}
}

// Login 按 根管理员 → 用户 → 邮箱 的顺序校验凭证并返回会话身份
func (s *Service) Login(ctx context.Context, username, password string) (*Identity, error) {
	name := strings.ToLower(strings.TrimSpace(username))
	if name == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	if s.adminPassword != "" && name == s.adminName &&
		subtle.ConstantTimeCompare([]byte(password), []byte(s.adminPassword)) == 1 {
		id := &Identity{Username: domain.RootUsername, Role: domain.RoleAdmin}
		if user, err := s.store.GetUserByUsername(ctx, s.adminName); err == nil {
			id.UserID = user.ID
		}
		return id, nil
	}

	user, err := s.store.GetUserByUsername(ctx, name)
	switch {
	case err == nil:
		if user.PasswordHash == nil || !CheckPassword(password, *user.PasswordHash) {
			return nil, ErrInvalidCredentials
		}
		return &Identity{Username: user.Username, Role: user.Role, UserID: user.ID}, nil
	case !apperr.Is(err, apperr.CodeNotFound):
		return nil, err
	}

	if !strings.Contains(name, "@") {
		return nil, ErrInvalidCredentials
	}
	mailbox, err := s.store.GetMailboxByAddress(ctx, name)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !mailbox.CanLogin || !CheckMailboxPassword(mailbox, password) {
		return nil, ErrInvalidCredentials
	}
	return &Identity{
		Username:       mailbox.Address,
		Role:           domain.RoleMailbox,
		MailboxAddress: mailbox.Address,
		MailboxID:      mailbox.ID,
	}, nil
}

// HashPassword 哈希密码
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 检查密码是否匹配
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CheckMailboxPassword 校验邮箱密码；未设置密码时密码等于邮箱地址
func CheckMailboxPassword(mailbox *domain.Mailbox, password string) bool {
	if mailbox.PasswordIsDefault() {
		return subtle.ConstantTimeCompare([]byte(password), []byte(mailbox.Address)) == 1
	}
	return CheckPassword(password, *mailbox.PasswordHash)
}
