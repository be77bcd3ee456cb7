package sql

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailfree/backend/internal/apperr"
	"mailfree/backend/internal/domain"
)

const msgUserIdentifier = "缺少用户标识"

// 懒创建管理员账户时使用的上限
const adminMailboxLimit = 9999

// ========== User Repository ==========

// CreateUser 创建用户；用户名去空白并转为小写，重复时返回校验错误
func (s *Store) CreateUser(ctx context.Context, in domain.CreateUserInput) (*domain.User, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	if username == "" {
		return nil, apperr.Validation(domain.MsgUsernameRequired)
	}
	limit := in.MailboxLimit
	if limit < 0 {
		limit = 0
	}
	user := &domain.User{
		Username:     username,
		PasswordHash: in.PasswordHash,
		Role:         domain.NormalizeRole(in.Role),
		CanSend:      in.CanSend,
		MailboxLimit: limit,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Validation(domain.MsgUsernameTaken)
		}
		return nil, s.storeErr("create user", err)
	}
	return user, nil
}

// GetUser 根据 ID 获取用户
func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound(domain.MsgUserMissing)
		}
		return nil, s.storeErr("get user", err)
	}
	return &user, nil
}

// GetUserByUsername 根据用户名获取用户（不区分大小写）
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	name := strings.ToLower(strings.TrimSpace(username))
	var user domain.User
	err := s.db.WithContext(ctx).Where("username = ?", name).First(&user).Error
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound(domain.MsgAssignUserAbsent)
		}
		return nil, s.storeErr("get user by username", err)
	}
	return &user, nil
}

// UpdateUser 按补丁更新用户，只触及补丁中出现的字段
func (s *Store) UpdateUser(ctx context.Context, id int64, patch domain.UserPatch) error {
	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}

	updates := make(map[string]interface{}, 4)
	if patch.Role != nil {
		updates["role"] = domain.NormalizeRole(*patch.Role)
	}
	if patch.MailboxLimit != nil {
		limit := *patch.MailboxLimit
		if limit < 0 {
			limit = 0
		}
		updates["mailbox_limit"] = limit
	}
	if patch.CanSend != nil {
		updates["can_send"] = *patch.CanSend
	}
	if patch.PasswordHash != nil {
		updates["password_hash"] = *patch.PasswordHash
	}

	err := s.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(updates).Error
	return s.storeErr("update user", err)
}

// DeleteUser 删除用户及其全部绑定
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&domain.UserMailbox{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&domain.User{}).Error
	})
	return s.storeErr("delete user", err)
}

// ListUsers 列出用户及其绑定邮箱数量，新建优先
func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]domain.UserWithCount, error) {
	limit, offset = domain.ClampPage(limit, offset, 50, 100)
	users := make([]domain.UserWithCount, 0)
	err := s.db.WithContext(ctx).Raw(`
		SELECT u.id, u.username, u.role, u.can_send, u.mailbox_limit, u.created_at,
		       COALESCE(cnt.c, 0) AS mailbox_count
		FROM users u
		LEFT JOIN (
			SELECT user_id, COUNT(1) AS c FROM user_mailboxes GROUP BY user_id
		) cnt ON cnt.user_id = u.id
		ORDER BY u.created_at DESC, u.id DESC
		LIMIT ? OFFSET ?
	`, limit, offset).Scan(&users).Error
	if err != nil {
		return nil, s.storeErr("list users", err)
	}
	return users, nil
}

// AssignMailbox 把邮箱分配给用户
//
// 流程：查询或创建邮箱 → 解析用户 → 读取上限 → 统计已有绑定 → 达到上限则拒绝 → 插入绑定。
// 已存在的绑定会被静默忽略。上限检查与插入不在同一事务中，并发分配可能短暂超出上限。
func (s *Store) AssignMailbox(ctx context.Context, in domain.AssignInput) error {
	mailbox, err := s.GetOrCreateMailbox(ctx, in.Address)
	if err != nil {
		return err
	}

	var user *domain.User
	if in.UserID != 0 {
		user, err = s.GetUser(ctx, in.UserID)
		if apperr.Is(err, apperr.CodeNotFound) {
			return apperr.NotFound(domain.MsgAssignUserAbsent)
		}
	} else {
		if strings.TrimSpace(in.Username) == "" {
			return apperr.Validation(msgUserIdentifier)
		}
		user, err = s.GetUserByUsername(ctx, in.Username)
	}
	if err != nil {
		return err
	}

	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&domain.UserMailbox{}).Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
		return s.storeErr("count bindings", err)
	}
	if count >= int64(user.MailboxLimit) {
		return apperr.QuotaExceeded(domain.MsgQuotaReached)
	}

	binding := domain.UserMailbox{UserID: user.ID, MailboxID: mailbox.ID}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "mailbox_id"}},
		DoNothing: true,
	}).Create(&binding).Error
	if err != nil && !isUniqueViolation(err) {
		return s.storeErr("insert binding", err)
	}
	return nil
}

// UserMailboxes 返回用户绑定的全部邮箱，置顶优先、新建优先
func (s *Store) UserMailboxes(ctx context.Context, userID int64) ([]domain.MailboxListItem, error) {
	items := make([]domain.MailboxListItem, 0)
	if err := s.ownMailboxesQuery(ctx, userID).Scan(&items).Error; err != nil {
		return nil, s.storeErr("user mailboxes", err)
	}
	return items, nil
}

// EnsureAdminUser 返回用户名对应的用户 ID，不存在时创建管理员账户
func (s *Store) EnsureAdminUser(ctx context.Context, username string) (int64, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err == nil {
		return user.ID, nil
	}
	if !apperr.Is(err, apperr.CodeNotFound) {
		return 0, err
	}

	created := &domain.User{
		Username:     strings.ToLower(strings.TrimSpace(username)),
		Role:         domain.RoleAdmin,
		CanSend:      true,
		MailboxLimit: adminMailboxLimit,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoNothing: true,
	}).Create(created).Error
	if err != nil && !isUniqueViolation(err) {
		return 0, s.storeErr("create admin user", err)
	}

	user, err = s.GetUserByUsername(ctx, username)
	if err != nil {
		return 0, err
	}
	return user.ID, nil
}

// Quota 返回用户已用与上限；用户不存在时上限为 0
func (s *Store) Quota(ctx context.Context, userID int64) (domain.Quota, error) {
	var quota domain.Quota
	db := s.db.WithContext(ctx)

	var limits []int
	if err := db.Model(&domain.User{}).Where("id = ?", userID).Limit(1).Pluck("mailbox_limit", &limits).Error; err != nil {
		return quota, s.storeErr("quota limit", err)
	}
	if len(limits) > 0 {
		quota.Limit = limits[0]
	}
	if err := db.Model(&domain.UserMailbox{}).Where("user_id = ?", userID).Count(&quota.Used).Error; err != nil {
		return quota, s.storeErr("quota used", err)
	}
	return quota, nil
}
