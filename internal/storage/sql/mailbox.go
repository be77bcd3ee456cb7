package sql

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailfree/backend/internal/apperr"
	"mailfree/backend/internal/domain"
)

const (
	msgMailboxNotFound = "邮箱不存在"
	// 地址列表公共列，password_is_default 以布尔表达式计算
	mailboxListColumns = "m.address, m.created_at, m.can_login, " +
		"(m.password_hash IS NULL OR m.password_hash = '') AS password_is_default"
)

// ========== Mailbox Repository ==========

// GetOrCreateMailbox 查询或创建邮箱；已存在时刷新最后访问时间
func (s *Store) GetOrCreateMailbox(ctx context.Context, raw string) (*domain.Mailbox, error) {
	address, local, dom, err := domain.NormalizeAddress(raw)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	now := time.Now().UTC()

	var mailbox domain.Mailbox
	err = db.Where("address = ?", address).First(&mailbox).Error
	if err == nil {
		if err := db.Model(&mailbox).Update("last_accessed_at", now).Error; err != nil {
			return nil, s.storeErr("touch mailbox", err)
		}
		mailbox.LastAccessedAt = &now
		return &mailbox, nil
	}
	if !isNotFound(err) {
		return nil, s.storeErr("get mailbox", err)
	}

	mailbox = domain.Mailbox{
		Address:        address,
		LocalPart:      local,
		Domain:         dom,
		LastAccessedAt: &now,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoNothing: true,
	}).Create(&mailbox)
	if result.Error != nil && !isUniqueViolation(result.Error) {
		return nil, s.storeErr("create mailbox", result.Error)
	}
	if result.Error == nil && result.RowsAffected > 0 && mailbox.ID != 0 {
		return &mailbox, nil
	}

	// 并发插入被唯一约束吞掉时回读
	var existing domain.Mailbox
	if err := db.Where("address = ?", address).First(&existing).Error; err != nil {
		return nil, s.storeErr("reload mailbox", err)
	}
	return &existing, nil
}

// MailboxIDByAddress 只读查询邮箱 ID，不存在时返回 0
func (s *Store) MailboxIDByAddress(ctx context.Context, raw string) (int64, error) {
	address := strings.ToLower(strings.TrimSpace(raw))
	if address == "" {
		return 0, nil
	}
	var ids []int64
	err := s.db.WithContext(ctx).Model(&domain.Mailbox{}).
		Where("address = ?", address).Limit(1).Pluck("id", &ids).Error
	if err != nil {
		return 0, s.storeErr("lookup mailbox id", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}

// GetMailboxByAddress 根据完整地址获取邮箱
func (s *Store) GetMailboxByAddress(ctx context.Context, raw string) (*domain.Mailbox, error) {
	address := strings.ToLower(strings.TrimSpace(raw))
	var mailbox domain.Mailbox
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&mailbox).Error
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound(msgMailboxNotFound)
		}
		return nil, s.storeErr("get mailbox", err)
	}
	return &mailbox, nil
}

// ListAllMailboxes 列出全部邮箱，置顶状态来自 viewerID 自己的绑定，未绑定视为未置顶
func (s *Store) ListAllMailboxes(ctx context.Context, viewerID int64, q domain.MailboxQuery) ([]domain.MailboxListItem, error) {
	items := make([]domain.MailboxListItem, 0)
	tx := s.db.WithContext(ctx).Table("mailboxes AS m").
		Select(mailboxListColumns+", COALESCE(um.is_pinned, ?) AS is_pinned", false).
		Joins("LEFT JOIN user_mailboxes um ON um.mailbox_id = m.id AND um.user_id = ?", viewerID)
	if q.Search != "" {
		tx = tx.Where("LOWER(m.address) LIKE ?", "%"+q.Search+"%")
	}
	err := tx.Order("is_pinned DESC").Order("m.created_at DESC").Order("m.id DESC").
		Limit(q.Limit).Offset(q.Offset).
		Scan(&items).Error
	if err != nil {
		return nil, s.storeErr("list all mailboxes", err)
	}
	return items, nil
}

// ListOwnMailboxes 列出用户绑定的邮箱，置顶优先、新建优先
func (s *Store) ListOwnMailboxes(ctx context.Context, userID int64, q domain.MailboxQuery) ([]domain.MailboxListItem, error) {
	items := make([]domain.MailboxListItem, 0)
	tx := s.ownMailboxesQuery(ctx, userID)
	if q.Search != "" {
		tx = tx.Where("LOWER(m.address) LIKE ?", "%"+q.Search+"%")
	}
	if err := tx.Limit(q.Limit).Offset(q.Offset).Scan(&items).Error; err != nil {
		return nil, s.storeErr("list own mailboxes", err)
	}
	return items, nil
}

func (s *Store) ownMailboxesQuery(ctx context.Context, userID int64) *gorm.DB {
	return s.db.WithContext(ctx).Table("user_mailboxes AS um").
		Select(mailboxListColumns+", um.is_pinned").
		Joins("JOIN mailboxes m ON m.id = um.mailbox_id").
		Where("um.user_id = ?", userID).
		Order("um.is_pinned DESC").Order("m.created_at DESC").Order("m.id DESC")
}

// TogglePin 切换用户对邮箱的置顶状态；尚无绑定时创建一条已置顶的绑定
func (s *Store) TogglePin(ctx context.Context, raw string, userID int64) (domain.PinResult, error) {
	address := strings.ToLower(strings.TrimSpace(raw))
	if address == "" {
		return domain.PinResult{}, apperr.Validation(domain.MsgInvalidAddress)
	}
	if userID == 0 {
		return domain.PinResult{}, apperr.Unauthorized("未登录")
	}

	mailboxID, err := s.MailboxIDByAddress(ctx, address)
	if err != nil {
		return domain.PinResult{}, err
	}
	if mailboxID == 0 {
		return domain.PinResult{}, apperr.NotFound(msgMailboxNotFound)
	}

	db := s.db.WithContext(ctx)
	var binding domain.UserMailbox
	err = db.Where("user_id = ? AND mailbox_id = ?", userID, mailboxID).First(&binding).Error
	if isNotFound(err) {
		binding = domain.UserMailbox{UserID: userID, MailboxID: mailboxID, IsPinned: true}
		if err := db.Create(&binding).Error; err != nil {
			return domain.PinResult{}, s.storeErr("create pin binding", err)
		}
		return domain.PinResult{IsPinned: true}, nil
	}
	if err != nil {
		return domain.PinResult{}, s.storeErr("get binding", err)
	}

	pinned := !binding.IsPinned
	err = db.Model(&domain.UserMailbox{}).
		Where("user_id = ? AND mailbox_id = ?", userID, mailboxID).
		Update("is_pinned", pinned).Error
	if err != nil {
		return domain.PinResult{}, s.storeErr("toggle pin", err)
	}
	return domain.PinResult{IsPinned: pinned}, nil
}

// IsBound 判断邮箱是否绑定在用户名下
func (s *Store) IsBound(ctx context.Context, userID, mailboxID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.UserMailbox{}).
		Where("user_id = ? AND mailbox_id = ?", userID, mailboxID).
		Count(&count).Error
	if err != nil {
		return false, s.storeErr("check binding", err)
	}
	return count > 0, nil
}

// DeleteMailbox 在事务中删除邮箱及其邮件、绑定，返回邮箱是否已不存在
func (s *Store) DeleteMailbox(ctx context.Context, mailboxID int64) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("mailbox_id = ?", mailboxID).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("mailbox_id = ?", mailboxID).Delete(&domain.UserMailbox{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", mailboxID).Delete(&domain.Mailbox{}).Error
	})
	if err != nil {
		return false, s.storeErr("delete mailbox", err)
	}

	var remaining int64
	if err := s.db.WithContext(ctx).Model(&domain.Mailbox{}).Where("id = ?", mailboxID).Count(&remaining).Error; err != nil {
		return false, s.storeErr("verify mailbox delete", err)
	}
	return remaining == 0, nil
}

// ResetMailboxPassword 清空邮箱密码，恢复为"地址即密码"
func (s *Store) ResetMailboxPassword(ctx context.Context, raw string) error {
	address := strings.ToLower(strings.TrimSpace(raw))
	err := s.db.WithContext(ctx).Model(&domain.Mailbox{}).
		Where("address = ?", address).
		Update("password_hash", nil).Error
	return s.storeErr("reset mailbox password", err)
}

// SetMailboxPassword 设置邮箱密码哈希
func (s *Store) SetMailboxPassword(ctx context.Context, mailboxID int64, passwordHash string) error {
	err := s.db.WithContext(ctx).Model(&domain.Mailbox{}).
		Where("id = ?", mailboxID).
		Update("password_hash", passwordHash).Error
	return s.storeErr("set mailbox password", err)
}

// SetCanLogin 设置邮箱是否允许登录
func (s *Store) SetCanLogin(ctx context.Context, raw string, canLogin bool) error {
	address := strings.ToLower(strings.TrimSpace(raw))
	id, err := s.MailboxIDByAddress(ctx, address)
	if err != nil {
		return err
	}
	if id == 0 {
		return apperr.NotFound(msgMailboxNotFound)
	}
	err = s.db.WithContext(ctx).Model(&domain.Mailbox{}).
		Where("id = ?", id).
		Update("can_login", canLogin).Error
	return s.storeErr("set can_login", err)
}
