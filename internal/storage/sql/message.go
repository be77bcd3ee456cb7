package sql

import (
	"context"
	"time"

	"gorm.io/gorm"

	"mailfree/backend/internal/apperr"
	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/storage"
)

const (
	// 列表接口最多返回的邮件数
	messageListLimit = 50

	MsgMessageNotFound = "未找到邮件"
	msgOwnerNotFound   = "邮件不存在"
)

// messageRow 在 Message 之上补充旧表结构中的正文列，仅用于写入
type messageRow struct {
	domain.Message
	Content     *string `gorm:"column:content"`
	HTMLContent *string `gorm:"column:html_content"`
}

func (messageRow) TableName() string { return "messages" }

// ========== Message Repository ==========

// InsertMessage 写入一封入站邮件，写入的列由启动时探测到的能力集合决定
func (s *Store) InsertMessage(ctx context.Context, msg *storage.NewMessage) (int64, error) {
	caps := s.caps
	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	row := messageRow{Message: domain.Message{
		MailboxID:  msg.MailboxID,
		Sender:     msg.Sender,
		Subject:    msg.Subject,
		ReceivedAt: receivedAt.UTC(),
	}}
	columns := []string{"mailbox_id", "sender", "subject", "received_at", "is_read"}

	if caps.ToAddrs {
		row.ToAddrs = msg.ToAddrs
		columns = append(columns, "to_addrs")
	}
	if caps.VerificationCode {
		row.VerificationCode = nonEmpty(msg.VerificationCode)
		columns = append(columns, "verification_code")
	}
	if caps.Preview {
		row.Preview = nonEmpty(msg.Preview)
		columns = append(columns, "preview")
	}
	if caps.R2Bucket {
		row.R2Bucket = msg.Bucket
		columns = append(columns, "r2_bucket")
	}
	if caps.R2ObjectKey {
		row.R2ObjectKey = msg.ObjectKey
		columns = append(columns, "r2_object_key")
	}
	if caps.WritesContent() {
		content := msg.Content
		row.Content = &content
		columns = append(columns, "content")
	}
	if caps.HTMLContent {
		row.HTMLContent = nonEmpty(msg.HTMLContent)
		columns = append(columns, "html_content")
	}

	if err := s.db.WithContext(ctx).Select(columns).Create(&row).Error; err != nil {
		return 0, s.storeErr("insert message", err)
	}
	return row.ID, nil
}

// visible 为查询追加可见时间窗
func visible(tx *gorm.DB, vis domain.Visibility) *gorm.DB {
	if !vis.ReceivedAfter.IsZero() {
		return tx.Where("received_at >= ?", vis.ReceivedAfter.UTC())
	}
	return tx
}

// summaryColumns 根据能力集合选择列表列；缺少 preview 列时从旧正文截取
func (s *Store) summaryColumns() string {
	cols := "id, sender, subject, received_at, is_read"
	switch {
	case s.caps.Preview:
		cols += ", preview"
	case s.caps.Content:
		cols += ", SUBSTR(COALESCE(content, ''), 1, 120) AS preview"
	default:
		cols += ", NULL AS preview"
	}
	if s.caps.VerificationCode {
		cols += ", verification_code"
	} else {
		cols += ", NULL AS verification_code"
	}
	return cols
}

// ListMessages 返回邮箱内最近的邮件，按接收时间倒序，最多 50 封
func (s *Store) ListMessages(ctx context.Context, mailboxID int64, vis domain.Visibility) ([]domain.MessageSummary, error) {
	items := make([]domain.MessageSummary, 0)
	tx := s.db.WithContext(ctx).Model(&domain.Message{}).
		Select(s.summaryColumns()).
		Where("mailbox_id = ?", mailboxID)
	err := visible(tx, vis).
		Order("received_at DESC").Order("id DESC").
		Limit(messageListLimit).
		Scan(&items).Error
	if err != nil {
		return nil, s.storeErr("list messages", err)
	}
	return items, nil
}

// GetMessages 批量获取邮件
func (s *Store) GetMessages(ctx context.Context, ids []int64, vis domain.Visibility) ([]domain.Message, error) {
	messages := make([]domain.Message, 0, len(ids))
	if len(ids) == 0 {
		return messages, nil
	}
	tx := s.db.WithContext(ctx).Where("id IN ?", ids)
	if err := visible(tx, vis).Find(&messages).Error; err != nil {
		return nil, s.storeErr("batch messages", err)
	}
	return messages, nil
}

// GetMessage 获取单封邮件
func (s *Store) GetMessage(ctx context.Context, id int64, vis domain.Visibility) (*domain.Message, error) {
	var message domain.Message
	tx := s.db.WithContext(ctx).Where("id = ?", id)
	if err := visible(tx, vis).First(&message).Error; err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound(MsgMessageNotFound)
		}
		return nil, s.storeErr("get message", err)
	}
	return &message, nil
}

// MarkMessageRead 将邮件标记为已读
func (s *Store) MarkMessageRead(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ?", id).
		Update("is_read", true).Error
	return s.storeErr("mark read", err)
}

// MessageOwner 返回邮件所属邮箱 ID
func (s *Store) MessageOwner(ctx context.Context, id int64) (int64, error) {
	var owners []int64
	err := s.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ?", id).Limit(1).Pluck("mailbox_id", &owners).Error
	if err != nil {
		return 0, s.storeErr("message owner", err)
	}
	if len(owners) == 0 {
		return 0, apperr.NotFound(msgOwnerNotFound)
	}
	return owners[0], nil
}

// LegacyBody 读取旧表结构中保存在 messages 表里的正文
func (s *Store) LegacyBody(ctx context.Context, id int64) (domain.LegacyBody, error) {
	var body domain.LegacyBody
	if !s.caps.Legacy() {
		return body, nil
	}
	cols := "'' AS content"
	if s.caps.Content {
		cols = "COALESCE(content, '') AS content"
	}
	if s.caps.HTMLContent {
		cols += ", COALESCE(html_content, '') AS html_content"
	} else {
		cols += ", '' AS html_content"
	}
	var row struct {
		Content     string
		HTMLContent string `gorm:"column:html_content"`
	}
	err := s.db.WithContext(ctx).Table("messages").Select(cols).Where("id = ?", id).Limit(1).Scan(&row).Error
	if err != nil {
		return body, s.storeErr("legacy body", err)
	}
	body.Content = row.Content
	body.HTMLContent = row.HTMLContent
	return body, nil
}

// DeleteMessage 删除单封邮件，返回是否确实删除
func (s *Store) DeleteMessage(ctx context.Context, id int64) (bool, error) {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Message{})
	if result.Error != nil {
		return false, s.storeErr("delete message", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ClearMessages 清空邮箱，返回实际删除数量与删除前数量
func (s *Store) ClearMessages(ctx context.Context, mailboxID int64) (int64, int64, error) {
	db := s.db.WithContext(ctx)
	var before int64
	if err := db.Model(&domain.Message{}).Where("mailbox_id = ?", mailboxID).Count(&before).Error; err != nil {
		return 0, 0, s.storeErr("count messages", err)
	}
	if err := db.Where("mailbox_id = ?", mailboxID).Delete(&domain.Message{}).Error; err != nil {
		return 0, 0, s.storeErr("clear messages", err)
	}
	var after int64
	if err := db.Model(&domain.Message{}).Where("mailbox_id = ?", mailboxID).Count(&after).Error; err != nil {
		return 0, 0, s.storeErr("count messages", err)
	}
	return before - after, before, nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
