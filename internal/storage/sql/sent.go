package sql

import (
	"context"
	"strings"
	"time"

	"mailfree/backend/internal/apperr"
	"mailfree/backend/internal/domain"
)

// MsgSentNotFound 发件记录不存在
const MsgSentNotFound = "未找到发件"

// ========== Sent Repository ==========

// RecordSent 记录一次已提交的外发邮件
func (s *Store) RecordSent(ctx context.Context, sent *domain.SentEmail) error {
	sent.FromAddr = strings.ToLower(strings.TrimSpace(sent.FromAddr))
	if sent.Status == "" {
		sent.Status = domain.SentStatusQueued
	}
	return s.storeErr("record sent", s.db.WithContext(ctx).Create(sent).Error)
}

// UpdateSent 按服务商 ID 更新状态与定时时间，其余字段不可修改
func (s *Store) UpdateSent(ctx context.Context, resendID string, upd domain.SentEmailUpdate) error {
	if resendID == "" {
		return nil
	}
	updates := make(map[string]interface{}, 3)
	if upd.Status != nil {
		updates["status"] = *upd.Status
	}
	if upd.ScheduledAt != nil {
		updates["scheduled_at"] = *upd.ScheduledAt
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()

	err := s.db.WithContext(ctx).Model(&domain.SentEmail{}).
		Where("resend_id = ?", resendID).
		Updates(updates).Error
	return s.storeErr("update sent", err)
}

// ListSent 按发件地址列出最近的发件记录
func (s *Store) ListSent(ctx context.Context, from string, limit int) ([]domain.SentEmailSummary, error) {
	items := make([]domain.SentEmailSummary, 0)
	err := s.db.WithContext(ctx).Model(&domain.SentEmail{}).
		Select("id, resend_id, to_addrs, subject, created_at, status").
		Where("from_addr = ?", strings.ToLower(strings.TrimSpace(from))).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Scan(&items).Error
	if err != nil {
		return nil, s.storeErr("list sent", err)
	}
	return items, nil
}

// GetSent 获取单条发件记录
func (s *Store) GetSent(ctx context.Context, id int64) (*domain.SentEmail, error) {
	var sent domain.SentEmail
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sent).Error; err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound(MsgSentNotFound)
		}
		return nil, s.storeErr("get sent", err)
	}
	return &sent, nil
}

// DeleteSent 删除发件记录
func (s *Store) DeleteSent(ctx context.Context, id int64) error {
	return s.storeErr("delete sent", s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.SentEmail{}).Error)
}
