package domain

import "time"

// 发件状态
const (
	SentStatusQueued    = "queued"
	SentStatusDelivered = "delivered"
	SentStatusCanceled  = "canceled"
)

// SentEmail 记录一次经发件服务商成功提交的外发邮件
type SentEmail struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ResendID    *string   `json:"resend_id" gorm:"type:varchar(128);index"`
	FromName    *string   `json:"from_name" gorm:"type:varchar(255)"`
	FromAddr    string    `json:"from_addr" gorm:"type:varchar(255);not null;index"`
	ToAddrs     string    `json:"recipients" gorm:"type:text;not null"`
	Subject     string    `json:"subject" gorm:"type:varchar(998);not null"`
	HTMLContent *string   `json:"html_content,omitempty" gorm:"type:text"`
	TextContent *string   `json:"text_content,omitempty" gorm:"type:text"`
	Status      string    `json:"status" gorm:"type:varchar(32);not null;default:'queued';index:idx_sent_status_created,priority:1"`
	ScheduledAt *string   `json:"scheduled_at" gorm:"type:varchar(64)"`
	CreatedAt   time.Time `json:"created_at" gorm:"index:idx_sent_status_created,priority:2"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (SentEmail) TableName() string { return "sent_emails" }

// SentEmailSummary 是发件记录列表的行
type SentEmailSummary struct {
	ID        int64     `json:"id"`
	ResendID  *string   `json:"resend_id"`
	ToAddrs   string    `json:"recipients"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
}

// SentEmailUpdate 只允许更新状态与定时时间，nil 表示不修改
type SentEmailUpdate struct {
	Status      *string
	ScheduledAt *string
}
