package domain

import (
	"time"
)

// Mailbox 表示一个被系统跟踪的邮件地址，拥有独立的登录与密码状态。
//
// PasswordHash 为 nil 表示"密码等于邮箱地址本身"，而不是"没有密码"。
type Mailbox struct {
	ID             int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	Address        string     `json:"address" gorm:"type:varchar(255);uniqueIndex;not null"`
	LocalPart      string     `json:"local_part" gorm:"type:varchar(128);not null"`
	Domain         string     `json:"domain" gorm:"type:varchar(255);not null;index"`
	PasswordHash   *string    `json:"-" gorm:"type:varchar(255)"`
	CanLogin       bool       `json:"can_login" gorm:"not null"`
	IsPinned       bool       `json:"is_pinned" gorm:"not null"` // 旧字段，已被按用户置顶取代
	CreatedAt      time.Time  `json:"created_at" gorm:"index"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

func (Mailbox) TableName() string { return "mailboxes" }

// PasswordIsDefault 报告邮箱是否仍使用地址作为密码
func (m *Mailbox) PasswordIsDefault() bool {
	return m.PasswordHash == nil || *m.PasswordHash == ""
}

// MailboxListItem 是 /api/mailboxes 与用户邮箱列表的行结构
type MailboxListItem struct {
	Address           string    `json:"address"`
	CreatedAt         time.Time `json:"created_at"`
	IsPinned          bool      `json:"is_pinned"`
	PasswordIsDefault bool      `json:"password_is_default"`
	CanLogin          bool      `json:"can_login"`
}

// MailboxQuery 描述邮箱列表的分页与搜索参数
type MailboxQuery struct {
	Limit  int
	Offset int
	Search string // 已去除 % 与 _ 的小写关键字
}
