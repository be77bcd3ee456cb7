package domain

import "time"

// UserMailbox 表示"该邮箱出现在该用户的列表中"，置顶状态按绑定保存。
// (user_id, mailbox_id) 唯一，随任一端删除级联删除。
type UserMailbox struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    int64     `json:"user_id" gorm:"not null;uniqueIndex:idx_user_mailbox,priority:1"`
	MailboxID int64     `json:"mailbox_id" gorm:"not null;uniqueIndex:idx_user_mailbox,priority:2;index"`
	User      *User     `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	Mailbox   *Mailbox  `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	IsPinned  bool      `json:"is_pinned" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (UserMailbox) TableName() string { return "user_mailboxes" }

// AssignInput 描述一次邮箱分配：UserID 与 Username 至少提供一个
type AssignInput struct {
	UserID   int64
	Username string
	Address  string
}

// PinResult 是置顶切换后的状态
type PinResult struct {
	IsPinned bool `json:"is_pinned"`
}
