package domain

import "time"

// DefaultBucket 是邮件原文对象默认所在的桶
const DefaultBucket = "mail-eml"

// Message 表示一封已入库的邮件，完整原文保存在对象存储中。
type Message struct {
	ID               int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	MailboxID        int64     `json:"mailbox_id" gorm:"not null;index:idx_messages_mailbox_received,priority:1"`
	Mailbox          *Mailbox  `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	Sender           string    `json:"sender" gorm:"type:varchar(255);not null"`
	ToAddrs          string    `json:"to_addrs" gorm:"type:text"`
	Subject          string    `json:"subject" gorm:"type:varchar(998);not null"`
	VerificationCode *string   `json:"verification_code" gorm:"type:varchar(16)"`
	Preview          *string   `json:"preview" gorm:"type:varchar(512)"`
	R2Bucket         string    `json:"r2_bucket" gorm:"column:r2_bucket;type:varchar(64);default:'mail-eml'"`
	R2ObjectKey      string    `json:"r2_object_key" gorm:"column:r2_object_key;type:varchar(512)"`
	ReceivedAt       time.Time `json:"received_at" gorm:"not null;index:idx_messages_mailbox_received,priority:2"`
	IsRead           bool      `json:"is_read" gorm:"not null"`
}

func (Message) TableName() string { return "messages" }

// MessageSummary 是邮件列表接口返回的行
type MessageSummary struct {
	ID               int64     `json:"id"`
	Sender           string    `json:"sender"`
	Subject          string    `json:"subject"`
	ReceivedAt       time.Time `json:"received_at"`
	IsRead           bool      `json:"is_read"`
	Preview          *string   `json:"preview"`
	VerificationCode *string   `json:"verification_code"`
}

// MessageDetail 是邮件详情接口返回的结构，正文从原文对象解析得到
type MessageDetail struct {
	Message
	Content     string `json:"content"`
	HTMLContent string `json:"html_content"`
	Download    string `json:"download"`
}

// LegacyBody 保存旧表结构中直接存放在 messages 表里的正文
type LegacyBody struct {
	Content     string
	HTMLContent string
}

// Visibility 描述邮件查询的可见范围
type Visibility struct {
	// ReceivedAfter 非零时只返回该时间之后收到的邮件
	ReceivedAfter time.Time
}

// InboundMail 是入站邮件的最小载荷
type InboundMail struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

// EventNewMail 是新邮件推送事件的类型
const EventNewMail = "new_mail"

// NewMailEvent 是入站邮件写库后推送给订阅者的事件
type NewMailEvent struct {
	Type             string    `json:"type"`
	Mailbox          string    `json:"mailbox"`
	ID               int64     `json:"id"`
	Sender           string    `json:"sender"`
	Subject          string    `json:"subject"`
	Preview          string    `json:"preview"`
	VerificationCode string    `json:"verification_code"`
	ReceivedAt       time.Time `json:"received_at"`
}
