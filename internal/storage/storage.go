package storage

import (
	"context"
	"time"

	"mailfree/backend/internal/domain"
)

// MailboxUserStore 是用户管理路由所需的能力集合。
// 真实存储与演示存储都实现它，路由不区分由谁应答。
type MailboxUserStore interface {
	ListUsers(ctx context.Context, limit, offset int) ([]domain.UserWithCount, error)
	CreateUser(ctx context.Context, in domain.CreateUserInput) (*domain.User, error)
	UpdateUser(ctx context.Context, id int64, patch domain.UserPatch) error
	DeleteUser(ctx context.Context, id int64) error
	AssignMailbox(ctx context.Context, in domain.AssignInput) error
	UserMailboxes(ctx context.Context, userID int64) ([]domain.MailboxListItem, error)
}

// MailboxRepository 定义邮箱生命周期与绑定相关操作。
type MailboxRepository interface {
	// GetOrCreateMailbox 规范化并校验地址，命中时刷新 last_accessed_at
	GetOrCreateMailbox(ctx context.Context, address string) (*domain.Mailbox, error)
	// MailboxIDByAddress 只读查询，不存在时返回 0
	MailboxIDByAddress(ctx context.Context, address string) (int64, error)
	GetMailboxByAddress(ctx context.Context, address string) (*domain.Mailbox, error)
	// ListAllMailboxes 返回全部邮箱，置顶状态取 viewerID 自己的绑定
	ListAllMailboxes(ctx context.Context, viewerID int64, q domain.MailboxQuery) ([]domain.MailboxListItem, error)
	// ListOwnMailboxes 只返回 userID 绑定的邮箱
	ListOwnMailboxes(ctx context.Context, userID int64, q domain.MailboxQuery) ([]domain.MailboxListItem, error)
	TogglePin(ctx context.Context, address string, userID int64) (domain.PinResult, error)
	IsBound(ctx context.Context, userID, mailboxID int64) (bool, error)
	// DeleteMailbox 在事务中删除邮件与邮箱，返回邮箱是否已不存在
	DeleteMailbox(ctx context.Context, mailboxID int64) (bool, error)
	ResetMailboxPassword(ctx context.Context, address string) error
	SetMailboxPassword(ctx context.Context, mailboxID int64, passwordHash string) error
	SetCanLogin(ctx context.Context, address string, canLogin bool) error
}

// UserRepository 定义用户查询与配额相关操作。
type UserRepository interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	// EnsureAdminUser 返回指定用户名的用户 ID，不存在时以管理员身份创建
	EnsureAdminUser(ctx context.Context, username string) (int64, error)
	Quota(ctx context.Context, userID int64) (domain.Quota, error)
}

// MessageRepository 定义邮件查询与删除操作。
type MessageRepository interface {
	ListMessages(ctx context.Context, mailboxID int64, vis domain.Visibility) ([]domain.MessageSummary, error)
	GetMessages(ctx context.Context, ids []int64, vis domain.Visibility) ([]domain.Message, error)
	GetMessage(ctx context.Context, id int64, vis domain.Visibility) (*domain.Message, error)
	MarkMessageRead(ctx context.Context, id int64) error
	// MessageOwner 返回邮件所属邮箱 ID
	MessageOwner(ctx context.Context, id int64) (int64, error)
	LegacyBody(ctx context.Context, id int64) (domain.LegacyBody, error)
	// DeleteMessage 返回是否确实删除了一行
	DeleteMessage(ctx context.Context, id int64) (bool, error)
	// ClearMessages 返回删除数量与删除前数量
	ClearMessages(ctx context.Context, mailboxID int64) (deleted, previous int64, err error)
}

// SentRepository 定义发件记录操作。
type SentRepository interface {
	RecordSent(ctx context.Context, sent *domain.SentEmail) error
	UpdateSent(ctx context.Context, resendID string, upd domain.SentEmailUpdate) error
	ListSent(ctx context.Context, from string, limit int) ([]domain.SentEmailSummary, error)
	GetSent(ctx context.Context, id int64) (*domain.SentEmail, error)
	DeleteSent(ctx context.Context, id int64) error
}

// NewMessage 是入站邮件写库所需的字段
type NewMessage struct {
	MailboxID        int64
	Sender           string
	ToAddrs          string
	Subject          string
	VerificationCode string
	Preview          string
	Bucket           string
	ObjectKey        string
	// Content 与 HTMLContent 只在旧表结构存在对应列时写入
	Content     string
	HTMLContent string
	ReceivedAt  time.Time
}

// InboundRepository 是入站处理所需的最小能力
type InboundRepository interface {
	GetOrCreateMailbox(ctx context.Context, address string) (*domain.Mailbox, error)
	InsertMessage(ctx context.Context, msg *NewMessage) (int64, error)
	Capabilities() Capabilities
}

// Store 是完整的关系型存储
type Store interface {
	MailboxUserStore
	MailboxRepository
	UserRepository
	MessageRepository
	SentRepository
	InsertMessage(ctx context.Context, msg *NewMessage) (int64, error)
	Capabilities() Capabilities
	Health() error
	Close() error
}

// Capabilities 是启动时对 messages 表结构的探测结果
type Capabilities struct {
	ToAddrs          bool
	VerificationCode bool
	Preview          bool
	R2Bucket         bool
	R2ObjectKey      bool
	Content          bool
	ContentNotNull   bool
	HTMLContent      bool
}

// FromColumns 根据列名集合与 content 列是否 NOT NULL 构造能力集合
func FromColumns(cols map[string]bool, contentNotNull bool) Capabilities {
	return Capabilities{
		ToAddrs:          cols["to_addrs"],
		VerificationCode: cols["verification_code"],
		Preview:          cols["preview"],
		R2Bucket:         cols["r2_bucket"],
		R2ObjectKey:      cols["r2_object_key"],
		Content:          cols["content"],
		ContentNotNull:   cols["content"] && contentNotNull,
		HTMLContent:      cols["html_content"],
	}
}

// WritesContent 报告插入时是否需要写 content 列
func (c Capabilities) WritesContent() bool {
	return c.Content || c.ContentNotNull
}

// Legacy 报告是否仍是旧表结构（正文存于 messages 表中）
func (c Capabilities) Legacy() bool {
	return c.Content || c.HTMLContent
}
