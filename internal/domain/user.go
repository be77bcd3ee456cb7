package domain

import "time"

// 用户角色
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
	// RoleMailbox 仅出现在会话身份中，表示邮箱登录
	RoleMailbox = "mailbox"
)

// RootUsername 是根管理员会话使用的保留用户名
const RootUsername = "__root__"

// DefaultMailboxLimit 是未指定时的用户邮箱上限
const DefaultMailboxLimit = 10

// 用户管理的面向操作者消息，真实存储与演示存储共用
const (
	MsgUsernameRequired = "用户名不能为空"
	MsgUsernameTaken    = "用户名已存在"
	MsgUserMissing      = "未找到用户"
	MsgAssignUserAbsent = "用户不存在"
	MsgQuotaReached     = "已达到邮箱上限"
)

// User 表示可以管理邮箱、在授权后发件的账户。
// admin 角色是完整管理权限的必要而非充分条件。
type User struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username" gorm:"type:varchar(64);uniqueIndex;not null"`
	PasswordHash *string   `json:"-" gorm:"type:varchar(255)"`
	Role         string    `json:"role" gorm:"type:varchar(16);not null;default:'user'"`
	CanSend      bool      `json:"can_send" gorm:"not null"`
	MailboxLimit int       `json:"mailbox_limit" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at" gorm:"index"`
}

func (User) TableName() string { return "users" }

// UserWithCount 是用户列表的行，附带已绑定邮箱数量
type UserWithCount struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	CanSend      bool      `json:"can_send"`
	MailboxLimit int       `json:"mailbox_limit"`
	CreatedAt    time.Time `json:"created_at"`
	MailboxCount int64     `json:"mailbox_count"`
}

// CreateUserInput 创建用户的参数
type CreateUserInput struct {
	Username     string
	PasswordHash *string
	Role         string
	MailboxLimit int
	CanSend      bool
}

// UserPatch 更新用户的可选字段，nil 表示不修改
type UserPatch struct {
	Role         *string
	MailboxLimit *int
	CanSend      *bool
	PasswordHash *string
}

// Empty 报告补丁是否不包含任何字段
func (p UserPatch) Empty() bool {
	return p.Role == nil && p.MailboxLimit == nil && p.CanSend == nil && p.PasswordHash == nil
}

// NormalizeRole 把任意角色字符串收敛为 user 或 admin
func NormalizeRole(role string) string {
	if role == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// Quota 是 /api/user/quota 的响应
type Quota struct {
	Used  int64 `json:"used"`
	Limit int   `json:"limit"`
}
