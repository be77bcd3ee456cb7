package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"mailfree/backend/internal/domain"
)

// SessionCookie 是保存会话令牌的 Cookie 名
const SessionCookie = "iding-session"

// Identity 是已解析的调用方身份。
// 用户会话携带 UserID；邮箱会话携带 MailboxAddress 与 MailboxID。
type Identity struct {
	Username       string `json:"username"`
	Role           string `json:"role"`
	UserID         int64  `json:"userId,omitempty"`
	MailboxAddress string `json:"mailboxAddress,omitempty"`
	MailboxID      int64  `json:"mailboxId,omitempty"`
}

// UnmarshalJSON 兼容数字与字符串两种形式的 userId / mailboxId
func (i *Identity) UnmarshalJSON(data []byte) error {
	var raw struct {
		Username       string          `json:"username"`
		Role           string          `json:"role"`
		UserID         json.RawMessage `json:"userId"`
		MailboxAddress string          `json:"mailboxAddress"`
		MailboxID      json.RawMessage `json:"mailboxId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	i.Username = raw.Username
	i.Role = raw.Role
	i.MailboxAddress = raw.MailboxAddress
	i.UserID = parseLooseID(raw.UserID)
	i.MailboxID = parseLooseID(raw.MailboxID)
	return nil
}

func parseLooseID(raw json.RawMessage) int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

type identityKey struct{}

// WithIdentity 把上游已验证的身份放入请求上下文
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// VerifiedIdentity 返回上游已验证的身份，不存在时返回 nil
func VerifiedIdentity(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// Resolve 解析调用方身份。
//
// 优先使用上游信任边界放入上下文的已验证身份；否则从 Cookie 中的会话令牌
// 解码载荷。解码路径不校验签名，任何失败都返回 nil。
func Resolve(r *http.Request) *Identity {
	if id := VerifiedIdentity(r.Context()); id != nil {
		return id
	}
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil
	}
	return DecodePayload(cookie.Value)
}

// DecodePayload 解码三段式令牌的中间段，失败时返回 nil
func DecodePayload(token string) *Identity {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil
	}
	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return nil
	}
	var id Identity
	if err := json.Unmarshal(payload, &id); err != nil {
		return nil
	}
	return &id
}

// Tier 是授权层级，数值越大权限越高
type Tier int

const (
	TierGuest Tier = iota
	TierMailbox
	TierUser
	TierDelegatedAdmin
	TierStrictAdmin
)

func (t Tier) String() string {
	switch t {
	case TierMailbox:
		return "mailbox"
	case TierUser:
		return "user"
	case TierDelegatedAdmin:
		return "delegated_admin"
	case TierStrictAdmin:
		return "strict_admin"
	default:
		return "guest"
	}
}

// Classifier 根据配置的管理员名把身份归类为授权层级
type Classifier struct {
	AdminName string
}

// IsStrictAdmin 判断身份是否为严格管理员：
// role 为 admin，且用户名为根账户或等于配置的管理员名（未配置时任意 admin 均满足）。
func (c Classifier) IsStrictAdmin(id *Identity) bool {
	if id == nil || id.Role != domain.RoleAdmin {
		return false
	}
	if id.Username == domain.RootUsername {
		return true
	}
	if c.AdminName != "" {
		return strings.EqualFold(id.Username, c.AdminName)
	}
	return true
}

// IsMailboxSession 判断身份是否为邮箱会话
func (c Classifier) IsMailboxSession(id *Identity) bool {
	if id == nil || id.Role == domain.RoleAdmin {
		return false
	}
	return id.Role == domain.RoleMailbox || (id.MailboxAddress != "" && id.UserID == 0)
}

// Classify 每次请求重新计算身份对应的层级
func (c Classifier) Classify(id *Identity) Tier {
	switch {
	case id == nil:
		return TierGuest
	case c.IsStrictAdmin(id):
		return TierStrictAdmin
	case id.Role == domain.RoleAdmin:
		return TierDelegatedAdmin
	case c.IsMailboxSession(id):
		return TierMailbox
	default:
		return TierUser
	}
}
