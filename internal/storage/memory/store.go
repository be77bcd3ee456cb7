package memory

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"mailfree/backend/internal/apperr"
	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/storage"
)

var _ storage.MailboxUserStore = (*Store)(nil)

// 演示用户列表中单个用户最多预生成的邮箱数量
const seedMailboxCap = 8

// Store 是演示模式使用的内存用户/邮箱数据，进程内唯一，不持久化。
// 所有变更只作用于内存，与真实存储完全隔离。
type Store struct {
	mu        sync.Mutex
	users     []*domain.User                     // 新建用户插在最前
	mailboxes map[int64][]domain.MailboxListItem // userID -> 邮箱列表
	lastID    int64
	rnd       *rand.Rand
	now       func() time.Time
}

// Option 配置演示存储
type Option func(*Store)

// WithRand 指定随机源，测试中用于固定随机结果
func WithRand(rnd *rand.Rand) Option {
	return func(s *Store) { s.rnd = rnd }
}

// WithClock 指定时间来源
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore 创建演示存储并写入种子数据。
// 种子用户 demo1、demo2、operator 各自预生成 min(3, 上限) 到 min(上限, 8) 个邮箱。
func NewStore(opts ...Option) *Store {
	s := &Store{
		mailboxes: make(map[int64][]domain.MailboxListItem),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rnd == nil {
		s.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s.seed()
	return s
}

func (s *Store) seed() {
	created := s.now().UTC().Truncate(time.Second)
	s.users = []*domain.User{
		{ID: 1, Username: "demo1", Role: domain.RoleUser, MailboxLimit: 5, CreatedAt: created},
		{ID: 2, Username: "demo2", Role: domain.RoleUser, MailboxLimit: 8, CreatedAt: created},
		{ID: 3, Username: "operator", Role: domain.RoleAdmin, MailboxLimit: 20, CreatedAt: created},
	}
	for _, u := range s.users {
		maxCount := u.MailboxLimit
		if maxCount <= 0 {
			maxCount = domain.DefaultMailboxLimit
		}
		if maxCount > seedMailboxCap {
			maxCount = seedMailboxCap
		}
		minCount := 3
		if minCount > maxCount {
			minCount = maxCount
		}
		count := minCount + s.rnd.Intn(maxCount-minCount+1)
		s.mailboxes[u.ID] = s.mockMailboxes(count, 0, MockDomains)
	}
	s.lastID = 3
}

// ========== MailboxUserStore ==========

// ListUsers 返回演示用户及其邮箱数量，新建优先
func (s *Store) ListUsers(_ context.Context, limit, offset int) ([]domain.UserWithCount, error) {
	limit, offset = domain.ClampPage(limit, offset, 50, 100)
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.UserWithCount, 0, len(s.users))
	for i := offset; i < len(s.users) && len(out) < limit; i++ {
		u := s.users[i]
		out = append(out, domain.UserWithCount{
			ID:           u.ID,
			Username:     u.Username,
			Role:         u.Role,
			CanSend:      u.CanSend,
			MailboxLimit: u.MailboxLimit,
			CreatedAt:    u.CreatedAt,
			MailboxCount: int64(len(s.mailboxes[u.ID])),
		})
	}
	return out, nil
}

// CreateUser 创建演示用户，错误消息与真实存储一致
func (s *Store) CreateUser(_ context.Context, in domain.CreateUserInput) (*domain.User, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	if username == "" {
		return nil, apperr.Validation(domain.MsgUsernameRequired)
	}
	limit := in.MailboxLimit
	if limit < 0 {
		limit = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findByUsername(username) != nil {
		return nil, apperr.Validation(domain.MsgUsernameTaken)
	}
	s.lastID++
	user := &domain.User{
		ID:           s.lastID,
		Username:     username,
		Role:         domain.NormalizeRole(in.Role),
		CanSend:      in.CanSend,
		MailboxLimit: limit,
		CreatedAt:    s.now().UTC().Truncate(time.Second),
	}
	s.users = append([]*domain.User{user}, s.users...)

	out := *user
	return &out, nil
}

// UpdateUser 修改演示用户；密码字段在演示模式下被忽略
func (s *Store) UpdateUser(_ context.Context, id int64, patch domain.UserPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return apperr.NotFound(domain.MsgUserMissing)
	}
	u := s.users[idx]
	if patch.MailboxLimit != nil {
		limit := *patch.MailboxLimit
		if limit < 0 {
			limit = 0
		}
		u.MailboxLimit = limit
	}
	if patch.Role != nil {
		u.Role = domain.NormalizeRole(*patch.Role)
	}
	if patch.CanSend != nil {
		u.CanSend = *patch.CanSend
	}
	return nil
}

// DeleteUser 删除演示用户及其邮箱列表
func (s *Store) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return apperr.NotFound(domain.MsgUserMissing)
	}
	s.users = append(s.users[:idx], s.users[idx+1:]...)
	delete(s.mailboxes, id)
	return nil
}

// AssignMailbox 把地址加入演示用户的邮箱列表最前面。
// 上限为 0 的用户按默认上限计算；已存在的地址不重复加入。
func (s *Store) AssignMailbox(_ context.Context, in domain.AssignInput) error {
	address := strings.ToLower(strings.TrimSpace(in.Address))

	s.mu.Lock()
	defer s.mu.Unlock()

	var user *domain.User
	if in.UserID != 0 {
		if idx := s.indexOf(in.UserID); idx >= 0 {
			user = s.users[idx]
		}
	} else {
		user = s.findByUsername(strings.ToLower(strings.TrimSpace(in.Username)))
	}
	if user == nil {
		return apperr.NotFound(domain.MsgAssignUserAbsent)
	}

	boxes := s.mailboxes[user.ID]
	limit := user.MailboxLimit
	if limit == 0 {
		limit = domain.DefaultMailboxLimit
	}
	if len(boxes) >= limit {
		return apperr.QuotaExceeded(domain.MsgQuotaReached)
	}
	for _, b := range boxes {
		if b.Address == address {
			return nil
		}
	}

	item := domain.MailboxListItem{
		Address:           address,
		CreatedAt:         s.now().UTC().Truncate(time.Second),
		PasswordIsDefault: true,
	}
	s.mailboxes[user.ID] = append([]domain.MailboxListItem{item}, boxes...)
	return nil
}

// UserMailboxes 返回用户邮箱列表的前 n 项，n 在 3 到 8 之间随机（不足时返回全部），
// 用来模拟分页数量的变化。
func (s *Store) UserMailboxes(_ context.Context, userID int64) ([]domain.MailboxListItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.mailboxes[userID]
	n := 3 + s.rnd.Intn(6)
	if n > len(all) {
		n = len(all)
	}
	out := make([]domain.MailboxListItem, n)
	copy(out, all[:n])
	return out, nil
}

func (s *Store) indexOf(id int64) int {
	for i, u := range s.users {
		if u.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) findByUsername(username string) *domain.User {
	for _, u := range s.users {
		if u.Username == username {
			return u
		}
	}
	return nil
}
