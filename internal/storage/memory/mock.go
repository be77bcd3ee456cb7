package memory

import (
	"fmt"
	"strings"
	"time"

	"mailfree/backend/internal/domain"
)

// MockDomains 是演示模式下返回的域名列表
var MockDomains = []string{"exa.cc", "exr.yp", "duio.ty"}

// 演示邮件模板
type mockTemplate struct {
	sender  string
	subject string
	code    string
	text    string
}

var mockTemplates = []mockTemplate{
	{"noreply@github.com", "[GitHub] Please verify your device", "482913", "Verification code: 482913\nIf you did not attempt to sign in, change your password."},
	{"security@accounts.example.com", "您的登录验证码", "705126", "您的验证码为 705126，10 分钟内有效，请勿泄露给他人。"},
	{"hello@newsletter.example.org", "Weekly digest: 5 things you missed", "", "Here is what happened this week on the platform."},
	{"no-reply@shop.example.net", "订单已发货", "", "您的订单 #20931 已发货，预计三天内送达。"},
	{"support@cloud.example.io", "Confirm your email address", "3F9K2A", "Use code 3F9K2A to confirm your email address."},
	{"team@chat.example.com", "You have 3 unread messages", "", "Alice, Bob and Carol sent you messages while you were away."},
}

const mockLocalAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Domains 返回演示域名列表的副本
func (s *Store) Domains() []string {
	return append([]string(nil), MockDomains...)
}

// Emails 生成 n 封演示邮件摘要，按时间倒序
func (s *Store) Emails(n int) []domain.MessageSummary {
	now := s.now().UTC().Truncate(time.Second)
	out := make([]domain.MessageSummary, 0, n)
	for i := 0; i < n; i++ {
		tpl := mockTemplates[i%len(mockTemplates)]
		item := domain.MessageSummary{
			ID:         int64(i + 1),
			Sender:     tpl.sender,
			Subject:    tpl.subject,
			ReceivedAt: now.Add(-time.Duration(i*17) * time.Minute),
			IsRead:     i >= 2,
			Preview:    strPtr(mockPreview(tpl.text)),
		}
		if tpl.code != "" {
			item.VerificationCode = strPtr(tpl.code)
		}
		out = append(out, item)
	}
	return out
}

// EmailDetail 生成指定 ID 的演示邮件详情
func (s *Store) EmailDetail(id int64) domain.MessageDetail {
	idx := int64(0)
	if id > 0 {
		idx = (id - 1) % int64(len(mockTemplates))
	}
	tpl := mockTemplates[idx]
	now := s.now().UTC().Truncate(time.Second)

	detail := domain.MessageDetail{
		Message: domain.Message{
			ID:         id,
			Sender:     tpl.sender,
			Subject:    tpl.subject,
			ReceivedAt: now.Add(-time.Duration(idx*17) * time.Minute),
			IsRead:     true,
			Preview:    strPtr(mockPreview(tpl.text)),
			R2Bucket:   domain.DefaultBucket,
		},
		Content:     tpl.text,
		HTMLContent: "<p>" + strings.ReplaceAll(tpl.text, "\n", "<br>") + "</p>",
	}
	if tpl.code != "" {
		detail.VerificationCode = strPtr(tpl.code)
	}
	return detail
}

// Mailboxes 生成一页演示邮箱列表，域名从 domains 中随机选取
func (s *Store) Mailboxes(limit, offset int, domains []string) []domain.MailboxListItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mockMailboxes(limit, offset, domains)
}

// mockMailboxes 调用方需持有锁或处于构造阶段
func (s *Store) mockMailboxes(limit, offset int, domains []string) []domain.MailboxListItem {
	if len(domains) == 0 {
		domains = MockDomains
	}
	if limit < 0 {
		limit = 0
	}
	now := s.now().UTC().Truncate(time.Second)
	out := make([]domain.MailboxListItem, 0, limit)
	for i := 0; i < limit; i++ {
		local := make([]byte, 10)
		for j := range local {
			local[j] = mockLocalAlphabet[s.rnd.Intn(len(mockLocalAlphabet))]
		}
		out = append(out, domain.MailboxListItem{
			Address:           fmt.Sprintf("%s@%s", local, domains[s.rnd.Intn(len(domains))]),
			CreatedAt:         now.Add(-time.Duration(offset+i) * time.Hour),
			IsPinned:          offset+i == 0,
			PasswordIsDefault: true,
		})
	}
	return out
}

func mockPreview(text string) string {
	preview := strings.Join(strings.Fields(text), " ")
	if r := []rune(preview); len(r) > 120 {
		preview = string(r[:120])
	}
	return preview
}

func strPtr(s string) *string { return &s }
