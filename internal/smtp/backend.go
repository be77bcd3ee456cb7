// Package smtp 实现只收不发的 SMTP 入口，把收到的邮件交给 ingest 处理。
package smtp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/ingest"
	"mailfree/backend/internal/monitoring"
)

const (
	defaultMaxMessageBytes = 10 << 20
	ingestTimeout          = 30 * time.Second
)

// Ingester 写入一封入站邮件
type Ingester interface {
	Ingest(ctx context.Context, in domain.InboundMail) (int64, error)
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收收件域名属于本系统的邮件，不做任何中继；
// 地址本身不要求预先存在，入站时自动创建邮箱。
type Backend struct {
	ingester Ingester
	domains  map[string]bool
	limiter  *ConnectionLimiter
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	maxBytes int64
}

// BackendOption 配置 Backend
type BackendOption func(*Backend)

// WithLimiter 设置连接限流器
func WithLimiter(l *ConnectionLimiter) BackendOption {
	return func(b *Backend) { b.limiter = l }
}

// WithMetrics 设置监控指标
func WithMetrics(m *monitoring.Metrics) BackendOption {
	return func(b *Backend) { b.metrics = m }
}

// WithMaxMessageBytes 设置单封邮件最大字节数
func WithMaxMessageBytes(n int64) BackendOption {
	return func(b *Backend) {
		if n > 0 {
			b.maxBytes = n
		}
	}
}

// NewBackend 创建 SMTP Backend，domains 为允许接收的域名列表
func NewBackend(ingester Ingester, domains []string, logger *zap.Logger, opts ...BackendOption) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backend{
		ingester: ingester,
		domains:  make(map[string]bool, len(domains)),
		logger:   logger,
		maxBytes: defaultMaxMessageBytes,
	}
	for _, d := range domains {
		b.domains[strings.ToLower(strings.TrimSpace(d))] = true
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewSession 创建新的 SMTP 会话，超出限流时返回 421
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	ip := ""
	if c != nil && c.Conn() != nil {
		ip = remoteIP(c.Conn().RemoteAddr())
	}
	s, err := b.newSession(ip)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (b *Backend) newSession(ip string) (*session, error) {
	if b.limiter != nil {
		if ok, reason := b.limiter.Acquire(ip); !ok {
			b.metrics.RecordRateLimitBlock("smtp_" + reason)
			b.logger.Warn("smtp session rejected", zap.String("ip", ip), zap.String("reason", reason))
			return nil, &gosmtp.SMTPError{
				Code:         421,
				EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
				Message:      "too many connections, try again later",
			}
		}
	}
	b.metrics.RecordSMTPSession()

	trace := ulid.Make().String()
	return &session{
		backend: b,
		ip:      ip,
		trace:   trace,
		logger:  b.logger.With(zap.String("trace", trace), zap.String("ip", ip)),
	}, nil
}

type session struct {
	backend    *Backend
	ip         string
	trace      string
	logger     *zap.Logger
	from       string
	recipients []string
	released   bool
}

// Mail 处理 MAIL 命令
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = domain.ExtractAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令，收件域名不在允许列表时返回 550
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	address, _, rcptDomain, err := domain.NormalizeAddress(domain.ExtractAddress(to))
	if err != nil {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}
	if !s.backend.domains[rcptDomain] {
		s.logger.Info("smtp relay denied", zap.String("rcpt", address))
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	}
	s.recipients = append(s.recipients, address)
	return nil
}

// Data 读取邮件内容并逐个收件人写入
func (s *session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return &gosmtp.SMTPError{
			Code:         503,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "no valid recipients",
		}
	}

	raw, err := io.ReadAll(io.LimitReader(r, s.backend.maxBytes+1))
	if err != nil {
		return err
	}
	if int64(len(raw)) > s.backend.maxBytes {
		return gosmtp.ErrDataTooLarge
	}

	parsed, err := ingest.ParseEmail(raw)
	if err != nil {
		s.logger.Warn("smtp parse failed", zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "malformed message",
		}
	}

	from := parsed.From
	if from == "" {
		from = s.from
	}

	ctx, cancel := context.WithTimeout(ingest.WithTrace(context.Background(), s.trace), ingestTimeout)
	defer cancel()

	var failed error
	for _, rcpt := range s.recipients {
		_, err := s.backend.ingester.Ingest(ctx, domain.InboundMail{
			To:      rcpt,
			From:    from,
			Subject: parsed.Subject,
			Text:    parsed.Text,
			HTML:    parsed.HTML,
		})
		if err != nil {
			failed = errors.Join(failed, err)
		}
	}
	if failed != nil {
		s.logger.Error("smtp ingest failed", zap.Strings("rcpt", s.recipients), zap.Error(failed))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary failure, try again later",
		}
	}

	s.logger.Info("smtp message accepted",
		zap.String("from", from),
		zap.Int("recipients", len(s.recipients)),
		zap.Int("bytes", len(raw)),
	)
	return nil
}

// Reset 重置状态
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束，归还限流许可
func (s *session) Logout() error {
	if !s.released && s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	s.released = true
	return nil
}

func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
