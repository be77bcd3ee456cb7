package imapworker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"mailfree/backend/internal/config"
)

// RawMessage 是从收件箱取回的一封原始邮件
type RawMessage struct {
	UID          uint32
	InternalDate time.Time
	Body         []byte
}

// Source 按 UID 增量拉取邮件
type Source interface {
	// FetchSince 返回 UID 大于 afterUID 的邮件，按 UID 升序
	FetchSince(ctx context.Context, afterUID uint32) ([]RawMessage, error)
}

// IMAPSource 通过 IMAPS 连接 catch-all 收件箱，每轮拉取新建一次连接
type IMAPSource struct {
	addr      string
	username  string
	password  string
	maxBytes  int
	tlsConfig *tls.Config
	logger    *zap.Logger
}

// NewIMAPSource 根据配置创建 IMAP 数据源
func NewIMAPSource(cfg config.IMAPConfig, logger *zap.Logger) *IMAPSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	port := cfg.Port
	if port == 0 {
		port = 993
	}
	return &IMAPSource{
		addr:      fmt.Sprintf("%s:%d", cfg.Host, port),
		username:  cfg.Username,
		password:  cfg.Password,
		maxBytes:  cfg.MaxBytes,
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		logger:    logger,
	}
}

// FetchSince 实现 Source
func (s *IMAPSource) FetchSince(ctx context.Context, afterUID uint32) ([]RawMessage, error) {
	c, err := client.DialTLS(s.addr, s.tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("dial imap: %w", err)
	}
	defer c.Logout()

	// 取消时强制断开，阻塞中的命令随之返回
	stop := context.AfterFunc(ctx, func() { c.Terminate() })
	defer stop()

	if err := c.Login(s.username, s.password); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return nil, fmt.Errorf("select inbox: %w", err)
	}
	if mbox.UidNext != 0 && afterUID+1 >= mbox.UidNext {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(afterUID+1, 0)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, imap.FetchRFC822Size, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var out []RawMessage
	for msg := range messages {
		// "n:*" 在没有新邮件时仍会返回最后一封
		if msg.Uid <= afterUID {
			continue
		}
		if s.maxBytes > 0 && int(msg.Size) > s.maxBytes {
			s.logger.Warn("imap message too large, skipped",
				zap.Uint32("uid", msg.Uid),
				zap.Uint32("size", msg.Size),
			)
			out = append(out, RawMessage{UID: msg.Uid, InternalDate: msg.InternalDate})
			continue
		}
		r := msg.GetBody(section)
		if r == nil {
			s.logger.Warn("imap server returned no body", zap.Uint32("uid", msg.Uid))
			continue
		}
		body, err := io.ReadAll(r)
		if err != nil {
			s.logger.Warn("read imap body failed", zap.Uint32("uid", msg.Uid), zap.Error(err))
			continue
		}
		out = append(out, RawMessage{UID: msg.Uid, InternalDate: msg.InternalDate, Body: body})
	}

	if err := <-done; err != nil {
		return out, fmt.Errorf("uid fetch: %w", err)
	}
	return out, nil
}
