// Package imapworker 轮询 catch-all 收件箱，把新邮件交给 ingest 处理。
package imapworker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/ingest"
)

const defaultPollInterval = 30 * time.Second

// 按优先级检查的投递头
var deliveryHeaders = []string{"Delivered-To", "X-Original-To", "Envelope-To"}

// Ingester 写入一封入站邮件
type Ingester interface {
	Ingest(ctx context.Context, in domain.InboundMail) (int64, error)
}

// Checkpoint 保存已处理的最大 UID
type Checkpoint interface {
	LastUID(ctx context.Context) (uint32, error)
	SetLastUID(ctx context.Context, uid uint32) error
}

// MemoryCheckpoint 是进程内的游标，未启用 Redis 时使用，重启后从头拉取
type MemoryCheckpoint struct {
	mu  sync.Mutex
	uid uint32
}

// LastUID 实现 Checkpoint
func (m *MemoryCheckpoint) LastUID(context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uid, nil
}

// SetLastUID 实现 Checkpoint
func (m *MemoryCheckpoint) SetLastUID(_ context.Context, uid uint32) error {
	m.mu.Lock()
	m.uid = uid
	m.mu.Unlock()
	return nil
}

// Worker 定时拉取新邮件
type Worker struct {
	source     Source
	checkpoint Checkpoint
	ingester   Ingester
	domains    map[string]bool
	interval   time.Duration
	logger     *zap.Logger
}

// New 创建轮询 Worker
func New(source Source, checkpoint Checkpoint, ingester Ingester, domains []string, interval time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if checkpoint == nil {
		checkpoint = &MemoryCheckpoint{}
	}
	allowed := make(map[string]bool, len(domains))
	for _, d := range domains {
		allowed[strings.ToLower(strings.TrimSpace(d))] = true
	}
	return &Worker{
		source:     source,
		checkpoint: checkpoint,
		ingester:   ingester,
		domains:    allowed,
		interval:   interval,
		logger:     logger,
	}
}

// Run 立即执行一轮，之后按间隔轮询，直到 ctx 结束
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("imap worker started", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("imap poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			w.logger.Info("imap worker stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll 执行一轮拉取，返回成功写入的邮件数
//
// 游标只推进到连续成功的最大 UID，写入失败的邮件下一轮重试；
// 找不到本系统收件人或超长的邮件视为已处理。
func (w *Worker) Poll(ctx context.Context) (int, error) {
	lastUID, err := w.checkpoint.LastUID(ctx)
	if err != nil {
		return 0, fmt.Errorf("load last uid: %w", err)
	}

	messages, fetchErr := w.source.FetchSince(ctx, lastUID)

	stored := 0
	newMax := lastUID
	for _, msg := range messages {
		if msg.UID <= lastUID {
			continue
		}
		ok, err := w.ingestRaw(ctx, msg)
		if err != nil {
			w.logger.Warn("imap ingest failed, will retry",
				zap.Uint32("uid", msg.UID),
				zap.Error(err),
			)
			break
		}
		if ok {
			stored++
		}
		newMax = msg.UID
	}

	if newMax > lastUID {
		if err := w.checkpoint.SetLastUID(ctx, newMax); err != nil {
			w.logger.Warn("save last uid failed", zap.Uint32("uid", newMax), zap.Error(err))
		}
	}
	if fetchErr != nil {
		return stored, fetchErr
	}
	if stored > 0 {
		w.logger.Info("imap poll stored messages", zap.Int("count", stored), zap.Uint32("last_uid", newMax))
	}
	return stored, nil
}

// ingestRaw 返回邮件是否确实写入；跳过的邮件返回 false 且无错误
func (w *Worker) ingestRaw(ctx context.Context, msg RawMessage) (bool, error) {
	// 超长邮件只有 UID，没有正文
	if len(msg.Body) == 0 {
		return false, nil
	}
	trace := ulid.Make().String()
	log := w.logger.With(zap.String("trace", trace), zap.Uint32("uid", msg.UID))

	parsed, err := ingest.ParseEmail(msg.Body)
	if err != nil {
		log.Warn("imap message unparseable, skipped", zap.Error(err))
		return false, nil
	}

	rcpt := w.extractRecipient(parsed.Header)
	if rcpt == "" {
		log.Info("imap message skipped: no recipient in managed domains")
		return false, nil
	}

	if _, err := w.ingester.Ingest(ingest.WithTrace(ctx, trace), domain.InboundMail{
		To:      rcpt,
		From:    parsed.From,
		Subject: parsed.Subject,
		Text:    parsed.Text,
		HTML:    parsed.HTML,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// extractRecipient 依次检查投递头与 To，返回第一个属于本系统域名的地址
func (w *Worker) extractRecipient(h mail.Header) string {
	for _, key := range deliveryHeaders {
		if addr := domain.ExtractAddress(h.Get(key)); w.managed(addr) {
			return addr
		}
	}
	if list, err := h.AddressList("To"); err == nil {
		for _, a := range list {
			if addr := domain.ExtractAddress(a.Address); w.managed(addr) {
				return addr
			}
		}
	}
	return ""
}

func (w *Worker) managed(address string) bool {
	_, _, d, err := domain.NormalizeAddress(address)
	return err == nil && w.domains[d]
}
