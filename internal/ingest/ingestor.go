// Package ingest 把入站邮件（webhook、SMTP、IMAP）写入存储：
// 合成 EML 存入对象存储，提取预览与验证码，再按表结构能力写入 messages。
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/monitoring"
	"mailfree/backend/internal/storage"
	"mailfree/backend/internal/storage/blob"
)

const (
	defaultSubject = "(无主题)"
	emptyContent   = "(无内容)"
)

// Notifier 接收新邮件事件
type Notifier interface {
	NotifyNewMail(ctx context.Context, evt domain.NewMailEvent)
}

// Ingestor 处理单封入站邮件，可被多个来源并发调用
type Ingestor struct {
	repo     storage.InboundRepository
	blobs    blob.Store
	notifier Notifier
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// Option 配置 Ingestor
type Option func(*Ingestor)

// WithNotifier 设置新邮件通知
func WithNotifier(n Notifier) Option {
	return func(i *Ingestor) { i.notifier = n }
}

// WithMetrics 设置监控指标
func WithMetrics(m *monitoring.Metrics) Option {
	return func(i *Ingestor) { i.metrics = m }
}

// WithClock 设置时间来源
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// New 创建 Ingestor；blobs 为 nil 时不保存原文，object key 为空
func New(repo storage.InboundRepository, blobs blob.Store, logger *zap.Logger, opts ...Option) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	i := &Ingestor{
		repo:   repo,
		blobs:  blobs,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest 写入一封入站邮件，返回新邮件 ID。
// 原文写入失败只记录日志，object key 置空；写库失败时删除已写入的原文。
func (i *Ingestor) Ingest(ctx context.Context, in domain.InboundMail) (id int64, err error) {
	start := i.now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		i.metrics.RecordIngest(result, time.Since(start))
	}()

	log := i.logger.With(zap.String("trace", TraceID(ctx)))

	subject := in.Subject
	if subject == "" {
		subject = defaultSubject
	}
	mailbox := domain.ExtractAddress(in.To)
	sender := domain.ExtractAddress(in.From)

	mb, err := i.repo.GetOrCreateMailbox(ctx, mailbox)
	if err != nil {
		log.Warn("resolve inbound mailbox failed", zap.String("to", in.To), zap.Error(err))
		return 0, fmt.Errorf("resolve mailbox: %w", err)
	}

	now := start.UTC()
	objectKey := i.storeRaw(ctx, log, now, mailbox, sender, subject, in)

	preview := Preview(in.Text, in.HTML)
	code := ExtractVerificationCode(subject, in.Text, in.HTML)

	content := in.Text
	for _, alt := range []string{in.HTML, subject, emptyContent} {
		if content != "" {
			break
		}
		content = alt
	}

	bucket := domain.DefaultBucket
	if i.blobs != nil {
		bucket = i.blobs.Bucket()
	}

	msg := &storage.NewMessage{
		MailboxID:        mb.ID,
		Sender:           sender,
		ToAddrs:          in.To,
		Subject:          subject,
		VerificationCode: code,
		Preview:          preview,
		Bucket:           bucket,
		ObjectKey:        objectKey,
		Content:          content,
		HTMLContent:      in.HTML,
		ReceivedAt:       now,
	}
	id, err = i.repo.InsertMessage(ctx, msg)
	if err != nil {
		if objectKey != "" {
			if delErr := i.blobs.Delete(context.WithoutCancel(ctx), objectKey); delErr != nil {
				log.Warn("remove orphan eml failed", zap.String("key", objectKey), zap.Error(delErr))
			}
		}
		log.Error("insert inbound message failed", zap.String("mailbox", mailbox), zap.Error(err))
		return 0, fmt.Errorf("insert message: %w", err)
	}

	log.Info("inbound message stored",
		zap.Int64("id", id),
		zap.String("mailbox", mailbox),
		zap.String("sender", sender),
		zap.Bool("has_code", code != ""),
	)

	if i.notifier != nil {
		i.notifier.NotifyNewMail(ctx, domain.NewMailEvent{
			Type:             domain.EventNewMail,
			Mailbox:          mb.Address,
			ID:               id,
			Sender:           sender,
			Subject:          subject,
			Preview:          preview,
			VerificationCode: code,
			ReceivedAt:       now,
		})
	}
	return id, nil
}

// storeRaw 合成 EML 并写入对象存储，失败时返回空 key
func (i *Ingestor) storeRaw(ctx context.Context, log *zap.Logger, now time.Time, mailbox, sender, subject string, in domain.InboundMail) string {
	if i.blobs == nil {
		return ""
	}
	eml, err := buildEML(emlInput{
		Sender:   sender,
		Mailbox:  mailbox,
		Subject:  subject,
		Text:     in.Text,
		HTML:     in.HTML,
		Date:     now,
		Boundary: "mf-" + i.newID(),
	})
	if err != nil {
		log.Warn("build eml failed", zap.Error(err))
		return ""
	}

	keyOwner := mailbox
	if keyOwner == "" {
		keyOwner = "unknown"
	}
	key := blob.ObjectKey(now, keyOwner, i.newID())
	if err := i.blobs.Put(ctx, key, eml); err != nil {
		log.Warn("store eml failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	return key
}

type traceKey struct{}

// WithTrace 在 context 中附带追踪 ID，入站日志会带上它
func WithTrace(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceID 返回 context 中的追踪 ID
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
