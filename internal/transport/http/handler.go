package httptransport

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mailfree/backend/internal/auth"
	"mailfree/backend/internal/config"
	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/monitoring"
	"mailfree/backend/internal/send"
	"mailfree/backend/internal/storage"
	"mailfree/backend/internal/storage/blob"
	"mailfree/backend/internal/storage/memory"
)

// Ingester 写入一封入站邮件
type Ingester interface {
	Ingest(ctx context.Context, in domain.InboundMail) (int64, error)
}

// Streamer 把已鉴权的请求升级为新邮件推送连接
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, mailbox string) error
}

// Dependencies 汇总 HTTP 层需要的全部组件
type Dependencies struct {
	Config   *config.Config
	Store    storage.Store // 演示模式下可为 nil
	Demo     *memory.Store // 演示模式的影子存储，nil 时自动创建
	Blobs    blob.Store
	Ingester Ingester
	Auth     *auth.Service
	Tokens   *auth.TokenManager
	Sender   send.Provider
	Stream   Streamer
	Metrics  *monitoring.Metrics
	Logger   *zap.Logger
	Now      func() time.Time
}

// Handler 处理 /api 下的全部请求与入站 webhook
type Handler struct {
	demo         bool
	domains      []string
	adminName    string
	mailboxLimit int
	webhookToken string

	store      storage.Store
	users      storage.MailboxUserStore
	mock       *memory.Store
	blobs      blob.Store
	ingester   Ingester
	auth       *auth.Service
	tokens     *auth.TokenManager
	sender     send.Provider
	stream     Streamer
	classifier auth.Classifier
	metrics    *monitoring.Metrics
	logger     *zap.Logger
	now        func() time.Time

	routes []route
}

// NewHandler 创建 API 处理器。
// 配置开启演示模式或未提供存储时，所有路由改由演示存储应答。
func NewHandler(deps Dependencies) *Handler {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	h := &Handler{
		demo:         cfg.DemoMode() || deps.Store == nil,
		domains:      cfg.Mail.Domains,
		adminName:    cfg.Mail.AdminName,
		mailboxLimit: cfg.Mail.MailboxLimit,
		webhookToken: cfg.Receive.WebhookToken,
		store:        deps.Store,
		mock:         deps.Demo,
		blobs:        deps.Blobs,
		ingester:     deps.Ingester,
		auth:         deps.Auth,
		tokens:       deps.Tokens,
		sender:       deps.Sender,
		stream:       deps.Stream,
		classifier:   auth.Classifier{AdminName: cfg.Mail.AdminName},
		metrics:      deps.Metrics,
		logger:       logger.Named("api"),
		now:          now,
	}
	if h.mailboxLimit <= 0 {
		h.mailboxLimit = domain.DefaultMailboxLimit
	}
	if h.mock == nil {
		h.mock = memory.NewStore(memory.WithClock(now))
	}
	if h.demo {
		h.users = h.mock
	} else {
		h.users = deps.Store
	}
	h.routes = h.routeTable()
	return h
}

// Demo 报告是否运行在演示模式
func (h *Handler) Demo() bool {
	return h.demo
}
