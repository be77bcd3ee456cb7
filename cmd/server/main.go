package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailfree/backend/internal/auth"
	"mailfree/backend/internal/config"
	"mailfree/backend/internal/health"
	"mailfree/backend/internal/imapworker"
	"mailfree/backend/internal/ingest"
	"mailfree/backend/internal/logger"
	"mailfree/backend/internal/monitoring"
	"mailfree/backend/internal/send"
	"mailfree/backend/internal/smtp"
	"mailfree/backend/internal/storage"
	"mailfree/backend/internal/storage/blob"
	"mailfree/backend/internal/storage/redis"
	sqlstore "mailfree/backend/internal/storage/sql"
	httptransport "mailfree/backend/internal/transport/http"
	"mailfree/backend/internal/websocket"
)

const (
	shutdownTimeout = 10 * time.Second
	// SMTP 最大并发会话数
	smtpMaxSessions = 200
)

// main 启动 HTTP API、SMTP 入口、IMAP 轮询与新邮件推送
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting mailfree server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.Bool("demo", cfg.DemoMode()),
		zap.Strings("domains", cfg.Mail.Domains),
	)

	if err := run(cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics(nil)

	// 数据库：未配置或显式开启演示模式时不连接
	var store storage.Store
	var sqlStore *sqlstore.Store
	if !cfg.DemoMode() {
		s, err := sqlstore.Open(cfg.Database, log.Named("store"))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()
		sqlStore = s
		store = s
	} else {
		log.Warn("running in demo mode, all API data is mocked")
	}

	blobs, err := blob.NewFilesystemStore(cfg.Blob.Path, cfg.Blob.Bucket, log.Named("blob"))
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	hubOpts := []websocket.Option{websocket.WithMetrics(metrics)}
	healthOpts := []health.Option{health.WithBlob(blobs)}
	if sqlStore != nil {
		healthOpts = append(healthOpts, health.WithDatabase(sqlStore))
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.New(&cfg.Redis, log.Named("redis"))
		if err != nil {
			return err
		}
		defer rdb.Close()
		hubOpts = append(hubOpts, websocket.WithRelay(rdb))
		healthOpts = append(healthOpts, health.WithRedis(rdb))
	}

	hub := websocket.NewHub(cfg.CORS.AllowedOrigins, log.Named("stream"), hubOpts...)

	deps := httptransport.Dependencies{
		Config:  cfg,
		Store:   store,
		Blobs:   blobs,
		Tokens:  auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.SessionExpiry),
		Sender:  send.NewResendClient(cfg.Send, log.Named("send")),
		Stream:  hub,
		Metrics: metrics,
		Logger:  log,
	}

	var ingestor *ingest.Ingestor
	if store != nil {
		ingestor = ingest.New(store, blobs, log.Named("ingest"),
			ingest.WithNotifier(hub),
			ingest.WithMetrics(metrics),
		)
		deps.Ingester = ingestor
		deps.Auth = auth.NewService(store, cfg.Mail.AdminName, cfg.Mail.AdminPassword)
	}

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Dependencies: deps,
		Health:       health.NewChecker(log.Named("health"), healthOpts...),
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		hub.Run(groupCtx)
		return nil
	})

	// 入站来源只在连接了数据库时启动
	var smtpServer *gosmtp.Server
	if ingestor != nil && cfg.SMTP.Enabled {
		smtpServer = newSMTPServer(cfg, ingestor, metrics, log)
		group.Go(func() error {
			log.Info("starting SMTP server",
				zap.String("address", cfg.SMTP.BindAddr),
				zap.String("domain", cfg.SMTP.Domain),
			)
			if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
				return fmt.Errorf("smtp server: %w", err)
			}
			return nil
		})
	}

	if ingestor != nil && cfg.IMAP.Enabled {
		var checkpoint imapworker.Checkpoint
		if rdb != nil {
			checkpoint = rdb
		}
		worker := imapworker.New(
			imapworker.NewIMAPSource(cfg.IMAP, log.Named("imap")),
			checkpoint,
			ingestor,
			cfg.Mail.Domains,
			cfg.IMAP.PollInterval,
			log.Named("imap"),
		)
		group.Go(func() error {
			return worker.Run(groupCtx)
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if smtpServer != nil {
			if err := smtpServer.Shutdown(shutdownCtx); err != nil {
				log.Warn("SMTP server shutdown warning", zap.Error(err))
			}
		}
		log.Info("servers stopped")
		return nil
	})

	return group.Wait()
}

// newSMTPServer 创建只收不发的 SMTP 服务
func newSMTPServer(cfg *config.Config, ingestor *ingest.Ingestor, metrics *monitoring.Metrics, log *zap.Logger) *gosmtp.Server {
	backend := smtp.NewBackend(ingestor, cfg.Mail.Domains, log.Named("smtp"),
		smtp.WithLimiter(smtp.NewConnectionLimiter(smtpMaxSessions, cfg.SMTP.RatePerMinute)),
		smtp.WithMetrics(metrics),
		smtp.WithMaxMessageBytes(cfg.SMTP.MaxMessageBytes),
	)

	server := gosmtp.NewServer(backend)
	server.Addr = cfg.SMTP.BindAddr
	server.Domain = cfg.SMTP.Domain
	server.ReadTimeout = 10 * time.Second
	server.WriteTimeout = 10 * time.Second
	server.MaxMessageBytes = cfg.SMTP.MaxMessageBytes
	server.MaxRecipients = 50
	server.AllowInsecureAuth = cfg.Log.Development
	return server
}
