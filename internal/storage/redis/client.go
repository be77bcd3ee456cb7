package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailfree/backend/internal/config"
)

const (
	// LastUIDKey 保存 IMAP 轮询已处理到的最大 UID
	LastUIDKey = "mailfree:imap:last_uid"
	// NewMailChannel 是跨实例广播新邮件事件的频道
	NewMailChannel = "mailfree:new_mail"
)

// Client 封装 Redis 客户端
type Client struct {
	rdb *goredis.Client
	log *zap.Logger
}

// New 创建新的 Redis 客户端并测试连接
func New(cfg *config.RedisConfig, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 测试连接
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("connected to Redis",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
	)

	return &Client{
		rdb: rdb,
		log: log,
	}, nil
}

// NewFromClient 包装已有的 go-redis 客户端
func NewFromClient(rdb *goredis.Client, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{rdb: rdb, log: log}
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	err := c.rdb.Close()
	if err != nil {
		c.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	c.log.Info("Redis connection closed")
	return nil
}

// Ping 测试 Redis 连接
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ========== IMAP 游标 ==========

// LastUID 读取 IMAP 游标，键不存在时返回 0
func (c *Client) LastUID(ctx context.Context) (uint32, error) {
	raw, err := c.rdb.Get(ctx, LastUIDKey).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get last uid: %w", err)
	}
	return parseUID(raw)
}

// SetLastUID 写入 IMAP 游标（永不过期）
func (c *Client) SetLastUID(ctx context.Context, uid uint32) error {
	if err := c.rdb.Set(ctx, LastUIDKey, uid, 0).Err(); err != nil {
		return fmt.Errorf("set last uid: %w", err)
	}
	return nil
}

func parseUID(raw string) (uint32, error) {
	uid, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed last uid %q: %w", raw, err)
	}
	return uint32(uid), nil
}

// ========== 新邮件广播 ==========

// Publish 向新邮件频道发布事件
func (c *Client) Publish(ctx context.Context, payload []byte) error {
	return c.rdb.Publish(ctx, NewMailChannel, payload).Err()
}

// Subscribe 订阅新邮件频道并把每条消息交给 handler，阻塞直到 ctx 结束
func (c *Client) Subscribe(ctx context.Context, handler func([]byte)) error {
	sub := c.rdb.Subscribe(ctx, NewMailChannel)
	defer sub.Close()

	// 等待订阅确认
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", NewMailChannel, err)
	}
	c.log.Info("subscribed to new mail channel", zap.String("channel", NewMailChannel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handler([]byte(msg.Payload))
		}
	}
}
