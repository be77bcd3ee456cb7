package sql

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql 驱动
	_ "github.com/lib/pq"              // PostgreSQL 驱动
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailfree/backend/internal/apperr"
	"mailfree/backend/internal/config"
	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/storage"
)

// Store 基于 GORM 的关系型存储（支持 MySQL、PostgreSQL 与 SQLite）
type Store struct {
	db     *gorm.DB
	caps   storage.Capabilities
	logger *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// Options 控制存储初始化行为
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
	Logger          *zap.Logger
}

// Open 按配置的数据库类型打开存储
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	dialector, err := Dialector(cfg.Type, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return NewStoreWithDialector(dialector, Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		AutoMigrate:     cfg.AutoMigrate,
		Logger:          log,
	})
}

// Dialector 根据数据库类型构造 GORM dialector
//
// mysql 与 postgres 先通过 database/sql 打开连接再交给 GORM，
// pgx 使用 pgx 的 stdlib 驱动，sqlite 直接使用 GORM 的 sqlite 驱动。
func Dialector(driverName, dsn string) (gorm.Dialector, error) {
	switch driverName {
	case "mysql":
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return mysql.New(mysql.Config{Conn: db}), nil
	case "postgres":
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return postgres.New(postgres.Config{Conn: db}), nil
	case "pgx":
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return postgres.New(postgres.Config{Conn: db}), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres, pgx, sqlite)", driverName)
	}
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, opts Options) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if db.Dialector.Name() == "sqlite" {
		// SQLite 只允许单写连接，同时需要显式开启外键
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	} else {
		if opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	store := &Store{db: db, logger: log}

	if opts.AutoMigrate {
		if err := store.Migrate(); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	caps, err := store.probe()
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to probe messages schema: %w", err)
	}
	store.caps = caps
	log.Info("database ready",
		zap.String("dialect", db.Dialector.Name()),
		zap.Bool("legacy_content", caps.Legacy()),
		zap.Bool("preview", caps.Preview),
	)

	return store, nil
}

// Migrate 执行数据库迁移（使用 GORM AutoMigrate）
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.User{},
		&domain.Mailbox{},
		&domain.Message{},
		&domain.UserMailbox{},
		&domain.SentEmail{},
	)
}

// probe 读取 messages 表的实际列，得到本进程使用的能力集合
func (s *Store) probe() (storage.Capabilities, error) {
	columns, err := s.db.Migrator().ColumnTypes("messages")
	if err != nil {
		return storage.Capabilities{}, err
	}
	names := make(map[string]bool, len(columns))
	contentNotNull := false
	for _, col := range columns {
		names[col.Name()] = true
		if col.Name() == "content" {
			if nullable, ok := col.Nullable(); ok && !nullable {
				contentNotNull = true
			}
		}
	}
	return storage.FromColumns(names, contentNotNull), nil
}

// Capabilities 返回启动时探测到的表结构能力
func (s *Store) Capabilities() storage.Capabilities {
	return s.caps
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// storeErr 把驱动错误包装为存储错误，并保留已分类的业务错误
func (s *Store) storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	s.logger.Error("store operation failed", zap.String("op", op), zap.Error(err))
	return apperr.Store("数据库操作失败", err)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
