// mailctl 是运维命令行：执行数据库迁移、管理用户。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailfree/backend/internal/auth"
	"mailfree/backend/internal/config"
	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/logger"
	sqlstore "mailfree/backend/internal/storage/sql"
)

const commandTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:   "mailctl",
	Short: "mailfree 运维工具",
	Long: `mailfree 运维工具，读取与服务端相同的环境变量 (MAILFREE_*)。

使用示例：
  mailctl migrate
  mailctl user create --username alice --password s3cret --role admin --can-send
  mailctl user list`,
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "创建或升级数据库表结构",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore(true)
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "数据库迁移完成")
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "用户管理",
}

var createFlags struct {
	username string
	password string
	role     string
	limit    int
	canSend  bool
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "创建用户",
	RunE: func(cmd *cobra.Command, _ []string) error {
		username := strings.ToLower(strings.TrimSpace(createFlags.username))
		if username == "" {
			return errors.New(domain.MsgUsernameRequired)
		}
		role := strings.ToLower(createFlags.role)
		if role != domain.RoleUser && role != domain.RoleAdmin {
			return errors.New("role 只能是 user 或 admin")
		}

		in := domain.CreateUserInput{
			Username:     username,
			Role:         role,
			MailboxLimit: createFlags.limit,
			CanSend:      createFlags.canSend,
		}
		if createFlags.password != "" {
			hash, err := auth.HashPassword(createFlags.password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			in.PasswordHash = &hash
		}

		store, err := openStore(false)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()
		user, err := store.CreateUser(ctx, in)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "用户创建成功")
		fmt.Fprintf(out, "  ID:       %d\n", user.ID)
		fmt.Fprintf(out, "  用户名:   %s\n", user.Username)
		fmt.Fprintf(out, "  角色:     %s\n", user.Role)
		fmt.Fprintf(out, "  邮箱上限: %d\n", user.MailboxLimit)
		fmt.Fprintf(out, "  可发件:   %t\n", user.CanSend)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出用户",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore(false)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()
		users, err := store.ListUsers(ctx, 100, 0)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(users) == 0 {
			fmt.Fprintln(out, "暂无用户")
			return nil
		}
		fmt.Fprintf(out, "%-6s %-24s %-6s %-8s %-6s %s\n", "ID", "USERNAME", "ROLE", "MAILBOX", "SEND", "CREATED")
		for _, u := range users {
			fmt.Fprintf(out, "%-6d %-24s %-6s %3d/%-4d %-6t %s\n",
				u.ID, u.Username, u.Role, u.MailboxCount, u.MailboxLimit, u.CanSend,
				u.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	f := userCreateCmd.Flags()
	f.StringVar(&createFlags.username, "username", "", "用户名（必填）")
	f.StringVar(&createFlags.password, "password", "", "登录密码，留空则该用户无法登录")
	f.StringVar(&createFlags.role, "role", domain.RoleUser, "角色: user 或 admin")
	f.IntVar(&createFlags.limit, "limit", domain.DefaultMailboxLimit, "邮箱上限")
	f.BoolVar(&createFlags.canSend, "can-send", false, "是否允许发件")
	_ = userCreateCmd.MarkFlagRequired("username")

	userCmd.AddCommand(userCreateCmd, userListCmd)
	rootCmd.AddCommand(migrateCmd, userCmd)
}

// openStore 按 MAILFREE_DATABASE_* 打开关系型存储
func openStore(migrate bool) (*sqlstore.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		return nil, errors.New("未配置数据库: 请设置 MAILFREE_DATABASE_TYPE 与 MAILFREE_DATABASE_DSN")
	}

	log, err := logger.New(logger.FromConfig(cfg.Log))
	if err != nil {
		log = zap.NewNop()
	}

	dbCfg := cfg.Database
	dbCfg.AutoMigrate = dbCfg.AutoMigrate || migrate
	return sqlstore.Open(dbCfg, log.Named("mailctl"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
