package main

import (
	"fmt"
	"time"

	"vendorpay/internal/config"
	"vendorpay/internal/gateway"
	"vendorpay/internal/handler"
	"vendorpay/internal/infrastructure/database"
	"vendorpay/internal/job"
	"vendorpay/internal/repository"
	"vendorpay/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "执行数据库迁移",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			if err := database.Migrate(a.db); err != nil {
				return err
			}
			a.log.Info("数据库迁移完成", zap.String("driver", a.cfg.Database.Driver))
			return nil
		},
	}
}

// sweepCmd 手动执行一轮补偿：待支付对账、漏激活补偿，可选把失败的 outbox 消息重新入队
func sweepCmd() *cobra.Command {
	var requeue bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "执行一轮对账和激活补偿",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()
			cfg, log := a.cfg, a.log

			verifier, err := gateway.NewVerifier(cfg.Gateway.PrivateKey)
			if err != nil {
				return err
			}
			payments := service.NewPaymentService(service.Dependencies{
				DB:       a.db,
				Gateway:  gateway.NewClient(&cfg.Gateway, log),
				Verifier: verifier,
				Config:   cfg,
				Log:      log,
			})

			ctx := cmd.Context()
			settled := job.NewPendingReconcileJob(a.db, payments, &cfg.Business, log).RunOnce(ctx)
			activated := job.NewActivationSweepJob(payments.Activator(), cfg.Business.SweepInterval, log).RunOnce(ctx)

			var requeued int64
			if requeue {
				requeued, err = repository.NewOutboxRepository(a.db).RequeueFailed(ctx)
				if err != nil {
					return fmt.Errorf("重新入队失败: %w", err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "settled=%d activated=%d requeued=%d\n", settled, activated, requeued)
			return nil
		},
	}
	cmd.Flags().BoolVar(&requeue, "requeue-failed", false, "把 FAILED 状态的 outbox 消息重置为 PENDING")
	return cmd
}

// tokenCmd 签发本地联调用的 JWT
func tokenCmd() *cobra.Command {
	var (
		accountID int64
		role      string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "签发联调用的访问令牌",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if role != handler.RoleBuyer && role != handler.RoleAdmin {
				return fmt.Errorf("不支持的角色: %s", role)
			}
			tok, err := handler.IssueToken(cfg.Auth.JWTSecret, accountID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "账号 ID")
	cmd.Flags().StringVar(&role, "role", handler.RoleBuyer, "角色 buyer / admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "有效期")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
