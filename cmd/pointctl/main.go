// Package main содержит утилиту оператора pointmarket: ручной запуск
// периодических задач и создание администратора.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mmeshcher/pointmarket/internal/app"
	"github.com/mmeshcher/pointmarket/internal/config"
	"github.com/mmeshcher/pointmarket/internal/scheduler"
	"github.com/mmeshcher/pointmarket/internal/service"
)

const jobLockTTL = 30 * time.Minute

type rootFlags struct {
	now     string
	verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:          "pointctl",
		Short:        "Operator tool for the pointmarket service",
		Long:         "pointctl runs the rental penalty scan and the monthly membership fee on demand and bootstraps the admin account. Configuration is read from the same environment variables as the server.",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.now, "now", "", "Evaluation time in RFC 3339 (default: current time)")
	pf.BoolVar(&flags.verbose, "verbose", false, "Log to stderr")

	root.AddCommand(
		&cobra.Command{
			Use:   "penalty-scan",
			Short: "Charge overdue rental penalties",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, flags, func(ctx context.Context, a *app.App, now time.Time) error {
					return runLocked(ctx, a, service.JobRentalPenalties, func() (any, error) {
						return a.Service.RunRentalPenaltyScan(ctx, now)
					}, cmd.OutOrStdout())
				})
			},
		},
		&cobra.Command{
			Use:   "membership-fee",
			Short: "Charge the monthly membership fee for the current period",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, flags, func(ctx context.Context, a *app.App, now time.Time) error {
					return runLocked(ctx, a, service.JobMembershipFees, func() (any, error) {
						return a.Service.RunMonthlyMembershipFee(ctx, now)
					}, cmd.OutOrStdout())
				})
			},
		},
		newSeedAdminCmd(&flags),
	)

	return root
}

func newSeedAdminCmd(flags *rootFlags) *cobra.Command {
	var login, password, name string

	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create the admin account if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *flags, func(ctx context.Context, a *app.App, _ time.Time) error {
				if login != "" {
					a.Config.AdminLogin = login
				}
				if password != "" {
					a.Config.AdminPassword = password
				}
				if name != "" {
					a.Config.AdminName = name
				}
				if a.Config.AdminLogin == "" || a.Config.AdminPassword == "" {
					return errors.New("admin login and password are required")
				}

				created, err := a.Service.EnsureAdmin(ctx, a.Config.AdminLogin, a.Config.AdminPassword, a.Config.AdminName)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"login":   a.Config.AdminLogin,
					"created": created,
				})
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&login, "login", "", "Admin login (default: ADMIN_LOGIN)")
	f.StringVar(&password, "password", "", "Admin password (default: ADMIN_PASSWORD)")
	f.StringVar(&name, "name", "", "Admin display name (default: ADMIN_NAME)")

	return cmd
}

func withApp(cmd *cobra.Command, flags rootFlags, fn func(ctx context.Context, a *app.App, now time.Time) error) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if flags.verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}
	defer logger.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now()
	if flags.now != "" {
		if now, err = time.Parse(time.RFC3339, flags.now); err != nil {
			return fmt.Errorf("parse --now: %w", err)
		}
	}

	return fn(ctx, a, now.In(a.Location))
}

// runLocked выполняет задачу под той же блокировкой, что и планировщик сервера.
func runLocked(ctx context.Context, a *app.App, name string, run func() (any, error), out io.Writer) error {
	unlock, ok, err := a.Locker.TryLock(ctx, name, jobLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", name, scheduler.ErrJobBusy)
	}
	defer func() { _ = unlock(context.WithoutCancel(ctx)) }()

	report, err := run()
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return writeJSON(out, report)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
