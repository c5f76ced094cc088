// Package cli содержит команды запуска ядра: HTTP-сервис и однократные пакетные задачи для cron.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/passculture/pass-culture-core/internal/config"
	"github.com/passculture/pass-culture-core/internal/jobs"
)

// rootOptions - общее состояние команд: конфигурация и логгер.
type rootOptions struct {
	cfg    *config.Config
	logger *zap.Logger
	// newLogger создаёт логгер после разбора флагов. Тесты подменяют его.
	newLogger func() (*zap.Logger, error)
}

// NewRootCommand создаёт корневую команду passculture.
func NewRootCommand() *cobra.Command {
	return newRootCommand(func() (*zap.Logger, error) { return zap.NewProduction() })
}

func newRootCommand(newLogger func() (*zap.Logger, error)) *cobra.Command {
	opts := &rootOptions{
		cfg:       &config.Config{},
		newLogger: newLogger,
	}

	cmd := &cobra.Command{
		Use:           "passculture",
		Short:         "pass Culture financial core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.cfg.Load(); err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			logger, err := opts.newLogger()
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			opts.logger = logger
			zap.ReplaceGlobals(logger)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	opts.cfg.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newBatchCommand(opts, "price-bookings", "Price used bookings of the last pricing window",
		func(a *app) jobs.Job { return a.priceBookingsJob() }))
	cmd.AddCommand(newBatchCommand(opts, "recredit-users", "Recredit deposits of users who reached a new age",
		func(a *app) jobs.Job { return a.recreditUsersJob() }))
	cmd.AddCommand(newBatchCommand(opts, "expire-collective-bookings", "Cancel pending collective bookings past their confirmation limit",
		func(a *app) jobs.Job { return a.expireCollectiveBookingsJob() }))
	cmd.AddCommand(newBatchCommand(opts, "use-collective-bookings", "Mark collective bookings used 48 hours after the event end",
		func(a *app) jobs.Job { return a.useCollectiveBookingsJob() }))
	cmd.AddCommand(newTokenCommand(opts))

	return cmd
}
