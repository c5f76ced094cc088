package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/passculture/pass-culture-core/internal/config"
	"github.com/passculture/pass-culture-core/internal/jobs"
)

func (a *app) priceBookings(ctx context.Context) error {
	res, err := a.pricing.PriceBookings(ctx, a.cfg.PricingMaxAge)
	if err != nil {
		return err
	}
	a.logger.Info("bookings priced", zap.Int("priced", res.Priced), zap.Int64s("failedBusinessUnits", res.FailedBusinessUnits))
	fmt.Fprintf(a.out, "priced %d bookings, %d business units failed\n", res.Priced, len(res.FailedBusinessUnits))
	return nil
}

func (a *app) recreditUsers(ctx context.Context) error {
	res, err := a.deposits.RecreditUsers(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("users recredited",
		zap.Int("recredited", res.Recredited), zap.Int("skipped", res.Skipped), zap.Int64s("failed", res.Failed))
	fmt.Fprintf(a.out, "recredited %d users, skipped %d, failed %d\n", res.Recredited, res.Skipped, len(res.Failed))
	return nil
}

func (a *app) expireCollectiveBookings(ctx context.Context) error {
	n, err := a.collective.ExpirePendingBookings(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "expired %d collective bookings\n", n)
	return nil
}

func (a *app) useCollectiveBookings(ctx context.Context) error {
	n, err := a.collective.MarkEndedBookingsUsed(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "marked %d collective bookings as used\n", n)
	return nil
}

// newBatchCommand создаёт команду, однократно выполняющую пакетную задачу (для cron).
func newBatchCommand(opts *rootOptions, use, short string, job func(a *app) jobs.Job) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd, opts.cfg, opts.logger, job)
		},
	}
}

func runBatch(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger, job func(a *app) jobs.Job) error {
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	a.out = cmd.OutOrStdout()

	return jobs.NewScheduler(logger).RunOnce(cmd.Context(), job(a))
}
