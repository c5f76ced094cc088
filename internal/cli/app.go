package cli

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/passculture/pass-culture-core/internal/config"
	"github.com/passculture/pass-culture-core/internal/deposit"
	"github.com/passculture/pass-culture-core/internal/educational"
	"github.com/passculture/pass-culture-core/internal/finance"
	"github.com/passculture/pass-culture-core/internal/jobs"
	"github.com/passculture/pass-culture-core/internal/notify"
	"github.com/passculture/pass-culture-core/internal/repository"
)

// app связывает хранилище, движки и фоновые задачи для одного запуска команды.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      repository.Store
	deposits   *deposit.Engine
	pricing    *finance.Engine
	collective *educational.Service
	// out получает краткие итоги пакетных задач.
	out io.Writer
}

// newApp открывает хранилище и собирает движки. logger передаётся снаружи, чтобы тесты
// могли подставить свой.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	var store repository.Store
	if cfg.DatabaseURI == "" {
		logger.Warn("DATABASE_URI is empty, using in-memory store")
		mem := repository.NewMemory()
		if cfg.FixturesPath != "" {
			fixture, err := repository.ReadFixture(cfg.FixturesPath)
			if err != nil {
				return nil, err
			}
			if err := mem.Load(fixture); err != nil {
				return nil, fmt.Errorf("load fixtures: %w", err)
			}
			logger.Info("fixtures loaded", zap.String("path", cfg.FixturesPath), zap.Int("users", len(fixture.Users)),
				zap.Int("bookings", len(fixture.Bookings)), zap.Int("collective_offers", len(fixture.CollectiveOffers)))
		}
		store = mem
	} else {
		repo, err := repository.NewPostgres(ctx, cfg.DatabaseURI)
		if err != nil {
			return nil, fmt.Errorf("database initialization: %w", err)
		}
		store = repo
	}

	client := notify.NewClient(cfg.NotifyAddress)
	var (
		depositNotifier    deposit.Notifier
		collectiveNotifier educational.Notifier
	)
	if client != nil {
		depositNotifier = client
		collectiveNotifier = client
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		deposits: deposit.NewEngine(store, deposit.Config{
			EnableCreditV3: cfg.EnableCreditV3,
			DecreeDatetime: cfg.DecreeDatetime(),
			BatchSize:      cfg.RecreditBatchSize,
		}, depositNotifier, logger),
		pricing:    finance.NewEngine(store, logger),
		collective: educational.NewService(store, collectiveNotifier, logger),
		out:        io.Discard,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) priceBookingsJob() jobs.Job {
	return jobs.Job{Name: "price_bookings", Interval: a.cfg.PricingInterval, Run: a.priceBookings}
}

func (a *app) recreditUsersJob() jobs.Job {
	return jobs.Job{Name: "recredit_users", Interval: a.cfg.RecreditInterval, Run: a.recreditUsers}
}

func (a *app) expireCollectiveBookingsJob() jobs.Job {
	return jobs.Job{Name: "expire_collective_bookings", Interval: a.cfg.CollectiveInterval, Run: a.expireCollectiveBookings}
}

func (a *app) useCollectiveBookingsJob() jobs.Job {
	return jobs.Job{Name: "use_collective_bookings", Interval: a.cfg.CollectiveInterval, Run: a.useCollectiveBookings}
}

func (a *app) jobs() []jobs.Job {
	return []jobs.Job{
		a.priceBookingsJob(),
		a.recreditUsersJob(),
		a.expireCollectiveBookingsJob(),
		a.useCollectiveBookingsJob(),
	}
}
