// Package jobs периодически запускает пакетные операции ядра: расчёт бронирований,
// пополнение депозитов и обслуживание образовательных бронирований.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/passculture/pass-culture-core/internal/metrics"
)

// Job - периодическая задача.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler запускает задачи по тикеру до отмены контекста.
type Scheduler struct {
	jobs   []Job
	logger *zap.Logger
}

// NewScheduler создаёт планировщик. Задачи с неположительным интервалом не запускаются.
func NewScheduler(logger *zap.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, logger: logger}
}

// Run блокируется до отмены ctx. Каждая задача выполняется в своей горутине, запуски одной
// задачи не перекрываются.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Info("job disabled", zap.String("job", job.Name))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, job)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, job)
		}
	}
}

// RunOnce выполняет задачу один раз и записывает её длительность.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) error {
	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)
	metrics.JobDuration.WithLabelValues(job.Name).Observe(elapsed.Seconds())

	switch {
	case err == nil:
		s.logger.Info("job finished", zap.String("job", job.Name), zap.Duration("elapsed", elapsed))
	case errors.Is(err, context.Canceled):
		s.logger.Info("job interrupted", zap.String("job", job.Name))
	default:
		s.logger.Error("job failed", zap.String("job", job.Name), zap.Duration("elapsed", elapsed), zap.Error(err))
	}
	return err
}
