package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/valoralocal/reconciler/internal/metrics"
)

const sweepTimeout = 30 * time.Second

// SweepStaleClaims возвращает в статус pending ожидающие подписки, захват которых
// длится дольше ProcessingTimeout. Такая запись осталась от прерванной финализации.
func (s *Service) SweepStaleClaims(ctx context.Context) (int64, error) {
	n, err := s.store.ResetStalePending(ctx, s.now().Add(-s.opts.ProcessingTimeout))
	if err != nil {
		return 0, err
	}
	metrics.SweepResetsTotal.WithLabelValues("stale_claims").Add(float64(n))
	return n, nil
}

// SweepExpired переводит в статус expired активные бизнесы с истёкшим сроком с учётом ExpiryGrace.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireBusinesses(ctx, s.now().Add(-s.opts.ExpiryGrace))
	if err != nil {
		return 0, err
	}
	metrics.SweepResetsTotal.WithLabelValues("expired").Add(float64(n))
	return n, nil
}

// Scheduler запускает обслуживающие задачи сервиса по расписанию cron.
type Scheduler struct {
	cron     *cron.Cron
	svc      *Service
	logger   *zap.Logger
	schedule string
}

// NewScheduler создаёт планировщик. Пустое расписание отключает задачи.
func NewScheduler(svc *Service, logger *zap.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger))),
		svc:      svc,
		logger:   logger,
		schedule: schedule,
	}
}

// Start регистрирует задачи и запускает планировщик.
func (s *Scheduler) Start() error {
	if s.schedule == "" {
		s.logger.Info("maintenance sweeps disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, s.runSweeps); err != nil {
		return err
	}
	s.logger.Info("scheduled maintenance sweeps", zap.String("schedule", s.schedule))
	s.cron.Start()
	return nil
}

// Stop останавливает планировщик. Возвращённый контекст завершается, когда закончатся запущенные задачи.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runSweeps() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if n, err := s.svc.SweepStaleClaims(ctx); err != nil {
		s.logger.Error("stale claim sweep failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("stale claims released", zap.Int64("count", n))
	}

	if n, err := s.svc.SweepExpired(ctx); err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("businesses expired", zap.Int64("count", n))
	}
}
