package engine

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Sweeper periodically re-enqueues answers whose evaluation never completed,
// covering provider outages and dropped worker jobs.
type Sweeper struct {
	engine *Engine
	cron   *cron.Cron
	logger *zap.Logger
}

func NewSweeper(e *Engine, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		engine: e,
		cron:   cron.New(),
		logger: logger,
	}
}

func (s *Sweeper) Start() error {
	spec := viper.GetString("engine.sweep_schedule")
	if spec == "" {
		spec = "@every 1m"
	}
	_, err := s.cron.AddFunc(spec, func() {
		s.engine.RetryPendingEvaluations(context.Background())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("Evaluation sweeper started", zap.String("schedule", spec))
	return nil
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
