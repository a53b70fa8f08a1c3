package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/voicetel/suitecrm-notifier/internal/logging"
	"github.com/voicetel/suitecrm-notifier/internal/models"
)

// Runner is one full pass over all linked users.
type Runner interface {
	Run(ctx context.Context) (*models.RunStats, error)
}

// Cron fires the notifier at a fixed interval. A tick that arrives while
// the previous pass is still running is skipped; the per-user monotonic
// watermark keeps overlapping work idempotent anyway.
type Cron struct {
	c        *cron.Cron
	runner   Runner
	logger   *logging.Logger
	interval time.Duration
	mu       sync.Mutex
}

func New(interval time.Duration, runner Runner, logger *logging.Logger) (*Cron, error) {
	cr := &Cron{
		c:        cron.New(),
		runner:   runner,
		logger:   logger,
		interval: interval,
	}
	if _, err := cr.c.AddFunc(fmt.Sprintf("@every %s", interval), cr.tick); err != nil {
		return nil, fmt.Errorf("failed to schedule poll job: %w", err)
	}
	return cr, nil
}

func (cr *Cron) Start() {
	cr.logger.Info("poll trigger started", "interval", cr.interval.String())
	cr.c.Start()
}

// Stop halts the trigger and waits for a running pass to finish.
func (cr *Cron) Stop() {
	<-cr.c.Stop().Done()
	cr.mu.Lock()
	cr.mu.Unlock()
}

func (cr *Cron) tick() {
	if !cr.mu.TryLock() {
		cr.logger.Info("previous pass still running, skipping tick")
		return
	}
	defer cr.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cr.interval)
	defer cancel()

	stats, err := cr.runner.Run(ctx)
	if err != nil {
		cr.logger.LogError("poll pass failed", err)
		return
	}
	cr.logger.Info("poll pass completed",
		"users_checked", stats.UsersChecked,
		"users_skipped", stats.UsersSkipped,
		"alerts_seen", stats.AlertsSeen,
		"notifications_sent", stats.NotificationsSent,
		"errors", stats.Errors,
		"duration", stats.Duration.String(),
	)
}
