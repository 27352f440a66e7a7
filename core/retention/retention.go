package retention

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"fathom-crm/config"
	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

// Job prunes aged execution logs, activity entries and expired sessions on
// a cron schedule.
type Job struct {
	cfg        *config.AppConfig
	automation store.AutomationStore
	activity   store.ActivityStore
	sessions   store.SessionsStore
	logger     *utils.Logger
	cron       *cron.Cron
}

func NewJob(cfg *config.AppConfig, automation store.AutomationStore, activity store.ActivityStore, sessions store.SessionsStore, logger *utils.Logger) *Job {
	return &Job{
		cfg:        cfg,
		automation: automation,
		activity:   activity,
		sessions:   sessions,
		logger:     logger,
	}
}

func (j *Job) Start() error {
	if !j.cfg.Retention.Enabled {
		j.logger.Infof("retention job disabled")
		return nil
	}
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.cfg.Retention.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		j.RunOnce(ctx)
	}); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Infof("retention job scheduled: %s", j.cfg.Retention.Schedule)
	return nil
}

func (j *Job) Stop() {
	if j.cron != nil {
		j.cron.Stop()
	}
}

func (j *Job) RunOnce(ctx context.Context) {
	now := time.Now().UTC()
	if days := j.cfg.Retention.ExecutionLogDays; days > 0 {
		cutoff := now.AddDate(0, 0, -days)
		if n, err := j.automation.DeleteExecutionLogsOlderThan(ctx, cutoff); err != nil {
			j.logger.Errorf("retention: execution logs: %v", err)
		} else if n > 0 {
			j.logger.Infof("retention: removed %d execution logs", n)
		}
	}
	if days := j.cfg.Retention.ActivityLogDays; days > 0 {
		cutoff := now.AddDate(0, 0, -days)
		if n, err := j.activity.DeleteOlderThan(ctx, cutoff); err != nil {
			j.logger.Errorf("retention: activity log: %v", err)
		} else if n > 0 {
			j.logger.Infof("retention: removed %d activity entries", n)
		}
	}
	if n, err := j.sessions.DeleteExpiredSessions(ctx); err != nil {
		j.logger.Errorf("retention: sessions: %v", err)
	} else if n > 0 {
		j.logger.Infof("retention: removed %d expired sessions", n)
	}
}
