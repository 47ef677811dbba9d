package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"number-shop/internal/store"
)

// Reviewer runs the periodic recharge jobs: mailbox verification of
// pending automatic recharges and reminders for requests nobody reviewed.
type Reviewer struct {
	bot         *TelegramBot
	schedule    string
	remindAfter time.Duration
	logger      *logrus.Logger
}

// NewReviewer creates the job runner. schedule uses cron syntax or
// descriptors such as "@every 10m".
func NewReviewer(tb *TelegramBot, schedule string, remindAfter time.Duration, logger *logrus.Logger) (*Reviewer, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid review schedule %q: %w", schedule, err)
	}
	return &Reviewer{
		bot:         tb,
		schedule:    schedule,
		remindAfter: remindAfter,
		logger:      logger,
	}, nil
}

// Run schedules the jobs and blocks until ctx is cancelled.
func (r *Reviewer) Run(ctx context.Context) error {
	cronLogger := cron.PrintfLogger(r.logger)
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	if _, err := c.AddFunc(r.schedule, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule review jobs: %w", err)
	}

	c.Start()
	r.logger.WithField("schedule", r.schedule).Info("Review jobs started")

	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("Review jobs stopped")
	return nil
}

// RunOnce runs both jobs immediately.
func (r *Reviewer) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if r.bot.verifier != nil {
		r.verifyPending(ctx)
	}
	if r.remindAfter > 0 {
		r.remindPending(ctx)
	}
	r.sweepIdle()
}

func (r *Reviewer) sweepIdle() {
	sessions := r.bot.sessions.sweep()
	limiters := r.bot.limiter.sweep(limiterIdle)
	if sessions+limiters > 0 {
		r.logger.WithFields(logrus.Fields{
			"sessions": sessions,
			"limiters": limiters,
		}).Debug("Dropped idle user state")
	}
}

func (r *Reviewer) verifyPending(ctx context.Context) {
	pending, err := r.bot.shop.PendingRecharges(ctx, 0)
	if err != nil {
		r.logger.WithError(err).Error("Failed to list pending recharges")
		return
	}

	approved := 0
	for i := range pending {
		if pending[i].Method != store.MethodAutomatic {
			continue
		}
		ok, err := r.bot.autoApprove(ctx, &pending[i])
		if err != nil {
			// The mailbox is likely down; the next run retries.
			r.logger.WithError(err).WithField("recharge_id", pending[i].ID).Warn("Mailbox verification failed")
			return
		}
		if ok {
			approved++
		}
	}
	if approved > 0 {
		r.logger.WithField("approved", approved).Info("Recharges verified from mailbox")
	}
}

func (r *Reviewer) remindPending(ctx context.Context) {
	stale, err := r.bot.shop.PendingRecharges(ctx, r.remindAfter)
	if err != nil {
		r.logger.WithError(err).Error("Failed to list stale recharges")
		return
	}

	for i := range stale {
		rc := &stale[i]
		if rc.RemindedAt != nil {
			continue
		}
		waited := time.Since(rc.CreatedAt).Truncate(time.Minute)
		r.bot.sendReview(rc, fmt.Sprintf("⏰ Waiting for review for %s\n\n", waited))

		if err := r.bot.shop.MarkReminded(ctx, rc.ID); err != nil {
			r.logger.WithError(err).WithField("recharge_id", rc.ID).Error("Failed to mark recharge reminded")
			continue
		}
		r.logger.WithFields(logrus.Fields{
			"recharge_id": rc.ID,
			"user_id":     rc.UserID,
		}).Info("Admins reminded about pending recharge")
	}
}
