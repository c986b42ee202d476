package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
	"github.com/seefeesaw/afroverse-sub006/internal/service"
	"github.com/seefeesaw/afroverse-sub006/internal/targeting"
)

// Job names, used for HTTP trigger and status lookups.
const (
	JobDailyChallenge   = "daily_challenge"
	JobStreakReminder   = "streak_reminder"
	JobTribeWeeklyReset = "tribe_weekly_reset"
	JobReEngagement     = "re_engagement"
	JobRetrySweep       = "retry_sweep"
	JobCleanup          = "cleanup"
	JobCounterSweep     = "counter_sweep"
)

const (
	retrySweepInterval   = 5 * time.Minute
	cleanupInterval      = 6 * time.Hour
	counterSweepInterval = time.Hour
	retryBatchSize       = 100
	cleanupBatchSize     = 500
)

// CounterSweeper drops expired in-memory rule counters. The redis-backed
// store expires keys server-side and does not need sweeping.
type CounterSweeper interface {
	Sweep(now time.Time) int
}

// Jobs wires the recurring notification fan-outs and maintenance sweeps.
type Jobs struct {
	svc       *service.NotificationService
	targeting *targeting.Engine
	sweeper   CounterSweeper
	logger    *slog.Logger
	now       func() time.Time
}

// NewJobs creates the job set. sweeper may be nil when counters live in redis.
func NewJobs(svc *service.NotificationService, targetingEngine *targeting.Engine, sweeper CounterSweeper, logger *slog.Logger) *Jobs {
	return &Jobs{
		svc:       svc,
		targeting: targetingEngine,
		sweeper:   sweeper,
		logger:    logger,
		now:       time.Now,
	}
}

// Register attaches every job to the scheduler at its shipped cadence.
func (j *Jobs) Register(s *Scheduler) {
	s.DailyAt(JobDailyChallenge, 7, 0, j.DailyChallenge)
	s.DailyAt(JobStreakReminder, 23, 0, j.StreakReminder)
	s.WeeklyAt(JobTribeWeeklyReset, time.Monday, 8, 0, j.TribeWeeklyReset)
	s.DailyAt(JobReEngagement, 10, 30, j.ReEngagement)
	s.Every(JobRetrySweep, retrySweepInterval, j.RetrySweep)
	s.Every(JobCleanup, cleanupInterval, j.Cleanup)
	if j.sweeper != nil {
		s.Every(JobCounterSweep, counterSweepInterval, j.CounterSweep)
	}
}

// DailyChallenge announces the day's challenge to every active account.
func (j *Jobs) DailyChallenge(ctx context.Context) (int, error) {
	results, err := j.svc.SendTargeted(ctx, nil,
		targeting.Criteria{Class: targeting.AudienceActive},
		&service.SendNotificationInput{
			Type:     domain.NotificationTypeDailyChallenge,
			Channel:  domain.ChannelPush,
			Priority: domain.NotificationPriorityNormal,
			Variables: map[string]string{
				"date": j.now().UTC().Format("January 2"),
			},
		})
	if err != nil {
		return 0, fmt.Errorf("daily challenge fan-out: %w", err)
	}
	return countSent(results), nil
}

// StreakReminder nudges recipients whose streak is still unsafe as their
// local midnight approaches. Variables are per recipient, so this fans out
// one send at a time rather than through SendBulk.
func (j *Jobs) StreakReminder(ctx context.Context) (int, error) {
	audience, err := j.targeting.GetUsers(ctx,
		[]targeting.RuleRef{{Name: targeting.RuleStreakNotSafe}},
		targeting.Criteria{Class: targeting.AudienceActive},
	)
	if err != nil {
		return 0, fmt.Errorf("resolve streak audience: %w", err)
	}

	now := j.now().UTC()
	sent := 0
	for i := range audience {
		snapshot := &audience[i]

		local := now.In(snapshot.Location())
		midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location()).AddDate(0, 0, 1)
		hoursLeft := int(midnight.Sub(local).Hours())

		notification, err := j.svc.SendNotification(ctx, &service.SendNotificationInput{
			RecipientID: snapshot.ID,
			Type:        domain.NotificationTypeStreakReminder,
			Channel:     domain.ChannelPush,
			Priority:    domain.NotificationPriorityHigh,
			Variables: map[string]string{
				"streak_days": strconv.Itoa(snapshot.StreakDays),
				"hours_left":  strconv.Itoa(hoursLeft),
			},
		})
		if err != nil {
			j.logger.WarnContext(ctx, "streak reminder send failed",
				slog.String("recipient_id", snapshot.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if notification.Status == domain.NotificationStatusSent {
			sent++
		}
	}
	return sent, nil
}

// TribeWeeklyReset announces the weekly tribe leaderboard reset. The rules
// engine drops recipients without a tribe.
func (j *Jobs) TribeWeeklyReset(ctx context.Context) (int, error) {
	results, err := j.svc.SendTargeted(ctx, nil,
		targeting.Criteria{Class: targeting.AudienceAll},
		&service.SendNotificationInput{
			Type:     domain.NotificationTypeTribeAlert,
			Channel:  domain.ChannelPush,
			Priority: domain.NotificationPriorityNormal,
			Variables: map[string]string{
				"event": "weekly_reset",
			},
		})
	if err != nil {
		return 0, fmt.Errorf("tribe weekly reset fan-out: %w", err)
	}
	return countSent(results), nil
}

// ReEngagement reaches out to accounts that have gone quiet.
func (j *Jobs) ReEngagement(ctx context.Context) (int, error) {
	results, err := j.svc.SendTargeted(ctx, nil,
		targeting.Criteria{Class: targeting.AudienceInactive},
		&service.SendNotificationInput{
			Type:     domain.NotificationTypeReEngagement,
			Channel:  domain.ChannelPush,
			Priority: domain.NotificationPriorityLow,
		})
	if err != nil {
		return 0, fmt.Errorf("re-engagement fan-out: %w", err)
	}
	return countSent(results), nil
}

// RetrySweep re-attempts failed notifications with retry budget left.
func (j *Jobs) RetrySweep(ctx context.Context) (int, error) {
	return j.svc.RetryFailed(ctx, retryBatchSize)
}

// Cleanup deletes notifications past their retention window.
func (j *Jobs) Cleanup(ctx context.Context) (int, error) {
	return j.svc.CleanupExpired(ctx, cleanupBatchSize)
}

// CounterSweep drops expired in-memory rule counters.
func (j *Jobs) CounterSweep(ctx context.Context) (int, error) {
	return j.sweeper.Sweep(j.now().UTC()), nil
}

func countSent(results []service.BulkResult) int {
	sent := 0
	for _, r := range results {
		if r.Err == nil && r.Notification != nil && r.Notification.Status == domain.NotificationStatusSent {
			sent++
		}
	}
	return sent
}
