// Package scheduler runs the wanted-comics producer on a cron schedule. A Redis lock per fire
// time keeps replicas from enumerating the same tick twice.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/comicsearch/internal/enumerate"
)

// Runner is one enumeration pass.
type Runner interface {
	Run(ctx context.Context, pageSize int) (enumerate.Summary, error)
}

// Locker grants a key to one caller until ttl passes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLocker implements Locker with SET NX.
type RedisLocker struct {
	Client redis.Cmdable
}

func (l RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.Client.SetNX(ctx, key, "1", ttl).Result()
}

type Scheduler struct {
	expr     *cronexpr.Expression
	spec     string
	runner   Runner
	pageSize int
	locker   Locker
	lockTTL  time.Duration
	logger   *log.Logger
	now      func() time.Time
}

// New parses spec (5-field cron or @hourly/@daily style macros). locker may be nil for a single
// replica.
func New(spec string, runner Runner, pageSize int, locker Locker, lockTTL time.Duration, logger *log.Logger) (*Scheduler, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Scheduler{expr: expr, spec: spec, runner: runner, pageSize: pageSize, locker: locker, lockTTL: lockTTL, logger: logger, now: time.Now}, nil
}

// Next returns the first fire time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.expr.Next(t)
}

// Start blocks, firing at every scheduled time until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	for {
		fire := s.Next(s.now())
		if fire.IsZero() {
			return fmt.Errorf("cron %q has no future fire time", s.spec)
		}
		s.logger.Printf("next wanted-comics search at %s", fire.Format(time.RFC3339))
		timer := time.NewTimer(time.Until(fire))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if _, err := s.Fire(ctx, fire); err != nil {
			s.logger.Printf("error: scheduled search at %s: %v", fire.Format(time.RFC3339), err)
		}
	}
}

// Fire runs the producer for the tick at fire unless another replica holds its lock. ran is
// false when the tick was skipped.
func (s *Scheduler) Fire(ctx context.Context, fire time.Time) (ran bool, err error) {
	if s.locker != nil {
		key := "comicsearch:sched:lock:" + strconv.FormatInt(fire.Unix(), 10)
		ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
		if err != nil {
			return false, fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			s.logger.Printf("tick %s already taken by another replica", fire.Format(time.RFC3339))
			return false, nil
		}
	}
	sum, err := s.runner.Run(ctx, s.pageSize)
	if err != nil {
		return true, err
	}
	s.logger.Printf("scheduled search queued %d jobs from %d wanted comics", sum.Jobs, sum.Items)
	return true, nil
}
