package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mapmarket/backend/internal/metrics"
)

// SweepLockKey is the Redis key that elects one sweeping instance per tick.
const SweepLockKey = "lock:ad-expiry-sweep"

// releaseLock deletes the lock only if we still hold it.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Expirer runs one expiry sweep and returns how many ads it deactivated.
type Expirer interface {
	ExpireSweep(ctx context.Context) (int, error)
}

// Sweeper periodically expires ads whose active window has passed.
type Sweeper struct {
	expirer  Expirer
	rdb      *redis.Client
	interval time.Duration
	lockTTL  time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper. rdb may be nil for a single instance, in
// which case every tick sweeps without taking the lock.
func NewSweeper(expirer Expirer, rdb *redis.Client, interval, lockTTL time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if lockTTL <= 0 || lockTTL > interval {
		lockTTL = interval
	}
	return &Sweeper{expirer: expirer, rdb: rdb, interval: interval, lockTTL: lockTTL, logger: logger}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("expiry sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopping")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce sweeps if this instance wins the lock. ran is false when another
// instance holds it.
func (s *Sweeper) RunOnce(ctx context.Context) (ran bool, expired int, err error) {
	if s.rdb != nil {
		token := uuid.NewString()
		ok, err := s.rdb.SetNX(ctx, SweepLockKey, token, s.lockTTL).Result()
		if err != nil {
			metrics.SweepRuns.WithLabelValues("failed").Inc()
			return false, 0, err
		}
		if !ok {
			metrics.SweepRuns.WithLabelValues("skipped").Inc()
			s.logger.Debug("expiry sweep skipped, lock held elsewhere")
			return false, 0, nil
		}
		defer func() {
			// Release with a fresh context so a cancelled sweep still frees the lock.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if rErr := releaseLock.Run(rctx, s.rdb, []string{SweepLockKey}, token).Err(); rErr != nil && !errors.Is(rErr, redis.Nil) {
				s.logger.Warn("release sweep lock failed", zap.Error(rErr))
			}
		}()
	}

	expired, err = s.expirer.ExpireSweep(ctx)
	if err != nil {
		metrics.SweepRuns.WithLabelValues("failed").Inc()
		return true, expired, err
	}
	metrics.SweepRuns.WithLabelValues("ran").Inc()
	if expired > 0 {
		s.logger.Info("expiry sweep done", zap.Int("expired", expired))
	}
	return true, expired, nil
}
