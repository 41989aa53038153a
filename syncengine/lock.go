package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/config"
	"github.com/sirupsen/logrus"
)

// CycleLock serializes cycles for one tenant across processes.
// Acquire returns ErrCycleInProgress when another holder owns the tenant.
type CycleLock interface {
	Acquire(ctx context.Context, tenant string) (release func(), err error)
}

// RedisCycleLock is a best-effort CycleLock: if Redis itself fails, the cycle proceeds
// under the in-process guard only.
type RedisCycleLock struct {
	client *redislock.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRedisCycleLock(client *redislock.Client, ttl time.Duration) *RedisCycleLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisCycleLock{client: client, ttl: ttl, logger: config.GetLogger()}
}

func cycleLockKey(tenant string) string {
	return fmt.Sprintf("lock:sync:%s", tenant)
}

func (l *RedisCycleLock) Acquire(ctx context.Context, tenant string) (func(), error) {
	noop := func() {}
	if l == nil || l.client == nil {
		return noop, nil
	}
	lock, err := l.client.Obtain(ctx, cycleLockKey(tenant), l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrCycleInProgress
	}
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"module":   "syncengine",
			"funcName": "RedisCycleLock.Acquire",
			"tenant":   tenant,
		}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
		return noop, nil
	}
	return func() {
		if releaseErr := lock.Release(context.Background()); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			l.logger.WithFields(logrus.Fields{
				"module":   "syncengine",
				"funcName": "RedisCycleLock.Acquire",
				"tenant":   tenant,
			}).Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}, nil
}
