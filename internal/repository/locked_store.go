package repository

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
)

// LockedStore serializes Update and Save across processes with a redis lock
// around an inner EntityStore. Load is not locked.
type LockedStore struct {
	inner  EntityStore
	locker *redislock.Client
	key    string
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

// NewLockedStore wraps inner. key names the lock; ttl bounds how long a
// crashed holder can block others.
func NewLockedStore(inner EntityStore, locker *redislock.Client, key string, ttl time.Duration) *LockedStore {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	// retries stop well inside the ttl so contention ends in ErrNotObtained
	return &LockedStore{
		inner:  inner,
		locker: locker,
		key:    "lock:crm:" + key,
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(25*time.Millisecond), int(ttl/(50*time.Millisecond))),
	}
}

func (s *LockedStore) Load(ctx context.Context) (*Snapshot, error) {
	return s.inner.Load(ctx)
}

func (s *LockedStore) Save(ctx context.Context, snap *Snapshot) error {
	return s.withLock(ctx, func() error {
		return s.inner.Save(ctx, snap)
	})
}

func (s *LockedStore) Update(ctx context.Context, fn func(snap *Snapshot) error) error {
	return s.withLock(ctx, func() error {
		return s.inner.Update(ctx, fn)
	})
}

func (s *LockedStore) withLock(ctx context.Context, fn func() error) error {
	obtainCtx, cancel := context.WithTimeout(ctx, s.ttl)
	defer cancel()

	lock, err := s.locker.Obtain(obtainCtx, s.key, s.ttl, &redislock.Options{RetryStrategy: s.retry})
	switch {
	case err == nil:
	case stderrors.Is(err, redislock.ErrNotObtained):
		return errors.Wrap(err, errors.ErrCodeConflict, "snapshot is locked by another writer")
	case ctx.Err() != nil:
		return errors.Wrap(ctx.Err(), errors.ErrCodeInternal, "request ended while waiting for snapshot lock")
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(err, errors.ErrCodeConflict, "timed out waiting for snapshot lock")
	default:
		return storageError("failed to obtain snapshot lock", err)
	}
	defer func() {
		// release with a fresh context so a cancelled request still unlocks
		_ = lock.Release(context.Background())
	}()
	return fn()
}
