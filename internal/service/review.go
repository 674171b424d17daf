package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultReviewCooldown is how long an approver must have had a record open
// before the approve/reject controls are offered.
const DefaultReviewCooldown = 10 * time.Second

// ReviewContext is the request-scoped record of when an approver first opened
// a record.
type ReviewContext struct {
	ApproverID string
	RecordID   string
	FirstSeen  time.Time
}

// ReviewGate computes the remaining cool-down for a ReviewContext. It is a UI
// pacing aid for the caller; the approval machine never consults it.
type ReviewGate struct {
	Cooldown time.Duration
}

// Remaining is the time left before the action may be offered, or zero.
// An unseen record has the full cool-down left.
func (g ReviewGate) Remaining(rc ReviewContext, now time.Time) time.Duration {
	if rc.FirstSeen.IsZero() {
		return g.Cooldown
	}
	left := rc.FirstSeen.Add(g.Cooldown).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// ReviewTracker remembers the first time each approver opened each record.
type ReviewTracker interface {
	// Open records now as the first-seen time unless one is already set, and
	// returns the stored context.
	Open(ctx context.Context, approverID, recordID string, now time.Time) (ReviewContext, error)
	// Clear forgets the pair once the approver has acted.
	Clear(ctx context.Context, approverID, recordID string) error
}

// reviewKey identifies one approver's review of one record.
type reviewKey struct {
	approverID string
	recordID   string
}

// ── Redis ─────────────────────────────────────────────────────────────────────

// RedisReviewTracker shares first-seen times between server replicas. Keys
// expire after ttl so abandoned reviews do not accumulate.
type RedisReviewTracker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisReviewTracker creates a tracker on rdb.
func NewRedisReviewTracker(rdb *redis.Client, ttl time.Duration) *RedisReviewTracker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisReviewTracker{rdb: rdb, ttl: ttl}
}

// key is crm:review:<approver>:<record>. Record ids never contain ':', so
// the last ':' always splits the pair.
func (t *RedisReviewTracker) key(approverID, recordID string) string {
	return "crm:review:" + approverID + ":" + recordID
}

func (t *RedisReviewTracker) Open(ctx context.Context, approverID, recordID string, now time.Time) (ReviewContext, error) {
	key := t.key(approverID, recordID)
	if err := t.rdb.SetNX(ctx, key, now.UnixMilli(), t.ttl).Err(); err != nil {
		return ReviewContext{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to record review start")
	}
	raw, err := t.rdb.Get(ctx, key).Result()
	if err != nil {
		return ReviewContext{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to read review start")
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ReviewContext{}, errors.Wrap(err, errors.ErrCodeInternal, "corrupt review start")
	}
	return ReviewContext{ApproverID: approverID, RecordID: recordID, FirstSeen: time.UnixMilli(ms)}, nil
}

func (t *RedisReviewTracker) Clear(ctx context.Context, approverID, recordID string) error {
	if err := t.rdb.Del(ctx, t.key(approverID, recordID)).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear review start")
	}
	return nil
}

// ── In-memory ─────────────────────────────────────────────────────────────────

// MemoryReviewTracker is the single-process tracker used when no Redis is
// configured.
type MemoryReviewTracker struct {
	mu    sync.Mutex
	first map[reviewKey]time.Time
}

func NewMemoryReviewTracker() *MemoryReviewTracker {
	return &MemoryReviewTracker{first: make(map[reviewKey]time.Time)}
}

func (t *MemoryReviewTracker) Open(_ context.Context, approverID, recordID string, now time.Time) (ReviewContext, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := reviewKey{approverID: approverID, recordID: recordID}
	seen, ok := t.first[key]
	if !ok {
		seen = now
		t.first[key] = now
	}
	return ReviewContext{ApproverID: approverID, RecordID: recordID, FirstSeen: seen}, nil
}

func (t *MemoryReviewTracker) Clear(_ context.Context, approverID, recordID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.first, reviewKey{approverID: approverID, recordID: recordID})
	return nil
}
