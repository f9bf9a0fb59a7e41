package assistant

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionLocker serializes turns for one session. Turns in different
// sessions run concurrently.
type SessionLocker interface {
	// Acquire blocks until the session lock is held or ctx is done.
	// The returned release function must be called when the turn ends.
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
}

// RedisLocker implements SessionLocker with redis SetNX leases. The
// lease TTL caps how long a crashed holder can wedge a session.
type RedisLocker struct {
	Rdb *redis.Client
	TTL time.Duration
}

// NewRedisLocker builds a locker with the given lease TTL.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{Rdb: rdb, TTL: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	key := "session_turn_lock:" + sessionID
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		ok, err := l.Rdb.SetNX(ctx, key, "1", l.TTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				l.Rdb.Del(context.Background(), key)
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// localLocker is an in-process fallback used when redis is not
// configured. It serializes sessions within a single instance only.
type localLocker struct {
	locks chan struct{}
	byID  map[string]chan struct{}
}

// NewLocalLocker builds a process-local SessionLocker.
func NewLocalLocker() SessionLocker {
	l := &localLocker{
		locks: make(chan struct{}, 1),
		byID:  make(map[string]chan struct{}),
	}
	l.locks <- struct{}{}
	return l
}

func (l *localLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	// take the table lock
	select {
	case <-l.locks:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	ch, ok := l.byID[sessionID]
	if !ok {
		ch = make(chan struct{}, 1)
		ch <- struct{}{}
		l.byID[sessionID] = ch
	}
	l.locks <- struct{}{}

	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
