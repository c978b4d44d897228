package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker не даёт одной задаче выполняться одновременно в нескольких местах:
// по расписанию, при ручном запуске или на другой реплике.
type Locker interface {
	// TryLock захватывает блокировку key. Если она занята, возвращает ok = false.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// LocalLocker действует в пределах одного процесса.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker создаёт блокировку в пределах процесса.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryLock захватывает блокировку key. ttl не используется: блокировка живёт до вызова unlock.
func (l *LocalLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	unlock := func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}
	return unlock, true, nil
}

// releaseScript удаляет ключ, только если он всё ещё принадлежит владельцу токена.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// ErrLockLost возвращается при освобождении блокировки, срок которой уже истёк.
var ErrLockLost = errors.New("lock expired before release")

// RedisClient описывает часть клиента Redis, нужную блокировке. Его реализует *redis.Client.
type RedisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisLocker действует сразу для всех реплик сервиса.
type RedisLocker struct {
	client RedisClient
	prefix string
}

// NewRedisLocker создаёт блокировку поверх клиента Redis.
func NewRedisLocker(client RedisClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// TryLock выполняет SET NX с временем жизни ttl.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		deleted, err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Int()
		if err != nil {
			return fmt.Errorf("release lock %s: %w", fullKey, err)
		}
		if deleted == 0 {
			return ErrLockLost
		}
		return nil
	}
	return unlock, true, nil
}
