package lease

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only when the caller still owns it.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisStore implements Store on a shared redis instance, which makes the
// lease effective across hosts.
type RedisStore struct {
	cmd redis.Cmdable
}

func NewRedisStore(cmd redis.Cmdable) *RedisStore {
	return &RedisStore{cmd: cmd}
}

func (s *RedisStore) Acquire(ctx context.Context, campaignID int, ttl time.Duration) (*Lease, error) {
	key := leaseKey(campaignID)
	token := uuid.NewString()

	ok, err := s.cmd.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}

	return &Lease{
		key:   key,
		token: token,
		release: func(ctx context.Context, key, token string) error {
			return s.cmd.Eval(ctx, releaseScript, []string{key}, token).Err()
		},
	}, nil
}

var _ Store = (*RedisStore)(nil)
