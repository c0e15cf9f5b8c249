package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/clusterapi/internal/common"
	"github.com/dmitrijs2005/clusterapi/internal/server/models"
	"github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"
)

const (
	redisUserKey  = "users:id:"
	redisEmailKey = "users:email:"
	redisAllKey   = "users:all"

	redisTxRetries = 5
)

// RedisRepository keeps each user as a JSON value under users:id:<id>, an
// email index under users:email:<email> and the id set under users:all.
// Writes use WATCH/MULTI so the email index never points at two users.
type RedisRepository struct {
	rdb *redis.Client
}

func NewRedisRepository(rdb *redis.Client) *RedisRepository {
	return &RedisRepository{rdb: rdb}
}

func (r *RedisRepository) load(ctx context.Context, c redis.Cmdable, id string) (*models.User, error) {
	raw, err := c.Get(ctx, redisUserKey+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("redis error: %w", err)
	}
	u, err := decodeUser(raw)
	if err != nil {
		return nil, fmt.Errorf("redis decode: %w", err)
	}
	return u, nil
}

func (r *RedisRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.load(ctx, r.rdb, id)
}

func (r *RedisRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	id, err := r.rdb.Get(ctx, redisEmailKey+email).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("redis error: %w", err)
	}
	return r.load(ctx, r.rdb, id)
}

func encodeUser(u *models.User) ([]byte, error) {
	return json.Marshal(u)
}

func decodeUser(raw []byte) (*models.User, error) {
	u := &models.User{}
	if err := json.Unmarshal(raw, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (r *RedisRepository) withRetry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < redisTxRetries; i++ {
		err := r.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis error: %w", redis.TxFailedErr)
}

func (r *RedisRepository) Save(ctx context.Context, user *models.User) error {
	payload, err := encodeUser(user)
	if err != nil {
		return fmt.Errorf("redis encode: %w", err)
	}

	userKey := redisUserKey + user.ID
	emailKey := redisEmailKey + user.Email

	txf := func(tx *redis.Tx) error {
		owner, err := tx.Get(ctx, emailKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis error: %w", err)
		}
		if err == nil && owner != user.ID {
			return common.ErrorAlreadyExists
		}

		var prevEmail string
		if raw, err := tx.Get(ctx, userKey).Bytes(); err == nil {
			if prev, err := decodeUser(raw); err == nil {
				prevEmail = prev.Email
			}
		} else if !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis error: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, userKey, payload, 0)
			p.Set(ctx, emailKey, user.ID, 0)
			if prevEmail != "" && prevEmail != user.Email {
				p.Del(ctx, redisEmailKey+prevEmail)
			}
			p.SAdd(ctx, redisAllKey, user.ID)
			return nil
		})
		return err
	}

	return r.withRetry(ctx, txf, userKey, emailKey)
}

func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	userKey := redisUserKey + id

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, userKey).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return common.ErrorNotFound
			}
			return fmt.Errorf("redis error: %w", err)
		}
		u, err := decodeUser(raw)
		if err != nil {
			return fmt.Errorf("redis decode: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, userKey, redisEmailKey+u.Email)
			p.SRem(ctx, redisAllKey, id)
			return nil
		})
		return err
	}

	return r.withRetry(ctx, txf, userKey)
}

func (r *RedisRepository) List(ctx context.Context) ([]*models.User, error) {
	ids, err := r.rdb.SMembers(ctx, redisAllKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}

	list := make([]*models.User, 0, len(ids))
	if len(ids) == 0 {
		return list, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisUserKey + id
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		u, err := decodeUser([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("redis decode: %w", err)
		}
		list = append(list, u)
	}
	sortUsers(list)
	return list, nil
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisRepository) Close() error {
	return r.rdb.Close()
}
