package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/refresh_lock.lua
var refreshLockScript string

var (
	// ErrSessionNotFound is returned when a session key does not exist or
	// has expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrLockNotHeld is returned when releasing or refreshing a lock owned
	// by someone else.
	ErrLockNotHeld = errors.New("lock not held")
)

const maxUpdateAttempts = 5

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	refreshScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		refreshScript: redis.NewScript(refreshLockScript),
	}
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func lockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

// GetSession loads a session
func (c *Client) GetSession(ctx context.Context, id string) (*models.Session, error) {
	data, err := c.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return decodeSession(data)
}

// SaveSession stores a session and resets its TTL
func (c *Client) SaveSession(ctx context.Context, s *models.Session, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return c.rdb.Set(ctx, sessionKey(s.ID), data, ttl).Err()
}

// DeleteSession removes a session
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, sessionKey(id)).Err()
}

// UpdateSession applies fn to the stored session inside an optimistic
// WATCH transaction, retrying when another writer got there first. fn may
// run more than once and must not have side effects outside the session.
func (c *Client) UpdateSession(ctx context.Context, id string, ttl time.Duration, fn func(*models.Session) error) (*models.Session, error) {
	key := sessionKey(id)
	var updated *models.Session

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		s, err := decodeSession(data)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		s.UpdatedAt = time.Now().UTC()
		out, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			return nil
		})
		if err == nil {
			updated = s
		}
		return err
	}

	backoff := retry.WithMaxRetries(maxUpdateAttempts, retry.NewExponential(5*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func decodeSession(data []byte) (*models.Session, error) {
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

// Lock is a held distributed lock
type Lock struct {
	Key   string
	Owner string
}

// AcquireLock acquires a distributed lock. It returns nil when the lock is
// held by someone else.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	lock := &Lock{Key: lockKey(name), Owner: uuid.New().String()}
	ok, err := c.rdb.SetNX(ctx, lock.Key, lock.Owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return lock, nil
}

// RefreshLock extends a lock the caller still holds
func (c *Client) RefreshLock(ctx context.Context, lock *Lock, ttl time.Duration) error {
	n, err := c.refreshScript.Run(ctx, c.rdb, []string{lock.Key}, lock.Owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("refresh lock script failed: %w", err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// ReleaseLock releases a distributed lock if the caller still owns it
func (c *Client) ReleaseLock(ctx context.Context, lock *Lock) error {
	n, err := c.releaseScript.Run(ctx, c.rdb, []string{lock.Key}, lock.Owner).Int64()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
