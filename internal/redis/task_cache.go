package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
)

const defaultCacheTTL = 10 * time.Minute

func taskKey(taskID string) string { return "taskreminder:task:" + taskID }

// CachedRepository is a read-through cache in front of a domain.Repository.
// FindByID is served from Redis when possible; every write goes to the
// underlying repository first and then drops the cached copy. Redis errors
// are logged and never fail a call.
type CachedRepository struct {
	next   domain.Repository
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedRepository wraps next. A zero ttl uses the default of 10 minutes.
func NewCachedRepository(next domain.Repository, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedRepository {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedRepository{next: next, client: client, ttl: ttl, logger: logger}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

// FindAll always reads the underlying repository. It leaves the cache alone:
// a listing may be older than a write that invalidated one of its tasks.
func (c *CachedRepository) FindAll(ctx context.Context) ([]*domain.Task, error) {
	return c.next.FindAll(ctx)
}

func (c *CachedRepository) FindByID(ctx context.Context, id string) (*domain.Task, error) {
	task, err := c.get(ctx, id)
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, redis.Nil) {
		c.warn("read task cache", id, err)
	}

	task, err = c.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, task)
	return task, nil
}

func (c *CachedRepository) Create(ctx context.Context, task *domain.Task) error {
	if err := c.next.Create(ctx, task); err != nil {
		return err
	}
	c.set(ctx, task)
	return nil
}

func (c *CachedRepository) Update(ctx context.Context, task *domain.Task) error {
	defer c.invalidate(ctx, task.ID)
	return c.next.Update(ctx, task)
}

func (c *CachedRepository) Delete(ctx context.Context, id string) error {
	defer c.invalidate(ctx, id)
	return c.next.Delete(ctx, id)
}

func (c *CachedRepository) DeleteByState(ctx context.Context, state domain.State) ([]string, error) {
	ids, err := c.next.DeleteByState(ctx, state)
	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = taskKey(id)
		}
		if derr := c.client.Del(ctx, keys...).Err(); derr != nil {
			c.warn("invalidate task cache", "", derr)
		}
	}
	return ids, err
}

func (c *CachedRepository) MarkNotified(ctx context.Context, id string, at time.Time) error {
	defer c.invalidate(ctx, id)
	return c.next.MarkNotified(ctx, id, at)
}

// Ping reports whether Redis is reachable.
func (c *CachedRepository) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *CachedRepository) get(ctx context.Context, id string) (*domain.Task, error) {
	data, err := c.client.Get(ctx, taskKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal cached task %s: %w", id, err)
	}
	return &task, nil
}

func (c *CachedRepository) set(ctx context.Context, task *domain.Task) {
	data, err := json.Marshal(task)
	if err != nil {
		c.warn("marshal task for cache", task.ID, err)
		return
	}
	if err := c.client.Set(ctx, taskKey(task.ID), data, c.ttl).Err(); err != nil {
		c.warn("write task cache", task.ID, err)
	}
}

func (c *CachedRepository) invalidate(ctx context.Context, id string) {
	if err := c.client.Del(ctx, taskKey(id)).Err(); err != nil {
		c.warn("invalidate task cache", id, err)
	}
}

func (c *CachedRepository) warn(msg, id string, err error) {
	c.logger.Warn(msg,
		slog.String("task_id", id),
		slog.String("error", err.Error()),
	)
}
