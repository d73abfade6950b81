package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aboutevan/prello/domain"
)

type backend interface {
	GetBoard(ctx context.Context, boardID string) (domain.Board, error)
	CreateBoard(ctx context.Context, b domain.Board) error
	UpdateBoard(ctx context.Context, b domain.Board) error
	DeleteBoard(ctx context.Context, boardID string) error
	ListsInBoard(ctx context.Context, boardID string) ([]domain.List, error)
	GetList(ctx context.Context, boardID, listID string) (domain.List, error)
	CreateList(ctx context.Context, l domain.List) error
	UpdateList(ctx context.Context, l domain.List) error
	DeleteList(ctx context.Context, boardID, listID string) error
	UpdateListOrders(ctx context.Context, boardID string, placements []domain.Placement) error
	TasksInList(ctx context.Context, listID string) ([]domain.Task, error)
	GetTask(ctx context.Context, listID, taskID string) (domain.Task, error)
	CreateTask(ctx context.Context, tk domain.Task) error
	UpdateTask(ctx context.Context, tk domain.Task) error
	DeleteTask(ctx context.Context, listID, taskID string) error
	UpdateTaskOrders(ctx context.Context, listID string, placements []domain.Placement) error
	EnqueueEvents(ctx context.Context, events []domain.Event) error
}

// Cache wraps a Storage instance with redis-backed caching of the
// sibling scans, which every pipeline run performs. Any write under a
// board or list evicts the affected snapshot.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided redis
// client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func listsCacheKey(boardID string) string { return "lists:" + boardID }
func tasksCacheKey(listID string) string  { return "tasks:" + listID }

func (c *Cache) GetBoard(ctx context.Context, boardID string) (domain.Board, error) {
	return c.base.GetBoard(ctx, boardID)
}

func (c *Cache) CreateBoard(ctx context.Context, b domain.Board) error {
	return c.base.CreateBoard(ctx, b)
}

func (c *Cache) UpdateBoard(ctx context.Context, b domain.Board) error {
	return c.base.UpdateBoard(ctx, b)
}

func (c *Cache) DeleteBoard(ctx context.Context, boardID string) error {
	if err := c.base.DeleteBoard(ctx, boardID); err != nil {
		return err
	}
	c.evict(ctx, listsCacheKey(boardID))
	return nil
}

func (c *Cache) ListsInBoard(ctx context.Context, boardID string) ([]domain.List, error) {
	if lists, ok := loadCached[[]domain.List](ctx, c, listsCacheKey(boardID)); ok {
		return lists, nil
	}
	lists, err := c.base.ListsInBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, listsCacheKey(boardID), lists)
	return lists, nil
}

func (c *Cache) GetList(ctx context.Context, boardID, listID string) (domain.List, error) {
	return c.base.GetList(ctx, boardID, listID)
}

func (c *Cache) CreateList(ctx context.Context, l domain.List) error {
	if err := c.base.CreateList(ctx, l); err != nil {
		return err
	}
	c.evict(ctx, listsCacheKey(l.BoardID))
	return nil
}

func (c *Cache) UpdateList(ctx context.Context, l domain.List) error {
	if err := c.base.UpdateList(ctx, l); err != nil {
		return err
	}
	c.evict(ctx, listsCacheKey(l.BoardID))
	return nil
}

func (c *Cache) DeleteList(ctx context.Context, boardID, listID string) error {
	if err := c.base.DeleteList(ctx, boardID, listID); err != nil {
		return err
	}
	c.evict(ctx, listsCacheKey(boardID), tasksCacheKey(listID))
	return nil
}

func (c *Cache) UpdateListOrders(ctx context.Context, boardID string, placements []domain.Placement) error {
	// Evict before and after: a partial write must not leave a stale
	// snapshot behind.
	c.evict(ctx, listsCacheKey(boardID))
	err := c.base.UpdateListOrders(ctx, boardID, placements)
	c.evict(ctx, listsCacheKey(boardID))
	return err
}

func (c *Cache) TasksInList(ctx context.Context, listID string) ([]domain.Task, error) {
	if tasks, ok := loadCached[[]domain.Task](ctx, c, tasksCacheKey(listID)); ok {
		return tasks, nil
	}
	tasks, err := c.base.TasksInList(ctx, listID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, tasksCacheKey(listID), tasks)
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, listID, taskID string) (domain.Task, error) {
	return c.base.GetTask(ctx, listID, taskID)
}

func (c *Cache) CreateTask(ctx context.Context, tk domain.Task) error {
	if err := c.base.CreateTask(ctx, tk); err != nil {
		return err
	}
	c.evict(ctx, tasksCacheKey(tk.ListID))
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, tk domain.Task) error {
	if err := c.base.UpdateTask(ctx, tk); err != nil {
		return err
	}
	c.evict(ctx, tasksCacheKey(tk.ListID))
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, listID, taskID string) error {
	if err := c.base.DeleteTask(ctx, listID, taskID); err != nil {
		return err
	}
	c.evict(ctx, tasksCacheKey(listID))
	return nil
}

func (c *Cache) UpdateTaskOrders(ctx context.Context, listID string, placements []domain.Placement) error {
	c.evict(ctx, tasksCacheKey(listID))
	err := c.base.UpdateTaskOrders(ctx, listID, placements)
	c.evict(ctx, tasksCacheKey(listID))
	return err
}

func (c *Cache) EnqueueEvents(ctx context.Context, events []domain.Event) error {
	return c.base.EnqueueEvents(ctx, events)
}

func loadCached[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var zero T
	if c.redis == nil {
		return zero, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return zero, false
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return zero, false
	}
	return out, true
}

func (c *Cache) store(ctx context.Context, key string, value any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}
