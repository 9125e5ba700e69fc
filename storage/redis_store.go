// storage/redis_store.go
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chhz0/webauto/types"
	"github.com/go-redis/redis/v8"
)

type RedisStorage struct {
	client    *redis.Client
	prefix    string
	logPrefix string
}

func NewRedisStorage(addr, password string, db int) *RedisStorage {
	return &RedisStorage{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix:    "webauto:task:",
		logPrefix: "webauto:log:",
	}
}

func (s *RedisStorage) key(id string) string {
	return s.prefix + id
}

func (s *RedisStorage) logKey(id string) string {
	return s.logPrefix + id
}

func (s *RedisStorage) SaveTask(ctx context.Context, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	// 任务保留到显式清理，不设TTL
	return s.client.Set(ctx, s.key(task.ID), data, 0).Err()
}

func (s *RedisStorage) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	data, err := s.client.Get(ctx, s.key(taskID)).Bytes()
	if err == redis.Nil {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return types.DeserializeTask(data)
}

// 全键扫描，配合 Redis Stream/ZSET 可做增量，单进程规模下简化处理
func (s *RedisStorage) scan(ctx context.Context, keep func(*types.Task) bool) ([]*types.Task, error) {
	keys, err := s.client.Keys(ctx, s.prefix+"*").Result()
	if err != nil {
		return nil, err
	}

	var tasks []*types.Task
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		task, err := types.DeserializeTask(data)
		if err != nil {
			continue
		}
		if keep(task) {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

func (s *RedisStorage) ListTasks(ctx context.Context, f Filter) ([]*types.Task, error) {
	tasks, err := s.scan(ctx, func(t *types.Task) bool { return matchFilter(t, f) })
	if err != nil {
		return nil, err
	}
	sortNewestFirst(tasks)
	return truncate(tasks, f.Limit), nil
}

func (s *RedisStorage) GetPendingTasks(ctx context.Context, limit int) ([]*types.Task, error) {
	tasks, err := s.scan(ctx, func(t *types.Task) bool { return t.Status == types.StatusPending })
	if err != nil {
		return nil, err
	}
	sortByPriority(tasks)
	return truncate(tasks, limit), nil
}

func (s *RedisStorage) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus, errMsg string) error {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	now := time.Now()
	task.Status = status
	task.ErrorMessage = errMsg
	task.UpdatedAt = now
	switch status {
	case types.StatusRunning:
		task.ExecutedAt = &now
	case types.StatusCompleted, types.StatusFailed:
		task.CompletedAt = &now
	}
	return s.SaveTask(ctx, task)
}

func (s *RedisStorage) CountByStatus(ctx context.Context) (map[types.TaskStatus]int, error) {
	counts := make(map[types.TaskStatus]int)
	tasks, err := s.scan(ctx, func(*types.Task) bool { return true })
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		counts[t.Status]++
	}
	return counts, nil
}

func (s *RedisStorage) AppendLog(ctx context.Context, taskID, level, message string) error {
	entry := types.TaskLog{
		TaskID:    taskID,
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.logKey(taskID), data).Err()
}

func (s *RedisStorage) TaskLogs(ctx context.Context, taskID string, limit int) ([]*types.TaskLog, error) {
	end := int64(-1)
	if limit > 0 {
		end = int64(limit) - 1
	}
	items, err := s.client.LRange(ctx, s.logKey(taskID), 0, end).Result()
	if err != nil {
		return nil, err
	}

	logs := make([]*types.TaskLog, 0, len(items))
	for i, item := range items {
		var entry types.TaskLog
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entry.ID = int64(i) + 1
		logs = append(logs, &entry)
	}
	return logs, nil
}

func (s *RedisStorage) Clear(ctx context.Context) error {
	for _, pattern := range []string{s.prefix + "*", s.logPrefix + "*"} {
		keys, err := s.client.Keys(ctx, pattern).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}
