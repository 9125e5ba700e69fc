// storage/memory_store.go
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/chhz0/webauto/types"
	"github.com/google/uuid"
)

type MemoryStorage struct {
	tasks map[string]*types.Task
	logs  map[string][]*types.TaskLog
	logID int64
	mu    sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tasks: make(map[string]*types.Task),
		logs:  make(map[string][]*types.TaskLog),
	}
}

func (s *MemoryStorage) SaveTask(ctx context.Context, task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		task.ID = generateID()
	}
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	// 存副本，避免调用方后续修改穿透到存储
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStorage) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

func (s *MemoryStorage) ListTasks(ctx context.Context, f Filter) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.Task
	for _, t := range s.tasks {
		if matchFilter(t, f) {
			result = append(result, t.Clone())
		}
	}
	sortNewestFirst(result)
	return truncate(result, f.Limit), nil
}

func (s *MemoryStorage) GetPendingTasks(ctx context.Context, limit int) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.Task
	for _, t := range s.tasks {
		if t.Status == types.StatusPending {
			result = append(result, t.Clone())
		}
	}
	sortByPriority(result)
	return truncate(result, limit), nil
}

func (s *MemoryStorage) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return ErrTaskNotFound
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
	return nil
}

func (s *MemoryStorage) CountByStatus(ctx context.Context) (map[types.TaskStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[types.TaskStatus]int)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

func (s *MemoryStorage) AppendLog(ctx context.Context, taskID, level, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logID++
	s.logs[taskID] = append(s.logs[taskID], &types.TaskLog{
		ID:        s.logID,
		TaskID:    taskID,
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})
	return nil
}

func (s *MemoryStorage) TaskLogs(ctx context.Context, taskID string, limit int) ([]*types.TaskLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := s.logs[taskID]
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	out := make([]*types.TaskLog, len(logs))
	copy(out, logs)
	return out, nil
}

func (s *MemoryStorage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = make(map[string]*types.Task)
	s.logs = make(map[string][]*types.TaskLog)
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil // 无需关闭操作
}

func generateID() string {
	return uuid.New().String()
}
