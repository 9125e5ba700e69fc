package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/chhz0/webauto/types"
)

var (
	ErrTaskNotFound = errors.New("task not found")
)

// 列表查询条件，零值字段不参与过滤
type Filter struct {
	Status types.TaskStatus
	Type   types.TaskType
	Tag    string
	Limit  int
}

type Storage interface {
	SaveTask(ctx context.Context, task *types.Task) error
	GetTask(ctx context.Context, taskID string) (*types.Task, error)
	// 按创建时间倒序
	ListTasks(ctx context.Context, f Filter) ([]*types.Task, error)
	// 按优先级降序、同级按创建时间先进先出
	GetPendingTasks(ctx context.Context, limit int) ([]*types.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus, errMsg string) error
	CountByStatus(ctx context.Context) (map[types.TaskStatus]int, error)
	AppendLog(ctx context.Context, taskID, level, message string) error
	TaskLogs(ctx context.Context, taskID string, limit int) ([]*types.TaskLog, error)
	Clear(ctx context.Context) error
	Close() error
}

// 存储后端选项
type Options struct {
	Backend   string // sqlite | memory | bolt | redis
	Path      string
	RedisAddr string
	RedisPass string
	RedisDB   int
}

func Open(opts Options) (Storage, error) {
	switch opts.Backend {
	case "sqlite", "":
		return NewSQLiteStorage(opts.Path)
	case "memory":
		return NewMemoryStorage(), nil
	case "bolt":
		return NewBoltStorage(opts.Path)
	case "redis":
		return NewRedisStorage(opts.RedisAddr, opts.RedisPass, opts.RedisDB), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
}

func matchFilter(t *types.Task, f Filter) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, tag := range t.Tags {
			if tag == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// 内存类后端共用的排序逻辑，sqlite 由 SQL 自己排
func sortNewestFirst(tasks []*types.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

func sortByPriority(tasks []*types.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

func truncate(tasks []*types.Task, limit int) []*types.Task {
	if limit > 0 && len(tasks) > limit {
		return tasks[:limit]
	}
	return tasks
}
