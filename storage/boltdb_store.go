// storage/boltdb_store.go
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/chhz0/webauto/types"
	bolt "go.etcd.io/bbolt"
)

var (
	taskBucket = []byte("tasks")
	logBucket  = []byte("task_logs")
)

type BoltStorage struct {
	db *bolt.DB
}

func NewBoltStorage(path string) (*BoltStorage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	// 初始化Bucket
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(taskBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(logBucket)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

func (s *BoltStorage) SaveTask(ctx context.Context, task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(taskBucket)
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return b.Put([]byte(task.ID), data)
	})
}

func (s *BoltStorage) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	var task *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(taskBucket).Get([]byte(taskID))
		if data == nil {
			return ErrTaskNotFound
		}
		t, err := types.DeserializeTask(data)
		if err != nil {
			return err
		}
		task = t
		return nil
	})
	return task, err
}

func (s *BoltStorage) ListTasks(ctx context.Context, f Filter) ([]*types.Task, error) {
	tasks, err := s.collect(func(t *types.Task) bool { return matchFilter(t, f) })
	if err != nil {
		return nil, err
	}
	sortNewestFirst(tasks)
	return truncate(tasks, f.Limit), nil
}

func (s *BoltStorage) GetPendingTasks(ctx context.Context, limit int) ([]*types.Task, error) {
	tasks, err := s.collect(func(t *types.Task) bool { return t.Status == types.StatusPending })
	if err != nil {
		return nil, err
	}
	sortByPriority(tasks)
	return truncate(tasks, limit), nil
}

func (s *BoltStorage) collect(keep func(*types.Task) bool) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(taskBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			task, err := types.DeserializeTask(v)
			if err != nil {
				continue // 跳过无效数据
			}
			if keep(task) {
				tasks = append(tasks, task)
			}
		}
		return nil
	})
	return tasks, err
}

func (s *BoltStorage) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus, errMsg string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(taskBucket)
		data := b.Get([]byte(taskID))
		if data == nil {
			return ErrTaskNotFound
		}

		task, err := types.DeserializeTask(data)
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

		newData, err := task.Serialize()
		if err != nil {
			return err
		}
		return b.Put([]byte(taskID), newData)
	})
}

func (s *BoltStorage) CountByStatus(ctx context.Context) (map[types.TaskStatus]int, error) {
	counts := make(map[types.TaskStatus]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(taskBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			task, err := types.DeserializeTask(v)
			if err != nil {
				continue
			}
			counts[task.Status]++
		}
		return nil
	})
	return counts, err
}

func (s *BoltStorage) AppendLog(ctx context.Context, taskID, level, message string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		// 每个任务一个子Bucket，序列号做日志ID
		b, err := tx.Bucket(logBucket).CreateBucketIfNotExists([]byte(taskID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry := types.TaskLog{
			ID:        int64(seq),
			TaskID:    taskID,
			Timestamp: time.Now(),
			Level:     level,
			Message:   message,
		}
		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

func (s *BoltStorage) TaskLogs(ctx context.Context, taskID string, limit int) ([]*types.TaskLog, error) {
	var logs []*types.TaskLog
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket).Bucket([]byte(taskID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry types.TaskLog
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			logs = append(logs, &entry)
			if limit > 0 && len(logs) >= limit {
				break
			}
		}
		return nil
	})
	return logs, err
}

func (s *BoltStorage) Clear(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{taskBucket, logBucket} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
