package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chhz0/webauto/types"
)

// redis 后端需要外部服务，不在单测范围
func openBackends(t *testing.T) map[string]Storage {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := NewSQLiteStorage(filepath.Join(dir, "tasks.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	boltdb, err := NewBoltStorage(filepath.Join(dir, "tasks.bolt"))
	if err != nil {
		t.Fatalf("bolt: %v", err)
	}

	backends := map[string]Storage{
		"memory": NewMemoryStorage(),
		"sqlite": sqlite,
		"bolt":   boltdb,
	}
	t.Cleanup(func() {
		for _, s := range backends {
			s.Close()
		}
	})
	return backends
}

func newTask(id string, prio types.Priority, status types.TaskStatus, created time.Time) *types.Task {
	return &types.Task{
		ID:         id,
		Type:       types.TypeExtract,
		URL:        "https://example.com/" + id,
		Priority:   prio,
		Status:     status,
		CreatedAt:  created,
		UpdatedAt:  created,
		MaxRetries: 3,
		Payload:    []byte(`{"selectors":["h1"]}`),
	}
}

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			sched := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			task := newTask("t1", types.PriorityHigh, types.StatusScheduled, time.Now().Truncate(time.Millisecond))
			task.ScheduledAt = &sched
			task.Tags = []string{"nightly", "crawl"}
			task.WebhookURL = "https://hooks.example.com/x"

			if err := s.SaveTask(ctx, task); err != nil {
				t.Fatalf("SaveTask: %v", err)
			}
			got, err := s.GetTask(ctx, "t1")
			if err != nil {
				t.Fatalf("GetTask: %v", err)
			}
			if got.Type != types.TypeExtract || got.Priority != types.PriorityHigh {
				t.Errorf("got %+v", got)
			}
			if got.ScheduledAt == nil || !got.ScheduledAt.Equal(sched) {
				t.Errorf("ScheduledAt = %v, want %v", got.ScheduledAt, sched)
			}
			if len(got.Tags) != 2 || got.Tags[0] != "nightly" {
				t.Errorf("Tags = %v", got.Tags)
			}

			if _, err := s.GetTask(ctx, "missing"); err != ErrTaskNotFound {
				t.Errorf("GetTask(missing) err = %v, want ErrTaskNotFound", err)
			}
		})
	}
}

func TestSaveTaskUpsert(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			task := newTask("t1", types.PriorityLow, types.StatusPending, time.Now())
			if err := s.SaveTask(ctx, task); err != nil {
				t.Fatal(err)
			}
			task.Status = types.StatusCompleted
			task.Result = []byte(`{"success":true}`)
			if err := s.SaveTask(ctx, task); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			got, err := s.GetTask(ctx, "t1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != types.StatusCompleted {
				t.Errorf("status = %s after upsert", got.Status)
			}
			if string(got.Result) != `{"success":true}` {
				t.Errorf("result = %s", got.Result)
			}
		})
	}
}

func TestGetPendingTasksOrder(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			// 同优先级先创建的先出，高优先级插队
			fixtures := []*types.Task{
				newTask("low-old", types.PriorityLow, types.StatusPending, base),
				newTask("med-old", types.PriorityMedium, types.StatusPending, base.Add(1*time.Minute)),
				newTask("med-new", types.PriorityMedium, types.StatusPending, base.Add(2*time.Minute)),
				newTask("urgent", types.PriorityUrgent, types.StatusPending, base.Add(3*time.Minute)),
				newTask("done", types.PriorityUrgent, types.StatusCompleted, base),
				newTask("future", types.PriorityUrgent, types.StatusScheduled, base),
			}
			for _, f := range fixtures {
				if err := s.SaveTask(ctx, f); err != nil {
					t.Fatal(err)
				}
			}

			got, err := s.GetPendingTasks(ctx, 10)
			if err != nil {
				t.Fatal(err)
			}
			want := []string{"urgent", "med-old", "med-new", "low-old"}
			if len(got) != len(want) {
				t.Fatalf("got %d tasks, want %d", len(got), len(want))
			}
			for i, id := range want {
				if got[i].ID != id {
					t.Errorf("position %d = %s, want %s", i, got[i].ID, id)
				}
			}

			limited, err := s.GetPendingTasks(ctx, 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(limited) != 2 || limited[0].ID != "urgent" {
				t.Errorf("limit 2: %v", limited)
			}
		})
	}
}

func TestListTasksNewestFirst(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			for i, id := range []string{"a", "b", "c"} {
				task := newTask(id, types.PriorityMedium, types.StatusPending, base.Add(time.Duration(i)*time.Minute))
				if err := s.SaveTask(ctx, task); err != nil {
					t.Fatal(err)
				}
			}
			failed := newTask("d", types.PriorityMedium, types.StatusFailed, base.Add(10*time.Minute))
			if err := s.SaveTask(ctx, failed); err != nil {
				t.Fatal(err)
			}

			all, err := s.ListTasks(ctx, Filter{})
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 4 || all[0].ID != "d" || all[3].ID != "a" {
				ids := make([]string, len(all))
				for i, task := range all {
					ids[i] = task.ID
				}
				t.Errorf("order = %v, want [d c b a]", ids)
			}

			pending, err := s.ListTasks(ctx, Filter{Status: types.StatusPending})
			if err != nil {
				t.Fatal(err)
			}
			if len(pending) != 3 {
				t.Errorf("pending count = %d, want 3", len(pending))
			}

			limited, err := s.ListTasks(ctx, Filter{Limit: 2})
			if err != nil {
				t.Fatal(err)
			}
			if len(limited) != 2 {
				t.Errorf("limit 2 returned %d", len(limited))
			}
		})
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			task := newTask("t1", types.PriorityMedium, types.StatusPending, time.Now())
			if err := s.SaveTask(ctx, task); err != nil {
				t.Fatal(err)
			}

			if err := s.UpdateTaskStatus(ctx, "t1", types.StatusRunning, ""); err != nil {
				t.Fatalf("to running: %v", err)
			}
			got, _ := s.GetTask(ctx, "t1")
			if got.Status != types.StatusRunning || got.ExecutedAt == nil {
				t.Errorf("running: status=%s executed_at=%v", got.Status, got.ExecutedAt)
			}

			if err := s.UpdateTaskStatus(ctx, "t1", types.StatusFailed, "timeout waiting for selector"); err != nil {
				t.Fatalf("to failed: %v", err)
			}
			got, _ = s.GetTask(ctx, "t1")
			if got.Status != types.StatusFailed || got.CompletedAt == nil {
				t.Errorf("failed: status=%s completed_at=%v", got.Status, got.CompletedAt)
			}
			if got.ErrorMessage != "timeout waiting for selector" {
				t.Errorf("error_message = %q", got.ErrorMessage)
			}

			if err := s.UpdateTaskStatus(ctx, "missing", types.StatusRunning, ""); err != ErrTaskNotFound {
				t.Errorf("missing task err = %v, want ErrTaskNotFound", err)
			}
		})
	}
}

func TestCountByStatus(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now()
			for i, status := range []types.TaskStatus{
				types.StatusPending, types.StatusPending,
				types.StatusCompleted, types.StatusFailed,
			} {
				task := newTask(string(rune('a'+i)), types.PriorityMedium, status, now)
				if err := s.SaveTask(ctx, task); err != nil {
					t.Fatal(err)
				}
			}
			counts, err := s.CountByStatus(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if counts[types.StatusPending] != 2 || counts[types.StatusCompleted] != 1 || counts[types.StatusFailed] != 1 {
				t.Errorf("counts = %v", counts)
			}
		})
	}
}

func TestTaskLogsAndClear(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			task := newTask("t1", types.PriorityMedium, types.StatusPending, time.Now())
			if err := s.SaveTask(ctx, task); err != nil {
				t.Fatal(err)
			}
			for _, msg := range []string{"task created", "execution started", "execution finished"} {
				if err := s.AppendLog(ctx, "t1", "info", msg); err != nil {
					t.Fatalf("AppendLog: %v", err)
				}
			}

			logs, err := s.TaskLogs(ctx, "t1", 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(logs) != 3 {
				t.Fatalf("logs = %d, want 3", len(logs))
			}
			if logs[0].Message != "task created" || logs[2].Message != "execution finished" {
				t.Errorf("log order: %q ... %q", logs[0].Message, logs[2].Message)
			}

			limited, err := s.TaskLogs(ctx, "t1", 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(limited) != 2 {
				t.Errorf("limited logs = %d", len(limited))
			}

			// 级别原样保存，各后端行为一致
			if err := s.AppendLog(ctx, "t1", "WARNING", "retry scheduled"); err != nil {
				t.Fatalf("AppendLog: %v", err)
			}
			logs, err = s.TaskLogs(ctx, "t1", 0)
			if err != nil {
				t.Fatal(err)
			}
			if got := logs[len(logs)-1].Level; got != "WARNING" {
				t.Errorf("level = %q, want stored verbatim", got)
			}

			if err := s.Clear(ctx); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			if _, err := s.GetTask(ctx, "t1"); err != ErrTaskNotFound {
				t.Errorf("after clear GetTask err = %v", err)
			}
			logs, err = s.TaskLogs(ctx, "t1", 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(logs) != 0 {
				t.Errorf("logs survived clear: %d", len(logs))
			}
		})
	}
}

func TestSQLiteReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.db")

	s, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	task := newTask("persist", types.PriorityHigh, types.StatusPending, time.Now())
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// 重新打开建表语句必须幂等
	s2, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.GetTask(ctx, "persist")
	if err != nil {
		t.Fatalf("GetTask after reopen: %v", err)
	}
	if got.Status != types.StatusPending {
		t.Errorf("status = %s", got.Status)
	}
}

func TestOpenBackendSwitch(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Backend: "sqlite", Path: filepath.Join(dir, "t.db")})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	s.Close()

	if _, err := Open(Options{Backend: "memory"}); err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, err := Open(Options{Backend: "cassandra"}); err == nil {
		t.Error("unknown backend accepted")
	}
}
