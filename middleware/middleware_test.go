package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chhz0/webauto/logger"
	"github.com/chhz0/webauto/storage"
	"github.com/chhz0/webauto/types"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, task *types.Task) error {
				order = append(order, name+":in")
				err := next(ctx, task)
				order = append(order, name+":out")
				return err
			}
		}
	}

	h := Chain(mk("outer"), mk("inner"))(func(ctx context.Context, task *types.Task) error {
		order = append(order, "handler")
		return nil
	})
	if err := h(context.Background(), &types.Task{ID: "t1"}); err != nil {
		t.Fatal(err)
	}

	want := []string{"outer:in", "inner:in", "handler", "inner:out", "outer:out"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestTimeout(t *testing.T) {
	h := Timeout(20 * time.Millisecond)(func(ctx context.Context, task *types.Task) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	err := h(context.Background(), &types.Task{ID: "t1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestRecovery(t *testing.T) {
	log := logger.InitLogger("error", "test")
	h := Recovery(log)(func(ctx context.Context, task *types.Task) error {
		panic("selector blew up")
	})

	err := h(context.Background(), &types.Task{ID: "t1"})
	if err == nil {
		t.Fatal("panic not converted to error")
	}
}

func TestTaskLog(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	ok := TaskLog(store)(func(ctx context.Context, task *types.Task) error {
		return nil
	})
	if err := ok(ctx, &types.Task{ID: "t1"}); err != nil {
		t.Fatal(err)
	}
	logs, err := store.TaskLogs(ctx, "t1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(logs))
	}
	if logs[0].Message != "execution started" || logs[0].Level != "info" {
		t.Errorf("first log: %+v", logs[0])
	}

	fail := TaskLog(store)(func(ctx context.Context, task *types.Task) error {
		return errors.New("element not found")
	})
	fail(ctx, &types.Task{ID: "t2"})
	logs, _ = store.TaskLogs(ctx, "t2", 0)
	if len(logs) != 2 || logs[1].Level != "error" {
		t.Errorf("failure logs: %+v", logs)
	}
}

func TestMetricsPassesError(t *testing.T) {
	wantErr := errors.New("boom")
	h := Metrics()(func(ctx context.Context, task *types.Task) error {
		return wantErr
	})
	if err := h(context.Background(), &types.Task{ID: "t1", Type: types.TypeClick}); err != wantErr {
		t.Errorf("err = %v", err)
	}
}
