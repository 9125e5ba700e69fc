package core

import (
	"container/heap"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chhz0/webauto/storage"
	"github.com/chhz0/webauto/types"
)

func queueTask(id string, prio types.Priority, created time.Time) *types.Task {
	return &types.Task{
		ID: id, Type: types.TypeExtract, URL: "https://example.com/" + id,
		Priority: prio, Status: types.StatusPending,
		CreatedAt: created, UpdatedAt: created, MaxRetries: 3,
		Payload: []byte(`{"selectors":["h1"]}`),
	}
}

func TestTaskHeapOrder(t *testing.T) {
	base := time.Now()
	h := &taskHeap{}
	heap.Push(h, queueTask("low", types.PriorityLow, base))
	heap.Push(h, queueTask("urgent", types.PriorityUrgent, base.Add(time.Second)))
	heap.Push(h, queueTask("medium-old", types.PriorityMedium, base))
	heap.Push(h, queueTask("medium-new", types.PriorityMedium, base.Add(time.Minute)))

	want := []string{"urgent", "medium-old", "medium-new", "low"}
	for _, id := range want {
		got := heap.Pop(h).(*types.Task)
		if got.ID != id {
			t.Fatalf("popped %s, want %s", got.ID, id)
		}
	}
}

func TestQueueBrokerDelivers(t *testing.T) {
	store := storage.NewMemoryStorage()
	broker, err := NewQueueBroker(store, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer broker.Close()
	ctx := context.Background()

	task := queueTask("t1", types.PriorityMedium, time.Now())
	if err := broker.Enqueue(ctx, task); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-broker.Consume(ctx):
		if got.ID != "t1" {
			t.Errorf("got task %s, want t1", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("task not delivered")
	}
}

// 同一任务重复入队只投递一次，Done 之后才能再排
func TestQueueBrokerDeduplicates(t *testing.T) {
	store := storage.NewMemoryStorage()
	broker, err := NewQueueBroker(store, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer broker.Close()
	ctx := context.Background()

	task := queueTask("dup", types.PriorityMedium, time.Now())
	for i := 0; i < 3; i++ {
		if err := broker.Enqueue(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	<-broker.Consume(ctx)

	select {
	case got := <-broker.Consume(ctx):
		t.Fatalf("duplicate delivery of %s", got.ID)
	case <-time.After(100 * time.Millisecond):
	}

	// 处理完解除在途标记后可以重新入队
	broker.Done("dup")
	if err := broker.Enqueue(ctx, task); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-broker.Consume(ctx):
		if got.ID != "dup" {
			t.Errorf("got %s, want dup", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("requeued task not delivered")
	}
}

func TestQueueBrokerClosed(t *testing.T) {
	store := storage.NewMemoryStorage()
	broker, err := NewQueueBroker(store, 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := broker.Close(); err != nil {
		t.Fatal(err)
	}
	// 幂等关闭
	if err := broker.Close(); err != nil {
		t.Fatal(err)
	}

	err = broker.Enqueue(context.Background(), queueTask("t1", types.PriorityLow, time.Now()))
	if !errors.Is(err, ErrBrokerClosed) {
		t.Errorf("enqueue after close: %v, want ErrBrokerClosed", err)
	}
}

func TestQueueBrokerRejectsNil(t *testing.T) {
	if _, err := NewQueueBroker(nil, 10); err == nil {
		t.Error("nil storage accepted")
	}

	store := storage.NewMemoryStorage()
	broker, err := NewQueueBroker(store, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer broker.Close()
	if err := broker.Enqueue(context.Background(), nil); err == nil {
		t.Error("nil task accepted")
	}
}
