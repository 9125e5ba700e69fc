package transport

import (
	"context"
	"sync"
	"time"

	"github.com/chhz0/webauto/types"
)

// 任务生命周期事件
type EventKind string

const (
	EventCreated   EventKind = "task.created"
	EventStarted   EventKind = "task.started"
	EventCompleted EventKind = "task.completed"
	EventFailed    EventKind = "task.failed"
	EventRetrying  EventKind = "task.retrying"
	EventCancelled EventKind = "task.cancelled"
)

type Event struct {
	Kind EventKind   `json:"event"`
	Task *types.Task `json:"task"`
	At   time.Time   `json:"at"`
}

func NewEvent(kind EventKind, task *types.Task) *Event {
	return &Event{Kind: kind, Task: task, At: time.Now()}
}

// Transport 接口定义
type Transport interface {
	Publish(ctx context.Context, event *Event) error
	Subscribe(ctx context.Context) (<-chan *Event, error)
	Close() error
}

// 进程内事件总线，缺省实现。订阅者消费慢会丢事件而不是阻塞发布方。
type InProcBus struct {
	mu     sync.RWMutex
	subs   map[int]chan *Event
	nextID int
	closed bool
}

func NewInProcBus() *InProcBus {
	return &InProcBus{subs: make(map[int]chan *Event)}
}

func (b *InProcBus) Publish(ctx context.Context, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (b *InProcBus) Subscribe(ctx context.Context) (<-chan *Event, error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan *Event, 100)
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}()

	return ch, nil
}

func (b *InProcBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
