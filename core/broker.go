// core/broker.go
package core

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chhz0/webauto/storage"
	"github.com/chhz0/webauto/types"
)

var ErrBrokerClosed = errors.New("broker closed")

type Broker interface {
	Enqueue(ctx context.Context, task *types.Task) error
	Consume(ctx context.Context) <-chan *types.Task
	// 任务处理完毕后解除在途标记，允许后续重新入队
	Done(taskID string)
	Storage() storage.Storage
	Close() error
}

// 优先级堆：优先级高的先出，同级按创建时间先进先出
type taskHeap []*types.Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)        { *h = append(*h, x.(*types.Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// QueueBroker 内存优先级队列加存储兜底：入队立即可消费，
// 周期性从存储捞漏掉的 pending 任务（进程重启恢复、定时到期提升）。
type QueueBroker struct {
	storage   storage.Storage
	heap      taskHeap
	queued    map[string]bool // 在堆里或在途的任务，防重复入队
	notify    chan struct{}
	out       chan *types.Task
	syncEvery time.Duration
	memSize   int

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueueBroker(store storage.Storage, memSize int) (*QueueBroker, error) {
	if store == nil {
		return nil, errors.New("storage cannot be nil")
	}
	if memSize <= 0 {
		memSize = 100
	}

	b := &QueueBroker{
		storage:   store,
		queued:    make(map[string]bool),
		notify:    make(chan struct{}, 1),
		out:       make(chan *types.Task),
		syncEvery: 3 * time.Second,
		memSize:   memSize,
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(2)
	go b.dispatchLoop(ctx)
	go b.syncLoop(ctx)
	return b, nil
}

func (b *QueueBroker) Enqueue(ctx context.Context, task *types.Task) error {
	if task == nil {
		return errors.New("cannot enqueue nil task")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	if b.queued[task.ID] {
		b.mu.Unlock()
		return nil
	}
	b.queued[task.ID] = true
	heap.Push(&b.heap, task)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

func (b *QueueBroker) Consume(ctx context.Context) <-chan *types.Task {
	return b.out
}

func (b *QueueBroker) Done(taskID string) {
	b.mu.Lock()
	delete(b.queued, taskID)
	b.mu.Unlock()
}

// 出队迟绑定：worker 空出来才取堆顶，保证插队的高优任务先执行
func (b *QueueBroker) dispatchLoop(ctx context.Context) {
	defer b.wg.Done()
	defer close(b.out)

	for {
		b.mu.Lock()
		var task *types.Task
		if b.heap.Len() > 0 {
			task = heap.Pop(&b.heap).(*types.Task)
		}
		b.mu.Unlock()

		if task == nil {
			select {
			case <-b.notify:
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case b.out <- task:
		case <-ctx.Done():
			return
		}
	}
}

// syncLoop 周期从存储加载 pending 任务，已入队的由 queued 去重
func (b *QueueBroker) syncLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.syncEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tasks, err := b.storage.GetPendingTasks(ctx, b.memSize)
			if err != nil {
				continue
			}
			for _, task := range tasks {
				if err := b.Enqueue(ctx, task); err != nil {
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// 关闭方法补充存储关闭
func (b *QueueBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.storage.Close()
}

func (b *QueueBroker) Storage() storage.Storage {
	return b.storage
}
