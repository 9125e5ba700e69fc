// core/worker_pool.go
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chhz0/webauto/retry"
	"github.com/chhz0/webauto/transport"
	"github.com/chhz0/webauto/types"
)

type TaskHandler func(ctx context.Context, task *types.Task) error

type PoolOptions struct {
	Workers        int
	DefaultTimeout time.Duration
	Events         transport.Transport
	Webhooks       *transport.WebhookNotifier
	Retry          *retry.RetryManager
	// 周期任务到达终态后克隆下一轮，由调度器注入
	OnTerminal func(ctx context.Context, task *types.Task)
	Log        *logrus.Entry
}

type WorkerPool struct {
	broker         Broker
	registry       *TaskRegistry
	events         transport.Transport
	webhooks       *transport.WebhookNotifier
	retry          *retry.RetryManager
	onTerminal     func(ctx context.Context, task *types.Task)
	log            *logrus.Entry
	defaultTimeout time.Duration
	maxWorkers     int

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
}

func NewWorkerPool(broker Broker, registry *TaskRegistry, opts PoolOptions) *WorkerPool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.Retry == nil {
		opts.Retry = retry.NewRetryManager(retry.DefaultPolicy())
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WorkerPool{
		broker:         broker,
		registry:       registry,
		events:         opts.Events,
		webhooks:       opts.Webhooks,
		retry:          opts.Retry,
		onTerminal:     opts.OnTerminal,
		log:            opts.Log,
		defaultTimeout: opts.DefaultTimeout,
		maxWorkers:     opts.Workers,
	}
}

func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	wp.cancel = cancel
	wp.running = true

	for i := 0; i < wp.maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.runWorker(ctx, i)
	}
	wp.log.WithField("workers", wp.maxWorkers).Info("worker pool started")
}

func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if !wp.running {
		return
	}

	wp.cancel()
	wp.wg.Wait()
	wp.broker.Close()
	wp.running = false
	wp.log.Info("worker pool stopped")
}

func (wp *WorkerPool) runWorker(ctx context.Context, id int) {
	defer wp.wg.Done()

	tasks := wp.broker.Consume(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			wp.processTask(ctx, task)
		}
	}
}

func (wp *WorkerPool) processTask(ctx context.Context, task *types.Task) {
	defer wp.broker.Done(task.ID)
	store := wp.broker.Storage()

	// 排队期间可能被取消或改动，以存储里的为准
	if current, err := store.GetTask(ctx, task.ID); err == nil {
		task = current
	}
	if task.Status != types.StatusPending {
		return
	}

	now := time.Now()
	task.Status = types.StatusRunning
	task.ExecutedAt = &now
	task.UpdatedAt = now
	if err := store.SaveTask(ctx, task); err != nil {
		wp.log.WithField("task", task.ID).WithError(err).Error("mark running")
		return
	}
	wp.publish(ctx, transport.EventStarted, task)

	var execErr error
	handler, ok := wp.registry.GetHandler(task.Type)
	if !ok {
		execErr = fmt.Errorf("no handler for task type %q", task.Type)
	} else {
		execErr = wp.execute(ctx, handler, task)
	}

	done := time.Now()
	task.UpdatedAt = done
	task.CompletedAt = &done

	if execErr == nil {
		task.Status = types.StatusCompleted
		task.ErrorMessage = ""
		if err := store.SaveTask(ctx, task); err != nil {
			wp.log.WithField("task", task.ID).WithError(err).Error("save completed task")
		}
		wp.publish(ctx, transport.EventCompleted, task)
		wp.finishTerminal(ctx, transport.EventCompleted, task)
		return
	}

	task.Status = types.StatusFailed
	task.ErrorMessage = execErr.Error()
	retryScheduled := wp.retry.ApplyRetry(task)
	if err := store.SaveTask(ctx, task); err != nil {
		wp.log.WithField("task", task.ID).WithError(err).Error("save failed task")
	}

	if retryScheduled {
		store.AppendLog(ctx, task.ID, "warning",
			fmt.Sprintf("retry %d/%d scheduled for %s", task.Retries, task.MaxRetries,
				task.NextRetryAt.Format(time.RFC3339)))
		wp.publish(ctx, transport.EventRetrying, task)
		return
	}

	wp.publish(ctx, transport.EventFailed, task)
	wp.finishTerminal(ctx, transport.EventFailed, task)
}

// 超时选择：handler 在独立协程里跑，超时或池子关停都能抽身。
// panic 由协程内兜住，不带崩 worker。
// handler 拿到的是克隆，被放弃的超时协程写不到原任务，
// 结果只在正常返回时拷回。
func (wp *WorkerPool) execute(ctx context.Context, handler TaskHandler, task *types.Task) error {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = wp.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	work := task.Clone()
	errCh := make(chan error, 1)
	panicCh := make(chan any, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				panicCh <- r
			}
		}()
		errCh <- handler(runCtx, work)
	}()

	select {
	case err := <-errCh:
		task.Result = work.Result
		return err
	case p := <-panicCh:
		return fmt.Errorf("task panicked: %v", p)
	case <-runCtx.Done():
		return fmt.Errorf("task timed out after %s", timeout)
	}
}

func (wp *WorkerPool) publish(ctx context.Context, kind transport.EventKind, task *types.Task) {
	if wp.events == nil {
		return
	}
	if err := wp.events.Publish(ctx, transport.NewEvent(kind, task.Clone())); err != nil {
		wp.log.WithField("task", task.ID).WithError(err).Debug("publish event")
	}
}

func (wp *WorkerPool) finishTerminal(ctx context.Context, kind transport.EventKind, task *types.Task) {
	if wp.webhooks != nil {
		wp.webhooks.Notify(ctx, transport.NewEvent(kind, task.Clone()))
	}
	if wp.onTerminal != nil {
		wp.onTerminal(ctx, task)
	}
}
