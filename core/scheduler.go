// core/scheduler.go
package core

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/chhz0/webauto/storage"
	"github.com/chhz0/webauto/transport"
	"github.com/chhz0/webauto/types"
)

var ErrInvalidTransition = errors.New("invalid status transition")

const defaultListLimit = 100

// Scheduler 是任务的管理门面：创建、查询、取消、重新入队，
// 外加一个扫描循环把到期的 scheduled 任务和等够退避时间的
// failed 任务拉回 pending。
type Scheduler struct {
	store      storage.Storage
	broker     Broker
	events     transport.Transport
	log        *logrus.Entry
	cronParser cron.Parser
	sweepEvery time.Duration
	maxRetries int

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

type SchedulerOptions struct {
	SweepInterval time.Duration
	MaxRetries    int
	Events        transport.Transport
	Log           *logrus.Entry
}

func NewScheduler(store storage.Storage, broker Broker, opts SchedulerOptions) *Scheduler {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 2 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		store:      store,
		broker:     broker,
		events:     opts.Events,
		log:        opts.Log,
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		sweepEvery: opts.SweepInterval,
		maxRetries: opts.MaxRetries,
	}
}

type CreateRequest struct {
	Type        string          `json:"task_type"`
	URL         string          `json:"url"`
	Description string          `json:"description"`
	Priority    string          `json:"priority"`
	Payload     json.RawMessage `json:"task_data"`
	ScheduledAt *time.Time      `json:"scheduled_at"`
	MaxRetries  *int            `json:"max_retries"`
	Tags        []string        `json:"tags"`
	WebhookURL  string          `json:"webhook_url"`
	Repeat      string          `json:"repeat"`
	Timeout     string          `json:"timeout"`
}

// 创建任务。带 scheduled_at 的进 scheduled 等扫描提升，
// 其余直接 pending 入队。
func (s *Scheduler) Create(ctx context.Context, req CreateRequest) (*types.Task, error) {
	taskType, err := types.ParseTaskType(req.Type)
	if err != nil {
		return nil, err
	}
	priority, err := types.ParsePriority(req.Priority)
	if err != nil {
		return nil, err
	}

	maxRetries := s.maxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	var timeout time.Duration
	if req.Timeout != "" {
		timeout, err = time.ParseDuration(req.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
	}

	now := time.Now()
	task := &types.Task{
		ID:          uuid.New().String(),
		Type:        taskType,
		URL:         req.URL,
		Description: req.Description,
		Priority:    priority,
		Status:      types.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		MaxRetries:  maxRetries,
		Payload:     req.Payload,
		Tags:        req.Tags,
		WebhookURL:  req.WebhookURL,
		Repeat:      req.Repeat,
		Timeout:     timeout,
	}

	if req.Repeat != "" {
		schedule, err := s.cronParser.Parse(req.Repeat)
		if err != nil {
			return nil, fmt.Errorf("invalid repeat expression: %w", err)
		}
		if req.ScheduledAt == nil {
			next := schedule.Next(now)
			task.Status = types.StatusScheduled
			task.ScheduledAt = &next
		}
	}
	if req.ScheduledAt != nil {
		task.Status = types.StatusScheduled
		task.ScheduledAt = req.ScheduledAt
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.SaveTask(ctx, task); err != nil {
		return nil, err
	}
	s.store.AppendLog(ctx, task.ID, "info", "task created")
	s.publish(ctx, transport.EventCreated, task)

	if task.Status == types.StatusPending {
		if err := s.broker.Enqueue(ctx, task); err != nil {
			return nil, err
		}
	}
	s.log.WithFields(logrus.Fields{
		"task":     task.ID,
		"type":     task.Type,
		"priority": task.Priority.String(),
		"status":   task.Status,
	}).Info("task created")
	return task, nil
}

func (s *Scheduler) Get(ctx context.Context, id string) (*types.Task, error) {
	return s.store.GetTask(ctx, id)
}

func (s *Scheduler) List(ctx context.Context, f storage.Filter) ([]*types.Task, error) {
	if f.Limit == 0 {
		f.Limit = defaultListLimit
	}
	return s.store.ListTasks(ctx, f)
}

func (s *Scheduler) Logs(ctx context.Context, id string, limit int) ([]*types.TaskLog, error) {
	if _, err := s.store.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return s.store.TaskLogs(ctx, id, limit)
}

type Stats struct {
	Total          int                      `json:"total"`
	ByStatus       map[types.TaskStatus]int `json:"by_status"`
	CompletionRate float64                  `json:"completion_rate"`
}

func (s *Scheduler) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{ByStatus: counts}
	for _, n := range counts {
		stats.Total += n
	}
	if stats.Total > 0 {
		stats.CompletionRate = float64(counts[types.StatusCompleted]) / float64(stats.Total) * 100
	}
	return stats, nil
}

// 取消任务。running/completed/cancelled 不可取消。
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !types.CanTransition(task.Status, types.StatusCancelled) {
		return fmt.Errorf("%w: %s -> cancelled", ErrInvalidTransition, task.Status)
	}
	if err := s.store.UpdateTaskStatus(ctx, id, types.StatusCancelled, task.ErrorMessage); err != nil {
		return err
	}
	s.store.AppendLog(ctx, id, "info", "task cancelled")
	task.Status = types.StatusCancelled
	s.publish(ctx, transport.EventCancelled, task)
	return nil
}

// 手动重跑：failed 任务立即拉回 pending，scheduled 任务提前执行。
// 与自动重试不同，重试计数清零，给一条全新的尝试链。
func (s *Scheduler) Requeue(ctx context.Context, id string) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	switch task.Status {
	case types.StatusFailed, types.StatusScheduled:
	default:
		return fmt.Errorf("%w: %s -> pending", ErrInvalidTransition, task.Status)
	}

	task.Status = types.StatusPending
	task.Retries = 0
	task.NextRetryAt = nil
	task.UpdatedAt = time.Now()
	if err := s.store.SaveTask(ctx, task); err != nil {
		return err
	}
	s.store.AppendLog(ctx, task.ID, "info", "task requeued manually")
	return s.broker.Enqueue(ctx, task)
}

func (s *Scheduler) Clear(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	s.log.Warn("all tasks cleared")
	return nil
}

// CSV 导出，按创建时间倒序
func (s *Scheduler) Export(ctx context.Context, w io.Writer) error {
	tasks, err := s.store.ListTasks(ctx, storage.Filter{})
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{
		"id", "task_type", "url", "description", "priority", "status",
		"created_at", "updated_at", "scheduled_at", "executed_at", "completed_at",
		"retry_count", "max_retries", "error_message", "tags", "webhook_url",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, t := range tasks {
		row := []string{
			t.ID, string(t.Type), t.URL, t.Description, t.Priority.String(), string(t.Status),
			csvTime(&t.CreatedAt), csvTime(&t.UpdatedAt), csvTime(t.ScheduledAt),
			csvTime(t.ExecutedAt), csvTime(t.CompletedAt),
			strconv.Itoa(t.Retries), strconv.Itoa(t.MaxRetries),
			t.ErrorMessage, strings.Join(t.Tags, ";"), t.WebhookURL,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	go s.sweepLoop(ctx)
	s.log.WithField("interval", s.sweepEvery.String()).Info("scheduler started")
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.running = false
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// 单轮扫描：到期的 scheduled 提升，退避结束且有额度的 failed 重试
func (s *Scheduler) sweepOnce(ctx context.Context) {
	now := time.Now()

	scheduled, err := s.store.ListTasks(ctx, storage.Filter{Status: types.StatusScheduled})
	if err != nil {
		s.log.WithError(err).Error("sweep: list scheduled")
		return
	}
	for _, task := range scheduled {
		if task.Due(now) {
			if err := s.promote(ctx, task, "scheduled time reached"); err != nil {
				s.log.WithField("task", task.ID).WithError(err).Error("promote scheduled task")
			}
		}
	}

	failed, err := s.store.ListTasks(ctx, storage.Filter{Status: types.StatusFailed})
	if err != nil {
		s.log.WithError(err).Error("sweep: list failed")
		return
	}
	for _, task := range failed {
		if task.RetryDue(now) {
			reason := fmt.Sprintf("retrying, attempt %d/%d", task.Retries, task.MaxRetries)
			if err := s.promote(ctx, task, reason); err != nil {
				s.log.WithField("task", task.ID).WithError(err).Error("promote failed task")
			}
		}
	}
}

func (s *Scheduler) promote(ctx context.Context, task *types.Task, reason string) error {
	if err := s.store.UpdateTaskStatus(ctx, task.ID, types.StatusPending, task.ErrorMessage); err != nil {
		return err
	}
	task.Status = types.StatusPending
	s.store.AppendLog(ctx, task.ID, "info", reason)
	return s.broker.Enqueue(ctx, task)
}

// 周期任务终态后克隆下一轮，挂到 worker 池的 OnTerminal 上
func (s *Scheduler) RearmNext(ctx context.Context, task *types.Task) {
	if task.Repeat == "" {
		return
	}
	schedule, err := s.cronParser.Parse(task.Repeat)
	if err != nil {
		s.log.WithField("task", task.ID).WithError(err).Error("rearm: parse repeat")
		return
	}

	now := time.Now()
	next := schedule.Next(now)
	clone := task.Clone()
	clone.ID = uuid.New().String()
	clone.Status = types.StatusScheduled
	clone.ScheduledAt = &next
	clone.CreatedAt = now
	clone.UpdatedAt = now
	clone.ExecutedAt = nil
	clone.CompletedAt = nil
	clone.NextRetryAt = nil
	clone.Result = nil
	clone.ErrorMessage = ""
	clone.Retries = 0

	if err := s.store.SaveTask(ctx, clone); err != nil {
		s.log.WithField("task", task.ID).WithError(err).Error("rearm: save next run")
		return
	}
	s.store.AppendLog(ctx, clone.ID, "info",
		fmt.Sprintf("next run of %s scheduled for %s", task.ID, next.Format(time.RFC3339)))
	s.publish(ctx, transport.EventCreated, clone)
	s.log.WithFields(logrus.Fields{
		"task": task.ID,
		"next": clone.ID,
		"at":   next.Format(time.RFC3339),
	}).Info("recurring task rearmed")
}

func (s *Scheduler) publish(ctx context.Context, kind transport.EventKind, task *types.Task) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, transport.NewEvent(kind, task.Clone())); err != nil {
		s.log.WithField("task", task.ID).WithError(err).Debug("publish event")
	}
}
