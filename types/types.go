// types/types.go
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// 任务类型枚举
type TaskType string

const (
	TypeFormFill TaskType = "form_fill"
	TypeExtract  TaskType = "extract"
	TypeClick    TaskType = "click"
	TypeUpload   TaskType = "upload"
)

var ErrUnknownTaskType = errors.New("unknown task type")

func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(s) {
	case TypeFormFill, TypeExtract, TypeClick, TypeUpload:
		return TaskType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTaskType, s)
}

// 优先级，数值越大越先执行
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "medium", "":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// 任务状态枚举
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
	StatusScheduled TaskStatus = "scheduled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted,
		StatusFailed, StatusCancelled, StatusScheduled:
		return true
	}
	return false
}

// 终态判断，cancelled/completed 不再流转，failed 可能等待重试
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// 状态机迁移规则
//
//	scheduled -> pending -> running -> completed
//	                               \-> failed -> pending (重试)
//	scheduled|pending|failed -> cancelled
var transitions = map[TaskStatus][]TaskStatus{
	StatusScheduled: {StatusPending, StatusCancelled},
	StatusPending:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusFailed:    {StatusPending, StatusCancelled},
}

func CanTransition(from, to TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// 任务元数据
type Task struct {
	ID           string          `json:"id"`
	Type         TaskType        `json:"task_type"`
	URL          string          `json:"url"`
	Description  string          `json:"description,omitempty"`
	Priority     Priority        `json:"priority"`
	Status       TaskStatus      `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ScheduledAt  *time.Time      `json:"scheduled_at,omitempty"`
	ExecutedAt   *time.Time      `json:"executed_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Retries      int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	Payload      json.RawMessage `json:"task_data,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	WebhookURL   string          `json:"webhook_url,omitempty"`
	Repeat       string          `json:"repeat,omitempty"`
	Timeout      time.Duration   `json:"timeout,omitempty"`
}

// 基础字段校验，payload 校验见 payload.go
func (t *Task) Validate() error {
	if t.URL == "" {
		return errors.New("task url is required")
	}
	if u, err := url.Parse(t.URL); err != nil || u.Host == "" ||
		(u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("task url %q must be an absolute http(s) url", t.URL)
	}
	if _, err := ParseTaskType(string(t.Type)); err != nil {
		return err
	}
	if t.Priority < PriorityLow || t.Priority > PriorityUrgent {
		return fmt.Errorf("priority out of range: %d", int(t.Priority))
	}
	if t.MaxRetries < 0 {
		return errors.New("max_retries must be >= 0")
	}
	if _, err := t.DecodedPayload(); err != nil {
		return err
	}
	return nil
}

// scheduled 任务是否到期
func (t *Task) Due(now time.Time) bool {
	if t.Status != StatusScheduled {
		return false
	}
	return t.ScheduledAt == nil || !t.ScheduledAt.After(now)
}

// failed 任务是否还有重试余量
func (t *Task) Retryable() bool {
	return t.Status == StatusFailed && t.Retries < t.MaxRetries
}

// 重试等待是否结束
func (t *Task) RetryDue(now time.Time) bool {
	if !t.Retryable() {
		return false
	}
	return t.NextRetryAt == nil || !t.NextRetryAt.After(now)
}

// 序列化任务
func (t *Task) Serialize() ([]byte, error) {
	return json.Marshal(t)
}

// 反序列化任务
func DeserializeTask(data []byte) (*Task, error) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// 任务执行日志
type TaskLog struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// 深拷贝，重复任务克隆下一轮时使用
func (t *Task) Clone() *Task {
	c := *t
	if t.ScheduledAt != nil {
		v := *t.ScheduledAt
		c.ScheduledAt = &v
	}
	if t.ExecutedAt != nil {
		v := *t.ExecutedAt
		c.ExecutedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.NextRetryAt != nil {
		v := *t.NextRetryAt
		c.NextRetryAt = &v
	}
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.Payload != nil {
		c.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	return &c
}
