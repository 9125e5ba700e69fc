// middleware/middleware.go
package middleware

import (
	"context"
	"expvar"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chhz0/webauto/storage"
	"github.com/chhz0/webauto/types"
)

type Handler func(ctx context.Context, task *types.Task) error
type Middleware func(next Handler) Handler

// 中间件链
func Chain(middlewares ...Middleware) Middleware {
	return func(final Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// 超时中间件
func Timeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, task *types.Task) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, task)
		}
	}
}

// 日志中间件
func Logger(log *logrus.Entry) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, task *types.Task) error {
			start := time.Now()
			entry := log.WithFields(logrus.Fields{
				"task": task.ID,
				"type": task.Type,
			})
			entry.Info("task started")

			err := next(ctx, task)

			entry = entry.WithField("duration", time.Since(start).String())
			if err != nil {
				entry.WithError(err).Warn("task failed")
			} else {
				entry.Info("task completed")
			}
			return err
		}
	}
}

// panic 兜底，换成普通错误走失败流程
func Recovery(log *logrus.Entry) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, task *types.Task) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("task", task.ID).Errorf("handler panic: %v", r)
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next(ctx, task)
		}
	}
}

// 执行日志落到任务日志表，前端按任务查看
func TaskLog(store storage.Storage) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, task *types.Task) error {
			start := time.Now()
			store.AppendLog(ctx, task.ID, "info", "execution started")

			err := next(ctx, task)

			elapsed := time.Since(start).Round(time.Millisecond)
			if err != nil {
				store.AppendLog(ctx, task.ID, "error", fmt.Sprintf("execution failed after %s: %v", elapsed, err))
			} else {
				store.AppendLog(ctx, task.ID, "info", fmt.Sprintf("execution completed in %s", elapsed))
			}
			return err
		}
	}
}

var (
	taskRuns      = expvar.NewMap("task_runs")
	taskFailures  = expvar.NewMap("task_failures")
	taskDurations = expvar.NewMap("task_duration_ms")
)

// 指标收集中间件
func Metrics() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, task *types.Task) error {
			start := time.Now()
			err := next(ctx, task)
			recordMetrics(task.Type, time.Since(start), err)
			return err
		}
	}
}

func recordMetrics(taskType types.TaskType, duration time.Duration, err error) {
	key := string(taskType)
	taskRuns.Add(key, 1)
	taskDurations.Add(key, duration.Milliseconds())
	if err != nil {
		taskFailures.Add(key, 1)
	}
}
