// retry/retry.go
package retry

import (
	"time"

	"github.com/chhz0/webauto/types"
)

type RetryManager struct {
	Policy RetryPolicy
}

func NewRetryManager(policy RetryPolicy) *RetryManager {
	return &RetryManager{Policy: policy}
}

func (rm *RetryManager) ShouldRetry(task *types.Task) (time.Duration, bool) {
	if task.Retries >= task.MaxRetries {
		return 0, false
	}
	return rm.Policy.NextRetry(task.Retries)
}

// 失败任务安排下一次重试。任务保持 failed 状态，到 NextRetryAt
// 由调度器拉回 pending；重试额度用尽返回 false。
func (rm *RetryManager) ApplyRetry(task *types.Task) bool {
	delay, shouldRetry := rm.ShouldRetry(task)
	if !shouldRetry {
		task.NextRetryAt = nil
		return false
	}
	task.Retries++
	next := time.Now().Add(delay)
	task.NextRetryAt = &next
	return true
}
