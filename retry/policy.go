// retry/policy.go
package retry

import (
	"time"

	"github.com/jpillora/backoff"
)

// 重试策略接口
type RetryPolicy interface {
	NextRetry(attempt int) (time.Duration, bool)
}

// 指数退避策略，带抖动避免重试扎堆
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	Jitter       bool
	MaxAttempts  int
}

func (p *ExponentialBackoff) NextRetry(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}

	b := &backoff.Backoff{
		Min:    p.InitialDelay,
		Max:    p.MaxDelay,
		Factor: p.Factor,
		Jitter: p.Jitter,
	}
	return b.ForAttempt(float64(attempt)), true
}

// 固定间隔策略
type FixedInterval struct {
	Interval    time.Duration
	MaxAttempts int
}

func (p *FixedInterval) NextRetry(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	return p.Interval, true
}

// 组合策略
type CompositePolicy struct {
	Policies []RetryPolicy
}

func (p *CompositePolicy) NextRetry(attempt int) (time.Duration, bool) {
	for _, policy := range p.Policies {
		if delay, ok := policy.NextRetry(attempt); ok {
			return delay, true
		}
	}
	return 0, false
}

// 浏览器任务的缺省退避：5s 起步，两倍递增，封顶 5m
func DefaultPolicy() RetryPolicy {
	return &ExponentialBackoff{
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Minute,
		Factor:       2,
		Jitter:       true,
		MaxAttempts:  10,
	}
}
