package retry

import (
	"testing"
	"time"

	"github.com/chhz0/webauto/types"
)

func TestExponentialBackoffBounds(t *testing.T) {
	p := &ExponentialBackoff{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Factor:       2,
		MaxAttempts:  5,
	}

	prev := time.Duration(0)
	for attempt := 0; attempt < 5; attempt++ {
		delay, ok := p.NextRetry(attempt)
		if !ok {
			t.Fatalf("attempt %d rejected", attempt)
		}
		if delay < time.Second || delay > time.Minute {
			t.Errorf("attempt %d delay %v out of [1s,1m]", attempt, delay)
		}
		if delay < prev {
			t.Errorf("attempt %d delay %v shrank from %v", attempt, delay, prev)
		}
		prev = delay
	}

	if _, ok := p.NextRetry(5); ok {
		t.Error("attempt beyond MaxAttempts accepted")
	}
}

func TestExponentialBackoffJitterStaysBounded(t *testing.T) {
	p := &ExponentialBackoff{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Factor:       2,
		Jitter:       true,
		MaxAttempts:  20,
	}
	for attempt := 0; attempt < 20; attempt++ {
		delay, ok := p.NextRetry(attempt)
		if !ok {
			t.Fatalf("attempt %d rejected", attempt)
		}
		if delay > 10*time.Second {
			t.Errorf("attempt %d delay %v above cap", attempt, delay)
		}
	}
}

func TestFixedInterval(t *testing.T) {
	p := &FixedInterval{Interval: 3 * time.Second, MaxAttempts: 2}
	for attempt := 0; attempt < 2; attempt++ {
		delay, ok := p.NextRetry(attempt)
		if !ok || delay != 3*time.Second {
			t.Errorf("attempt %d: delay=%v ok=%v", attempt, delay, ok)
		}
	}
	if _, ok := p.NextRetry(2); ok {
		t.Error("attempt 2 accepted")
	}
}

func TestCompositePolicy(t *testing.T) {
	p := &CompositePolicy{Policies: []RetryPolicy{
		&FixedInterval{Interval: time.Second, MaxAttempts: 1},
		&FixedInterval{Interval: time.Minute, MaxAttempts: 3},
	}}

	delay, ok := p.NextRetry(0)
	if !ok || delay != time.Second {
		t.Errorf("attempt 0: %v %v", delay, ok)
	}
	// 第一个策略耗尽后落到第二个
	delay, ok = p.NextRetry(2)
	if !ok || delay != time.Minute {
		t.Errorf("attempt 2: %v %v", delay, ok)
	}
	if _, ok := p.NextRetry(3); ok {
		t.Error("attempt 3 accepted")
	}
}

func TestApplyRetry(t *testing.T) {
	rm := NewRetryManager(&FixedInterval{Interval: 10 * time.Second, MaxAttempts: 10})

	task := &types.Task{Status: types.StatusFailed, MaxRetries: 2}

	if !rm.ApplyRetry(task) {
		t.Fatal("first retry rejected")
	}
	if task.Retries != 1 || task.NextRetryAt == nil {
		t.Errorf("retries=%d next=%v", task.Retries, task.NextRetryAt)
	}
	if wait := time.Until(*task.NextRetryAt); wait < 9*time.Second || wait > 11*time.Second {
		t.Errorf("next retry in %v, want ~10s", wait)
	}

	if !rm.ApplyRetry(task) {
		t.Fatal("second retry rejected")
	}
	if task.Retries != 2 {
		t.Errorf("retries = %d", task.Retries)
	}

	// 额度用尽
	if rm.ApplyRetry(task) {
		t.Error("third retry accepted with MaxRetries=2")
	}
	if task.NextRetryAt != nil {
		t.Error("exhausted task keeps NextRetryAt")
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	delay, ok := p.NextRetry(0)
	if !ok {
		t.Fatal("attempt 0 rejected")
	}
	if delay < 5*time.Second || delay > 5*time.Minute {
		t.Errorf("delay %v out of [5s,5m]", delay)
	}
}
