package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
)

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     errors.Is(err, errTemp),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errTemp := errors.New("temporary")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: true,
		}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
}

func TestExecuteAppliesAttemptTimeout(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     1 * time.Millisecond,
		AttemptTimeout:      5 * time.Millisecond,
		BreakerEnabled:      false,
	})

	attempts := 0
	err := exec.Execute(context.Background(), "slow", func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return ctx.Err()
	}, ClassifyHTTPError)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected timed out attempt to be retried, got %d attempts", attempts)
	}
}

type observerFake struct {
	retries int
	states  []string
}

func (f *observerFake) ObserveRetry(string)                   { f.retries++ }
func (f *observerFake) ObserveBreakerState(_ string, s string) { f.states = append(f.states, s) }

func TestCallReturnsValueAndReportsRetries(t *testing.T) {
	observer := &observerFake{}
	exec := NewObservedExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     1 * time.Millisecond,
		BreakerEnabled:      false,
	}, nil, observer)

	attempts := 0
	got, err := Call(context.Background(), exec, "op", func(context.Context) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, &HTTPStatusError{Service: "svc", Operation: "op", StatusCode: 503, Status: "503 Service Unavailable"}
		}
		return 42, nil
	}, ClassifyHTTPError)
	if err != nil || got != 42 {
		t.Fatalf("expected 42, got %d err=%v", got, err)
	}
	if observer.retries != 1 {
		t.Fatalf("expected 1 observed retry, got %d", observer.retries)
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	retryable := &HTTPStatusError{Service: "svc", Operation: "op", StatusCode: 429, Status: "429 Too Many Requests"}
	if err := WrapTemporaryIfNeeded("op", retryable); !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	permanent := &HTTPStatusError{Service: "svc", Operation: "op", StatusCode: 401, Status: "401 Unauthorized"}
	if err := WrapTemporaryIfNeeded("op", permanent); errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error untouched, got %v", err)
	}
}

func TestPolicyPresets(t *testing.T) {
	rerank := RerankConfig(2 * time.Second).normalize()
	if rerank.RetryMaxAttempts != 1 || rerank.AttemptTimeout != 2*time.Second || !rerank.BreakerEnabled {
		t.Fatalf("unexpected rerank policy %+v", rerank)
	}
	model := ModelConfig(30 * time.Second).normalize()
	if model.RetryMaxAttempts != DefaultConfig().RetryMaxAttempts || model.AttemptTimeout != 30*time.Second {
		t.Fatalf("unexpected model policy %+v", model)
	}
}
