package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bella-server/internal/domain/retry"
)

func TestPolicy_CalculateDelay(t *testing.T) {
	tests := []struct {
		name        string
		policy      retry.Policy
		retry       int
		expectedMin time.Duration
		expectedMax time.Duration
	}{
		{
			name: "fixed backoff",
			policy: retry.Policy{
				BackoffStrategy: retry.BackoffFixed,
				InitialDelay:    100 * time.Millisecond,
				MaxDelay:        time.Second,
			},
			retry:       5,
			expectedMin: 100 * time.Millisecond,
			expectedMax: 100 * time.Millisecond,
		},
		{
			name: "linear backoff - retry 3",
			policy: retry.Policy{
				BackoffStrategy: retry.BackoffLinear,
				InitialDelay:    100 * time.Millisecond,
				MaxDelay:        time.Second,
			},
			retry:       3,
			expectedMin: 300 * time.Millisecond,
			expectedMax: 300 * time.Millisecond,
		},
		{
			name: "exponential default multiplier - retry 3",
			policy: retry.Policy{
				BackoffStrategy: retry.BackoffExponential,
				InitialDelay:    100 * time.Millisecond,
				MaxDelay:        time.Second,
			},
			retry:       3,
			expectedMin: 400 * time.Millisecond,
			expectedMax: 400 * time.Millisecond,
		},
		{
			name: "exponential factor 1.2 - retry 2",
			policy: retry.Policy{
				BackoffStrategy: retry.BackoffExponential,
				InitialDelay:    150 * time.Millisecond,
				Multiplier:      1.2,
				MaxDelay:        time.Second,
			},
			retry:       2,
			expectedMin: 179 * time.Millisecond,
			expectedMax: 181 * time.Millisecond,
		},
		{
			name: "exponential capped",
			policy: retry.Policy{
				BackoffStrategy: retry.BackoffExponential,
				InitialDelay:    100 * time.Millisecond,
				MaxDelay:        250 * time.Millisecond,
			},
			retry:       6,
			expectedMin: 250 * time.Millisecond,
			expectedMax: 250 * time.Millisecond,
		},
		{
			name: "jitter stays in band",
			policy: retry.Policy{
				BackoffStrategy: retry.BackoffFixed,
				InitialDelay:    100 * time.Millisecond,
				MaxDelay:        time.Second,
				JitterFactor:    0.2,
			},
			retry:       1,
			expectedMin: 80 * time.Millisecond,
			expectedMax: 120 * time.Millisecond,
		},
		{
			name:        "zero retry",
			policy:      retry.DefaultPolicy(),
			retry:       0,
			expectedMin: 0,
			expectedMax: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay := tt.policy.CalculateDelay(tt.retry)
			if delay < tt.expectedMin || delay > tt.expectedMax {
				t.Errorf("CalculateDelay(%d) = %v, want between %v and %v", tt.retry, delay, tt.expectedMin, tt.expectedMax)
			}
		})
	}
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:     attempts,
		InitialDelay:    time.Millisecond,
		MaxDelay:        time.Millisecond,
		BackoffStrategy: retry.BackoffFixed,
	}
}

func TestExecutor_RetriesUntilSuccess(t *testing.T) {
	var seen []int
	err := retry.NewExecutor(fastPolicy(3)).Execute(context.Background(), func(ctx context.Context, attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("attempts = %v, want [1 2 3]", seen)
	}
}

func TestExecutor_ExhaustsAttempts(t *testing.T) {
	calls := 0
	want := errors.New("still failing")
	err := retry.NewExecutor(fastPolicy(2)).Execute(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return want
	})

	if !errors.Is(err, want) {
		t.Errorf("Execute() error = %v, want %v", err, want)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestExecutor_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	want := errors.New("bad input")
	err := retry.NewExecutor(fastPolicy(5)).Execute(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return retry.Permanent(want)
	})

	if err != want {
		t.Errorf("Execute() error = %v, want unwrapped %v", err, want)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecuteWithResult_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := retry.ExecuteWithResult(ctx, fastPolicy(3), func(ctx context.Context, attempt int) (int, error) {
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ExecuteWithResult() error = %v, want context.Canceled", err)
	}
}

func TestExecuteWithResult_ReturnsValue(t *testing.T) {
	got, err := retry.ExecuteWithResult(context.Background(), fastPolicy(3), func(ctx context.Context, attempt int) (string, error) {
		if attempt == 1 {
			return "", errors.New("first attempt fails")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("ExecuteWithResult() = %q, want %q", got, "ok")
	}
}
