package common

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRateLimiterParsesRemainingReq(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1)
	rl.now = func() time.Time { return now }

	rl.UpdateFromHeader("group=order; min=199; sec=1")
	if !rl.ShouldDelay("order") {
		t.Fatal("expected delay with 1 request left")
	}
	if rl.ShouldDelay("default") {
		t.Fatal("unknown group should not delay")
	}

	now = now.Add(1500 * time.Millisecond)
	if rl.ShouldDelay("order") {
		t.Fatal("budget should refill after one second")
	}

	rl.UpdateFromHeader("garbage")
	if _, ok := rl.Remaining("garbage"); ok {
		t.Fatal("garbage header must be ignored")
	}
}

func TestAPIErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		name   string
		want   error
	}{
		{401, "invalid_access_key", ErrAuth},
		{429, "", ErrRateLimited},
		{400, "under_min_total_bid", ErrValidation},
		{500, "", ErrTransient},
	}
	for _, tc := range cases {
		err := fmt.Errorf("place order: %w", NewAPIError(tc.status, tc.name, "msg"))
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: %v is not %v", tc.status, err, tc.want)
		}
	}
	if !IsTransient(NewAPIError(429, "", "")) || IsTransient(NewAPIError(401, "", "")) {
		t.Error("IsTransient misclassifies")
	}
	if got := Failed(NewAPIError(400, "insufficient_funds_bid", "not enough KRW")); got.Success || got.Message != "not enough KRW" {
		t.Errorf("Failed = %+v", got)
	}
}
