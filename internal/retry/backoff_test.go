package retry

import (
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 15 * time.Second},
		{2, 30 * time.Second},
		{3, 60 * time.Second},
		{4, 120 * time.Second},
		{5, 180 * time.Second},
		{6, 180 * time.Second},
		{20, 180 * time.Second},
		{0, 15 * time.Second},
	}
	for _, tc := range cases {
		if got := Backoff(tc.attempt); got != tc.want {
			t.Errorf("Backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffMonotonic(t *testing.T) {
	for n := 1; n < 30; n++ {
		if Backoff(n+1) < Backoff(n) {
			t.Fatalf("Backoff(%d)=%v < Backoff(%d)=%v", n+1, Backoff(n+1), n, Backoff(n))
		}
		if Backoff(n) > 180*time.Second {
			t.Fatalf("Backoff(%d)=%v exceeds cap", n, Backoff(n))
		}
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(1, 2) {
		t.Error("Retryable(1, 2) = false, want true")
	}
	if Retryable(2, 2) {
		t.Error("Retryable(2, 2) = true, want false")
	}
	if Retryable(3, 2) {
		t.Error("Retryable(3, 2) = true, want false")
	}
}
