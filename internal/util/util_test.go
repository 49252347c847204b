package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"dipsniper/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	sentinel := errors.New("bad request")
	attempts := 0
	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		return Permanent(sentinel)
	})
	if err != sentinel {
		t.Errorf("Retry error = %v, want the unwrapped sentinel", err)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 3, time.Hour, func() error { return errors.New("fail") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry error = %v, want context.Canceled", err)
	}
}

func TestRateLimiterWait(t *testing.T) {
	rl := NewBurstRateLimiter(60, 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	// The bucket is empty; the next token is a second away.
	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait on empty bucket = %v, want DeadlineExceeded", err)
	}
}

func TestRateLimiterReserve(t *testing.T) {
	rl := NewRateLimiter(120)
	now := rl.lastTime
	if d := rl.reserve(now); d != 0 {
		t.Fatalf("first reserve waited %v", d)
	}
	if d := rl.reserve(now); d <= 0 || d > 500*time.Millisecond {
		t.Errorf("second reserve wait = %v, want (0, 500ms]", d)
	}
	if d := rl.reserve(now.Add(time.Second)); d != 0 {
		t.Errorf("reserve after refill waited %v", d)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "warn", "text")
	log.Info("hidden")
	log.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "k=v") {
		t.Errorf("text logger output = %q", out)
	}

	buf.Reset()
	NewLoggerTo(&buf, "debug", "json").Debug("hello")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("json logger output = %q", buf.String())
	}

	if ParseLevel("nonsense") != slog.LevelInfo {
		t.Error("ParseLevel should default to info")
	}
}

func TestTradingCalendar(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS)
	et := cal.loc

	// Wednesday 2024-06-05.
	midday := time.Date(2024, 6, 5, 12, 0, 0, 0, et)
	if !cal.IsMarketOpen(midday) {
		t.Error("market should be open at noon ET on a Wednesday")
	}
	if cal.IsMarketOpen(time.Date(2024, 6, 8, 12, 0, 0, 0, et)) {
		t.Error("market should be closed on Saturday")
	}

	want := time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC)
	if got := cal.LastCompletedSession(midday); !got.Equal(want) {
		t.Errorf("LastCompletedSession(midday) = %v, want %v", got, want)
	}
	evening := time.Date(2024, 6, 5, 17, 0, 0, 0, et)
	if got := cal.LastCompletedSession(evening); !got.Equal(want.AddDate(0, 0, 1)) {
		t.Errorf("LastCompletedSession(evening) = %v", got)
	}
	// Monday morning reaches back to Friday.
	monday := time.Date(2024, 6, 10, 8, 0, 0, 0, et)
	if got := cal.LastCompletedSession(monday); !got.Equal(time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("LastCompletedSession(monday) = %v, want Friday", got)
	}

	if got := cal.NextClose(midday); !got.Equal(time.Date(2024, 6, 5, 16, 0, 0, 0, et)) {
		t.Errorf("NextClose(midday) = %v", got)
	}
}
