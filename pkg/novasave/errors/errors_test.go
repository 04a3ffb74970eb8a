package errors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"testing"
	"time"

	"github.com/randalmurphal/novasave/pkg/novasave/blockstore"
	"github.com/randalmurphal/novasave/pkg/novasave/bookmark"
	"github.com/randalmurphal/novasave/pkg/novasave/record"
	"github.com/randalmurphal/novasave/pkg/novasave/savedata"
)

// ioError is a file system failure as os functions report it.
func ioError() error {
	return &fs.PathError{Op: "write", Path: "checkpoints.nsav", Err: syscall.EIO}
}

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryBug, "bug"},
		{CategoryResetRequired, "reset_required"},
		{CategorySlotLocal, "slot_local"},
		{CategoryRetryable, "retryable"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.category.String(); got != tt.expected {
				t.Errorf("Category(%d).String() = %s, want %s", tt.category, got, tt.expected)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryBug},
		{"corrupted store", fmt.Errorf("load: %w", blockstore.ErrCorruptedStore), CategoryResetRequired},
		{"block error", &blockstore.BlockError{ID: 3, Op: "read", Err: blockstore.ErrCorruptedStore}, CategoryResetRequired},
		{"version mismatch", blockstore.ErrVersionMismatch, CategoryResetRequired},
		{"record overflow", &record.RecordError{Offset: 4105, Op: "get", Err: record.ErrRecordOverflow}, CategoryResetRequired},
		{"type denied", fmt.Errorf("decode: %w", savedata.ErrTypeDenied), CategoryResetRequired},
		{"corrupted bookmark", bookmark.ErrCorruptedBookmark, CategorySlotLocal},
		{"incompatible save", bookmark.ErrIncompatibleSave, CategorySlotLocal},
		{"missing bookmark", bookmark.ErrNotFound, CategorySlotLocal},
		{"bookmark version mismatch", &bookmark.SlotError{ID: 101, Op: "load", Err: blockstore.ErrVersionMismatch}, CategorySlotLocal},
		{"slot io error", &bookmark.SlotError{ID: 101, Op: "save", Err: ioError()}, CategorySlotLocal},
		{"closed block store", blockstore.ErrStoreClosed, CategoryBug},
		{"closed bookmark store", &bookmark.SlotError{ID: 1, Op: "save", Err: bookmark.ErrStoreClosed}, CategoryBug},
		{"path error", ioError(), CategoryRetryable},
		{"deadline", context.DeadlineExceeded, CategoryRetryable},
		{"canceled", fmt.Errorf("upgrade: %w", context.Canceled), CategoryRetryable},
		{"categorized error", &CategorizedError{Category: CategoryRetryable}, CategoryRetryable},
		{"unknown error", errors.New("unknown"), CategoryBug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.expected {
				t.Errorf("Categorize() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestCategorizedError(t *testing.T) {
	t.Run("error message with context", func(t *testing.T) {
		err := NewCategorized(errors.New("failed"), CategoryRetryable, "flush")
		expected := "flush: failed (category: retryable, attempts: 0)"
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})

	t.Run("error message without context", func(t *testing.T) {
		err := &CategorizedError{Err: errors.New("failed"), Category: CategorySlotLocal}
		if got := err.Error(); got != "failed (category: slot_local, attempts: 0)" {
			t.Errorf("Error() = %q", got)
		}
	})

	t.Run("unwrap", func(t *testing.T) {
		err := NewCategorized(blockstore.ErrCorruptedStore, CategoryResetRequired, "open")
		if !errors.Is(err, blockstore.ErrCorruptedStore) {
			t.Error("Unwrap should return inner error")
		}
	})
}

func TestHelperFunctions(t *testing.T) {
	if !IsRetryable(ioError()) {
		t.Error("IsRetryable(path error) = false")
	}
	if IsRetryable(blockstore.ErrCorruptedStore) {
		t.Error("IsRetryable(corrupted store) = true")
	}
	if !NeedsReset(record.ErrRecordOverflow) {
		t.Error("NeedsReset(record overflow) = false")
	}
	if NeedsReset(bookmark.ErrCorruptedBookmark) {
		t.Error("NeedsReset(corrupted bookmark) = true")
	}
	if !IsSlotLocal(bookmark.ErrIncompatibleSave) {
		t.Error("IsSlotLocal(incompatible save) = false")
	}
	if IsSlotLocal(savedata.ErrTypeDenied) {
		t.Error("IsSlotLocal(type denied) = true")
	}
}

func quickRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffFactor: 2}
}

func TestDo(t *testing.T) {
	t.Run("success on first try", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), quickRetry(3), func(_ context.Context) error {
			calls++
			return nil
		})
		if err != nil {
			t.Errorf("Do() = %v, want nil", err)
		}
		if calls != 1 {
			t.Errorf("Calls = %d, want 1", calls)
		}
	})

	t.Run("success after transient failure", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), quickRetry(3), func(_ context.Context) error {
			calls++
			if calls == 1 {
				return ioError()
			}
			return nil
		})
		if err != nil {
			t.Errorf("Do() = %v, want nil", err)
		}
		if calls != 2 {
			t.Errorf("Calls = %d, want 2", calls)
		}
	})

	t.Run("retries exhausted", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), quickRetry(3), func(_ context.Context) error {
			calls++
			return ioError()
		})
		if calls != 3 {
			t.Errorf("Calls = %d, want 3", calls)
		}
		var ce *CategorizedError
		if !errors.As(err, &ce) {
			t.Fatalf("Do() = %v, want *CategorizedError", err)
		}
		if ce.Retries != 3 || ce.Category != CategoryRetryable {
			t.Errorf("got retries=%d category=%s", ce.Retries, ce.Category)
		}
		if !errors.Is(err, syscall.EIO) {
			t.Errorf("Do() = %v, want wrapped EIO", err)
		}
	})

	t.Run("corruption is not retried", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), quickRetry(3), func(_ context.Context) error {
			calls++
			return fmt.Errorf("load: %w", blockstore.ErrCorruptedStore)
		})
		if calls != 1 {
			t.Errorf("Calls = %d, want 1", calls)
		}
		if !NeedsReset(err) {
			t.Errorf("NeedsReset(%v) = false", err)
		}
	})

	t.Run("custom retryable", func(t *testing.T) {
		calls := 0
		cfg := quickRetry(3)
		cfg.Retryable = func(error) bool { return true }
		_ = Do(context.Background(), cfg, func(_ context.Context) error {
			calls++
			return errors.New("always")
		})
		if calls != 3 {
			t.Errorf("Calls = %d, want 3", calls)
		}
	})

	t.Run("no retry", func(t *testing.T) {
		calls := 0
		_ = Do(context.Background(), NoRetry, func(_ context.Context) error {
			calls++
			return ioError()
		})
		if calls != 1 {
			t.Errorf("Calls = %d, want 1", calls)
		}
	})

	t.Run("zero attempts runs once", func(t *testing.T) {
		calls := 0
		_ = Do(context.Background(), RetryConfig{}, func(_ context.Context) error {
			calls++
			return nil
		})
		if calls != 1 {
			t.Errorf("Calls = %d, want 1", calls)
		}
	})
}

func TestDo_Context(t *testing.T) {
	t.Run("canceled before first attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := Do(ctx, quickRetry(3), func(_ context.Context) error {
			calls++
			return nil
		})
		if calls != 0 {
			t.Errorf("Calls = %d, want 0", calls)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Do() = %v, want context.Canceled", err)
		}
	})

	t.Run("canceled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Second, BackoffFactor: 2}
		calls := 0
		err := Do(ctx, cfg, func(_ context.Context) error {
			calls++
			return ioError()
		})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Do() = %v, want deadline exceeded", err)
		}
		if calls != 1 {
			t.Errorf("Calls = %d, want 1", calls)
		}
	})
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond, BackoffFactor: 2}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond}
	for i, w := range want {
		if got := cfg.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}

	if d := DefaultRetry.Backoff(DefaultRetry.MaxAttempts); d > DefaultRetry.MaxBackoff {
		t.Errorf("DefaultRetry backoff %v exceeds cap", d)
	}
}
