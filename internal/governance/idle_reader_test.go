package governance

import (
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestIdleTimeoutReader_PassesDataThrough(t *testing.T) {
	r := NewIdleTimeoutReader(strings.NewReader("hello world"), time.Second, nil)
	defer r.Stop()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("got %q", data)
	}
}

func TestIdleTimeoutReader_WatchdogUnblocksStalledRead(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	// The watchdog aborts the source, standing in for the engine canceling
	// the upstream request context.
	r := NewIdleTimeoutReader(pr, 50*time.Millisecond, func() {
		pw.CloseWithError(errors.New("transfer aborted"))
	})
	defer r.Stop()

	start := time.Now()
	_, err := r.Read(make([]byte, 1))
	elapsed := time.Since(start)

	if err == nil || !strings.Contains(err.Error(), "idle timeout") {
		t.Fatalf("want idle timeout error, got %v", err)
	}
	if elapsed > time.Second {
		t.Fatalf("stalled read held for %v past the idle timeout", elapsed)
	}
}

func TestIdleTimeoutReader_ExpiredBeforeRead(t *testing.T) {
	r := NewIdleTimeoutReader(strings.NewReader("data"), time.Millisecond, nil)
	defer r.Stop()

	time.Sleep(20 * time.Millisecond)
	if _, err := r.Read(make([]byte, 4)); err == nil {
		t.Fatal("expected idle timeout error")
	}
}

func TestIdleTimeoutReader_ActivityResetsClock(t *testing.T) {
	var fired atomic.Bool
	r := NewIdleTimeoutReader(strings.NewReader("abcdef"), 300*time.Millisecond, func() {
		fired.Store(true)
	})
	defer r.Stop()

	buf := make([]byte, 2)
	for i := 0; i < 3; i++ {
		time.Sleep(100 * time.Millisecond)
		if _, err := r.Read(buf); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
	if fired.Load() {
		t.Fatal("watchdog fired despite steady read activity")
	}
}
