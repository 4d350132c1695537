// Package governance provides per-request resource controls for the proxy
// engine.
package governance

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// IdleTimeoutReader wraps an io.Reader with a watchdog bounding the gap
// between reads. When the source stalls past the idle timeout the watchdog
// fires onIdle, which the caller uses to abort the underlying transfer so the
// pending Read unblocks instead of hanging on a silent source.
type IdleTimeoutReader struct {
	reader      io.Reader
	idleTimeout time.Duration
	timer       *time.Timer
	expired     atomic.Bool
}

// NewIdleTimeoutReader creates a reader whose watchdog is armed immediately
// and re-armed after every read that delivers data. onIdle runs at most once,
// off the reading goroutine.
func NewIdleTimeoutReader(r io.Reader, idleTimeout time.Duration, onIdle func()) *IdleTimeoutReader {
	it := &IdleTimeoutReader{
		reader:      r,
		idleTimeout: idleTimeout,
	}
	it.timer = time.AfterFunc(idleTimeout, func() {
		it.expired.Store(true)
		if onIdle != nil {
			onIdle()
		}
	})
	return it
}

// Read implements io.Reader. A read unblocked by the watchdog reports the
// idle timeout instead of the transport's cancellation error.
func (r *IdleTimeoutReader) Read(p []byte) (int, error) {
	if r.expired.Load() {
		return 0, r.timeoutErr()
	}

	n, err := r.reader.Read(p)
	if err != nil && r.expired.Load() {
		return n, r.timeoutErr()
	}
	if n > 0 {
		r.timer.Reset(r.idleTimeout)
	}
	return n, err
}

// Stop disarms the watchdog. Callers must invoke it once the transfer is
// finished so a completed request cannot fire onIdle late.
func (r *IdleTimeoutReader) Stop() {
	r.timer.Stop()
}

func (r *IdleTimeoutReader) timeoutErr() error {
	return fmt.Errorf("idle timeout exceeded after %v", r.idleTimeout)
}
