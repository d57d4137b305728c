// Package warmer proactively refreshes the stale-while-revalidate stores
// on a fixed interval so interactive requests rarely pay the refresh cost.
package warmer

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/defipilot/defipilot/internal/logging"
)

// Refreshable is anything the warmer can force-refresh; the SWR stores
// satisfy it.
type Refreshable interface {
	Name() string
	WarmUp(ctx context.Context) error
}

// Warmer is the background warming loop. Start is effective once per
// instance; after a network-class failure warming is suspended for the
// backoff window instead of hot-looping against a dead upstream.
type Warmer struct {
	interval time.Duration
	backoff  time.Duration
	stores   []Refreshable
	log      *zap.SugaredLogger
	now      func() time.Time

	mu             sync.Mutex
	started        bool
	suspendedUntil time.Time
	done           chan struct{}
}

type Option func(*Warmer)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(w *Warmer) {
		if log != nil {
			w.log = log
		}
	}
}

func New(interval, backoff time.Duration, stores []Refreshable, opts ...Option) *Warmer {
	w := &Warmer{
		interval: interval,
		backoff:  backoff,
		stores:   stores,
		log:      logging.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the warming loop. Subsequent calls are no-ops. The loop
// runs until ctx is cancelled; Done reports its exit.
func (w *Warmer) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.run(ctx)
}

// Done is closed when the warming loop has exited. Nil before Start.
func (w *Warmer) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *Warmer) run(ctx context.Context) {
	defer close(w.done)

	w.warmOnce(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.warmOnce(ctx)
		}
	}
}

func (w *Warmer) warmOnce(ctx context.Context) {
	if w.suspended() {
		w.log.Debugw("warming suspended, skipping cycle")
		return
	}
	for _, store := range w.stores {
		if ctx.Err() != nil {
			return
		}
		if err := store.WarmUp(ctx); err != nil {
			w.log.Warnw("warm refresh failed", "store", store.Name(), "error", err)
			if isNetworkError(err) {
				w.suspend()
				return
			}
		}
	}
}

func (w *Warmer) suspended() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now().Before(w.suspendedUntil)
}

func (w *Warmer) suspend() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.suspendedUntil = w.now().Add(w.backoff)
	w.log.Warnw("suspending cache warming", "until", w.suspendedUntil)
}

// isNetworkError classifies connection refused/reset and timeouts, the
// failure shapes that indicate an unreachable upstream rather than a bad
// response.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout")
}
