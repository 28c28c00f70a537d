package storage

import (
	"sync"
	"time"

	"github.com/barqdb/barq/internal/errors"
)

// ErrWriteStalled is returned by Insert/Delete when a collection's WAL
// has grown past 2x flushThreshold without a flush catching up — the
// spec's WAL-flush-lag backpressure signal. It is retryable: the
// caller is expected to back off and retry once the next flush (size-
// triggered or explicit) drains the tail.
var ErrWriteStalled = errors.TransientError(errors.ErrCodeNetwork, "storage: write stalled, WAL flush lag exceeds threshold", nil)

// ErrQPSExceeded is raised when a tenant's request rate exceeds its
// Quota.MaxQPS within the current one-second window.
var ErrQPSExceeded = errors.QuotaExceeded(errors.ErrCodeQuotaQPS, "storage: tenant QPS quota exceeded", nil)

// qpsGate rate-limits a single tenant's admission rate. It is the same
// trip-and-recover idiom as a circuit breaker (allow while under
// budget, reject once tripped, recover automatically) reshaped into a
// fixed one-second token bucket rather than a failure counter: "trip"
// is crossing the per-window request budget, "recover" is the window
// rolling over.
type qpsGate struct {
	mu          sync.Mutex
	limit       int
	windowStart time.Time
	count       int
}

func newQPSGate(limit int) *qpsGate {
	return &qpsGate{limit: limit}
}

// allow reports whether one more request fits in the current window,
// counting it if so. A non-positive limit means unlimited.
func (g *qpsGate) allow() bool {
	if g.limit <= 0 {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if now.Sub(g.windowStart) >= time.Second {
		g.windowStart = now
		g.count = 0
	}
	if g.count >= g.limit {
		return false
	}
	g.count++
	return true
}

// qpsGateFor lazily creates (and caches) tenant's rate gate, tracking
// its Quota.MaxQPS as of the call that created it — SetQuota changes
// apply to gates created after the call, matching the teacher's
// admission checks which are likewise point-in-time at call.
func (e *Engine) qpsGateFor(tenant string) *qpsGate {
	e.mu.Lock()
	defer e.mu.Unlock()

	if g, ok := e.qpsGates[tenant]; ok {
		return g
	}
	g := newQPSGate(e.quotas[tenant].MaxQPS)
	e.qpsGates[tenant] = g
	return g
}

// admit enforces the tenant's QPS quota and the collection's WAL
// flush-lag backpressure signal before a write proceeds, per spec.md
// §5's backpressure model.
func (e *Engine) admit(tenant string, wal *Wal) error {
	if !e.qpsGateFor(tenant).allow() {
		return ErrQPSExceeded
	}
	size, err := wal.sizeLocked()
	if err != nil {
		return err
	}
	if size > 2*e.flushThreshold {
		return ErrWriteStalled
	}
	return nil
}
