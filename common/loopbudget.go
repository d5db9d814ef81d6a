package common

import (
	"sync"
	"time"
)

// LoopBudget bounds the iteration rate of a long-running loop. When the
// per-window budget is exhausted the caller backs off exponentially
// instead of spinning, so a flooded peer sheds load rather than melting.
type LoopBudget struct {
	mu sync.Mutex

	maxPerWindow uint64
	window       time.Duration
	count        uint64
	windowStart  time.Time

	initialBackoff time.Duration
	maxBackoff     time.Duration
	backoff        time.Duration
}

// NewLoopBudget allows maxPerSecond iterations per one-second window.
func NewLoopBudget(maxPerSecond uint64) *LoopBudget {
	return &LoopBudget{
		maxPerWindow:   maxPerSecond,
		window:         time.Second,
		windowStart:    time.Now(),
		initialBackoff: 10 * time.Millisecond,
		maxBackoff:     time.Second,
		backoff:        10 * time.Millisecond,
	}
}

// ForNetwork returns a budget sized for receive/fan-out loops.
func ForNetwork() *LoopBudget { return NewLoopBudget(1000) }

// ForConsensus returns a budget sized for validation and vote handling.
func ForConsensus() *LoopBudget { return NewLoopBudget(500) }

// ForMaintenance returns a budget sized for timers and cleanup ticks.
func ForMaintenance() *LoopBudget { return NewLoopBudget(100) }

// CanProceed consumes one iteration if the window has room.
func (b *LoopBudget) CanProceed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Sub(b.windowStart) >= b.window {
		b.windowStart = now
		b.count = 0
		b.backoff = b.initialBackoff
	}
	if b.count >= b.maxPerWindow {
		return false
	}
	b.count++
	return true
}

// Backoff sleeps for the current backoff and grows it toward the cap.
// Call it when CanProceed returns false.
func (b *LoopBudget) Backoff() {
	b.mu.Lock()
	d := b.backoff
	b.backoff = time.Duration(float64(b.backoff) * 1.5)
	if b.backoff > b.maxBackoff {
		b.backoff = b.maxBackoff
	}
	b.mu.Unlock()
	time.Sleep(d)
}
