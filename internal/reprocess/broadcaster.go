package reprocess

import (
	"sync"
	"time"

	"github.com/haverlock/argus/pkg/types"
)

// DefaultProgressInterval is the minimum time between two non-terminal
// progress emissions.
const DefaultProgressInterval = 2 * time.Second

// DefaultProgressEvery is the processed-count delta that forces an
// emission regardless of elapsed time.
const DefaultProgressEvery = 500

// Sink receives emitted progress snapshots. Implementations must not
// block; the WebSocket hub drops slow subscribers rather than stall
// the coordinator.
type Sink func(types.ProgressSnapshot)

// Broadcaster rate-limits progress snapshots on the way to
// subscribers. A snapshot is emitted when enough time has passed since
// the previous emission or enough additional records have been
// processed. Terminal snapshots are always emitted.
type Broadcaster struct {
	sink     Sink
	interval time.Duration
	every    int

	mu            sync.Mutex
	lastEmit      time.Time
	lastProcessed int
}

// NewBroadcaster creates a broadcaster. Zero interval or every select
// the defaults; a nil sink discards everything.
func NewBroadcaster(sink Sink, interval time.Duration, every int) *Broadcaster {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	if every <= 0 {
		every = DefaultProgressEvery
	}
	if sink == nil {
		sink = func(types.ProgressSnapshot) {}
	}
	return &Broadcaster{
		sink:     sink,
		interval: interval,
		every:    every,
	}
}

// Publish offers a snapshot for emission. Non-terminal snapshots are
// suppressed unless the interval has elapsed or the processed delta
// reached the threshold.
func (b *Broadcaster) Publish(snap types.ProgressSnapshot) {
	b.mu.Lock()

	now := time.Now()
	emit := snap.Status.Terminal() ||
		b.lastEmit.IsZero() ||
		now.Sub(b.lastEmit) >= b.interval ||
		snap.Processed-b.lastProcessed >= b.every

	if emit {
		b.lastEmit = now
		b.lastProcessed = snap.Processed
	}
	b.mu.Unlock()

	if emit {
		b.sink(snap)
	}
}

// Reset clears the gating state so the next run's first snapshot is
// emitted immediately.
func (b *Broadcaster) Reset() {
	b.mu.Lock()
	b.lastEmit = time.Time{}
	b.lastProcessed = 0
	b.mu.Unlock()
}
