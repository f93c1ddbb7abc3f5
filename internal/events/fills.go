package events

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Al7ech/binance-trade-notipi/internal/domain"
)

// FillBroadcaster fans out detected fills to status stream subscribers via buffered channels.
// Fills are never queued for later: a subscriber with a full buffer misses the fill and
// the miss is counted.
type FillBroadcaster struct {
	mu      sync.RWMutex
	subs    map[chan domain.Fill]struct{}
	buffer  int
	dropped prometheus.Counter
}

// NewFillBroadcaster creates a broadcaster with the given per-subscriber buffer.
// dropped counts fills lost to slow subscribers and may be nil.
func NewFillBroadcaster(buffer int, dropped prometheus.Counter) *FillBroadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &FillBroadcaster{
		subs:    make(map[chan domain.Fill]struct{}),
		buffer:  buffer,
		dropped: dropped,
	}
}

// Publish sends the fill to all subscribers without blocking.
func (b *FillBroadcaster) Publish(f domain.Fill) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- f:
		default:
			if b.dropped != nil {
				b.dropped.Inc()
			}
		}
	}
}

// Subscribe returns a channel that receives fills until Unsubscribe is called,
// together with the number of subscribers including the new one.
func (b *FillBroadcaster) Subscribe() (chan domain.Fill, int) {
	ch := make(chan domain.Fill, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	return ch, len(b.subs)
}

// Unsubscribe removes the channel and closes it.
func (b *FillBroadcaster) Unsubscribe(ch chan domain.Fill) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *FillBroadcaster) subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
