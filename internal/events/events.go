package events

import (
	"context"
	"sync"
)

// SnapshotEvent wraps one progress snapshot published by a load cycle.
// Snapshot is the full-replacement unread snapshot for the workspace; Seq is
// a per-slug publish counter so SSE consumers can detect gaps, and Cycle
// identifies which load cycle produced the snapshot.
type SnapshotEvent struct {
	Slug     string `json:"slug"`
	Seq      int64  `json:"seq"`
	Ts       string `json:"ts"`
	Cycle    string `json:"cycle,omitempty"`
	Snapshot any    `json:"snapshot"`
}

type Broker struct {
	mu          sync.RWMutex
	seq         map[string]int64
	subscribers map[string]map[chan SnapshotEvent]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		seq:         map[string]int64{},
		subscribers: map[string]map[chan SnapshotEvent]struct{}{},
	}
}

func (b *Broker) Subscribe(ctx context.Context, slug string) <-chan SnapshotEvent {
	ch := make(chan SnapshotEvent, 16)

	b.mu.Lock()
	if b.subscribers[slug] == nil {
		b.subscribers[slug] = map[chan SnapshotEvent]struct{}{}
	}
	b.subscribers[slug][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[slug] != nil {
			delete(b.subscribers[slug], ch)
			if len(b.subscribers[slug]) == 0 {
				delete(b.subscribers, slug)
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (b *Broker) Publish(event SnapshotEvent) {
	b.mu.Lock()
	b.seq[event.Slug]++
	event.Seq = b.seq[event.Slug]
	subscribers := b.subscribers[event.Slug]
	chans := make([]chan SnapshotEvent, 0, len(subscribers))
	for ch := range subscribers {
		chans = append(chans, ch)
	}
	b.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- event:
		default:
		}
	}
}
