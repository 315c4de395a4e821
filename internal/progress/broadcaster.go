package progress

import "sync"

const subscriberBuffer = 16

// Broadcaster fans snapshots out to the subscribers of a single job. It never
// blocks a publisher: a subscriber that cannot keep up loses intermediate
// snapshots but always observes the most recent one. New subscribers receive
// the latest snapshot immediately on subscribe.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[int]chan Snapshot
	next    int
	last    Snapshot
	hasLast bool
	closed  bool
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Snapshot)}
}

// Subscribe registers a listener and returns its channel plus a cancel
// function. The channel is closed by Close or by the cancel function,
// whichever happens first.
func (b *Broadcaster) Subscribe() (<-chan Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Snapshot, subscriberBuffer)
	if b.closed {
		if b.hasLast {
			ch <- b.last
		}
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	if b.hasLast {
		ch <- b.last
	}
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish records snap as the latest state and pushes it to every subscriber.
// A full subscriber channel has its oldest entry evicted so the newest
// snapshot always lands. Publish after Close is a no-op; the snapshot that
// was current at Close stays the one replayed to late subscribers.
func (b *Broadcaster) Publish(snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.last = snap
	b.hasLast = true
	for _, ch := range b.subs {
		for {
			select {
			case ch <- snap:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close closes every subscriber channel. Subsequent Subscribe calls receive
// the final snapshot and an immediately closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Last returns the most recent snapshot, if any was published.
func (b *Broadcaster) Last() (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.hasLast
}
