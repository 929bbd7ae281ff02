package eventsub

import (
	"sync"
	"time"
)

// dedupTTL is how long a delivery triple is remembered. Twitch redelivers
// unacknowledged notifications within seconds, so a minute absorbs them all.
const dedupTTL = 60 * time.Second

// Deduplicator rejects repeated EventSub deliveries inside a bounded window,
// keyed by (message id, broadcaster id, event type). Eviction is lazy on
// insert, bounding memory to the events seen per TTL window.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// NewDeduplicator creates a Deduplicator with the standard 60 s window.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		seen: make(map[string]time.Time),
		ttl:  dedupTTL,
		now:  time.Now,
	}
}

// Seen records the delivery and reports whether the same triple was already
// seen within the TTL window. Any missing field disables deduplication for
// that delivery: dropping a real event is worse than processing a duplicate.
func (d *Deduplicator) Seen(messageID, broadcasterID, eventType string) bool {
	if messageID == "" || broadcasterID == "" || eventType == "" {
		return false
	}
	key := messageID + "\x00" + broadcasterID + "\x00" + eventType

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, k)
		}
	}

	if at, ok := d.seen[key]; ok && now.Sub(at) <= d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Len returns the number of remembered deliveries, for stats and tests.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
