// Package dedupe drops duplicate inbound deliveries at the ingress
// boundary. Channels redeliver on timeout, so the same message can arrive
// more than once; processing it twice would double-reply.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/deskwing/deskwing/pkg/models"
)

// DefaultTTL is how long a delivery fingerprint is remembered.
const DefaultTTL = 10 * time.Minute

// DefaultMaxEntries bounds the fingerprint set.
const DefaultMaxEntries = 100_000

// Deduper remembers recently seen delivery fingerprints. It is safe for
// concurrent use; CheckAndMark is atomic so two racing deliveries of the
// same message admit exactly one.
type Deduper struct {
	mu         sync.Mutex
	seen       map[string]time.Time
	ttl        time.Duration
	maxEntries int
}

// New creates a deduper with the given TTL and size bound. Zero values
// take the defaults.
func New(ttl time.Duration, maxEntries int) *Deduper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Deduper{
		seen:       make(map[string]time.Time),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Fingerprint derives the dedup key for one inbound delivery.
func Fingerprint(msg *models.InboundMessage) string {
	h := sha256.New()
	h.Write([]byte(msg.TenantID))
	h.Write([]byte{0})
	h.Write([]byte(msg.Channel))
	h.Write([]byte{0})
	h.Write([]byte(msg.ConversationID))
	h.Write([]byte{0})
	h.Write([]byte(msg.Message.Text))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(msg.Timestamp.UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// CheckAndMark returns true if the fingerprint is new, marking it seen.
// A repeat within the TTL returns false.
func (d *Deduper) CheckAndMark(fingerprint string) bool {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if seenAt, ok := d.seen[fingerprint]; ok && now.Sub(seenAt) < d.ttl {
		return false
	}

	if len(d.seen) >= d.maxEntries {
		d.evictLocked(now)
	}
	d.seen[fingerprint] = now
	return true
}

// evictLocked drops expired entries; if nothing expired it drops the
// oldest entries to make room.
func (d *Deduper) evictLocked(now time.Time) {
	for fp, seenAt := range d.seen {
		if now.Sub(seenAt) >= d.ttl {
			delete(d.seen, fp)
		}
	}
	for len(d.seen) >= d.maxEntries {
		var oldestFP string
		var oldestAt time.Time
		for fp, seenAt := range d.seen {
			if oldestFP == "" || seenAt.Before(oldestAt) {
				oldestFP, oldestAt = fp, seenAt
			}
		}
		delete(d.seen, oldestFP)
	}
}

// Len returns the current fingerprint count.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
