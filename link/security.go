package link

import (
	"container/list"
	"crypto/sha256"
	"encoding/binary"
)

// Defaults mirror the teacher's abuse-resistance constants (security.go),
// scaled down for a small gossip mesh rather than a public libp2p swarm.
const (
	defaultReplayCacheSize    = 2048
	defaultRateLimitPerSecond = 50
	defaultRateLimitBurst     = 100
)

// messageCache is an LRU set of recently seen message hashes, used as a
// defense-in-depth measure against CLIENT_LIST forwarding loops beyond
// the FORWARDABLE bit itself (§4.4, §9 "Forwarding exactly once") — a
// node that somehow receives the same already-forwarded frame twice
// (e.g. a buggy or hostile peer that doesn't honor the cleared bit) will
// not re-forward it a second time.
type messageCache struct {
	capacity int
	order    *list.List
	entries  map[[32]byte]*list.Element
}

func newMessageCache(capacity int) *messageCache {
	return &messageCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[[32]byte]*list.Element),
	}
}

// Add returns true if hash had not been seen before (and records it),
// false if it's a repeat.
func (c *messageCache) Add(hash [32]byte) bool {
	if _, ok := c.entries[hash]; ok {
		c.order.MoveToFront(c.entries[hash])
		return false
	}
	el := c.order.PushFront(hash)
	c.entries[hash] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.([32]byte))
		}
	}
	return true
}

// hashFrame computes a stable digest of a raw frame for replay
// detection.
func hashFrame(frame []byte) [32]byte {
	return sha256.Sum256(frame)
}

// rateLimiter is a simple per-peer token bucket, keyed by peerID, guarding
// against a single misbehaving or malfunctioning peer flooding the link
// with frames faster than it can usefully process them.
type rateLimiter struct {
	perSecond float64
	burst     float64
	buckets   map[peerID]*bucket
}

type bucket struct {
	tokens     float64
	lastRefill int64 // ms
}

func newRateLimiter(perSecond, burst float64) *rateLimiter {
	return &rateLimiter{perSecond: perSecond, burst: burst, buckets: make(map[peerID]*bucket)}
}

// Allow reports whether a frame from id may proceed at time nowMs,
// consuming one token if so.
func (r *rateLimiter) Allow(id peerID, nowMs int64) bool {
	b, ok := r.buckets[id]
	if !ok {
		b = &bucket{tokens: r.burst, lastRefill: nowMs}
		r.buckets[id] = b
	}
	elapsedSec := float64(nowMs-b.lastRefill) / 1000.0
	if elapsedSec > 0 {
		b.tokens += elapsedSec * r.perSecond
		if b.tokens > r.burst {
			b.tokens = r.burst
		}
		b.lastRefill = nowMs
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// forget drops a peer's bucket, called on eviction so the map doesn't
// grow without bound across long-running processes with high peer churn.
func (r *rateLimiter) forget(id peerID) {
	delete(r.buckets, id)
}

// clientListFrameID derives a replay-cache key from the frame as
// received (computed before FORWARDABLE is cleared in place) plus its
// length. Two CLIENT_LIST frames with identical bytes map to the same
// key, so a repeat arriving while the key is still cached is not
// forwarded again.
func clientListFrameID(frame []byte) [32]byte {
	tmp := make([]byte, len(frame)+2)
	copy(tmp, frame)
	binary.BigEndian.PutUint16(tmp[len(frame):], uint16(len(frame)))
	return hashFrame(tmp)
}
