package link

import "time"

// NetTime is the link's monotonic time base. It defaults to wall-clock
// time but can be rebased from an external oracle (e.g. a consensus clock
// supplied by the embedder), matching the adjustable-base clock the
// teacher's heartbeat scheduling was built on.
type NetTime struct {
	baseOffsetMs int64
}

// NewNetTime returns a NetTime tracking wall-clock time until UpdateBase
// is called.
func NewNetTime() *NetTime { return &NetTime{} }

// NowMs returns the current time in milliseconds on this clock's base.
func (t *NetTime) NowMs() int64 {
	return time.Now().UnixMilli() + t.baseOffsetMs
}

// UpdateBase shifts this clock so that NowMs() reports externalNowMs at
// the moment of the call.
func (t *NetTime) UpdateBase(externalNowMs int64) {
	t.baseOffsetMs = externalNowMs - time.Now().UnixMilli()
}
