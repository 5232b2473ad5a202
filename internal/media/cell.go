// Package media implements the broadcast engine: capture loops that own the
// video and audio input devices, the single-slot broadcast cells they publish
// into, and the per-client stream sessions that fan the most recent unit out
// to connected viewers.
package media

import (
	"sync/atomic"
	"time"
)

// Unit is one captured payload tagged with a monotonically increasing
// sequence number and the capture wall-clock time.
type Unit struct {
	Payload  []byte
	Seq      uint64
	Captured time.Time
}

// Cell is single-slot, overwrite-on-write shared storage for the most recent
// capture unit. It is single-writer (the owning capture loop) and
// multi-reader (stream sessions); the pointer swap guarantees readers observe
// either the previous or the current unit, never a torn one, and the writer
// never blocks on readers.
type Cell struct {
	latest atomic.Pointer[Unit]
}

// Publish overwrites the slot with the provided unit.
func (c *Cell) Publish(u *Unit) {
	c.latest.Store(u)
}

// Latest returns the current unit, or nil when nothing has been captured or
// the owning loop has cleared the slot on exit.
func (c *Cell) Latest() *Unit {
	return c.latest.Load()
}

// Clear empties the slot so future reads see "no data" rather than a stale
// unit from a dead device.
func (c *Cell) Clear() {
	c.latest.Store(nil)
}
