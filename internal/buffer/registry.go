package buffer

import "github.com/framepacer/fasd/internal/fastype"

// Buffers is the pid-keyed FrameBuffer registry the Looper maintains for
// the current topapp set. Like FrameBuffer, it is single-owner and
// unsynchronized.
type Buffers struct {
	byPID map[int32]*FrameBuffer
}

// NewBuffers creates an empty registry.
func NewBuffers() *Buffers {
	return &Buffers{byPID: make(map[int32]*FrameBuffer)}
}

// Get returns the buffer for pid, if tracked.
func (b *Buffers) Get(pid int32) (*FrameBuffer, bool) {
	buf, ok := b.byPID[pid]
	return buf, ok
}

// Put inserts or replaces the buffer for pid.
func (b *Buffers) Put(pid int32, buf *FrameBuffer) {
	b.byPID[pid] = buf
}

// Delete removes the buffer for pid, e.g. once its process leaves the
// topapp set.
func (b *Buffers) Delete(pid int32) {
	delete(b.byPID, pid)
}

// Len returns the number of tracked buffers.
func (b *Buffers) Len() int { return len(b.byPID) }

// Retain keeps only the buffers whose pid is in keep, deleting the rest.
// Used when the topapp set changes.
func (b *Buffers) Retain(keep map[int32]struct{}) {
	for pid := range b.byPID {
		if _, ok := keep[pid]; !ok {
			delete(b.byPID, pid)
		}
	}
}

// UsableBuffers returns the tracked buffers currently in the Usable
// working state, the set the controller is allowed to act on.
func (b *Buffers) UsableBuffers() []*FrameBuffer {
	var out []*FrameBuffer
	for _, buf := range b.byPID {
		if buf.WorkingState() == fastype.Usable {
			out = append(out, buf)
		}
	}
	return out
}

// ForEach calls fn for every tracked buffer.
func (b *Buffers) ForEach(fn func(*FrameBuffer)) {
	for _, buf := range b.byPID {
		fn(buf)
	}
}
