package frameanalyzer

import (
	"fmt"
	"sync"

	"github.com/framepacer/fasd/internal/fastype"
)

// Fake is an in-process Source for tests and for driving the Looper
// without a real graphics-stack hook. Push feeds events directly into
// the channel the Looper reads.
type Fake struct {
	events chan fastype.FrameEvent

	mu       sync.Mutex
	attached map[int32]struct{}
	restarts int
	failNext bool
}

// NewFake creates a Fake with the given channel capacity (spec §5 uses a
// bounded channel; tests typically want a small buffer so Push never
// blocks on a slow consumer).
func NewFake(capacity int) *Fake {
	return &Fake{
		events:   make(chan fastype.FrameEvent, capacity),
		attached: make(map[int32]struct{}),
	}
}

// Push enqueues a frame event, simulating the analyzer observing a real
// frame. Blocks if the channel is full, matching the bounded-channel
// contract the Looper is built against.
func (f *Fake) Push(e fastype.FrameEvent) {
	f.events <- e
}

func (f *Fake) Events() <-chan fastype.FrameEvent { return f.events }

func (f *Fake) Attach(pid int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached[pid] = struct{}{}
	return nil
}

func (f *Fake) Detach(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.attached, pid)
}

// FailNextRestart makes the next Restart call return an error, to
// exercise the Looper's debounced-restart retry path.
func (f *Fake) FailNextRestart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = true
}

func (f *Fake) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	if f.failNext {
		f.failNext = false
		return fmt.Errorf("frameanalyzer: fake restart failure")
	}
	return nil
}

// Restarts reports how many times Restart succeeded or was attempted.
func (f *Fake) Restarts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

// IsAttached reports whether pid is currently attached.
func (f *Fake) IsAttached(pid int32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.attached[pid]
	return ok
}
