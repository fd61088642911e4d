// Package bustest provides an in-memory bus.Conn for driver tests.
package bustest

import (
	"sync"

	"github.com/go-daq/canbus"

	"swerve/bus"
)

// Recorder records every frame sent through it and lets tests deliver frames to
// subscribers as if they had been received.
type Recorder struct {
	mu       sync.Mutex
	sent     []canbus.Frame
	handlers map[uint32]map[int]bus.Handler
	next     int

	// SendErr, when set, is returned by Send and the frame is not recorded.
	SendErr error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{handlers: map[uint32]map[int]bus.Handler{}}
}

// Send records frame.
func (r *Recorder) Send(frame canbus.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendErr != nil {
		return r.SendErr
	}
	data := append([]byte(nil), frame.Data...)
	frame.Data = data
	r.sent = append(r.sent, frame)
	return nil
}

// Subscribe registers handler for id.
func (r *Recorder) Subscribe(id uint32, handler bus.Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers[id] == nil {
		r.handlers[id] = map[int]bus.Handler{}
	}
	r.next++
	token := r.next
	r.handlers[id][token] = handler
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers[id], token)
	}
}

// Subscribers counts the handlers registered for id.
func (r *Recorder) Subscribers(id uint32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[id])
}

// Deliver hands frame to the subscribers of its id.
func (r *Recorder) Deliver(frame canbus.Frame) {
	r.mu.Lock()
	handlers := make([]bus.Handler, 0, len(r.handlers[frame.ID]))
	for _, h := range r.handlers[frame.ID] {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()
	for _, h := range handlers {
		h(frame)
	}
}

// Sent returns a copy of the frames sent so far.
func (r *Recorder) Sent() []canbus.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]canbus.Frame(nil), r.sent...)
}

// SentWithID returns the frames sent with the given arbitration id, in order.
func (r *Recorder) SentWithID(id uint32) []canbus.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []canbus.Frame
	for _, f := range r.sent {
		if f.ID == id {
			out = append(out, f)
		}
	}
	return out
}

// Reset forgets the recorded frames.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
