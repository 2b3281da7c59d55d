package testutils

import (
	"sync"

	"github.com/srg/shotbridge/internal/message"
)

// Recorder is a hub subscriber that keeps every message it receives.
type Recorder struct {
	id string

	mu     sync.Mutex
	msgs   []message.Message
	closed bool
}

// NewRecorder creates a Recorder with the given subscriber id.
func NewRecorder(id string) *Recorder {
	return &Recorder{id: id}
}

func (r *Recorder) ID() string { return r.id }

func (r *Recorder) Send(msg message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Closed reports whether the hub closed the recorder.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Messages returns a copy of everything received so far.
func (r *Recorder) Messages() []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.Message(nil), r.msgs...)
}

// Types returns the type of every received message, in order.
func (r *Recorder) Types() []message.Type {
	msgs := r.Messages()
	types := make([]message.Type, len(msgs))
	for i, m := range msgs {
		types[i] = m.Type()
	}
	return types
}

// Reset forgets received messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}

// OfType returns the received messages of variant T, in order.
func OfType[T message.Message](r *Recorder) []T {
	var out []T
	for _, m := range r.Messages() {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
