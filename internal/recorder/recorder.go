// Package recorder holds the ordered output of a comparison cycle: console
// lines reported by the two sandboxes and the final performance summary.
//
// ORDERING:
// Entries are kept in ARRIVAL order. The two contexts run independently, so a
// late callback from side A may land between two lines of side B; the
// Recorder does not try to "fix" that by sorting on timestamps. What the user
// sees is exactly the order in which the host received things.
package recorder

import (
	"sync"
	"time"

	"github.com/sakif/pattern-playground/internal/event"
)

// Kind distinguishes console lines from the performance summary.
type Kind string

const (
	KindConsole     Kind = "console"
	KindPerformance Kind = "performance-summary"
)

// Entry is one renderable line of output.
//
// Console entries carry Level, Message and Side; the summary entry carries
// Comparison (and a pre-rendered Message for plain-text hosts).
type Entry struct {
	Seq        int               `json:"seq"`
	Kind       Kind              `json:"kind"`
	Level      event.Level       `json:"level,omitempty"`
	Message    string            `json:"message,omitempty"`
	Side       event.Side        `json:"side,omitempty"`
	Comparison *event.Comparison `json:"comparison,omitempty"`
	Time       time.Time         `json:"time"`
}

// UpdateType tags a change pushed to subscribers.
type UpdateType string

const (
	UpdateAppend UpdateType = "append"
	UpdateClear  UpdateType = "clear"
)

// Update is pushed to subscribers on every Append and Clear.
type Update struct {
	Type  UpdateType
	Entry Entry // zero for UpdateClear
}

// Recorder is a concurrency-safe, insertion-ordered log of entries.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	seq     int
	subs    map[*Subscription]struct{}
	now     func() time.Time
}

// New creates an empty Recorder.
func New() *Recorder {
	return &Recorder{
		subs: make(map[*Subscription]struct{}),
		now:  time.Now,
	}
}

// Append adds an entry at the end of the log and returns it with its
// sequence number and timestamp filled in.
func (r *Recorder) Append(e Entry) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	e.Seq = r.seq
	if e.Time.IsZero() {
		e.Time = r.now()
	}
	r.entries = append(r.entries, e)
	r.publish(Update{Type: UpdateAppend, Entry: e})
	return e
}

// Console appends a console line for the given side.
func (r *Recorder) Console(level event.Level, message string, side event.Side) Entry {
	return r.Append(Entry{
		Kind:    KindConsole,
		Level:   level,
		Message: message,
		Side:    side,
	})
}

// Summary appends the performance summary of a cycle.
func (r *Recorder) Summary(c event.Comparison) Entry {
	return r.Append(Entry{
		Kind:       KindPerformance,
		Message:    c.Summary(),
		Comparison: &c,
	})
}

// Clear discards all entries. Calling it on an empty Recorder is a no-op
// apart from notifying subscribers.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = nil
	r.publish(Update{Type: UpdateClear})
}

// List returns a copy of the entries in arrival order.
func (r *Recorder) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries currently recorded.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Subscription is one listener's queue of updates.
//
// DELIVERY:
// The Recorder never blocks on a subscriber and never drops an update for
// it. Each update is queued under the Recorder's lock before the call that
// produced it returns, and Ready is signalled. The subscriber takes
// everything queued so far with Drain. A slow subscriber therefore sees a
// late but complete and ordered stream.
type Subscription struct {
	r *Recorder

	mu     sync.Mutex
	queue  []Update
	ready  chan struct{}
	closed bool
}

// Subscribe registers a listener for future updates.
func (r *Recorder) Subscribe() *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &Subscription{r: r, ready: make(chan struct{}, 1)}
	r.subs[sub] = struct{}{}
	return sub
}

// Ready is signalled whenever updates are waiting. One signal may cover
// many updates, so always Drain everything after receiving it.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Drain returns and removes every queued update, oldest first. It returns
// nil when nothing is waiting.
func (s *Subscription) Drain() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.queue
	s.queue = nil
	return out
}

// Close unregisters the subscription. Updates queued before Close can
// still be drained. Safe to call more than once.
func (s *Subscription) Close() {
	s.r.mu.Lock()
	delete(s.r.subs, s)
	s.r.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Subscription) push(u Update) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, u)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// publish must be called with r.mu held.
func (r *Recorder) publish(u Update) {
	for sub := range r.subs {
		sub.push(u)
	}
}
