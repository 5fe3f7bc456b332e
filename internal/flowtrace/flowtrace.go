// Package flowtrace implements the per-request, append-only FlowTrace used
// for debugging only -- it is never consulted for control decisions. The
// publish/subscribe shape is adapted from a non-blocking, drop-on-slow-
// subscriber event bus pattern.
package flowtrace

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Actor identifies which subsystem emitted a FlowTrace entry.
type Actor string

const (
	ActorOrchestrator Actor = "orchestrator"
	ActorProvider     Actor = "provider"
	ActorTool         Actor = "tool"
	ActorApproval     Actor = "approval"
)

// Entry is one FlowTrace record. Entries within a request are strictly
// monotonic in wall-clock time with StepIndex used as an additional
// tie-break.
type Entry struct {
	StepIndex int64     `json:"step_index"`
	Actor     Actor      `json:"actor"`
	Event     string    `json:"event"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload,omitempty"`
}

func (e Entry) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// Recorder accumulates Entries for a single request and fans them out to
// subscribers (e.g. an SSE debug endpoint). It is safe for concurrent use by
// the multiple goroutines a parallel-mode request spawns.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	step    atomic.Int64
	subs    map[*Subscriber]struct{}
	subsMu  sync.RWMutex
}

func New() *Recorder {
	return &Recorder{subs: make(map[*Subscriber]struct{})}
}

// Record appends an entry, assigning it the next monotonic step index and
// the current wall-clock time. It never blocks: subscribers with a full
// buffer simply miss the entry.
func (r *Recorder) Record(actor Actor, event string, payload any) Entry {
	e := Entry{
		StepIndex: r.step.Add(1),
		Actor:     actor,
		Event:     event,
		At:        time.Now(),
		Payload:   payload,
	}
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()

	r.subsMu.RLock()
	for s := range r.subs {
		select {
		case s.C <- e:
		default:
		}
	}
	r.subsMu.RUnlock()
	return e
}

// Entries returns a snapshot of all recorded entries in append order.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Subscriber receives a live copy of every Entry recorded after it
// subscribes.
type Subscriber struct {
	C chan Entry
}

func (r *Recorder) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{C: make(chan Entry, bufSize)}
	r.subsMu.Lock()
	r.subs[s] = struct{}{}
	r.subsMu.Unlock()
	return s
}

func (r *Recorder) Unsubscribe(s *Subscriber) {
	r.subsMu.Lock()
	delete(r.subs, s)
	r.subsMu.Unlock()
	close(s.C)
}
