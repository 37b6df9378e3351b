// Package hub fans out execution progress to streaming subscribers. Each
// execution gets a buffered line stream so late-joining clients replay
// what they missed before going live.
package hub

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	// bufferCap bounds the lines kept per execution for catchup.
	bufferCap = 512
	// retainDone bounds how many finished executions keep their buffers.
	retainDone = 64
)

// Event is one progress record on an execution's stream.
type Event struct {
	Seq       int       `json:"seq"`
	Time      time.Time `json:"time"`
	Type      string    `json:"type"` // started, command, failed, finished
	CommandID string    `json:"command_id,omitempty"`
	Command   string    `json:"command,omitempty"`
	Target    string    `json:"target,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// stream holds the state for a single execution's output.
type stream struct {
	buf     []string // circular buffer
	pos     int      // next write position
	count   int      // total lines written (may exceed cap)
	clients map[chan string]struct{}
	done    bool
}

// lines returns the buffered lines oldest first.
func (s *stream) lines() []string {
	n := len(s.buf)
	if n == 0 || s.pos == 0 {
		// Empty, or the write position sits at the seam: buf is already
		// oldest first.
		return s.buf
	}
	// Rotate around pos. Once the buffer has wrapped, pos is the oldest
	// entry; before wrapping pos == n and this reduces to a plain copy.
	out := make([]string, n)
	copy(out, s.buf[s.pos:])
	copy(out[n-s.pos:], s.buf[:s.pos])
	return out
}

// append adds a line to the circular buffer. O(1) regardless of size.
func (s *stream) append(line string) {
	if len(s.buf) < cap(s.buf) {
		s.buf = append(s.buf, line)
	} else {
		s.buf[s.pos] = line
	}
	s.pos = (s.pos + 1) % cap(s.buf)
	s.count++
}

// Hub fans out execution events to multiple SSE subscribers. It buffers
// the last bufferCap lines per execution so late-joining clients receive
// catchup output before live streaming.
type Hub struct {
	mu      sync.Mutex
	streams map[int64]*stream
	doneIDs []int64
}

// New creates a Hub ready for use.
func New() *Hub {
	return &Hub{
		streams: make(map[int64]*stream),
	}
}

// getOrCreate returns the stream for id, creating it if needed.
// Caller must hold h.mu.
func (h *Hub) getOrCreate(id int64) *stream {
	s, ok := h.streams[id]
	if !ok {
		s = &stream{
			buf:     make([]string, 0, bufferCap),
			clients: make(map[chan string]struct{}),
		}
		h.streams[id] = s
	}
	return s
}

// publishLocked appends and fans out one line. Caller must hold h.mu.
func (h *Hub) publishLocked(s *stream, line string) {
	s.append(line)

	// Non-blocking send so a slow consumer cannot stall publishing.
	for ch := range s.clients {
		select {
		case ch <- line:
		default:
		}
	}
}

// Publish sends a line to all current subscribers of the execution and
// appends it to the catchup buffer.
func (h *Hub) Publish(executionID int64, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.getOrCreate(executionID)
	if s.done {
		return
	}
	h.publishLocked(s, line)
}

// PublishEvent stamps ev with the stream's next sequence number and the
// current time, then publishes it JSON-encoded.
func (h *Hub) PublishEvent(executionID int64, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.getOrCreate(executionID)
	if s.done {
		return
	}
	ev.Seq = s.count + 1
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.publishLocked(s, string(data))
}

// Subscribe returns a channel that receives future lines for the
// execution and an unsubscribe function. Buffered lines are sent
// immediately. If the execution is already done, the buffered lines are
// sent and the channel is closed.
func (h *Hub) Subscribe(executionID int64) (<-chan string, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.getOrCreate(executionID)

	// Buffer enough for catchup + some live headroom.
	ch := make(chan string, bufferCap+64)

	// Replay buffered history.
	for _, line := range s.lines() {
		ch <- line
	}

	if s.done {
		close(ch)
		return ch, func() {}
	}

	s.clients[ch] = struct{}{}

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(s.clients, ch)
	}

	return ch, unsubscribe
}

// Close marks the execution as done and closes all subscriber channels.
// Subsequent Publish calls for this execution are no-ops. New subscribers
// receive the full buffer and a closed channel. Buffers of the oldest
// finished executions are dropped beyond retainDone.
func (h *Hub) Close(executionID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.streams[executionID]
	if !ok || s.done {
		return
	}

	s.done = true
	for ch := range s.clients {
		close(ch)
	}
	s.clients = nil

	h.doneIDs = append(h.doneIDs, executionID)
	for len(h.doneIDs) > retainDone {
		delete(h.streams, h.doneIDs[0])
		h.doneIDs = h.doneIDs[1:]
	}
}

// IsActive returns true if the execution's stream exists and has not been
// closed.
func (h *Hub) IsActive(executionID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.streams[executionID]
	if !ok {
		return false
	}
	return !s.done
}
