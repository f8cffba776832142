package livestream

import (
	"bytes"
	"encoding/json"
	"sync"
)

// Defaults for the live feed
const (
	DefaultBufferSize = 2000
	SnapshotSize      = 50
	subscriberBuffer  = 256
)

// Line is one broker message as forwarded to browsers
type Line struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeLine renders a broker message as a live-feed line. Payloads that are
// not valid JSON are rejected.
func EncodeLine(topic string, payload []byte) ([]byte, bool) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err != nil {
		return nil, false
	}
	b, err := json.Marshal(Line{Topic: topic, Payload: compact.Bytes()})
	if err != nil {
		return nil, false
	}
	return b, true
}

// Stream keeps the most recent lines in a ring and fans new ones out to subscribers.
type Stream struct {
	mu    sync.RWMutex
	buf   [][]byte
	next  int
	full  bool
	subs  map[chan []byte]struct{}
	total uint64
}

func NewStream(size int) *Stream {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Stream{
		buf:  make([][]byte, size),
		subs: make(map[chan []byte]struct{}),
	}
}

// Push appends line, evicting the oldest one when full. Slow subscribers miss lines.
func (s *Stream) Push(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf[s.next] = line
	s.next = (s.next + 1) % len(s.buf)
	if s.next == 0 {
		s.full = true
	}
	s.total++

	for ch := range s.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Snapshot returns up to n of the most recent lines, oldest first.
func (s *Stream) Snapshot(n int) [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(n)
}

func (s *Stream) snapshotLocked(n int) [][]byte {
	size := s.next
	if s.full {
		size = len(s.buf)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([][]byte, 0, n)
	start := s.next - n
	for i := range n {
		idx := (start + i + len(s.buf)) % len(s.buf)
		out = append(out, s.buf[idx])
	}
	return out
}

// Subscribe registers a listener for new lines; the returned func unregisters it.
func (s *Stream) Subscribe() (<-chan []byte, func()) {
	_, ch, unsubscribe := s.Follow(0)
	return ch, unsubscribe
}

// Follow takes a snapshot of up to n lines and subscribes in one step, so
// every line appears exactly once across the snapshot and the channel.
// A non-positive n subscribes without a snapshot.
func (s *Stream) Follow(n int) ([][]byte, <-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	s.mu.Lock()
	var snapshot [][]byte
	if n > 0 {
		snapshot = s.snapshotLocked(n)
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return snapshot, ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Len is the number of buffered lines
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return len(s.buf)
	}
	return s.next
}

// Total is the number of lines ever pushed
func (s *Stream) Total() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}
