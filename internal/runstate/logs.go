package runstate

import (
	"context"
	"time"
)

// LogEntry is one buffered log line.
type LogEntry struct {
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message"`
}

// Line renders the entry the way the log panel shows it.
func (e LogEntry) Line() string {
	return "[" + e.Timestamp.Format("15:04:05") + "] " + e.Message
}

// ring is a fixed-capacity circular buffer. count is the total number of
// entries ever pushed and doubles as the last assigned sequence.
type ring struct {
	entries []LogEntry
	head    int
	size    int
	count   uint64
}

const defaultCapacity = 2000

func newRing(capacity int) ring {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return ring{entries: make([]LogEntry, capacity)}
}

func (r *ring) push(entry LogEntry) LogEntry {
	r.count++
	entry.Sequence = r.count
	idx := (r.head + r.size) % len(r.entries)
	if r.size == len(r.entries) {
		r.entries[r.head] = entry
		r.head = (r.head + 1) % len(r.entries)
	} else {
		r.entries[idx] = entry
		r.size++
	}
	return entry
}

func (r *ring) at(i int) LogEntry {
	return r.entries[(r.head+i)%len(r.entries)]
}

// after copies up to limit entries with Sequence > since, oldest first.
func (r *ring) after(since uint64, limit int) []LogEntry {
	if r.size == 0 || since >= r.count {
		return nil
	}
	if limit <= 0 || limit > r.size {
		limit = r.size
	}
	first := r.at(0).Sequence
	start := 0
	if since >= first {
		start = int(since - first + 1)
	}
	end := min(start+limit, r.size)
	out := make([]LogEntry, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, r.at(i))
	}
	return out
}

// Logs returns buffered entries newer than since, plus the current counter.
func (s *State) Logs(since uint64, limit int) ([]LogEntry, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs.after(since, limit), s.logs.count
}

// Tail returns the newest limit entries.
func (s *State) Tail(limit int) ([]LogEntry, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > s.logs.size {
		limit = s.logs.size
	}
	out := make([]LogEntry, 0, limit)
	for i := s.logs.size - limit; i < s.logs.size; i++ {
		out = append(out, s.logs.at(i))
	}
	return out, s.logs.count
}

// LogCount reports how many entries have ever been appended.
func (s *State) LogCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs.count
}

// FirstSequence reports the oldest sequence still buffered.
func (s *State) FirstSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logs.size == 0 {
		return s.logs.count
	}
	return s.logs.at(0).Sequence
}

// WaitLogs behaves like Logs but blocks until at least one newer entry
// exists or ctx ends.
func (s *State) WaitLogs(ctx context.Context, since uint64, limit int) ([]LogEntry, uint64, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if entries := s.logs.after(since, limit); len(entries) > 0 {
			return entries, s.logs.count, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, s.logs.count, err
		}
		s.cond.Wait()
	}
}
