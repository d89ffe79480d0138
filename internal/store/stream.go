package store

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// StreamID is a stream entry identifier: strictly increasing under the
// lexicographic order (ms, seq).
type StreamID struct {
	Ms  uint64
	Seq uint64
}

func (id StreamID) String() string {
	return fmt.Sprintf("%d-%d", id.Ms, id.Seq)
}

// Less reports whether id sorts before other.
func (id StreamID) Less(other StreamID) bool {
	if id.Ms != other.Ms {
		return id.Ms < other.Ms
	}
	return id.Seq < other.Seq
}

// LessEq reports id <= other.
func (id StreamID) LessEq(other StreamID) bool {
	return id == other || id.Less(other)
}

var minStreamID = StreamID{0, 0}

const maxSeq = ^uint64(0)

// ParseStreamID parses a full "ms-seq" or bare "ms" id. Bare ms expands
// to ms-defaultSeq, matching XRANGE's different defaults for its start
// ("-0") and end ("-MAX_SEQ") arguments.
func ParseStreamID(s string, defaultSeq uint64) (StreamID, error) {
	parts := strings.SplitN(s, "-", 2)
	ms, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	if len(parts) == 1 {
		return StreamID{Ms: ms, Seq: defaultSeq}, nil
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	return StreamID{Ms: ms, Seq: seq}, nil
}

// StreamEntry is one appended record: an id and its flat field/value
// list (field, value, field, value, ...).
type StreamEntry struct {
	ID     StreamID
	Fields []string
}

// Stream is a single key's append-only log, ordered by strictly
// increasing StreamID.
type Stream struct {
	entries []StreamEntry
	lastID  StreamID
	hasLast bool
}

// Streams holds every stream key. A single mutex confines all mutation,
// and a broadcast channel wakes blocked XREADs: it is closed and
// replaced on every successful XADD so that any number of waiters can
// select on it without per-stream fan-in plumbing.
type Streams struct {
	mu    sync.Mutex
	byKey map[string]*Stream
	woke  chan struct{}
}

// NewStreams creates an empty stream store.
func NewStreams() *Streams {
	return &Streams{byKey: make(map[string]*Stream), woke: make(chan struct{})}
}

func (s *Streams) stream(key string) *Stream {
	st, ok := s.byKey[key]
	if !ok {
		st = &Stream{}
		s.byKey[key] = st
	}
	return st
}

// resolveID validates and/or generates the id for an XADD call against
// st's own last id. st may be nil (stream not yet created).
func resolveID(st *Stream, spec string) (StreamID, error) {
	var last StreamID
	var hasLast bool
	if st != nil {
		last, hasLast = st.lastID, st.hasLast
	}

	nowMs := uint64(time.Now().UnixMilli())

	if spec == "*" {
		id := StreamID{Ms: nowMs, Seq: 0}
		if hasLast && id.LessEq(last) {
			id = StreamID{Ms: last.Ms, Seq: last.Seq + 1}
		}
		return id, nil
	}

	parts := strings.SplitN(spec, "-", 2)
	msStr := parts[0]
	ms, err := strconv.ParseUint(msStr, 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}

	if len(parts) == 2 && parts[1] == "*" {
		seq := uint64(0)
		if ms == 0 {
			seq = 1 // 0-0 is forbidden, so auto-gen on ms=0 starts at 1
		}
		if hasLast && last.Ms == ms {
			seq = last.Seq + 1
		}
		id := StreamID{Ms: ms, Seq: seq}
		if hasLast && id.LessEq(last) {
			return StreamID{}, fmt.Errorf("ERR The ID specified in XADD is equal or smaller than the target stream top item")
		}
		return id, nil
	}

	if len(parts) != 2 {
		return StreamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	id := StreamID{Ms: ms, Seq: seq}

	if id == (StreamID{0, 0}) {
		return StreamID{}, fmt.Errorf("ERR The ID specified in XADD must be greater than 0-0")
	}
	if hasLast && id.LessEq(last) {
		return StreamID{}, fmt.Errorf("ERR The ID specified in XADD is equal or smaller than the target stream top item")
	}
	return id, nil
}

// XAdd appends fields under the given id spec (full id, "ms-*", or "*")
// and returns the assigned id.
func (s *Streams) XAdd(key, idSpec string, fields []string) (StreamID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.byKey[key]
	id, err := resolveID(st, idSpec)
	if err != nil {
		return StreamID{}, err
	}

	st = s.stream(key)
	st.entries = append(st.entries, StreamEntry{ID: id, Fields: append([]string(nil), fields...)})
	st.lastID = id
	st.hasLast = true

	close(s.woke)
	s.woke = make(chan struct{})

	return id, nil
}

// Exists reports whether key currently holds a stream (has ever had a
// successful XADD).
func (s *Streams) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byKey[key]
	return ok && st.hasLast
}

// LastID returns key's current last id, or the zero id if the stream
// doesn't exist yet - used to resolve XREAD's "$" cursor.
func (s *Streams) LastID(key string) StreamID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.byKey[key]; ok && st.hasLast {
		return st.lastID
	}
	return StreamID{}
}

// XRange returns entries in [start, end] inclusive, ascending by id.
func (s *Streams) XRange(key string, start, end StreamID) []StreamEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.byKey[key]
	if !ok {
		return nil
	}
	var out []StreamEntry
	for _, e := range st.entries {
		if start.LessEq(e.ID) && e.ID.LessEq(end) {
			out = append(out, e)
		}
	}
	return out
}

// after returns the entries of key's stream with id strictly greater
// than after (nil if the stream does not exist or has none).
func (s *Streams) after(key string, after StreamID) []StreamEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.byKey[key]
	if !ok {
		return nil
	}
	var out []StreamEntry
	for _, e := range st.entries {
		if after.Less(e.ID) {
			out = append(out, e)
		}
	}
	return out
}

// XReadResult is one stream's worth of entries returned by XRead.
type XReadResult struct {
	Key     string
	Entries []StreamEntry
}

// XRead returns entries newer than each given cursor id. If block is
// nil, it returns immediately with one result per key, in key order,
// even when a key has no new entries. If block is non-nil, it suspends
// the caller until at least one stream has new data or the timeout
// elapses (*block == 0 waits forever); it returns (nil, nil) on
// a timed-out block with no data.
func (s *Streams) XRead(keys []string, ids []StreamID, block *time.Duration) ([]XReadResult, error) {
	collectNew := func() []XReadResult {
		var results []XReadResult
		for i, key := range keys {
			entries := s.after(key, ids[i])
			if len(entries) > 0 {
				results = append(results, XReadResult{Key: key, Entries: entries})
			}
		}
		return results
	}

	if block == nil {
		results := make([]XReadResult, len(keys))
		for i, key := range keys {
			results[i] = XReadResult{Key: key, Entries: s.after(key, ids[i])}
		}
		return results, nil
	}

	if results := collectNew(); len(results) > 0 {
		return results, nil
	}

	var deadline <-chan time.Time
	if *block > 0 {
		timer := time.NewTimer(*block)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		s.mu.Lock()
		woke := s.woke
		s.mu.Unlock()

		select {
		case <-woke:
			if results := collectNew(); len(results) > 0 {
				return results, nil
			}
		case <-deadline:
			return nil, nil
		}
	}
}
