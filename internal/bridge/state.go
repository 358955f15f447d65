package bridge

import (
	"sort"
	"sync"

	"github.com/standardbeagle/aglink/internal/discovery"
	"github.com/standardbeagle/aglink/internal/snapshot"
)

// State is the bridge's shared session state. All access goes through its
// methods; values handed out are copies or immutable snapshots.
type State struct {
	mu sync.Mutex

	conn   Connection
	target discovery.Candidate

	last   *snapshot.Snapshot
	lastFP uint32
	hasFP  bool
	cache  map[int]*snapshot.Snapshot
}

// NewState creates an empty State.
func NewState() *State {
	return &State{cache: make(map[int]*snapshot.Snapshot)}
}

// Active returns the active connection and its target.
func (s *State) Active() (Connection, discovery.Candidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, s.target, s.conn != nil
}

// SetActive installs conn as the active connection. The caller must have
// released any previous connection.
func (s *State) SetActive(conn Connection, target discovery.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.target = target
}

// Release clears the active connection and returns it so the caller can
// close it.
func (s *State) Release() Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn
	s.conn = nil
	s.target = discovery.Candidate{}
	return conn
}

// ReleaseIf clears the active connection only if it is still conn.
func (s *State) ReleaseIf(conn Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.conn != conn {
		return false
	}
	s.conn = nil
	s.target = discovery.Candidate{}
	return true
}

// Apply records snap if it came from the still-active connection and its
// fingerprint differs from the last one. It reports whether the snapshot
// should be broadcast.
func (s *State) Apply(from Connection, snap *snapshot.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if from == nil || s.conn != from {
		return false
	}
	if s.hasFP && s.lastFP == snap.Fingerprint {
		return false
	}
	s.last = snap
	s.lastFP = snap.Fingerprint
	s.hasFP = true
	if s.target.Port != 0 {
		s.cache[s.target.Port] = snap
	}
	return true
}

// LastSnapshot returns the most recent snapshot, or nil.
func (s *State) LastSnapshot() *snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// CacheEntry summarizes the last snapshot taken from one port.
type CacheEntry struct {
	Port        int    `json:"port"`
	Fingerprint uint32 `json:"fingerprint"`
	Bytes       int    `json:"bytes"`
}

// Cache lists the per-port snapshot cache, ordered by port.
func (s *State) Cache() []CacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CacheEntry, 0, len(s.cache))
	for port, snap := range s.cache {
		out = append(out, CacheEntry{Port: port, Fingerprint: snap.Fingerprint, Bytes: len(snap.HTML)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}
