package realtime

import (
	"sync"
	"time"

	"github.com/tabletalk/tabletalk-server-go/internal/common/clock"
)

// room holds one session's ephemeral ritual state. It is deliberately not
// persisted: a process restart loses in-flight rituals but never the session
// or deck cursor, so participants re-toggle rather than restart.
//
// Every mutation goes through the room's own mutex. There is no lock shared
// across sessions.
type room struct {
	mu sync.Mutex

	ready          map[string]bool   // participantID -> ready
	answers        map[string]string // participantID -> optionID
	pending        map[string]struct{}
	bothReadyFired bool
	watchdog       clock.Timer
}

func newRoom() *room {
	return &room{
		ready:   make(map[string]bool),
		answers: make(map[string]string),
		pending: make(map[string]struct{}),
	}
}

// setReady records a toggle and reports whether both_ready should fire. The
// fired flag flips inside the same critical section, so the signal is
// exactly-once per question no matter how messages interleave.
func (r *room) setReady(participantID string, ready bool, liveMembers int) (fire bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ready[participantID] = ready

	if r.bothReadyFired || liveMembers < 2 || len(r.ready) < 2 {
		return false
	}
	for _, v := range r.ready {
		if !v {
			return false
		}
	}
	r.bothReadyFired = true
	return true
}

func (r *room) readySnapshot() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[string]bool, len(r.ready))
	for k, v := range r.ready {
		snapshot[k] = v
	}
	return snapshot
}

// setAnswer records a choice (overwrite-idempotent per participant) and, once
// at least two participants have answered in a room with two live members,
// returns the full selection set for a simultaneous reveal.
func (r *room) setAnswer(participantID, optionID string, liveMembers int) (selections map[string]string, reveal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.answers[participantID] = optionID

	if liveMembers < 2 || len(r.answers) < 2 {
		return nil, false
	}

	selections = make(map[string]string, len(r.answers))
	for k, v := range r.answers {
		selections[k] = v
	}
	return selections, true
}

// addPending accumulates an advance request. Returns the pending count and
// whether this was the first click for the current question (which arms the
// watchdog). Entries survive partner disconnects on purpose: a departed
// partner's click still counts toward the threshold, so the remaining
// participant is not wedged.
func (r *room) addPending(participantID string) (count int, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	first = len(r.pending) == 0
	r.pending[participantID] = struct{}{}
	return len(r.pending), first
}

func (r *room) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// armWatchdog installs a timeout timer for the current question. Any
// previously armed timer is stopped first.
func (r *room) armWatchdog(c clock.Clock, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.watchdog != nil {
		r.watchdog.Stop()
	}
	r.watchdog = c.AfterFunc(d, fn)
}

// clearPending empties the pending set (watchdog timeout path) and reports
// whether there was anything to clear.
func (r *room) clearPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	had := len(r.pending) > 0
	r.pending = make(map[string]struct{})
	r.watchdog = nil
	return had
}

// reset wipes all ritual state after an advance: ready map, answers, pending
// set, the fired flag, and the watchdog. The next question starts clean.
func (r *room) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ready = make(map[string]bool)
	r.answers = make(map[string]string)
	r.pending = make(map[string]struct{})
	r.bothReadyFired = false
	if r.watchdog != nil {
		r.watchdog.Stop()
		r.watchdog = nil
	}
}

// Rooms indexes ritual state by session identity. Rooms are created lazily
// and dropped when a session ends.
type Rooms struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]*room)}
}

func (rs *Rooms) get(sessionID string) *room {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r, ok := rs.rooms[sessionID]
	if !ok {
		r = newRoom()
		rs.rooms[sessionID] = r
	}
	return r
}

// Drop discards a session's ritual state entirely.
func (rs *Rooms) Drop(sessionID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if r, ok := rs.rooms[sessionID]; ok {
		r.reset()
		delete(rs.rooms, sessionID)
	}
}
