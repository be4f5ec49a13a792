// Package room implements arena rooms: isolated simulation sessions with
// their own tick clock, member set, pending-intent queue, and replay
// history, plus the process-wide registry that matchmakes connections
// into them.
package room

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arenalabs/arena/internal/game/intent"
)

// Phase is a room's lifecycle state, derived from its internal flags.
type Phase string

const (
	// PhaseForming: no real game action drained yet, open to joins.
	PhaseForming Phase = "forming"
	// PhaseActive: running, still open to joins until the deadline or
	// history cap closes it.
	PhaseActive Phase = "active"
	// PhaseClosedToJoins: running, no longer offered by the matchmaker,
	// history no longer retained.
	PhaseClosedToJoins Phase = "closed"
	// PhaseDissolved: empty, removed from the registry, timer released.
	PhaseDissolved Phase = "dissolved"
)

var (
	// ErrRoomClosed is returned by Join when the room is closed to joins
	// or already dissolved.
	ErrRoomClosed = errors.New("room is closed to joins")
	// ErrRoomFull is returned by Join when the room is at capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrNotMember is returned when a connection has no slot in the room.
	ErrNotMember = errors.New("connection is not a member of this room")
	// ErrAlreadyMember is returned by Join when the connection already
	// holds a slot in the room.
	ErrAlreadyMember = errors.New("connection is already a member of this room")
	// ErrSlotMismatch is returned when an intent names a slot the
	// connection does not own.
	ErrSlotMismatch = errors.New("intent slot does not match assigned slot")
)

// noDeadline means the join deadline has not been armed yet.
const noDeadline = math.MaxUint64

// Config holds the fixed simulation constants shared by every room.
type Config struct {
	// TickInterval is the duration between two tick firings.
	TickInterval time.Duration
	// MaxPlayers is the membership capacity.
	MaxPlayers int
	// JoinPeriod is how many ticks the room stays joinable after the
	// most recent join-window-extending action.
	JoinPeriod uint64
	// MaxHistory is the history buffer cap; reaching it closes the room
	// to joins.
	MaxHistory int
}

// Broadcast is the merged result of one tick firing, delivered to every
// member and replayed from history to late joiners.
type Broadcast struct {
	RoomID  uint64          `json:"roomId"`
	Tick    uint64          `json:"tick"`
	Intents []intent.Intent `json:"intents"`
}

// Sink delivers tick broadcasts to connections. Implementations must not
// block on a slow connection; a failed delivery is reconciled through the
// normal departure path, never by stalling the tick cadence. Sink methods
// are always invoked outside the room's mutex, so an implementation may
// call back into the room (e.g. Leave on delivery failure).
type Sink interface {
	Broadcast(b Broadcast, conns []string)
}

// JoinResult is the acknowledgment returned to a newly assigned connection.
type JoinResult struct {
	RoomID    uint64
	Slot      string
	SlotCount int
	History   []Broadcast
}

// Snapshot is a point-in-time view of a room for diagnostics.
type Snapshot struct {
	ID        uint64 `json:"id"`
	Phase     Phase  `json:"phase"`
	Members   int    `json:"members"`
	SlotCount int    `json:"slotCount"`
	Tick      uint64 `json:"tick"`
}

// Room is one independent simulation session. A single mutex guards the
// pending intents, history, tick counter, and member set together, so a
// departure and a tick firing can never interleave mid-drain.
type Room struct {
	id     uint64
	cfg    Config
	sink   Sink
	logger *zap.Logger

	// stop cancels the room's tick driver; closed exactly once.
	stop     chan struct{}
	stopOnce sync.Once

	mu            sync.Mutex
	members       map[string]string // connection id → slot id
	slotCount     int
	tick          uint64
	joinDeadline  uint64
	started       bool
	queue         *intent.Queue
	history       []Broadcast
	historyClosed bool
	dissolved     bool
}

// NewRoom creates a room in the Forming phase.
//
// Precondition: cfg must be validated; sink and logger must be non-nil.
func NewRoom(id uint64, cfg Config, sink Sink, logger *zap.Logger) *Room {
	return &Room{
		id:           id,
		cfg:          cfg,
		sink:         sink,
		logger:       logger.With(zap.Uint64("room_id", id)),
		stop:         make(chan struct{}),
		members:      make(map[string]string),
		joinDeadline: noDeadline,
		queue:        intent.NewQueue(),
	}
}

// ID returns the room's sequential identifier.
func (r *Room) ID() uint64 { return r.id }

// Phase returns the room's current lifecycle phase.
func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phaseLocked()
}

func (r *Room) phaseLocked() Phase {
	switch {
	case r.dissolved:
		return PhaseDissolved
	case r.historyClosed:
		return PhaseClosedToJoins
	case r.started:
		return PhaseActive
	default:
		return PhaseForming
	}
}

// Joinable reports whether the matchmaker may offer this room to a new
// connection: Forming or Active with a free participant slot.
func (r *Room) Joinable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinableLocked()
}

func (r *Room) joinableLocked() bool {
	return !r.dissolved && !r.historyClosed && len(r.members) < r.cfg.MaxPlayers
}

// Join assigns a participant slot to conn, records membership, queues a
// synthetic join intent, and returns the slot plus the retained history so
// the client can replay prior ticks before the next live broadcast.
//
// When deliver is non-nil it is invoked with the result while the room's
// mutex is still held, so the welcome it hands off is ordered ahead of
// every subsequent tick broadcast: a Step cannot run between the history
// snapshot and the delivery. deliver must not call back into the room.
//
// Slot ids are reused lowest-index-first across departures, so a game's
// slot id space stays dense no matter how many players cycle through.
//
// Postcondition: On success, conn is a member and will receive every
// subsequent broadcast until it leaves. A connection that is already a
// member is rejected with ErrAlreadyMember and its slot is untouched.
func (r *Room) Join(conn string, deliver func(JoinResult)) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dissolved || r.historyClosed {
		return JoinResult{}, ErrRoomClosed
	}
	if _, ok := r.members[conn]; ok {
		return JoinResult{}, ErrAlreadyMember
	}
	if len(r.members) >= r.cfg.MaxPlayers {
		return JoinResult{}, ErrRoomFull
	}

	slot := r.vacantSlotLocked()
	r.members[conn] = slot
	r.queue.Submit(intent.Intent{Slot: slot, Kind: intent.KindJoin})

	hist := make([]Broadcast, len(r.history))
	copy(hist, r.history)

	r.logger.Info("member joined",
		zap.String("conn", conn),
		zap.String("slot", slot),
		zap.Int("members", len(r.members)),
	)

	res := JoinResult{
		RoomID:    r.id,
		Slot:      slot,
		SlotCount: r.slotCount,
		History:   hist,
	}
	if deliver != nil {
		deliver(res)
	}
	return res, nil
}

// vacantSlotLocked returns the lowest-numbered previously allocated slot id
// not currently held, or allocates a fresh one.
func (r *Room) vacantSlotLocked() string {
	held := make(map[string]bool, len(r.members))
	for _, s := range r.members {
		held[s] = true
	}
	for i := 0; i < r.slotCount; i++ {
		s := slotName(i)
		if !held[s] {
			return s
		}
	}
	s := slotName(r.slotCount)
	r.slotCount++
	return s
}

func slotName(i int) string {
	return fmt.Sprintf("hero%d", i)
}

// SubmitIntent queues in for the tick in progress after validating that
// conn currently owns the slot the intent names.
//
// Postcondition: Returns ErrNotMember or ErrSlotMismatch on a protocol
// violation; the intent is dropped in both cases.
func (r *Room) SubmitIntent(conn string, in intent.Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.members[conn]
	if !ok {
		return ErrNotMember
	}
	if in.Slot != slot {
		return ErrSlotMismatch
	}
	r.queue.Submit(in)
	return nil
}

// Leave removes conn's membership immediately and queues a synthetic leave
// intent for its slot. The leave intent's precedence guarantees a move
// submitted earlier in the same tick cannot mask the departure.
//
// Postcondition: Returns ErrNotMember for a stale or duplicate leave.
func (r *Room) Leave(conn string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.members[conn]
	if !ok {
		return ErrNotMember
	}
	r.queue.Submit(intent.Intent{Slot: slot, Kind: intent.KindLeave})
	delete(r.members, conn)

	r.logger.Info("member left",
		zap.String("conn", conn),
		zap.String("slot", slot),
		zap.Int("members", len(r.members)),
	)
	return nil
}

// Step runs one tick firing: dissolve if empty, skip if idle before the
// first real action, otherwise drain, stamp, record history, and broadcast.
//
// Postcondition: Returns false once the room has dissolved; the tick
// driver must then release its timer and unregister the room.
func (r *Room) Step() bool {
	r.mu.Lock()

	if r.dissolved {
		r.mu.Unlock()
		return false
	}
	if len(r.members) == 0 {
		r.dissolved = true
		tick := r.tick
		r.mu.Unlock()
		r.logger.Info("room dissolved", zap.Uint64("tick", tick))
		return false
	}

	// Idle rooms before the first action do not spam empty broadcasts.
	if !r.started && r.queue.Len() == 0 {
		r.mu.Unlock()
		return true
	}

	intents := r.queue.Drain()
	for _, in := range intents {
		if !r.started && in.Kind != intent.KindJoin && in.Kind != intent.KindLeave {
			r.started = true
			r.logger.Info("room active", zap.Uint64("tick", r.tick))
		}
		if in.Kind.ExtendsJoinWindow() {
			r.joinDeadline = r.tick + r.cfg.JoinPeriod
		}
	}

	b := Broadcast{RoomID: r.id, Tick: r.tick, Intents: intents}
	r.tick++

	if !r.historyClosed && r.tick >= r.joinDeadline {
		r.closeToJoinsLocked("join period elapsed")
	}
	if !r.historyClosed {
		r.history = append(r.history, b)
		if len(r.history) >= r.cfg.MaxHistory {
			r.closeToJoinsLocked("history cap reached")
		}
	}

	conns := make([]string, 0, len(r.members))
	for c := range r.members {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	r.sink.Broadcast(b, conns)
	return true
}

// closeToJoinsLocked transitions the room to ClosedToJoins, dropping the
// buffered history. A late joiner past this point gets no replay, so the
// matchmaker stops offering the room entirely.
func (r *Room) closeToJoinsLocked(reason string) {
	if r.historyClosed {
		return
	}
	r.historyClosed = true
	r.history = nil
	r.logger.Info("room closed to joins",
		zap.String("reason", reason),
		zap.Uint64("tick", r.tick),
	)
}

// Cancel releases the room's tick driver. Safe to call multiple times;
// the underlying channel is closed exactly once.
func (r *Room) Cancel() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Done returns the channel closed by Cancel.
func (r *Room) Done() <-chan struct{} { return r.stop }

// Snapshot returns the room's diagnostics view.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:        r.id,
		Phase:     r.phaseLocked(),
		Members:   len(r.members),
		SlotCount: r.slotCount,
		Tick:      r.tick,
	}
}
