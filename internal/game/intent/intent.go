// Package intent defines player intents and the per-room pending-intent
// queue that merges them into one intent per slot per tick.
package intent

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Kind names the action a participant declared for the tick in progress.
// Beyond the three reserved kinds below, any non-empty string is a valid
// gameplay action kind; the server never interprets it.
type Kind string

const (
	// KindJoin is the synthetic intent submitted when a slot is assigned.
	KindJoin Kind = "join"
	// KindLeave is the synthetic intent submitted when a member departs.
	KindLeave Kind = "leave"
	// KindMove is the per-tick positional update sent by every client.
	KindMove Kind = "move"
)

// Precedence values used to resolve competing intents for one slot within
// a single tick. A leave must never be masked by a stale move, and a join
// must survive over ordinary actions. Movement is sent every tick, so it
// ranks below one-off ability casts.
const (
	precedenceNone  = 0
	precedenceMove  = 10
	precedenceOther = 100
	precedenceJoin  = 1000
	precedenceLeave = 1001
)

// Precedence returns the conflict-resolution priority of this kind.
//
// Postcondition: Returns a value > 0 for every non-empty kind.
func (k Kind) Precedence() int {
	switch k {
	case KindLeave:
		return precedenceLeave
	case KindJoin:
		return precedenceJoin
	case KindMove:
		return precedenceMove
	case "":
		return precedenceNone
	default:
		return precedenceOther
	}
}

// ExtendsJoinWindow reports whether draining an intent of this kind pushes
// the room's join deadline forward. Joins, leaves, and movement do not;
// every other gameplay action does.
func (k Kind) ExtendsJoinWindow() bool {
	switch k {
	case KindJoin, KindLeave, KindMove, "":
		return false
	default:
		return true
	}
}

// Intent is one participant's declared action for the tick currently being
// assembled. Payload is opaque to the server; the client-side simulator
// interprets it.
type Intent struct {
	Slot    string          `json:"slot"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Queue holds at most one pending intent per slot for the tick in progress.
// It is not safe for concurrent use: the owning room serialises Submit and
// Drain under its own mutex so a drain sees a consistent snapshot.
type Queue struct {
	pending map[string]Intent
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{pending: make(map[string]Intent)}
}

// Submit records in as the pending intent for its slot if its precedence is
// greater than or equal to whatever is currently pending there. On equal
// precedence the later submission wins; same-precedence intents are
// positional updates where the latest value is the right one.
//
// Postcondition: Returns true if the intent was recorded, false if a
// higher-precedence intent was already pending.
func (q *Queue) Submit(in Intent) bool {
	current, ok := q.pending[in.Slot]
	if ok && in.Kind.Precedence() < current.Kind.Precedence() {
		return false
	}
	q.pending[in.Slot] = in
	return true
}

// Drain returns all pending intents ordered by slot allocation index and
// clears the queue.
//
// Postcondition: Len() == 0.
func (q *Queue) Drain() []Intent {
	if len(q.pending) == 0 {
		return nil
	}
	out := make([]Intent, 0, len(q.pending))
	for _, in := range q.pending {
		out = append(out, in)
	}
	q.pending = make(map[string]Intent)
	sort.Slice(out, func(i, j int) bool {
		a, b := slotIndex(out[i].Slot), slotIndex(out[j].Slot)
		if a != b {
			return a < b
		}
		return out[i].Slot < out[j].Slot
	})
	return out
}

// Len returns the number of slots with a pending intent.
func (q *Queue) Len() int {
	return len(q.pending)
}

// slotIndex extracts the numeric allocation index from a slot id such as
// "hero3". Slots without a numeric suffix sort after all indexed slots.
func slotIndex(slot string) int {
	i := len(slot)
	for i > 0 && slot[i-1] >= '0' && slot[i-1] <= '9' {
		i--
	}
	if i == len(slot) {
		return int(^uint(0) >> 1)
	}
	n, err := strconv.Atoi(slot[i:])
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}
