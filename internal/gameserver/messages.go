package gameserver

import (
	"encoding/json"

	"github.com/arenalabs/arena/internal/game/intent"
	"github.com/arenalabs/arena/internal/game/room"
)

// Client → server message types.
const (
	msgJoin   = "join"
	msgIntent = "intent"
)

// Server → client message types.
const (
	msgWelcome = "welcome"
	msgTick    = "tick"
)

// clientMessage is the envelope for every frame a client sends.
type clientMessage struct {
	Type    string          `json:"type"`
	Slot    string          `json:"slot,omitempty"`
	Kind    intent.Kind     `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// welcomeMessage acknowledges a join: the assigned slot, the room, and the
// retained history so the client can replay prior ticks before the next
// live broadcast arrives.
type welcomeMessage struct {
	Type      string           `json:"type"`
	RoomID    uint64           `json:"roomId"`
	Slot      string           `json:"slot"`
	SlotCount int              `json:"slotCount"`
	TickRate  int              `json:"tickRate"`
	History   []room.Broadcast `json:"history"`
}

// tickMessage carries one tick broadcast to every member of a room.
type tickMessage struct {
	Type    string          `json:"type"`
	RoomID  uint64          `json:"roomId"`
	Tick    uint64          `json:"tick"`
	Intents []intent.Intent `json:"intents"`
}

func encodeWelcome(res room.JoinResult, tickRate int) ([]byte, error) {
	if res.History == nil {
		res.History = []room.Broadcast{}
	}
	return json.Marshal(welcomeMessage{
		Type:      msgWelcome,
		RoomID:    res.RoomID,
		Slot:      res.Slot,
		SlotCount: res.SlotCount,
		TickRate:  tickRate,
		History:   res.History,
	})
}

func encodeTick(b room.Broadcast) ([]byte, error) {
	intents := b.Intents
	if intents == nil {
		intents = []intent.Intent{}
	}
	return json.Marshal(tickMessage{
		Type:    msgTick,
		RoomID:  b.RoomID,
		Tick:    b.Tick,
		Intents: intents,
	})
}
