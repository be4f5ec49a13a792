package room

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrShuttingDown is returned by JoinRoom after Shutdown has begun.
var ErrShuttingDown = errors.New("registry is shutting down")

// Registry owns every live room and matchmakes join requests onto them.
// Rooms are scanned in creation order and the first joinable one wins;
// rooms self-limit via MaxPlayers and typically fill quickly, so a
// balancing policy would buy nothing over this deterministic scan.
type Registry struct {
	cfg    Config
	sink   Sink
	logger *zap.Logger

	mu     sync.Mutex
	rooms  []*Room
	nextID uint64
	closed bool

	wg sync.WaitGroup
}

// NewRegistry creates an empty Registry.
//
// Precondition: cfg must be validated; sink and logger must be non-nil.
func NewRegistry(cfg Config, sink Sink, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
	}
}

// JoinRoom matchmakes conn onto the first room in creation order that
// accepts it, creating a new room with a fresh sequential id when none
// does. A new room admits its first member before its tick driver starts,
// so a room can never dissolve out from under the join that created it.
// The deliver callback is forwarded to Room.Join.
//
// Postcondition: On success, conn holds a slot in the returned room. A
// connection that already holds a slot somewhere gets ErrAlreadyMember,
// never a second room.
func (g *Registry) JoinRoom(conn string, deliver func(JoinResult)) (*Room, JoinResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, JoinResult{}, ErrShuttingDown
	}
	for _, r := range g.rooms {
		res, err := r.Join(conn, deliver)
		if err == nil {
			return r, res, nil
		}
		if errors.Is(err, ErrAlreadyMember) {
			return nil, JoinResult{}, err
		}
		// Full, closed, or dissolving rooms are simply not eligible.
	}

	r := NewRoom(g.nextID, g.cfg, g.sink, g.logger)
	res, err := r.Join(conn, deliver)
	if err != nil {
		return nil, JoinResult{}, err
	}
	g.nextID++
	g.rooms = append(g.rooms, r)

	g.wg.Add(1)
	go g.drive(r)

	g.logger.Info("room created",
		zap.Uint64("room_id", r.ID()),
		zap.Int("live_rooms", len(g.rooms)),
	)
	return r, res, nil
}

// drive is the room's tick driver goroutine: one ticker per room, parked
// until the room dissolves or the registry shuts down. Per-room failure
// stays isolated here; no other room shares this timer.
func (g *Registry) drive(r *Room) {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Done():
			return
		case <-ticker.C:
			if !r.Step() {
				r.Cancel()
				g.remove(r)
				return
			}
		}
	}
}

// remove deletes r from the registry. Called synchronously by the tick
// driver the moment it observes the room dissolved.
func (g *Registry) remove(r *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, other := range g.rooms {
		if other == r {
			g.rooms = append(g.rooms[:i], g.rooms[i+1:]...)
			break
		}
	}
	g.logger.Info("room removed",
		zap.Uint64("room_id", r.ID()),
		zap.Int("live_rooms", len(g.rooms)),
	)
}

// RoomCount returns the number of live rooms.
func (g *Registry) RoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Snapshots returns a diagnostics view of every live room in creation order.
func (g *Registry) Snapshots() []Snapshot {
	g.mu.Lock()
	rooms := make([]*Room, len(g.rooms))
	copy(rooms, g.rooms)
	g.mu.Unlock()

	out := make([]Snapshot, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Snapshot())
	}
	return out
}

// Shutdown cancels every room's tick driver and waits for them to exit.
// No new rooms can be created afterwards.
func (g *Registry) Shutdown() {
	g.mu.Lock()
	g.closed = true
	rooms := make([]*Room, len(g.rooms))
	copy(rooms, g.rooms)
	g.mu.Unlock()

	for _, r := range rooms {
		r.Cancel()
	}
	g.wg.Wait()
	g.logger.Info("registry shut down", zap.Int("rooms_cancelled", len(rooms)))
}
