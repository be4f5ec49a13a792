package gameserver

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/arenalabs/arena/internal/config"
	"github.com/arenalabs/arena/internal/game/intent"
	"github.com/arenalabs/arena/internal/game/room"
)

// ErrNotConnected is returned for operations on an unknown connection id.
var ErrNotConnected = errors.New("connection is not registered")

// ErrAlreadyJoined is returned when a connection that already holds a room
// sends another join. A duplicate join is a protocol violation, not a
// re-seat: honoring it would orphan the old slot without a departure.
var ErrAlreadyJoined = errors.New("connection already joined a room")

// Service is the session core's front door. It owns the room registry,
// tracks which rooms each live connection belongs to, and fans tick
// broadcasts out to per-connection outboxes.
//
// All methods are safe for concurrent use.
type Service struct {
	cfg      config.GameConfig
	logger   *zap.Logger
	registry *room.Registry

	mu      sync.Mutex
	members map[string]*memberState // connection id → state
}

type memberState struct {
	outbox *Outbox
	rooms  map[uint64]*room.Room
}

// NewService creates a Service with an empty room registry.
//
// Precondition: cfg must be validated; logger must be non-nil.
func NewService(cfg config.GameConfig, logger *zap.Logger) *Service {
	s := &Service{
		cfg:     cfg,
		logger:  logger,
		members: make(map[string]*memberState),
	}
	s.registry = room.NewRegistry(room.Config{
		TickInterval: cfg.TickInterval(),
		MaxPlayers:   cfg.MaxPlayers,
		JoinPeriod:   cfg.JoinPeriodTicks,
		MaxHistory:   cfg.MaxHistoryLength,
	}, s, logger)
	return s
}

// Connect registers a new connection and returns its outbox. The write
// pump drains the outbox until Disconnect closes it.
//
// Postcondition: Returns a non-nil Outbox; a duplicate id returns the
// existing outbox unchanged.
func (s *Service) Connect(conn string) *Outbox {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.members[conn]; ok {
		s.logger.Warn("duplicate connection id", zap.String("conn", conn))
		return st.outbox
	}
	st := &memberState{
		outbox: NewOutbox(conn, s.cfg.OutboxBuffer),
		rooms:  make(map[uint64]*room.Room),
	}
	s.members[conn] = st
	return st.outbox
}

// Join matchmakes conn into a room and pushes the welcome frame, carrying
// the assigned slot and the room's retained history, onto its outbox. The
// welcome is pushed inside the room's critical section, so no tick
// broadcast can land on the outbox between the history snapshot and the
// welcome: the client always sees welcome, then history's successor tick.
func (s *Service) Join(conn string) error {
	s.mu.Lock()
	st, ok := s.members[conn]
	if ok && len(st.rooms) > 0 {
		s.mu.Unlock()
		s.logger.Warn("duplicate join dropped", zap.String("conn", conn))
		return ErrAlreadyJoined
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	var pushErr error
	r, _, err := s.registry.JoinRoom(conn, func(res room.JoinResult) {
		frame, ferr := encodeWelcome(res, s.cfg.TickRate)
		if ferr != nil {
			pushErr = ferr
			return
		}
		pushErr = st.outbox.Push(frame)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	// The connection may have vanished while matchmaking ran.
	if cur, ok := s.members[conn]; ok && cur == st {
		st.rooms[r.ID()] = r
		s.mu.Unlock()
	} else {
		s.mu.Unlock()
		if lerr := r.Leave(conn); lerr != nil {
			s.logger.Warn("rollback leave failed",
				zap.String("conn", conn), zap.Error(lerr))
		}
		return ErrNotConnected
	}

	if pushErr != nil {
		s.logger.Warn("welcome push failed, dropping connection",
			zap.String("conn", conn), zap.Error(pushErr))
		s.Disconnect(conn)
		return pushErr
	}
	return nil
}

// SubmitIntent validates the intent kind and slot ownership, then queues
// the intent in every room where conn is a member. An empty kind, a
// reserved kind (join and leave are only ever server-synthesized), or a
// mismatched slot is a protocol violation: logged, dropped, non-fatal,
// no response to the caller.
func (s *Service) SubmitIntent(conn string, in intent.Intent) {
	if in.Kind == "" || in.Kind == intent.KindJoin || in.Kind == intent.KindLeave {
		s.logger.Warn("reserved or empty intent kind dropped",
			zap.String("conn", conn),
			zap.String("slot", in.Slot),
			zap.String("kind", string(in.Kind)),
		)
		return
	}

	s.mu.Lock()
	st, ok := s.members[conn]
	var rooms []*room.Room
	if ok {
		rooms = make([]*room.Room, 0, len(st.rooms))
		for _, r := range st.rooms {
			rooms = append(rooms, r)
		}
	}
	s.mu.Unlock()

	if !ok || len(rooms) == 0 {
		s.logger.Warn("intent from connection with no room",
			zap.String("conn", conn), zap.String("slot", in.Slot))
		return
	}
	for _, r := range rooms {
		if err := r.SubmitIntent(conn, in); err != nil {
			s.logger.Warn("intent rejected",
				zap.String("conn", conn),
				zap.Uint64("room_id", r.ID()),
				zap.String("slot", in.Slot),
				zap.String("kind", string(in.Kind)),
				zap.Error(err),
			)
		}
	}
}

// Disconnect departs conn from every room it belongs to, queueing a
// synthetic leave per room, and closes its outbox. The rooms' member
// count checks dissolve any room this emptied on its next tick firing.
//
// Safe to call for an unknown or already-disconnected id.
func (s *Service) Disconnect(conn string) {
	s.mu.Lock()
	st, ok := s.members[conn]
	if ok {
		delete(s.members, conn)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	for _, r := range st.rooms {
		if err := r.Leave(conn); err != nil {
			// Stale leave: the room already saw this departure.
			s.logger.Warn("stale leave ignored",
				zap.String("conn", conn),
				zap.Uint64("room_id", r.ID()),
				zap.Error(err),
			)
		}
	}
	_ = st.outbox.Close()
	s.logger.Info("connection closed", zap.String("conn", conn))
}

// Broadcast implements room.Sink: the frame is encoded once and pushed to
// every member's outbox. A failed push never blocks the tick driver or the
// other members; the affected connection is dropped through Disconnect.
func (s *Service) Broadcast(b room.Broadcast, conns []string) {
	frame, err := encodeTick(b)
	if err != nil {
		s.logger.Error("encoding tick broadcast",
			zap.Uint64("room_id", b.RoomID),
			zap.Uint64("tick", b.Tick),
			zap.Error(err),
		)
		return
	}

	s.mu.Lock()
	outboxes := make([]*Outbox, 0, len(conns))
	for _, conn := range conns {
		if st, ok := s.members[conn]; ok {
			outboxes = append(outboxes, st.outbox)
		}
	}
	s.mu.Unlock()

	for _, o := range outboxes {
		if err := o.Push(frame); err != nil {
			s.logger.Warn("broadcast push failed, dropping connection",
				zap.String("conn", o.Conn()),
				zap.Uint64("room_id", b.RoomID),
				zap.Error(err),
			)
			s.Disconnect(o.Conn())
		}
	}
}

// Snapshots returns a diagnostics view of every live room.
func (s *Service) Snapshots() []room.Snapshot {
	return s.registry.Snapshots()
}

// ConnectionCount returns the number of registered connections.
func (s *Service) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Shutdown stops every room's tick driver and closes all outboxes.
func (s *Service) Shutdown() {
	s.registry.Shutdown()

	s.mu.Lock()
	conns := make([]string, 0, len(s.members))
	for conn := range s.members {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		s.Disconnect(conn)
	}
}
