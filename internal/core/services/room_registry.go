package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/pkg/utils"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Room is one broadcast scope. All fields behind mu are mutated only by
// RoomRegistry; lock order is registry.mu before room.mu.
type Room struct {
	ID        domain.RoomID
	CreatedAt time.Time

	// postMu serializes comment posts so that persistence order, log order
	// and delivery order agree within the room.
	postMu sync.Mutex

	mu       sync.Mutex
	state    domain.RoomState
	streamer ports.Peer
	viewers  map[domain.ConnID]ports.Peer
	comments []domain.Comment
}

func newRoom(id domain.RoomID, seed []domain.Comment, now time.Time) *Room {
	return &Room{
		ID:        id,
		CreatedAt: now,
		state:     domain.RoomForming,
		viewers:   make(map[domain.ConnID]ports.Peer),
		comments:  append([]domain.Comment(nil), seed...),
	}
}

func (r *Room) State() domain.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Comments returns a copy of the in-memory comment log.
func (r *Room) Comments() []domain.Comment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Comment(nil), r.comments...)
}

func (r *Room) Summary() domain.RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.RoomSummary{
		ID:           r.ID,
		State:        r.state,
		HasStreamer:  r.streamer != nil,
		ViewerCount:  len(r.viewers),
		CommentCount: len(r.comments),
		CreatedAt:    r.CreatedAt,
	}
}

func (r *Room) hasMember(connID domain.ConnID) bool {
	if r.streamer != nil && r.streamer.ID() == connID {
		return true
	}
	_, ok := r.viewers[connID]
	return ok
}

func (r *Room) viewerList() []ports.Peer {
	out := make([]ports.Peer, 0, len(r.viewers))
	for _, v := range r.viewers {
		out = append(out, v)
	}
	return out
}

// RoomSnapshot is a copy of a connection's room binding and the room's
// members, safe to use after the registry lock is released.
type RoomSnapshot struct {
	Membership domain.Membership
	Streamer   ports.Peer
	Viewers    []ports.Peer
}

// Removal reports what RemoveConnection did so the caller can notify
// peers outside the critical section.
type Removal struct {
	RoomID domain.RoomID
	Role   domain.Role
	// Closed is set when the departing connection was the streamer.
	Closed bool
	// Deleted is set when the room left the registry.
	Deleted bool
	// Evicted holds the viewers that were bound to a closed room.
	Evicted []ports.Peer

	room *Room
}

// Settle runs fn once every comment post in flight for the removed room
// has been delivered, so notices sent by fn follow those comments.
func (rm Removal) Settle(fn func()) {
	if rm.room != nil {
		rm.room.postMu.Lock()
		defer rm.room.postMu.Unlock()
	}
	fn()
}

// RoomRegistry owns every live room and the connection -> room index.
type RoomRegistry struct {
	mu      sync.RWMutex
	rooms   map[domain.RoomID]*Room
	members map[domain.ConnID]domain.Membership

	comments         ports.CommentRepository
	operationTimeout time.Duration
	logger           *zap.SugaredLogger
	now              func() time.Time
}

func NewRoomRegistry(comments ports.CommentRepository, operationTimeout time.Duration, logger *zap.SugaredLogger) *RoomRegistry {
	if operationTimeout <= 0 {
		operationTimeout = 5 * time.Second
	}
	return &RoomRegistry{
		rooms:            make(map[domain.RoomID]*Room),
		members:          make(map[domain.ConnID]domain.Membership),
		comments:         comments,
		operationTimeout: operationTimeout,
		logger:           logger,
		now:              time.Now,
	}
}

// CreateRoom adds an empty room in state forming. An empty id asks for a
// generated one; a caller-provided id is seeded from the comment store.
func (r *RoomRegistry) CreateRoom(ctx context.Context, id domain.RoomID) (*Room, error) {
	var seed []domain.Comment
	if id == "" {
		id = domain.RoomID(utils.GenerateID("room"))
	} else {
		if _, ok := r.GetRoom(id); ok {
			return nil, domain.ErrRoomExists
		}
		loadCtx, cancel := context.WithTimeout(ctx, r.operationTimeout)
		history, err := r.comments.LoadComments(loadCtx, id)
		cancel()
		if err != nil {
			r.logger.Warnw("failed to load room history", "room_id", id, "error", err)
		}
		for i := range history {
			history[i].RoomID = id
		}
		seed = history
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[id]; exists {
		return nil, domain.ErrRoomExists
	}
	room := newRoom(id, seed, r.now())
	r.rooms[id] = room
	return room, nil
}

func (r *RoomRegistry) GetRoom(id domain.RoomID) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

func (r *RoomRegistry) Membership(connID domain.ConnID) (domain.Membership, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[connID]
	return m, ok
}

// BindStreamer makes peer the streamer of roomID and sets the room live.
// A previously bound streamer is unbound and returned; the caller notifies
// and disconnects it.
func (r *RoomRegistry) BindStreamer(roomID domain.RoomID, peer ports.Peer) (ports.Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if m, bound := r.members[peer.ID()]; bound {
		if m.RoomID == roomID && m.Role == domain.RoleStreamer {
			return nil, nil
		}
		return nil, domain.ErrAlreadyBound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	displaced := room.streamer
	if displaced != nil {
		delete(r.members, displaced.ID())
	}
	room.streamer = peer
	room.state = domain.RoomLive
	r.members[peer.ID()] = domain.Membership{
		ConnID:   peer.ID(),
		RoomID:   roomID,
		Role:     domain.RoleStreamer,
		JoinedAt: r.now(),
	}
	return displaced, nil
}

// AddViewer binds peer as a viewer. onJoin runs inside the room's critical
// section with the comment log as of the join instant, so anything it
// enqueues precedes every later comment delivered to peer. It must not
// block. A viewer already bound to roomID is joined again; one bound
// anywhere else gets ErrAlreadyBound.
func (r *RoomRegistry) AddViewer(roomID domain.RoomID, peer ports.Peer, onJoin func(history []domain.Comment)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	m, bound := r.members[peer.ID()]
	if bound && (m.RoomID != roomID || m.Role != domain.RoleViewer) {
		return domain.ErrAlreadyBound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if bound {
		// A repeat join replays the history as of now.
		if onJoin != nil {
			onJoin(append([]domain.Comment(nil), room.comments...))
		}
		return nil
	}
	if room.streamer == nil {
		return domain.ErrNoActiveStream
	}
	room.viewers[peer.ID()] = peer
	r.members[peer.ID()] = domain.Membership{
		ConnID:   peer.ID(),
		RoomID:   roomID,
		Role:     domain.RoleViewer,
		JoinedAt: r.now(),
	}
	if onJoin != nil {
		onJoin(append([]domain.Comment(nil), room.comments...))
	}
	return nil
}

// RemoveConnection unbinds connID from its room. A departing streamer
// closes the room and evicts its viewers; a room left with no members is
// deleted. The second result is false when connID was not bound.
func (r *RoomRegistry) RemoveConnection(connID domain.ConnID) (Removal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return Removal{}, false
	}
	delete(r.members, connID)

	removal := Removal{RoomID: m.RoomID, Role: m.Role}
	room, ok := r.rooms[m.RoomID]
	if !ok {
		return removal, true
	}
	removal.room = room

	room.mu.Lock()
	defer room.mu.Unlock()

	switch {
	case room.streamer != nil && room.streamer.ID() == connID:
		room.state = domain.RoomClosed
		room.streamer = nil
		removal.Evicted = room.viewerList()
		for id := range room.viewers {
			delete(r.members, id)
		}
		room.viewers = make(map[domain.ConnID]ports.Peer)
		removal.Closed = true
		removal.Deleted = true
		delete(r.rooms, room.ID)
	default:
		delete(room.viewers, connID)
		if room.streamer == nil && len(room.viewers) == 0 {
			room.state = domain.RoomClosed
			removal.Deleted = true
			delete(r.rooms, room.ID)
		}
	}
	return removal, true
}

// Snapshot returns connID's membership together with the room's members.
func (r *RoomRegistry) Snapshot(connID domain.ConnID) (RoomSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[connID]
	if !ok {
		return RoomSnapshot{}, domain.ErrNotInRoom
	}
	room, ok := r.rooms[m.RoomID]
	if !ok {
		return RoomSnapshot{}, domain.ErrNotInRoom
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	return RoomSnapshot{
		Membership: m,
		Streamer:   room.streamer,
		Viewers:    room.viewerList(),
	}, nil
}

// PostComment persists a comment from connID, appends it to the room log
// and hands it to deliver together with the room's members, all under the
// room's post lock. A sender that is no longer a member of a live room is
// rejected before anything is persisted. If the room closes while the
// append is in flight, the comment still goes to the members present when
// the post was accepted; they see it before the room-closed notice, which
// waits for the post lock (see Removal.Settle). A persistence failure is
// returned wrapped in ErrPersistenceFailure after the comment has been
// delivered.
func (r *RoomRegistry) PostComment(
	ctx context.Context,
	connID domain.ConnID,
	authorName string,
	text string,
	deliver func(comment domain.Comment, streamer ports.Peer, viewers []ports.Peer),
) (domain.Comment, error) {
	m, ok := r.Membership(connID)
	if !ok {
		return domain.Comment{}, domain.ErrNotInRoom
	}
	room, ok := r.GetRoom(m.RoomID)
	if !ok {
		return domain.Comment{}, domain.ErrNotInRoom
	}

	room.postMu.Lock()
	defer room.postMu.Unlock()

	room.mu.Lock()
	if room.state == domain.RoomClosed || !room.hasMember(connID) {
		room.mu.Unlock()
		return domain.Comment{}, domain.ErrNotInRoom
	}
	streamer := room.streamer
	viewers := room.viewerList()
	room.mu.Unlock()

	now := r.now()
	comment := domain.Comment{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		RoomID:     room.ID,
		Author:     connID,
		AuthorName: authorName,
		Text:       text,
		Timestamp:  now,
	}

	persistCtx, cancel := context.WithTimeout(ctx, r.operationTimeout)
	persistErr := r.comments.AppendComment(persistCtx, room.ID, comment)
	cancel()

	room.mu.Lock()
	room.comments = append(room.comments, comment)
	if room.state != domain.RoomClosed {
		streamer = room.streamer
		viewers = room.viewerList()
	}
	room.mu.Unlock()

	if deliver != nil {
		deliver(comment, streamer, viewers)
	}

	if persistErr != nil {
		return comment, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, persistErr)
	}
	return comment, nil
}

// Sweep deletes forming rooms that nobody ever bound to within ttl.
func (r *RoomRegistry) Sweep(ttl time.Duration) []domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-ttl)
	var swept []domain.RoomID
	for id, room := range r.rooms {
		room.mu.Lock()
		idle := room.state == domain.RoomForming && room.streamer == nil && len(room.viewers) == 0
		room.mu.Unlock()
		if idle && room.CreatedAt.Before(cutoff) {
			delete(r.rooms, id)
			swept = append(swept, id)
		}
	}
	return swept
}

// RunSweeper calls Sweep every interval until ctx ends.
func (r *RoomRegistry) RunSweeper(ctx context.Context, interval, ttl time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if swept := r.Sweep(ttl); len(swept) > 0 {
				r.logger.Infow("swept idle rooms", "rooms", swept)
			}
		}
	}
}

// Drain closes every room and empties the registry. Used at shutdown.
func (r *RoomRegistry) Drain() []Removal {
	r.mu.Lock()
	defer r.mu.Unlock()

	removals := make([]Removal, 0, len(r.rooms))
	for id, room := range r.rooms {
		room.mu.Lock()
		removal := Removal{RoomID: id, Closed: true, Deleted: true, Evicted: room.viewerList(), room: room}
		if room.streamer != nil {
			removal.Evicted = append(removal.Evicted, room.streamer)
			room.streamer = nil
		}
		room.viewers = make(map[domain.ConnID]ports.Peer)
		room.state = domain.RoomClosed
		room.mu.Unlock()
		removals = append(removals, removal)
	}
	r.rooms = make(map[domain.RoomID]*Room)
	r.members = make(map[domain.ConnID]domain.Membership)
	return removals
}

func (r *RoomRegistry) List() []domain.RoomSummary {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	summaries := make([]domain.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summaries = append(summaries, room.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

func (r *RoomRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
