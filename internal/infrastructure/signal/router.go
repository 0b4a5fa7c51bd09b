package signal

import (
	"context"
	"errors"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/internal/core/services"
	apperrors "roomrelay/pkg/errors"
	"roomrelay/pkg/tracing"
	"roomrelay/pkg/utils"
	"roomrelay/pkg/validation"

	"go.uber.org/zap"
)

const (
	reasonStreamerDisconnected = "streamer-disconnected"
	reasonStreamerLeft         = "streamer-left"
	reasonShutdown             = "shutdown"

	eventPublishTimeout = 2 * time.Second
)

type RouterConfig struct {
	// EchoComments delivers a comment back to its sender as well.
	EchoComments bool
	// InstanceID tags published room events.
	InstanceID string
}

// Router decodes inbound frames and dispatches them against the room
// registry. It implements ports.FrameHandler.
type Router struct {
	registry    *services.RoomRegistry
	broadcaster *Broadcaster
	events      ports.RoomEventPublisher
	cfg         RouterConfig
	metrics     Metrics
	logger      *zap.SugaredLogger
}

var _ ports.FrameHandler = (*Router)(nil)

// NewRouter builds a router. events may be nil.
func NewRouter(
	registry *services.RoomRegistry,
	broadcaster *Broadcaster,
	events ports.RoomEventPublisher,
	cfg RouterConfig,
	metrics Metrics,
	logger *zap.SugaredLogger,
) *Router {
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &Router{
		registry:    registry,
		broadcaster: broadcaster,
		events:      events,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
	}
}

func (r *Router) HandleConnect(ctx context.Context, peer ports.Peer) {
	r.metrics.ConnectionOpened()
	if id := peer.Identity(); id != nil {
		r.logger.Infow("connection accepted", "conn_id", peer.ID(), "user_id", id.UserID)
		return
	}
	r.logger.Infow("connection accepted", "conn_id", peer.ID())
}

func (r *Router) HandleFrame(ctx context.Context, peer ports.Peer, binary bool, data []byte) {
	ctx, span := tracing.TraceFrame(ctx, string(peer.ID()), binary)
	defer span.End()

	frame, err := DecodeFrame(binary, data)
	if err != nil {
		tracing.RecordError(ctx, err)
		if errors.Is(err, ErrUnknownType) {
			r.metrics.FrameRejected("unknown_type")
			r.replyError(peer, apperrors.NewUnknownTypeError())
			return
		}
		r.metrics.FrameRejected("decode")
		r.logger.Debugw("frame decode failed", "conn_id", peer.ID(), "error", err)
		r.replyError(peer, apperrors.NewDecodeError(err))
		return
	}

	tracing.AddSpanAttributes(ctx, tracing.FrameTypeKey.String(string(frame.Type())))
	r.metrics.FrameReceived(string(frame.Type()))

	switch f := frame.(type) {
	case CreateRoomFrame:
		r.createRoom(ctx, peer, f.RoomID)
	case JoinRoomFrame:
		r.joinRoom(ctx, peer, f)
	case LeaveFrame:
		r.leave(ctx, peer)
	case SignalFrame:
		r.relaySignal(peer, f)
	case CommentFrame:
		r.postComment(ctx, peer, f)
	case StreamDataFrame:
		r.relayStreamData(peer, f)
	case PingFrame:
		r.broadcaster.SendMessage(peer, pongMessage{Type: TypePong})
	case PongFrame:
		// Activity was already recorded by the transport.
	default:
		r.replyError(peer, apperrors.NewUnknownTypeError())
	}
}

func (r *Router) HandleDisconnect(ctx context.Context, peer ports.Peer) {
	r.unbind(ctx, peer, reasonStreamerDisconnected)
	r.metrics.ConnectionClosed()
	r.logger.Infow("connection closed", "conn_id", peer.ID())
}

// BindFromQuery applies the room binding requested in the accept URL.
// A streamer goes through create-room so an unseen id is created; anyone
// else joins as a viewer.
func (r *Router) BindFromQuery(ctx context.Context, peer ports.Peer, roomID, role string) {
	if domain.ParseRole(role) == domain.RoleStreamer {
		r.createRoom(ctx, peer, domain.RoomID(roomID))
		return
	}
	r.joinRoom(ctx, peer, JoinRoomFrame{RoomID: domain.RoomID(roomID), Role: domain.RoleViewer})
}

// Drain closes every room with a shutdown notice and disconnects its
// members. It returns the number of rooms closed.
func (r *Router) Drain(ctx context.Context) int {
	removals := r.registry.Drain()
	for _, removal := range removals {
		frame := encode(noticeMessage{Type: TypeRoomClosed, RoomID: removal.RoomID, Reason: reasonShutdown})
		removal.Settle(func() {
			for _, p := range removal.Evicted {
				r.broadcaster.Send(p, frame)
				p.Close(reasonShutdown)
			}
			r.publish(ctx, domain.RoomEvent{Type: domain.EventRoomClosed, RoomID: removal.RoomID})
		})
	}
	r.metrics.SetRooms(0)
	return len(removals)
}

func (r *Router) createRoom(ctx context.Context, peer ports.Peer, roomID domain.RoomID) {
	if roomID != "" {
		if err := validation.ValidateRoomID(string(roomID)); err != nil {
			r.replyError(peer, apperrors.NewInvalidInputError(err.Error()))
			return
		}
	}
	if !r.canStream(peer) {
		r.replyError(peer, domain.ErrUnauthorized)
		return
	}

	r.release(ctx, peer, roomID, domain.RoleStreamer)

	room, created, err := r.openRoom(ctx, roomID)
	if err != nil {
		r.replyError(peer, err)
		return
	}
	if created {
		// Published ahead of the binding so it precedes the room's
		// comment and close events.
		r.logger.Infow("room created", "room_id", room.ID, "conn_id", peer.ID())
		r.publish(ctx, domain.RoomEvent{Type: domain.EventRoomCreated, RoomID: room.ID, ConnID: peer.ID()})
	}
	if err := r.bindStreamer(peer, room.ID); err != nil {
		r.replyError(peer, err)
		return
	}

	r.broadcaster.SendMessage(peer, roomCreatedMessage{Type: TypeRoomCreated, RoomID: room.ID})
	r.metrics.SetRooms(r.registry.Count())
}

// openRoom creates roomID or, when it already exists, returns it.
func (r *Router) openRoom(ctx context.Context, roomID domain.RoomID) (*services.Room, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		room, err := r.registry.CreateRoom(ctx, roomID)
		if err == nil {
			return room, true, nil
		}
		if !errors.Is(err, domain.ErrRoomExists) {
			return nil, false, err
		}
		if room, ok := r.registry.GetRoom(roomID); ok {
			return room, false, nil
		}
	}
	return nil, false, domain.ErrRoomExists
}

func (r *Router) bindStreamer(peer ports.Peer, roomID domain.RoomID) error {
	displaced, err := r.registry.BindStreamer(roomID, peer)
	if err != nil {
		return err
	}
	if displaced != nil {
		r.logger.Infow("streamer displaced", "room_id", roomID, "conn_id", displaced.ID(), "by", peer.ID())
		r.broadcaster.SendMessage(displaced, noticeMessage{
			Type:    TypeDisplaced,
			RoomID:  roomID,
			Message: "another streamer took over this room",
		})
		displaced.Close("displaced")
	}
	return nil
}

func (r *Router) joinRoom(ctx context.Context, peer ports.Peer, f JoinRoomFrame) {
	if err := validation.ValidateRoomID(string(f.RoomID)); err != nil {
		r.replyError(peer, apperrors.NewInvalidInputError(err.Error()))
		return
	}

	role := domain.RoleViewer
	if f.Role == domain.RoleStreamer {
		role = domain.RoleStreamer
	}
	r.release(ctx, peer, f.RoomID, role)

	if role == domain.RoleStreamer {
		if !r.canStream(peer) {
			r.replyError(peer, domain.ErrUnauthorized)
			return
		}
		if err := r.bindStreamer(peer, f.RoomID); err != nil {
			r.replyError(peer, err)
			return
		}
		r.broadcaster.SendMessage(peer, roomJoinedMessage{
			Type: TypeRoomJoined, Success: true, RoomID: f.RoomID, Role: domain.RoleStreamer, ConnID: peer.ID(),
		})
		return
	}

	history := historyFrame{roomID: f.RoomID}
	if room, ok := r.registry.GetRoom(f.RoomID); ok {
		history = encodeHistory(f.RoomID, room.Comments())
	}
	err := r.registry.AddViewer(f.RoomID, peer, func(comments []domain.Comment) {
		r.broadcaster.SendMessage(peer, roomJoinedMessage{
			Type: TypeRoomJoined, Success: true, RoomID: f.RoomID, Role: domain.RoleViewer, ConnID: peer.ID(),
		})
		r.broadcaster.Send(peer, history.frameFor(comments))
	})
	switch {
	case err == nil:
		r.logger.Debugw("viewer joined", "room_id", f.RoomID, "conn_id", peer.ID())
	case errors.Is(err, domain.ErrNoActiveStream):
		r.broadcaster.SendMessage(peer, noticeMessage{
			Type:    TypeNoStream,
			RoomID:  f.RoomID,
			Message: "no active stream in this room",
		})
	default:
		r.replyError(peer, err)
	}
}

// release unbinds peer ahead of a new binding unless it already holds
// exactly that binding, in which case the registry treats the request as a
// repeat and the room is left untouched.
func (r *Router) release(ctx context.Context, peer ports.Peer, roomID domain.RoomID, role domain.Role) {
	if m, ok := r.registry.Membership(peer.ID()); ok && m.RoomID == roomID && m.Role == role {
		return
	}
	r.unbind(ctx, peer, reasonStreamerLeft)
}

func (r *Router) leave(ctx context.Context, peer ports.Peer) {
	removal, ok := r.unbind(ctx, peer, reasonStreamerLeft)
	if !ok {
		r.replyError(peer, domain.ErrNotInRoom)
		return
	}
	r.broadcaster.SendMessage(peer, noticeMessage{Type: TypeLeft, RoomID: removal.RoomID})
}

// unbind removes peer from its room and notifies viewers evicted by a
// closing room. It is safe to call for unbound peers.
func (r *Router) unbind(ctx context.Context, peer ports.Peer, reason string) (services.Removal, bool) {
	removal, ok := r.registry.RemoveConnection(peer.ID())
	if !ok {
		return removal, false
	}

	if removal.Closed {
		frame := encode(noticeMessage{Type: TypeRoomClosed, RoomID: removal.RoomID, Reason: reason})
		removal.Settle(func() {
			r.broadcaster.Broadcast(removal.Evicted, frame, "")
			r.publish(ctx, domain.RoomEvent{Type: domain.EventRoomClosed, RoomID: removal.RoomID, ConnID: peer.ID()})
		})
		r.logger.Infow("room closed",
			"room_id", removal.RoomID,
			"reason", reason,
			"evicted", len(removal.Evicted),
		)
	}
	if removal.Deleted {
		r.metrics.SetRooms(r.registry.Count())
	}
	return removal, true
}

func (r *Router) relaySignal(peer ports.Peer, f SignalFrame) {
	snap, err := r.registry.Snapshot(peer.ID())
	if err != nil {
		r.replyError(peer, domain.ErrUnauthorized)
		return
	}
	roomID := snap.Membership.RoomID
	if f.RoomID != "" && f.RoomID != roomID {
		r.replyError(peer, domain.ErrNotInRoom)
		return
	}

	frame := encode(signalMessage{Type: f.Kind, RoomID: roomID, From: peer.ID(), Payload: f.Payload})

	if snap.Membership.Role != domain.RoleStreamer {
		if snap.Streamer == nil {
			r.replyError(peer, domain.ErrNoActiveStream)
			return
		}
		r.broadcaster.Send(snap.Streamer, frame)
		return
	}

	if f.Target == "" {
		r.broadcaster.Broadcast(snap.Viewers, frame, "")
		return
	}
	for _, v := range snap.Viewers {
		if v.ID() == f.Target {
			r.broadcaster.Send(v, frame)
			return
		}
	}
	r.replyError(peer, apperrors.NewNotFoundError("viewer"))
}

func (r *Router) postComment(ctx context.Context, peer ports.Peer, f CommentFrame) {
	text := utils.SanitizeString(f.Text)
	if err := validation.ValidateCommentText(text); err != nil {
		r.replyError(peer, apperrors.NewInvalidInputError(err.Error()))
		return
	}
	m, ok := r.registry.Membership(peer.ID())
	if !ok || (f.RoomID != "" && f.RoomID != m.RoomID) {
		r.replyError(peer, domain.ErrNotInRoom)
		return
	}

	var authorName string
	if id := peer.Identity(); id != nil {
		authorName = id.Username
	}
	var except domain.ConnID
	if !r.cfg.EchoComments {
		except = peer.ID()
	}

	// Publishing inside deliver keeps comment events in log order.
	_, err := r.registry.PostComment(ctx, peer.ID(), authorName, text,
		func(c domain.Comment, streamer ports.Peer, viewers []ports.Peer) {
			recipients := append([]ports.Peer{streamer}, viewers...)
			r.broadcaster.Broadcast(recipients, encode(newCommentMessage(c)), except)
			r.publish(ctx, domain.RoomEvent{Type: domain.EventCommentPosted, RoomID: c.RoomID, ConnID: peer.ID(), Comment: &c})
		},
	)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPersistenceFailure):
		r.metrics.CommentPersistFailed()
		r.logger.Warnw("comment delivered but not persisted", "room_id", m.RoomID, "conn_id", peer.ID(), "error", err)
		r.replyError(peer, err)
	default:
		r.replyError(peer, err)
	}
}

func (r *Router) relayStreamData(peer ports.Peer, f StreamDataFrame) {
	snap, err := r.registry.Snapshot(peer.ID())
	if err != nil || snap.Membership.Role != domain.RoleStreamer {
		r.metrics.FrameRejected("stream_data_not_streamer")
		r.logger.Warnw("dropping stream data from non-streamer", "conn_id", peer.ID(), "bytes", len(f.Data))
		return
	}
	r.broadcaster.BroadcastBinary(snap.Viewers, f.Data)
}

func (r *Router) canStream(peer ports.Peer) bool {
	id := peer.Identity()
	return id == nil || id.Role.CanStream()
}

func (r *Router) replyError(peer ports.Peer, err error) {
	appErr := apperrors.FromDomain(err)
	r.broadcaster.SendMessage(peer, errorMessage{
		Type:    TypeError,
		Code:    string(appErr.Code),
		Message: appErr.Message,
	})
}

// publish hands event to the publisher on the calling goroutine, so events
// reach it in the order the router produced them. The publisher must not
// block; distributed.BatchedPublisher only queues.
func (r *Router) publish(ctx context.Context, event domain.RoomEvent) {
	if r.events == nil {
		return
	}
	event.InstanceID = r.cfg.InstanceID
	event.Timestamp = time.Now()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()
	if err := r.events.PublishRoomEvent(ctx, event); err != nil {
		r.logger.Warnw("failed to publish room event", "event", event.Type, "room_id", event.RoomID, "error", err)
	}
}
