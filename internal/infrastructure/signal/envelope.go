package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"roomrelay/internal/core/domain"
)

type FrameType string

// Inbound frame types.
const (
	TypeCreateRoom FrameType = "create-room"
	TypeJoinRoom   FrameType = "join-room"
	TypeLeave      FrameType = "leave"
	TypeOffer      FrameType = "offer"
	TypeAnswer     FrameType = "answer"
	TypeCandidate  FrameType = "candidate"
	TypeComment    FrameType = "comment"
	TypeStreamData FrameType = "stream-data"
	TypePing       FrameType = "ping"
	TypePong       FrameType = "pong"
)

// Outbound frame types.
const (
	TypeRoomCreated FrameType = "room-created"
	TypeRoomJoined  FrameType = "room-joined"
	TypeNoStream    FrameType = "no-stream"
	TypeComments    FrameType = "comments"
	TypeRoomClosed  FrameType = "room-closed"
	TypeDisplaced   FrameType = "displaced"
	TypeLeft        FrameType = "left"
	TypeError       FrameType = "error"
)

var (
	ErrDecode      = errors.New("malformed frame")
	ErrUnknownType = errors.New("unknown type")
)

// Frame is the closed set of inbound messages. Only types in this file
// implement it.
type Frame interface {
	Type() FrameType
}

type CreateRoomFrame struct {
	RoomID domain.RoomID
}

type JoinRoomFrame struct {
	RoomID domain.RoomID
	Role   domain.Role
}

type LeaveFrame struct{}

// SignalFrame carries opaque session negotiation data. Kind is one of
// offer, answer or candidate.
type SignalFrame struct {
	Kind    FrameType
	RoomID  domain.RoomID
	Target  domain.ConnID
	Payload json.RawMessage
}

type CommentFrame struct {
	RoomID domain.RoomID
	Text   string
}

type StreamDataFrame struct {
	Data []byte
}

type PingFrame struct{}

type PongFrame struct{}

func (CreateRoomFrame) Type() FrameType { return TypeCreateRoom }
func (JoinRoomFrame) Type() FrameType   { return TypeJoinRoom }
func (LeaveFrame) Type() FrameType      { return TypeLeave }
func (f SignalFrame) Type() FrameType   { return f.Kind }
func (CommentFrame) Type() FrameType    { return TypeComment }
func (StreamDataFrame) Type() FrameType { return TypeStreamData }
func (PingFrame) Type() FrameType       { return TypePing }
func (PongFrame) Type() FrameType       { return TypePong }

// envelope is the JSON shape of every inbound text frame.
type envelope struct {
	Type    FrameType       `json:"type"`
	RoomID  domain.RoomID   `json:"roomId,omitempty"`
	Role    string          `json:"role,omitempty"`
	Text    string          `json:"text,omitempty"`
	Comment string          `json:"comment,omitempty"`
	Target  domain.ConnID   `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeFrame decodes one inbound transport frame. Binary frames are
// always stream data and are not parsed.
func DecodeFrame(binary bool, data []byte) (Frame, error) {
	if binary {
		return StreamDataFrame{Data: data}, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: type is required", ErrDecode)
	}

	switch env.Type {
	case TypeCreateRoom:
		return CreateRoomFrame{RoomID: env.RoomID}, nil
	case TypeJoinRoom:
		if env.RoomID == "" {
			return nil, fmt.Errorf("%w: roomId is required", ErrDecode)
		}
		return JoinRoomFrame{RoomID: env.RoomID, Role: domain.ParseRole(env.Role)}, nil
	case TypeLeave:
		return LeaveFrame{}, nil
	case TypeOffer, TypeAnswer, TypeCandidate:
		return SignalFrame{Kind: env.Type, RoomID: env.RoomID, Target: env.Target, Payload: env.Payload}, nil
	case TypeComment:
		text, err := commentText(env)
		if err != nil {
			return nil, err
		}
		return CommentFrame{RoomID: env.RoomID, Text: text}, nil
	case TypePing:
		return PingFrame{}, nil
	case TypePong:
		return PongFrame{}, nil
	default:
		return nil, ErrUnknownType
	}
}

func commentText(env envelope) (string, error) {
	text := env.Text
	if text == "" {
		text = env.Comment
	}
	if text == "" && len(env.Payload) > 0 {
		var p struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return "", fmt.Errorf("%w: invalid comment payload: %v", ErrDecode, err)
		}
		text = p.Text
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: comment text is required", ErrDecode)
	}
	return text, nil
}

// Outbound messages.

type roomCreatedMessage struct {
	Type   FrameType     `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

type roomJoinedMessage struct {
	Type    FrameType     `json:"type"`
	Success bool          `json:"success"`
	RoomID  domain.RoomID `json:"roomId"`
	Role    domain.Role   `json:"role"`
	ConnID  domain.ConnID `json:"connId"`
}

type noticeMessage struct {
	Type    FrameType     `json:"type"`
	RoomID  domain.RoomID `json:"roomId,omitempty"`
	Message string        `json:"message,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

type commentsMessage struct {
	Type     FrameType        `json:"type"`
	RoomID   domain.RoomID    `json:"roomId"`
	Comments []domain.Comment `json:"comments"`
}

type commentMessage struct {
	Type       FrameType     `json:"type"`
	RoomID     domain.RoomID `json:"roomId"`
	ID         string        `json:"id"`
	Author     domain.ConnID `json:"author"`
	AuthorName string        `json:"authorName,omitempty"`
	Text       string        `json:"text"`
	Timestamp  time.Time     `json:"timestamp"`
}

type signalMessage struct {
	Type    FrameType       `json:"type"`
	RoomID  domain.RoomID   `json:"roomId"`
	From    domain.ConnID   `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type errorMessage struct {
	Type    FrameType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

type pongMessage struct {
	Type FrameType `json:"type"`
}

func newCommentsMessage(roomID domain.RoomID, comments []domain.Comment) commentsMessage {
	if comments == nil {
		comments = []domain.Comment{}
	}
	return commentsMessage{Type: TypeComments, RoomID: roomID, Comments: comments}
}

func newCommentMessage(c domain.Comment) commentMessage {
	return commentMessage{
		Type:       TypeComment,
		RoomID:     c.RoomID,
		ID:         c.ID,
		Author:     c.Author,
		AuthorName: c.AuthorName,
		Text:       c.Text,
		Timestamp:  c.Timestamp,
	}
}

// encode marshals an outbound message. Every outbound type is a plain
// struct, so a failure here is a programming error.
func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("signal: encode %T: %v", v, err))
	}
	return data
}

// historyFrame is a comments frame encoded before a join, outside the
// registry's critical section. The comment log only grows, so the frame is
// still exact if the log seen at join time has the same length and last id.
type historyFrame struct {
	roomID domain.RoomID
	count  int
	lastID string
	frame  []byte
}

func encodeHistory(roomID domain.RoomID, comments []domain.Comment) historyFrame {
	return historyFrame{
		roomID: roomID,
		count:  len(comments),
		lastID: lastCommentID(comments),
		frame:  encode(newCommentsMessage(roomID, comments)),
	}
}

// frameFor returns the encoded frame for history, encoding again only when
// comments arrived after encodeHistory ran.
func (h historyFrame) frameFor(history []domain.Comment) []byte {
	if h.frame != nil && len(history) == h.count && lastCommentID(history) == h.lastID {
		return h.frame
	}
	return encode(newCommentsMessage(h.roomID, history))
}

func lastCommentID(comments []domain.Comment) string {
	if len(comments) == 0 {
		return ""
	}
	return comments[len(comments)-1].ID
}
