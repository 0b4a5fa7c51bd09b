package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"roomrelay/internal/core/domain"

	"github.com/gorilla/websocket"
)

const sessionWriteTimeout = 10 * time.Second

// Message is one decoded text frame from the server. Fields not used by
// a given type are left empty; Raw holds the full frame.
type Message struct {
	Type       string           `json:"type"`
	RoomID     domain.RoomID    `json:"roomId"`
	Role       domain.Role      `json:"role"`
	ConnID     domain.ConnID    `json:"connId"`
	Success    bool             `json:"success"`
	From       domain.ConnID    `json:"from"`
	Author     domain.ConnID    `json:"author"`
	AuthorName string           `json:"authorName"`
	Text       string           `json:"text"`
	Comments   []domain.Comment `json:"comments"`
	Reason     string           `json:"reason"`
	Code       string           `json:"code"`
	Message    string           `json:"message"`
	Payload    json.RawMessage  `json:"payload"`

	Raw []byte `json:"-"`
}

// Session is one websocket connection to the relay. Reads must come from a
// single goroutine; writes are serialized internally.
type Session struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// DialOptions binds the connection at accept time when RoomID is set.
type DialOptions struct {
	RoomID domain.RoomID
	Role   domain.Role
}

// Dial opens a relay session against the server's /ws endpoint.
func (c *Client) Dial(ctx context.Context, opts DialOptions) (*Session, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	q := url.Values{}
	if c.token != "" {
		q.Set("token", c.token)
	}
	if opts.RoomID != "" {
		q.Set("roomId", string(opts.RoomID))
		if opts.Role != "" {
			q.Set("role", string(opts.Role))
		}
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return &Session{conn: conn}, nil
}

func (s *Session) CreateRoom(roomID domain.RoomID) error {
	return s.send(map[string]any{"type": "create-room", "roomId": roomID})
}

func (s *Session) Join(roomID domain.RoomID, role domain.Role) error {
	return s.send(map[string]any{"type": "join-room", "roomId": roomID, "role": role})
}

func (s *Session) Leave() error {
	return s.send(map[string]any{"type": "leave"})
}

func (s *Session) Comment(roomID domain.RoomID, text string) error {
	return s.send(map[string]any{"type": "comment", "roomId": roomID, "text": text})
}

// Signal relays negotiation data. kind is offer, answer or candidate; an
// empty target addresses the streamer (from a viewer) or every viewer.
func (s *Session) Signal(kind string, roomID domain.RoomID, target domain.ConnID, payload json.RawMessage) error {
	msg := map[string]any{"type": kind, "roomId": roomID, "payload": payload}
	if target != "" {
		msg["target"] = target
	}
	return s.send(msg)
}

// StreamData sends an opaque media chunk as a binary frame.
func (s *Session) StreamData(data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(sessionWriteTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *Session) send(v any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(sessionWriteTimeout))
	return s.conn.WriteJSON(v)
}

// Next blocks for the next frame. Binary frames come back with Type
// "stream-data" and the chunk in Raw.
func (s *Session) Next() (Message, error) {
	kind, data, err := s.conn.ReadMessage()
	if err != nil {
		return Message{}, err
	}
	if kind == websocket.BinaryMessage {
		return Message{Type: "stream-data", Raw: data}, nil
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	msg.Raw = data
	return msg, nil
}

// SetReadDeadline bounds the next calls to Next.
func (s *Session) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

func (s *Session) Close() error {
	s.wmu.Lock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.wmu.Unlock()
	return s.conn.Close()
}
