package ports

import (
	"context"

	"roomrelay/internal/core/domain"
)

// Peer is the core's non-owning handle on an accepted connection. Sends
// never block: a false return means the frame was dropped and the peer
// has been scheduled for teardown.
type Peer interface {
	ID() domain.ConnID
	// Identity is nil for anonymous connections.
	Identity() *domain.Identity
	Send(frame []byte) bool
	SendBinary(data []byte) bool
	Close(reason string)
}

// FrameHandler receives connection lifecycle and inbound frames from the
// transport.
type FrameHandler interface {
	HandleConnect(ctx context.Context, peer Peer)
	HandleFrame(ctx context.Context, peer Peer, binary bool, data []byte)
	HandleDisconnect(ctx context.Context, peer Peer)
}
