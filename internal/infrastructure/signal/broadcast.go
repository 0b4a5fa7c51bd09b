package signal

import (
	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"

	"go.uber.org/zap"
)

// Broadcaster fans frames out to peers. It never blocks on a peer: each
// Peer owns a bounded queue and schedules its own teardown when a send
// does not fit, so one slow recipient cannot hold up the rest.
type Broadcaster struct {
	metrics Metrics
	logger  *zap.SugaredLogger
}

func NewBroadcaster(metrics Metrics, logger *zap.SugaredLogger) *Broadcaster {
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &Broadcaster{metrics: metrics, logger: logger}
}

// Send queues one encoded text frame for peer.
func (b *Broadcaster) Send(peer ports.Peer, frame []byte) bool {
	if peer == nil {
		return false
	}
	if !peer.Send(frame) {
		b.metrics.SendDropped()
		b.logger.Debugw("send dropped", "conn_id", peer.ID())
		return false
	}
	return true
}

// SendMessage encodes msg and queues it for peer.
func (b *Broadcaster) SendMessage(peer ports.Peer, msg any) bool {
	return b.Send(peer, encode(msg))
}

// Broadcast queues frame for every peer except the one with id except and
// returns the number of peers it reached.
func (b *Broadcaster) Broadcast(peers []ports.Peer, frame []byte, except domain.ConnID) int {
	sent := 0
	for _, p := range peers {
		if p == nil || (except != "" && p.ID() == except) {
			continue
		}
		if b.Send(p, frame) {
			sent++
		}
	}
	return sent
}

// BroadcastBinary relays data unchanged as binary frames.
func (b *Broadcaster) BroadcastBinary(peers []ports.Peer, data []byte) int {
	sent := 0
	for _, p := range peers {
		if p == nil {
			continue
		}
		if !p.SendBinary(data) {
			b.metrics.SendDropped()
			continue
		}
		sent++
	}
	return sent
}
