package signal

// Metrics receives relay counters. monitoring.PrometheusCollector
// implements it for production.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	SetRooms(n int)
	FrameReceived(frameType string)
	FrameRejected(reason string)
	SendDropped()
	CommentPersistFailed()
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened()     {}
func (noopMetrics) ConnectionClosed()     {}
func (noopMetrics) SetRooms(int)          {}
func (noopMetrics) FrameReceived(string)  {}
func (noopMetrics) FrameRejected(string)  {}
func (noopMetrics) SendDropped()          {}
func (noopMetrics) CommentPersistFailed() {}

// NoopMetrics discards everything.
func NoopMetrics() Metrics { return noopMetrics{} }
