package core

// Frame is one encoded signaling message.
type Frame []byte

type SessionID string

// SignalConnection abstracts the messaging transport of one session.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the orchestrator.
type PublishResult struct {
	SentTo  int
	Dropped []SessionID
}
