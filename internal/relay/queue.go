package relay

import (
	"errors"

	"github.com/gorilla/websocket"
)

// ErrPendingOverflow is returned when more frames arrive before upstream is
// ready than the configured limit allows.
var ErrPendingOverflow = errors.New("pending frame limit exceeded")

// Frame is one WebSocket message with its framing preserved.
type Frame struct {
	Type int // websocket.TextMessage or websocket.BinaryMessage
	Data []byte
}

func (f Frame) kind() string {
	if f.Type == websocket.TextMessage {
		return "text"
	}
	return "binary"
}

// pendingQueue holds client frames in arrival order until upstream opens.
// A max of 0 means unbounded.
type pendingQueue struct {
	frames []Frame
	max    int
}

func newPendingQueue(max int) *pendingQueue {
	return &pendingQueue{max: max}
}

func (q *pendingQueue) push(f Frame) error {
	if q.max > 0 && len(q.frames) >= q.max {
		return ErrPendingOverflow
	}
	q.frames = append(q.frames, f)
	return nil
}

// drain returns every queued frame in FIFO order and empties the queue.
func (q *pendingQueue) drain() []Frame {
	out := q.frames
	q.frames = nil
	return out
}

func (q *pendingQueue) reset() { q.frames = nil }

func (q *pendingQueue) len() int { return len(q.frames) }
