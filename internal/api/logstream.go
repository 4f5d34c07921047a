package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
)

// logLine is the frame sent to /logs subscribers.
type logLine struct {
	Type string `json:"type"` // "info" for hub notices, "stdout" for log output
	Data string `json:"data"`
}

// LogHub is an io.Writer that fans each written log line out to WebSocket
// subscribers. It is only mounted in development.
//
// Write never blocks on a subscriber: each has a bounded buffer and lines
// are dropped for a subscriber that falls behind.
type LogHub struct {
	mu       sync.RWMutex
	subs     map[chan []byte]struct{}
	upgrader websocket.Upgrader
	bufSize  int
}

func NewLogHub() *LogHub {
	return &LogHub{
		subs: make(map[chan []byte]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		bufSize: 256,
	}
}

// Write implements io.Writer. It copies p, so callers may reuse their buffer.
func (h *LogHub) Write(p []byte) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.subs) == 0 {
		return len(p), nil
	}

	frame, err := json.Marshal(logLine{Type: "stdout", Data: string(p)})
	if err != nil {
		return len(p), nil
	}
	for ch := range h.subs {
		select {
		case ch <- frame:
		default:
		}
	}
	return len(p), nil
}

// Subscribe registers a listener and returns its channel and a cancel func.
func (h *LogHub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, h.bufSize)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

// SubscriberCount reports the number of connected log viewers.
func (h *LogHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP upgrades to a WebSocket and streams log lines until the viewer leaves.
func (h *LogHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("log stream upgrade failed")
		return
	}
	defer conn.Close()

	ch, cancel := h.Subscribe()
	defer cancel()

	hello, _ := json.Marshal(logLine{Type: "info", Data: "Connected to log stream"})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return
	}

	// Viewers never send anything meaningful; reading detects disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case frame := <-ch:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}
