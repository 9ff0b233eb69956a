package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// event is the JSON frame shape republished to connected dashboard
// clients.
type event struct {
	Type           string  `json:"type"`
	CacheTotal     float64 `json:"cache_total,omitempty"`
	SegmentOrder   int     `json:"segment_order,omitempty"`
}

// Bridge republishes CacheTotal and segment-transition events as JSON
// frames to any number of connected websocket clients. It is entirely
// optional: a Scheduler with no Bridge attached behaves identically.
type Bridge struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewBridge returns an empty Bridge.
func NewBridge() *Bridge {
	return &Bridge{conns: map[*websocket.Conn]struct{}{}}
}

// Add registers a connection to receive future events. Call this from
// an http.Handler after upgrading the connection.
func (b *Bridge) Add(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[conn] = struct{}{}
}

// Remove unregisters and does not close conn (the caller owns the
// connection lifecycle).
func (b *Bridge) Remove(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, conn)
}

// PublishCacheTotal broadcasts a CacheTotal event to every connected
// client, dropping any connection that fails to write.
func (b *Bridge) PublishCacheTotal(fraction float64) {
	b.broadcast(event{Type: "cache_total", CacheTotal: fraction})
}

// PublishSegmentTransition broadcasts a segment-transition event.
func (b *Bridge) PublishSegmentTransition(order int) {
	b.broadcast(event{Type: "segment_transition", SegmentOrder: order})
}

func (b *Bridge) broadcast(e event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for conn := range b.conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			delete(b.conns, conn)
		}
	}
}

// String satisfies fmt.Stringer for debug logging.
func (b *Bridge) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("telemetry.Bridge{connections=%d}", len(b.conns))
}
