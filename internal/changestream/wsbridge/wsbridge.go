// Package wsbridge exposes C10's change stream over a websocket
// connection for a UI rerender loop: a broadcast bridge where many
// concurrent UI connections each get their own Consumer and their own
// write-serializing goroutine, with a ping/pong keepalive.
package wsbridge

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avandenbos/sonos-reactive/internal/changestream"
	"github.com/avandenbos/sonos-reactive/internal/logging"
	"github.com/avandenbos/sonos-reactive/internal/model"
)

var log = logging.For("wsbridge")

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireEvent is the JSON shape sent to the UI for each ChangeEvent.
type wireEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	Kind         string    `json:"kind"`
	Speaker      string    `json:"speaker,omitempty"`
	Service      string    `json:"service,omitempty"`
	PropertyName string    `json:"property_name,omitempty"`
	Rerender     struct {
		RequiresRerender bool   `json:"requires_rerender"`
		Scope            string `json:"scope"`
		ScopeID          string `json:"scope_id,omitempty"`
		Description      string `json:"description,omitempty"`
	} `json:"rerender"`
}

func toWire(evt model.ChangeEvent) wireEvent {
	w := wireEvent{
		Timestamp:    evt.Timestamp,
		Kind:         string(evt.Kind),
		Speaker:      string(evt.Speaker),
		Service:      string(evt.Service),
		PropertyName: string(evt.PropertyName),
	}
	w.Rerender.RequiresRerender = evt.Rerender.RequiresRerender
	w.Rerender.Scope = string(evt.Rerender.Scope)
	w.Rerender.ScopeID = evt.Rerender.ScopeID
	w.Rerender.Description = evt.Rerender.Description
	return w
}

// Handler upgrades incoming HTTP connections to websockets and streams
// filtered ChangeEvents to each one until it disconnects.
type Handler struct {
	stream        *changestream.Stream
	queueCapacity int
	policy        changestream.OverflowPolicy
}

// NewHandler builds a Handler over the given Stream.
func NewHandler(stream *changestream.Stream, queueCapacity int, policy changestream.OverflowPolicy) *Handler {
	return &Handler{stream: stream, queueCapacity: queueCapacity, policy: policy}
}

// ServeHTTP upgrades the connection and bridges the change stream to it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	consumer := h.stream.Subscribe(changestream.ChangeFilter{}, h.queueCapacity, h.policy)
	stopPing := make(chan struct{})

	go h.pingLoop(conn, stopPing)
	h.writeLoop(conn, consumer)

	close(stopPing)
	h.stream.Unsubscribe(consumer)
	conn.Close()
}

// writeLoop is the connection's single writer of data frames: gorilla's
// Conn allows only one concurrent writer, so every JSON frame is written
// from this goroutine. pingLoop's pings go through WriteControl, which
// gorilla allows concurrently with the other write methods.
func (h *Handler) writeLoop(conn *websocket.Conn, consumer *changestream.Consumer) {
	for evt := range consumer.Events() {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(toWire(evt)); err != nil {
			log.Warnf("websocket write failed: %v", err)
			return
		}
	}
}

func (h *Handler) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
