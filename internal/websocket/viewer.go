package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Message types viewers may send
const (
	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

// Message is a control message exchanged with a viewer
type Message struct {
	Type string `json:"type"`
}

var pongPayload, _ = json.Marshal(Message{Type: MessageTypePong})

var viewerIDCounter atomic.Uint64

// Viewer is one connected dashboard. Frames are queued on send and written by
// the write pump; send is never closed, done signals shutdown instead.
type Viewer struct {
	id       uint64
	conn     *websocket.Conn
	registry *Registry
	send     chan []byte
	done     chan struct{}

	ready     atomic.Bool
	closeOnce sync.Once
}

func newViewer(conn *websocket.Conn, buffer int) *Viewer {
	if buffer < 1 {
		buffer = 1
	}
	return &Viewer{
		id:   viewerIDCounter.Add(1),
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// ID returns the viewer's unique identifier
func (v *Viewer) ID() uint64 {
	return v.id
}

// Done is closed once the viewer has been shut down
func (v *Viewer) Done() <-chan struct{} {
	return v.done
}

// enqueue offers a payload without blocking; it reports false when the viewer
// is not ready or its buffer is full
func (v *Viewer) enqueue(payload []byte) bool {
	if !v.ready.Load() {
		return false
	}
	select {
	case v.send <- payload:
		return true
	default:
		return false
	}
}

func (v *Viewer) close() {
	v.closeOnce.Do(func() {
		v.ready.Store(false)
		close(v.done)
		if v.conn == nil {
			return
		}
		deadline := time.Now().Add(writeWait)
		_ = v.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
		_ = v.conn.Close()
	})
}

func (v *Viewer) start() {
	go v.writePump()
	go v.readPump()
}

// readPump answers ping messages and detects disconnects
func (v *Viewer) readPump() {
	defer v.registry.Remove(v)

	v.conn.SetReadLimit(maxMessageSize)
	if err := v.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				v.registry.logger.WithError(err).WithField("viewer_id", v.id).Debug("Unexpected websocket close")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == MessageTypePing {
			select {
			case v.send <- pongPayload:
			default:
			}
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings
func (v *Viewer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.registry.Remove(v)
	}()

	for {
		select {
		case <-v.done:
			return

		case payload := <-v.send:
			if err := v.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			if err := v.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
