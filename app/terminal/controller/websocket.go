package controller

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/decision-zk/decisiond/pkg/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, restrict to specific origins
		return true
	},
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`    // "vote_updated", "tx.status", "ping", "error"
	Payload interface{} `json:"payload"` // Event-specific data
}

// HandleWebSocket upgrades the connection and streams store change events:
// vote/unlock writes as "vote_updated", history transitions as "tx.status".
// Events from other instances arrive through the same subscription; the
// store re-emits what Redis fans out.
//
// All goroutines have panic recovery to prevent crashes.
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func(conn *websocket.Conn) {
		if err := conn.Close(); err != nil {
			c.App.Logger.Error("Failed to close WebSocket connection", zap.Error(err))
		}
	}(conn)

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// A session scopes the stream to its own address; without one the
	// client sees every event.
	address := c.sessionAddressFromRequest(r)

	send := make(chan ServerMessage, 256)
	events, unsubscribe := c.App.Store.Subscribe()
	defer unsubscribe()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverWS(cancel, r.RemoteAddr, "event forwarder")
		c.forwardEvents(ctx, events, send, address)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverWS(cancel, r.RemoteAddr, "ping ticker")
		c.sendPings(ctx, send)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverWS(cancel, r.RemoteAddr, "message writer")
		c.writeMessages(conn, send)
	}()

	// Read until the client goes away; incoming frames are ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	close(send)
	wg.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

func (c *Controller) recoverWS(cancel context.CancelFunc, remoteAddr, what string) {
	if rec := recover(); rec != nil {
		c.App.Logger.Error("Panic in WebSocket goroutine",
			zap.String("goroutine", what),
			zap.Any("panic", rec),
			zap.String("stack", string(debug.Stack())),
			zap.String("remote_addr", remoteAddr))
		cancel()
	}
}

// forwardEvents translates store events into server messages.
func (c *Controller) forwardEvents(ctx context.Context, events <-chan store.Event, send chan<- ServerMessage, address string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if address != "" && ev.Address != address {
				continue
			}

			msgType := "vote_updated"
			if ev.Kind == store.EventHistory {
				msgType = "tx.status"
			}
			msg := ServerMessage{
				Type: msgType,
				Payload: map[string]interface{}{
					"kind":    string(ev.Kind),
					"address": ev.Address,
					"key":     ev.Key,
				},
			}

			select {
			case send <- msg:
			case <-ctx.Done():
				return
			default:
				// Slow client: drop rather than block every other consumer.
			}
		}
	}
}

// sendPings keeps the connection alive.
func (c *Controller) sendPings(ctx context.Context, send chan<- ServerMessage) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := ServerMessage{
				Type:    "ping",
				Payload: map[string]interface{}{"timestamp": time.Now().Unix()},
			}
			select {
			case send <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// writeMessages drains the send channel onto the wire. Exits when the
// channel closes or a write fails.
func (c *Controller) writeMessages(conn *websocket.Conn, send <-chan ServerMessage) {
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			c.App.Logger.Debug("WebSocket write failed", zap.Error(err))
			return
		}
	}
}
