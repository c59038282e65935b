// Package transport implements the WebSocket edge of the Connection Set
// (spec §2.5/§4.3): upgrading HTTP connections, running the read/write
// pumps, and decoding/encoding wire frames. Grounded on the teacher's
// internal/streaming/chat_stream_hub.go (ChatSubscriber's sendLoop,
// heartbeat ticker, write-deadline discipline) and
// internal/proxy/chat_stream_handler.go (the upgrade handshake), with
// gin swapped for go-chi/chi/v5 per the dropped-dependency note in
// DESIGN.md and the read loop now decoding frames instead of discarding
// them, since this module's client frames arrive over the same socket
// rather than a separate REST surface.
package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eternisai/chatcore/internal/connset"
	"github.com/eternisai/chatcore/internal/logger"
	"github.com/eternisai/chatcore/internal/session"
	"github.com/eternisai/chatcore/internal/toolcatalog"
	"github.com/eternisai/chatcore/internal/wire"
)

const (
	readDeadline    = 90 * time.Second
	writeDeadline   = 10 * time.Second
	heartbeatPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Resolver maps an inbound request to the session name it should
// attach to (e.g. a chi URL param). Authentication/ownership checks are
// an out-of-scope collaborator per spec §1's Non-goals.
type Resolver func(r *http.Request) (sessionName string, ok bool)

// SessionLookup returns the Controller for name, constructing one if
// this is the first connection to see it (§2: "singleton-per-name").
type SessionLookup func(name string) *session.Controller

// Serve returns an http.HandlerFunc that upgrades the connection,
// attaches it to the resolved session's Connection Set, advertises the
// tool catalog, and runs the read/write pumps until the socket closes.
func Serve(resolve Resolver, lookup SessionLookup, catalog *toolcatalog.Catalog, lg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := resolve(r)
		if !ok {
			http.Error(w, "unknown session", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			lg.LogError(r.Context(), err, "websocket upgrade failed")
			return
		}

		controller := lookup(name)
		connID := connIDFromRequest(r)
		c := connset.NewConnection(connID, 64)
		controller.AttachConnection(c)
		c.Send(wire.NewToolCatalog(catalog.Tools()))

		ctx := logger.WithSessionName(r.Context(), name)
		ctx = logger.WithConnectionID(ctx, connID)

		done := make(chan struct{})
		go writePump(conn, c, lg.WithContext(ctx), done)
		readPump(conn, c, controller, lg.WithContext(ctx))
		close(done)

		controller.DetachConnection(connID)
		conn.Close()
	}
}

func connIDFromRequest(r *http.Request) string {
	if id := r.URL.Query().Get("connection_id"); id != "" {
		return id
	}
	return logger.GenerateRequestID()
}

// readPump decodes inbound JSON frames and dispatches them to the
// controller until the socket errors or closes, mirroring the teacher's
// blocking ReadMessage loop but acting on the payload instead of
// discarding it.
func readPump(conn *websocket.Conn, c *connset.Connection, controller *session.Controller, lg *logger.Logger) {
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				lg.Warn("websocket read error", slog.String("error", err.Error()))
			}
			return
		}
		var frame wire.Inbound
		if err := json.Unmarshal(data, &frame); err != nil {
			// Transport parse errors are ignored silently, logged once (§7).
			lg.Warn("dropping malformed inbound frame", slog.String("error", err.Error()))
			continue
		}
		controller.Dispatch(c.Context(), c, frame)
	}
}

// writePump drains c.Out to the socket and sends periodic heartbeats,
// grounded on sendLoop's select-over-sendCh/heartbeatTicker/ctx.Done
// shape.
func writePump(conn *websocket.Conn, c *connset.Connection, lg *logger.Logger, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.Out:
			if !ok {
				return
			}
			if err := writeFrame(conn, frame); err != nil {
				lg.LogError(c.Context(), err, "failed to write frame")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				lg.LogError(c.Context(), err, "failed to send heartbeat ping")
				return
			}
		case <-c.Context().Done():
			return
		case <-done:
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, frame wire.Outbound) error {
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	body, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, body)
}
