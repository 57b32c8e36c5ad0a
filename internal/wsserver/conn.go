package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Aeonia-ai/gaia-sub001/internal/auth"
	"github.com/Aeonia-ai/gaia-sub001/internal/bus"
	"github.com/Aeonia-ai/gaia-sub001/internal/dispatch"
	"github.com/Aeonia-ai/gaia-sub001/internal/domain"
	"github.com/Aeonia-ai/gaia-sub001/internal/interpreter"
	"github.com/Aeonia-ai/gaia-sub001/internal/logger"
)

// connection is one accepted WebSocket, its subscription to the per-user
// delta subject, and the goroutines driving its read and fan-out loops
// (spec §4.7). Grounded on _examples/AltairaLabs-PromptKit/runtime/providers/internal/streaming/conn.go's Conn: a
// writeMu serializing writes (gorilla/websocket allows only one writer at
// a time), a write deadline set before every write, and a closeCh used to
// signal cooperative shutdown to both loops — adapted here from
// client-dial to server-accept.
type connection struct {
	id         string
	experience string
	identity   auth.Identity

	srv  *Server
	conn *websocket.Conn
	log  *slog.Logger

	writeMu   sync.Mutex
	closeCh   chan struct{}
	closeOnce sync.Once
	reason    string

	sub *bus.Subscription

	outbound chan []byte

	limiter *rate.Limiter

	openedAt  time.Time
	lastActiv atomic.Int64 // unix nanos, read by the eviction sweep
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	token, experience, err := parseConnectQuery(r)
	if err != nil {
		writeUpgradeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("wsserver: upgrade failed", "error", err)
		return
	}
	wsConn.SetReadLimit(s.maxMessageSize)

	identity, err := s.verifier.Authenticate(r.Context(), token)
	if err != nil {
		closeWithCode(wsConn, s.writeWait, websocket.ClosePolicyViolation, "unauthenticated")
		_ = wsConn.Close()
		return
	}

	c := &connection{
		id:         uuid.NewString(),
		experience: experience,
		identity:   identity,
		srv:        s,
		conn:       wsConn,
		closeCh:    make(chan struct{}),
		outbound:   make(chan []byte, s.outboundBuffer),
		limiter:    rate.NewLimiter(rate.Limit(s.rateLimit), s.rateBurst),
		openedAt:   s.now(),
	}
	c.log = s.log.With(
		"connection_id", c.id,
		"experience", experience,
		"user_id", identity.UserID,
	)
	c.touch()

	c.sub = s.eventBus.Subscribe(bus.UserSubject(identity.UserID))

	s.register(c)
	defer func() { s.unregister(c, c.closeReason()) }()

	ctx := logger.WithFields(r.Context(), logger.Fields{
		ConnectionID: c.id,
		Experience:   experience,
		UserID:       identity.UserID,
	})

	if !c.sendJSON(connectedMessage{
		Type:         "connected",
		ConnectionID: c.id,
		UserID:       identity.UserID,
		Experience:   experience,
	}) {
		c.shutdown("write_error")
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.fanoutLoop() }()
	go func() { defer wg.Done(); c.writerLoop() }()

	c.readLoop(ctx)
	c.shutdown("normal")
	wg.Wait()
}

// closeWithReason closes the connection from outside its own goroutines
// (eviction sweep, server Shutdown) or from a loop that detected a fatal
// condition, sending code/reason as a ws-protocol close frame first.
func (c *connection) closeWithReason(code int, reason string) {
	closeWithCode(c.conn, c.srv.writeWait, code, reason)
	c.shutdown(reason)
}

// shutdown unblocks the fan-out/writer loops and releases the bus
// subscription. Safe to call more than once; only the first reason sticks.
func (c *connection) shutdown(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.closeCh)
		if c.sub != nil {
			c.sub.Cancel()
		}
		_ = c.conn.Close()
	})
}

// closeReason returns the reason the connection closed for, defaulting to
// "normal" if shutdown hasn't run yet.
func (c *connection) closeReason() string {
	if c.reason == "" {
		return "normal"
	}
	return c.reason
}

func (c *connection) touch() {
	c.lastActiv.Store(c.srv.now().UnixNano())
}

func (c *connection) lastActivity() time.Time {
	return time.Unix(0, c.lastActiv.Load())
}

// readLoop parses inbound frames and dispatches them by type until the
// connection closes or a fatal error occurs (spec §4.7).
func (c *connection) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()

		if err := c.limiter.Wait(ctx); err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if !c.sendJSON(newErrorMessage("invalid_json", "message is not valid JSON")) {
				return
			}
			continue
		}

		if !c.handleMessage(ctx, msg) {
			return
		}
	}
}

// handleMessage dispatches one decoded message; returns false if the
// connection must be torn down (a fatal write failure).
func (c *connection) handleMessage(ctx context.Context, msg clientMessage) bool {
	switch msg.messageType() {
	case "":
		return c.sendJSON(newErrorMessage("missing_type", "type field is required"))
	case "ping":
		return c.sendJSON(pongMessage{Type: "pong"})
	case "update_location":
		return c.handleUpdateLocation(ctx, msg)
	case "action":
		return c.handleAction(ctx, msg)
	default:
		return c.sendJSON(newErrorMessage("unknown_message_type", "unrecognized message type"))
	}
}

func (c *connection) handleUpdateLocation(ctx context.Context, msg clientMessage) bool {
	lat, latOK := msg.float64Field("lat")
	lng, lngOK := msg.float64Field("lng")
	if !latOK || !lngOK {
		return c.sendJSON(newErrorMessage("processing_error", "lat and lng are required"))
	}

	aoiResult, err := c.srv.aoiBuilder.Build(ctx, c.experience, c.identity.UserID, domain.GPS{Lat: lat, Lng: lng})
	if err != nil {
		c.log.Error("wsserver: area_of_interest build failed", "error", err)
		return c.sendJSON(newErrorMessage("processing_error", "failed to build area of interest"))
	}
	return c.sendJSON(aoiResult)
}

func (c *connection) handleAction(ctx context.Context, msg clientMessage) bool {
	action, ok := msg.stringField("action")
	if !ok || action == "" {
		return c.sendJSON(newErrorMessage("missing_action", "action field is required"))
	}

	req := msg.actionRequest(c.experience, c.identity.UserID)
	ctx = logger.WithAction(ctx, req.Action)

	start := c.srv.now()
	result, err := c.srv.dispatcher.Dispatch(ctx, req)
	if errors.Is(err, interpreter.ErrNotConfigured) {
		result, err = dispatch.Fail("not_implemented", fmt.Sprintf("no handler for action %q", req.Action)), nil
	}
	if c.srv.metrics != nil {
		status := "success"
		if err != nil || !result.Success {
			status = "error"
		}
		c.srv.metrics.RecordCommand(req.Action, status, c.srv.now().Sub(start).Seconds())
	}
	if err != nil {
		c.log.Error("wsserver: dispatch failed", "action", req.Action, "error", err)
		return c.sendJSON(newErrorMessage("processing_error", "internal error processing action"))
	}
	return c.sendJSON(newActionResponseMessage(result))
}

// fanoutLoop forwards every delta received on the bus subscription to the
// client unmodified (spec §4.7 "forward every received delta as-is").
func (c *connection) fanoutLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case evt, ok := <-c.sub.Events:
			if !ok {
				return
			}
			select {
			case c.outbound <- mustMarshal(evt.Payload):
				if c.srv.metrics != nil {
					c.srv.metrics.RecordDeltaPublished(c.experience)
				}
			default:
				// Outbound buffer full: spec §5 "no delta is ever dropped
				// silently on a live connection" means the connection ends
				// here rather than the event being swallowed.
				if c.srv.metrics != nil {
					c.srv.metrics.RecordDeltaDropped()
				}
				c.closeWithReason(websocket.CloseMessageTooBig, "backpressure")
				return
			}
		}
	}
}

// writerLoop is the single goroutine allowed to write to the underlying
// connection: it serializes outbound application frames with the
// ws-protocol ping heartbeat, mirroring _examples/AltairaLabs-PromptKit/runtime/providers/internal/streaming/conn.go's
// separation of SendRaw and sendPing under one writeMu.
func (c *connection) writerLoop() {
	ticker := time.NewTicker(c.srv.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case data, ok := <-c.outbound:
			if !ok {
				return
			}
			if err := c.writeRaw(websocket.TextMessage, data); err != nil {
				c.closeWithReason(websocket.CloseInternalServerErr, "write_error")
				return
			}
		case <-ticker.C:
			if err := c.writeRaw(websocket.PingMessage, nil); err != nil {
				c.closeWithReason(websocket.CloseInternalServerErr, "write_error")
				return
			}
		}
	}
}

func (c *connection) writeRaw(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(c.srv.now().Add(c.srv.writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// sendJSON marshals v and queues it for the writer loop; returns false on
// a fatal enqueue failure (the outbound buffer rule is enforced in
// fanoutLoop, not here — sendJSON is used for direct request/response
// traffic, which the read loop paces itself).
func (c *connection) sendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("wsserver: marshal outbound message failed", "error", err)
		return true
	}
	select {
	case c.outbound <- data:
		return true
	case <-c.closeCh:
		return false
	}
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error","code":"processing_error","message":"failed to encode delta"}`)
	}
	return data
}

// closeWithCode writes a ws-protocol close frame carrying code, best
// effort (spec §4.7/§6.1 "close with code 1008" on auth failure).
func closeWithCode(conn *websocket.Conn, writeWait time.Duration, code int, reason string) {
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
}
