package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"turtlecraft.ai/internal/protocol"
	"turtlecraft.ai/internal/turtle"
)

// Host serves one turtle body over the link protocol. Requests from all
// connections are executed one at a time.
type Host struct {
	body turtle.Body
	id   string
	log  *zap.Logger

	mu       sync.Mutex
	upgrader websocket.Upgrader
}

func NewHost(body turtle.Body, turtleID string, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		body: body,
		id:   turtleID,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (h *Host) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		session, client := h.handshake(conn)
		if session == "" {
			return
		}
		log := h.log.With(zap.String("session", session), zap.String("client", client))
		log.Info("link open")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var req protocol.RequestMsg
			base, err := protocol.Decode(msg, &req)
			if err != nil {
				log.Warn("bad request", zap.Error(err))
				_ = json.Unmarshal(msg, &req)
				if base.Type == protocol.TypeRequest && req.ID != "" {
					_ = writeJSON(conn, protocol.ErrorResponse(req.ID, protocol.ErrProtoBadRequest, err.Error()))
				}
				continue
			}
			resp := h.serve(ctx, req)
			if !resp.OK {
				log.Debug("request failed", zap.String("op", req.Op), zap.String("code", resp.Code), zap.String("message", resp.Message))
			}
			if err := writeJSON(conn, resp); err != nil {
				break
			}
		}
		log.Info("link closed")
	}
}

func (h *Host) handshake(conn *websocket.Conn) (session, client string) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", ""
	}

	var hello protocol.HelloMsg
	base, err := protocol.Decode(msg, &hello)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", ""
	}

	session = hello.Session
	if session == "" {
		session = uuid.NewString()
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		TurtleID:        h.id,
		SessionID:       session,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", ""
	}
	return session, hello.ClientName
}

func (h *Host) serve(ctx context.Context, req protocol.RequestMsg) protocol.ResponseMsg {
	h.mu.Lock()
	defer h.mu.Unlock()

	resp := protocol.OKResponse(req.ID)
	var err error
	switch {
	case protocol.IsMoveOp(req.Op):
		err = turtle.Do(ctx, h.body, turtle.Action(req.Op))
	case req.Op == protocol.OpDig:
		err = h.body.ClearObstruction(ctx, req.Dir)
	case req.Op == protocol.OpFuel:
		var f turtle.Fuel
		if f, err = h.body.FuelLevel(ctx); err == nil {
			resp.Fuel = &f
		}
	case req.Op == protocol.OpHazard:
		var hz turtle.Hazard
		if hz, err = h.body.CheckHazard(ctx, req.Dir); err == nil {
			resp.Hazard = &hz
		}
	case req.Op == protocol.OpLocate:
		if v, lerr := h.body.Locate(ctx); lerr == nil {
			resp.Pos = &[3]int{v.X, v.Y, v.Z}
		} else {
			err = lerr
		}
	default:
		return protocol.ErrorResponse(req.ID, protocol.ErrBadOp, req.Op)
	}
	if err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeFor(err), err.Error())
	}
	return resp
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
