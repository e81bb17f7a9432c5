// Package observer serves the navigator's status to local watchers, as a
// one-shot JSON document or a websocket feed.
package observer

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"turtlecraft.ai/internal/nav/navigator"
	"turtlecraft.ai/internal/observerproto"
)

type StatsSource interface {
	Stats(ctx context.Context) navigator.Stats
}

type Server struct {
	src StatsSource
	log *zap.Logger

	upgrader websocket.Upgrader
	seq      atomic.Uint64
}

func NewServer(src StatsSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		src: src,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) status(ctx context.Context) observerproto.StatusMsg {
	return observerproto.StatusMsg{
		Type:            observerproto.TypeStatus,
		ProtocolVersion: observerproto.Version,
		Seq:             s.seq.Add(1),
		Stats:           s.src.Stats(ctx),
	}
}

func (s *Server) StatusHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.status(r.Context()))
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		sub, ok := readSubscribe(conn)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}
		s.log.Debug("watcher subscribed", zap.String("remote", r.RemoteAddr), zap.Int("interval_ms", sub.IntervalMs))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		intervals := make(chan time.Duration, 1)
		intervals <- time.Duration(sub.IntervalMs) * time.Millisecond

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			var ticker *time.Ticker
			defer func() {
				if ticker != nil {
					ticker.Stop()
				}
			}()
			var tick <-chan time.Time
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case d := <-intervals:
					if ticker != nil {
						ticker.Stop()
					}
					ticker = time.NewTicker(d)
					tick = ticker.C
				case <-tick:
				}
				b, err := json.Marshal(s.status(ctx))
				if err != nil {
					writeErr <- err
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			sub, ok := readSubscribe(conn)
			if !ok {
				break
			}
			select {
			case intervals <- time.Duration(sub.IntervalMs) * time.Millisecond:
			default:
				// An update is already pending; the client may resend.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// readSubscribe reads one message; ok is false on a read error or when the
// message is not a SUBSCRIBE of this version.
func readSubscribe(conn *websocket.Conn) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return sub, false
	}
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	sub.Normalize()
	return sub, true
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
