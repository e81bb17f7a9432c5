// Package ws carries the turtle link over gorilla websockets: Link drives a
// remote turtle, Host serves a local one.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/protocol"
	"turtlecraft.ai/internal/turtle"
)

// ErrClosed is returned for requests on a link that has shut down.
var ErrClosed = errors.New("link closed")

const DefaultRequestTimeout = 10 * time.Second

type DialOptions struct {
	ClientName string
	Session    string
	// Timeout bounds each request, including the handshake.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Link is a turtle.Body backed by a remote turtle host. Requests may be
// issued concurrently; responses are matched by id.
type Link struct {
	conn    *websocket.Conn
	log     *zap.Logger
	timeout time.Duration
	welcome protocol.WelcomeMsg

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.ResponseMsg
	err     error

	closed chan struct{}
	done   chan struct{}
	once   sync.Once
}

var _ turtle.Body = (*Link)(nil)

func Dial(ctx context.Context, url string, opts DialOptions) (*Link, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRequestTimeout
	}
	if opts.ClientName == "" {
		opts.ClientName = "navigator"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	dctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      opts.ClientName,
		Session:         opts.Session,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(opts.Timeout))
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(opts.Timeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read WELCOME: %w", err)
	}
	var welcome protocol.WelcomeMsg
	base, err := protocol.Decode(msg, &welcome)
	if err == nil && base.Type != protocol.TypeWelcome {
		err = fmt.Errorf("expected WELCOME, got %s", base.Type)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	l := &Link{
		conn:    conn,
		log:     opts.Logger.With(zap.String("turtle", welcome.TurtleID)),
		timeout: opts.Timeout,
		welcome: welcome,
		pending: make(map[string]chan protocol.ResponseMsg),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.readLoop()
	l.log.Info("link up", zap.String("session", welcome.SessionID))
	return l, nil
}

func (l *Link) TurtleID() string  { return l.welcome.TurtleID }
func (l *Link) SessionID() string { return l.welcome.SessionID }

// Done is closed once the read loop has exited.
func (l *Link) Done() <-chan struct{} { return l.done }

// Err reports why the link went down, if it has.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Link) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		l.writeMu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		l.writeMu.Unlock()
		err = l.conn.Close()
	})
	<-l.done
	return err
}

func (l *Link) readLoop() {
	defer close(l.done)
	for {
		_, msg, err := l.conn.ReadMessage()
		if err != nil {
			l.fail(err)
			return
		}
		var resp protocol.ResponseMsg
		base, err := protocol.Decode(msg, &resp)
		if err != nil {
			l.log.Warn("dropping message", zap.Error(err))
			continue
		}
		if base.Type != protocol.TypeResponse {
			continue
		}
		l.mu.Lock()
		ch, ok := l.pending[resp.ID]
		delete(l.pending, resp.ID)
		l.mu.Unlock()
		if !ok {
			l.log.Debug("late response", zap.String("id", resp.ID))
			continue
		}
		ch <- resp
	}
}

func (l *Link) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.closed:
		err = ErrClosed
	default:
	}
	if l.err == nil {
		l.err = err
	}
	for id := range l.pending {
		delete(l.pending, id)
	}
}

func (l *Link) call(ctx context.Context, op string, dir turtle.Direction) (protocol.ResponseMsg, error) {
	id := uuid.NewString()
	ch := make(chan protocol.ResponseMsg, 1)

	l.mu.Lock()
	if l.err != nil {
		err := l.err
		l.mu.Unlock()
		return protocol.ResponseMsg{}, fmt.Errorf("%s: %w: %v", op, ErrClosed, err)
	}
	l.pending[id] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}()

	b, err := json.Marshal(protocol.NewRequest(id, op, dir))
	if err != nil {
		return protocol.ResponseMsg{}, err
	}
	l.writeMu.Lock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(l.timeout))
	err = l.conn.WriteMessage(websocket.TextMessage, b)
	l.writeMu.Unlock()
	if err != nil {
		return protocol.ResponseMsg{}, fmt.Errorf("%s: %w", op, err)
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, resp.Err(op)
	case <-ctx.Done():
		return protocol.ResponseMsg{}, fmt.Errorf("%s: %w: %w", op, ctx.Err(), turtle.ErrNoResponse)
	case <-timer.C:
		return protocol.ResponseMsg{}, fmt.Errorf("%s: %w after %s: %w", op, turtle.ErrNoResponse, l.timeout, context.DeadlineExceeded)
	case <-l.done:
		return protocol.ResponseMsg{}, fmt.Errorf("%s: %w: %w", op, ErrClosed, turtle.ErrNoResponse)
	}
}

func (l *Link) move(ctx context.Context, a turtle.Action) error {
	_, err := l.call(ctx, protocol.ActionOp(a), "")
	return err
}

func (l *Link) Forward(ctx context.Context) error   { return l.move(ctx, turtle.ActionForward) }
func (l *Link) Back(ctx context.Context) error      { return l.move(ctx, turtle.ActionBack) }
func (l *Link) Up(ctx context.Context) error        { return l.move(ctx, turtle.ActionUp) }
func (l *Link) Down(ctx context.Context) error      { return l.move(ctx, turtle.ActionDown) }
func (l *Link) TurnLeft(ctx context.Context) error  { return l.move(ctx, turtle.ActionTurnLeft) }
func (l *Link) TurnRight(ctx context.Context) error { return l.move(ctx, turtle.ActionTurnRight) }

func (l *Link) ClearObstruction(ctx context.Context, dir turtle.Direction) error {
	_, err := l.call(ctx, protocol.OpDig, dir)
	return err
}

func (l *Link) FuelLevel(ctx context.Context) (turtle.Fuel, error) {
	resp, err := l.call(ctx, protocol.OpFuel, "")
	if err != nil {
		return turtle.Fuel{}, err
	}
	if resp.Fuel == nil {
		return turtle.Fuel{}, fmt.Errorf("%s: response without fuel", protocol.OpFuel)
	}
	return *resp.Fuel, nil
}

func (l *Link) CheckHazard(ctx context.Context, dir turtle.Direction) (turtle.Hazard, error) {
	resp, err := l.call(ctx, protocol.OpHazard, dir)
	if err != nil {
		return turtle.Hazard{}, err
	}
	if resp.Hazard == nil {
		return turtle.Hazard{}, fmt.Errorf("%s: response without hazard", protocol.OpHazard)
	}
	return *resp.Hazard, nil
}

func (l *Link) Locate(ctx context.Context) (pose.Vec3, error) {
	resp, err := l.call(ctx, protocol.OpLocate, "")
	if err != nil {
		return pose.Vec3{}, err
	}
	if resp.Pos == nil {
		return pose.Vec3{}, fmt.Errorf("%s: %w", protocol.OpLocate, turtle.ErrNoReading)
	}
	return pose.Vec3{X: resp.Pos[0], Y: resp.Pos[1], Z: resp.Pos[2]}, nil
}
