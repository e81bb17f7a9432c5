package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turtlecraft.ai/internal/nav/navigator"
	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/observerproto"
)

type fixedStats struct{ s navigator.Stats }

func (f fixedStats) Stats(context.Context) navigator.Stats { return f.s }

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := NewServer(fixedStats{navigator.Stats{Session: "s1", Pose: pose.Pose{X: 3, Y: 70, Z: -2, Facing: pose.West}}}, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.StatusHandler())
	mux.HandleFunc("/status/ws", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStatusHandler(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msg observerproto.StatusMsg
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	assert.Equal(t, observerproto.TypeStatus, msg.Type)
	assert.Equal(t, "s1", msg.Stats.Session)
	assert.Equal(t, pose.Pose{X: 3, Y: 70, Z: -2, Facing: pose.West}, msg.Stats.Pose)

	post, err := http.Post(srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestStatusFeed(t *testing.T) {
	srv := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/status/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		IntervalMs:      1, // clamped up to the minimum
	}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var last uint64
	for i := 0; i < 3; i++ {
		var msg observerproto.StatusMsg
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Greater(t, msg.Seq, last)
		last = msg.Seq
		assert.Equal(t, "s1", msg.Stats.Session)
	}
}

func TestStatusFeedRequiresSubscribe(t *testing.T) {
	srv := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/status/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "HELLO"}))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
}

func TestSubscribeNormalize(t *testing.T) {
	cases := map[int]int{0: 1000, -5: 1000, 50: 100, 250: 250, 120000: 60000}
	for in, want := range cases {
		m := observerproto.SubscribeMsg{IntervalMs: in}
		m.Normalize()
		if m.IntervalMs != want {
			t.Fatalf("Normalize(%d) = %d, want %d", in, m.IntervalMs, want)
		}
	}
}
