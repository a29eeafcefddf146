package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBackoff(t *testing.T) {
	bo := NewBackoff(time.Second, 60*time.Second)

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second, // capped
		60 * time.Second, // stays capped
	}

	for i, want := range expected {
		got := bo.Next()
		if got != want {
			t.Errorf("attempt %d: got %v, want %v", i, got, want)
		}
	}
}

func TestBackoffReset(t *testing.T) {
	bo := NewBackoff(time.Second, 60*time.Second)
	bo.Next() // 1s
	bo.Next() // 2s
	bo.Next() // 4s
	bo.Reset()

	got := bo.Next()
	if got != time.Second {
		t.Errorf("after reset: got %v, want %v", got, time.Second)
	}
}

func TestURLFromBase(t *testing.T) {
	cases := map[string]string{
		"http://localhost:5000":       "ws://localhost:5000/ws",
		"http://localhost:5000/":      "ws://localhost:5000/ws",
		"https://chat.example.com/v1": "wss://chat.example.com/v1/ws",
		"ws://127.0.0.1:9000":         "ws://127.0.0.1:9000/ws",
	}
	for in, want := range cases {
		got, err := URLFromBase(in)
		if err != nil {
			t.Errorf("%s: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("%s: got %q, want %q", in, got, want)
		}
	}
	for _, bad := range []string{"ftp://x", "localhost:5000", "http://"} {
		if _, err := URLFromBase(bad); err == nil {
			t.Errorf("%s: expected error", bad)
		}
	}
}

func TestDisconnectBeforeConnect(t *testing.T) {
	c := NewClient("ws://localhost:0/ws")
	c.Disconnect()
	c.Disconnect()
}

func TestSendNotConnected(t *testing.T) {
	c := NewClient("ws://localhost:0/ws")
	if err := c.Send(EventJoin, "session_1_abc"); err != ErrNotConnected {
		t.Errorf("Send err = %v, want ErrNotConnected", err)
	}
}

func TestNewEnvelopeJoin(t *testing.T) {
	env, err := NewEnvelope(EventJoin, "session_1_abc")
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	data, _ := json.Marshal(env)
	if string(data) != `{"event":"join","data":"session_1_abc"}` {
		t.Errorf("wire = %s", data)
	}
}

func TestSendMessageWire(t *testing.T) {
	env, _ := NewEnvelope(EventSendMessage, SendMessage{Message: "latest tech news", SessionID: "s1"})
	data, _ := json.Marshal(env)
	want := `{"event":"send_message","data":{"message":"latest tech news","sessionId":"s1"}}`
	if string(data) != want {
		t.Errorf("wire = %s, want %s", data, want)
	}
}

func newTestServer(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("accept error: %v", err)
			return
		}
		defer conn.CloseNow()
		handler(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event string, payload any) error {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, _ := json.Marshal(env)
	return conn.Write(ctx, websocket.MessageText, data)
}

func readEvent(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	err = json.Unmarshal(data, &env)
	return env, err
}

// drain blocks until the peer goes away.
func drain(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func TestJoinThenReceiveInOrder(t *testing.T) {
	joined := make(chan string, 1)
	srv := newTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		env, err := readEvent(ctx, conn)
		if err != nil || env.Event != EventJoin {
			t.Logf("expected join, got %+v (%v)", env, err)
			return
		}
		var id string
		env.Decode(&id)
		joined <- id

		writeEvent(ctx, conn, EventReceiveMessage, ReceiveMessage{Content: "first", Sources: []string{"https://a.example/x"}})
		writeEvent(ctx, conn, EventError, ErrorMessage{Message: "second"})
		writeEvent(ctx, conn, "typing", nil)
		writeEvent(ctx, conn, EventReceiveMessage, ReceiveMessage{Content: "third"})
		drain(ctx, conn)
	})

	c := NewClient(wsURL(srv))
	var mu sync.Mutex
	var got []string
	c.OnMessage(EventReceiveMessage, func(data json.RawMessage) {
		var m ReceiveMessage
		json.Unmarshal(data, &m)
		mu.Lock()
		got = append(got, "reply:"+m.Content)
		mu.Unlock()
	})
	c.OnMessage(EventError, func(data json.RawMessage) {
		var m ErrorMessage
		json.Unmarshal(data, &m)
		mu.Lock()
		got = append(got, "error:"+m.Message)
		mu.Unlock()
	})
	c.OnConnected(func() {
		if err := c.Send(EventJoin, "session_1_abc"); err != nil {
			t.Errorf("join: %v", err)
		}
	})

	c.Connect(context.Background())
	defer c.Disconnect()

	select {
	case id := <-joined:
		require.Equal(t, "session_1_abc", id)
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw join")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, []string{"reply:first", "error:second", "reply:third"}, got)
	mu.Unlock()
}

func TestOrderWithinEventStream(t *testing.T) {
	const n = 100
	srv := newTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		for i := 0; i < n; i++ {
			writeEvent(ctx, conn, EventReceiveMessage, ReceiveMessage{Content: string(rune('a' + i%26))})
		}
		drain(ctx, conn)
	})

	c := NewClient(wsURL(srv))
	var mu sync.Mutex
	var got []string
	c.OnMessage(EventReceiveMessage, func(data json.RawMessage) {
		var m ReceiveMessage
		json.Unmarshal(data, &m)
		mu.Lock()
		got = append(got, m.Content)
		mu.Unlock()
	})
	c.Connect(context.Background())
	defer c.Disconnect()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, s := range got {
		if want := string(rune('a' + i%26)); s != want {
			t.Fatalf("message %d = %q, want %q", i, s, want)
		}
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	var accepts atomic.Int32
	srv := newTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if accepts.Add(1) == 1 {
			conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		drain(ctx, conn)
	})

	c := NewClient(wsURL(srv), WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	var connects, disconnects atomic.Int32
	c.OnConnected(func() { connects.Add(1) })
	c.OnDisconnected(func(error) { disconnects.Add(1) })

	c.Connect(context.Background())
	require.Eventually(t, func() bool { return connects.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, disconnects.Load())
	require.True(t, c.Connected())

	c.Disconnect()
	require.EqualValues(t, 2, disconnects.Load())
	require.False(t, c.Connected())
}

func TestNeverConnectedFiresNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(wsURL(srv), WithBackoff(5*time.Millisecond, 20*time.Millisecond))
	var events atomic.Int32
	c.OnConnected(func() { events.Add(1) })
	c.OnDisconnected(func(error) { events.Add(1) })
	c.Connect(context.Background())
	time.Sleep(100 * time.Millisecond)
	c.Disconnect()

	require.Zero(t, events.Load())
}

func TestConnectIdempotent(t *testing.T) {
	var accepts atomic.Int32
	srv := newTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		accepts.Add(1)
		drain(ctx, conn)
	})

	c := NewClient(wsURL(srv))
	connected := make(chan struct{}, 4)
	c.OnConnected(func() { connected <- struct{}{} })
	c.Connect(context.Background())
	c.Connect(context.Background())
	c.Connect(context.Background())

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("never connected")
	}
	time.Sleep(50 * time.Millisecond)
	c.Disconnect()
	c.Disconnect()

	require.EqualValues(t, 1, accepts.Load())
}

func TestCancelledContextStopsLoop(t *testing.T) {
	srv := newTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		drain(ctx, conn)
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(wsURL(srv))
	up := make(chan struct{}, 1)
	down := make(chan struct{}, 1)
	c.OnConnected(func() { up <- struct{}{} })
	c.OnDisconnected(func(error) { down <- struct{}{} })
	c.Connect(ctx)

	<-up
	cancel()
	select {
	case <-down:
	case <-time.After(5 * time.Second):
		t.Fatal("no disconnect after cancel")
	}
	c.Disconnect()
}

func TestDisconnectSendsNormalClosure(t *testing.T) {
	status := make(chan websocket.StatusCode, 1)
	srv := newTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				status <- websocket.CloseStatus(err)
				return
			}
		}
	})

	c := NewClient(wsURL(srv))
	up := make(chan struct{}, 1)
	c.OnConnected(func() { up <- struct{}{} })
	c.Connect(context.Background())
	select {
	case <-up:
	case <-time.After(2 * time.Second):
		t.Fatal("never connected")
	}

	c.Disconnect()
	select {
	case got := <-status:
		if got != websocket.StatusNormalClosure {
			t.Errorf("close status = %v, want %v", got, websocket.StatusNormalClosure)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the close")
	}
}

func TestDialOptionsHeaders(t *testing.T) {
	agent := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent <- r.Header.Get("User-Agent")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		drain(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(wsURL(srv), WithDialOptions(&websocket.DialOptions{
		HTTPHeader: http.Header{"User-Agent": []string{"wchat-test"}},
	}))
	c.Connect(context.Background())
	defer c.Disconnect()

	select {
	case got := <-agent:
		if got != "wchat-test" {
			t.Errorf("User-Agent = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no dial")
	}
}
