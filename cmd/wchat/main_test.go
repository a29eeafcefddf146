package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/wingchat/internal/chat"
	"github.com/ehrlich-b/wingchat/internal/devserver"
	"github.com/ehrlich-b/wingchat/internal/store"
)

// syncBuffer is written by the renderer goroutine and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func run(t *testing.T, in io.Reader, args ...string) (string, error) {
	t.Helper()
	var out syncBuffer
	cmd := newRootCmd()
	cmd.SetArgs(append(args, "--log-level", "error"))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	if in != nil {
		cmd.SetIn(in)
	}
	err := cmd.Execute()
	return out.String(), err
}

func startDevserver(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ts := httptest.NewServer(devserver.NewServer(st))
	t.Cleanup(ts.Close)
	return ts
}

var idPattern = regexp.MustCompile(`^session_\d+_[0-9a-z]{9}$`)

func TestSessionCommand(t *testing.T) {
	dir := t.TempDir()

	first, err := run(t, nil, "session", "--dir", dir)
	require.NoError(t, err)
	first = strings.TrimSpace(first)
	require.Regexp(t, idPattern, first)

	again, err := run(t, nil, "session", "--dir", dir)
	require.NoError(t, err)
	require.Equal(t, first, strings.TrimSpace(again))

	reset, err := run(t, nil, "session", "--dir", dir, "--reset")
	require.NoError(t, err)
	require.Regexp(t, idPattern, strings.TrimSpace(reset))
	require.NotEqual(t, first, strings.TrimSpace(reset))
}

func TestBadBackendFlag(t *testing.T) {
	_, err := run(t, nil, "session", "--dir", t.TempDir(), "--backend", "ftp://nowhere")
	require.Error(t, err)
}

func TestChatHistoryClear(t *testing.T) {
	ts := startDevserver(t)
	dir := t.TempDir()

	pr, pw := io.Pipe()
	var out syncBuffer
	cmd := newRootCmd()
	cmd.SetArgs([]string{"chat", "--dir", dir, "--backend", ts.URL, "--log-level", "error"})
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(pr)

	errc := make(chan error, 1)
	go func() { errc <- cmd.Execute() }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Connected.") }, 5*time.Second, 10*time.Millisecond)
	io.WriteString(pw, "latest tech news\n")
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "You said: latest tech news")
	}, 5*time.Second, 10*time.Millisecond)
	io.WriteString(pw, "/quit\n")

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("chat did not exit on /quit")
	}
	pw.Close()

	hist, err := run(t, nil, "history", "--json", "--dir", dir, "--backend", ts.URL)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(hist), "\n")
	require.Len(t, lines, 2)
	var e chat.Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
	require.Equal(t, chat.RoleUser, e.Role)
	require.Equal(t, "latest tech news", e.Content)

	cleared, err := run(t, nil, "clear", "--dir", dir, "--backend", ts.URL)
	require.NoError(t, err)
	require.Contains(t, cleared, "cleared session_")

	hist, err = run(t, nil, "history", "--dir", dir, "--backend", ts.URL)
	require.NoError(t, err)
	require.Contains(t, hist, "No history")
}

func TestClearFailsWhenServiceIsDown(t *testing.T) {
	ts := startDevserver(t)
	url := ts.URL
	ts.Close()

	_, err := run(t, nil, "clear", "--dir", t.TempDir(), "--backend", url)
	require.Error(t, err)
}

func TestHandleLineCommands(t *testing.T) {
	c := chat.New("s", nopChannel{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	require.Eventually(t, func() bool { return c.View().State == chat.AwaitingConnection }, time.Second, time.Millisecond)

	msg, quit := handleLine(ctx, c, "/quit")
	require.True(t, quit)
	require.Empty(t, msg)

	msg, quit = handleLine(ctx, c, "   ")
	require.False(t, quit)
	require.Empty(t, msg)

	msg, _ = handleLine(ctx, c, "/clear")
	require.Equal(t, "Not connected yet, nothing cleared.", msg)

	msg, _ = handleLine(ctx, c, "hello")
	require.Equal(t, "Not connected, message not sent.", msg)
	require.Equal(t, "hello", c.View().Input)
}

func TestHistoryClientSendsUserAgent(t *testing.T) {
	agent := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent <- r.Header.Get("User-Agent")
		w.Write([]byte(`{"history":[]}`))
	}))
	defer srv.Close()

	_, err := run(t, nil, "history", "--dir", t.TempDir(), "--backend", srv.URL)
	require.NoError(t, err)
	require.Equal(t, userAgent, <-agent)
}
