package history

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/wingchat/internal/chat"
)

func TestFetchHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/api/chat/history/session_1_abc" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"history":[
			{"role":"user","content":"latest tech news","timestamp":"2026-01-01T00:00:00.000Z"},
			{"role":"assistant","content":"Here are 3 stories","sources":["https://a.example/x"],"timestamp":"2026-01-01T00:00:01.000Z"},
			{"role":"error","content":"model timeout","timestamp":"2026-01-01T00:00:02.000Z"}
		]}`))
	}))
	defer srv.Close()

	entries, err := NewClient(srv.URL+"/").Fetch(context.Background(), "session_1_abc")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, chat.RoleUser, entries[0].Role)
	require.Equal(t, "latest tech news", entries[0].Content)
	require.Equal(t, chat.RoleAssistant, entries[1].Role)
	require.Equal(t, []string{"https://a.example/x"}, entries[1].Sources)
	require.Equal(t, chat.RoleError, entries[2].Role)
	require.True(t, entries[2].Timestamp.Equal(time.Date(2026, 1, 1, 0, 0, 2, 0, time.UTC)))
}

func TestFetchEmptyHistory(t *testing.T) {
	for _, body := range []string{`{}`, `{"history":null}`, `{"history":[]}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))
		entries, err := NewClient(srv.URL).Fetch(context.Background(), "s")
		srv.Close()
		require.NoError(t, err, body)
		require.NotNil(t, entries, body)
		require.Empty(t, entries, body)
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background(), "s")
	var fe *FetchError
	require.True(t, errors.As(err, &fe), "err = %v", err)
	require.Equal(t, http.StatusInternalServerError, fe.Status)
}

func TestFetchBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"history":[{"role":"user"`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background(), "s")
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	require.Zero(t, fe.Status)
}

func TestFetchSkipsUnreadableEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"history":[
			{"role":"user","content":"kept first","timestamp":"2026-01-01T09:30:00.250000"},
			{"role":"system","content":"you are a bot","timestamp":"2026-01-01T09:30:01Z"},
			"not an object",
			{"role":"assistant","content":"kept second","sources":["https://a.example/x"],"timestamp":"whenever"}
		]}`))
	}))
	defer srv.Close()

	entries, err := NewClient(srv.URL).Fetch(context.Background(), "s")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "kept first", entries[0].Content)
	require.True(t, entries[0].Timestamp.Equal(time.Date(2026, 1, 1, 9, 30, 0, 250e6, time.UTC)))
	require.Equal(t, "kept second", entries[1].Content)
	require.True(t, entries[1].Timestamp.IsZero())
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Fetch(context.Background(), "s")
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient(srv.URL, WithTimeout(50*time.Millisecond)).Fetch(context.Background(), "s")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClearHistory(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL).Clear(context.Background(), "session_1_abc"))
	require.Equal(t, http.MethodDelete, gotMethod)
	require.Equal(t, "/api/chat/history/session_1_abc", gotPath)
}

func TestClearFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Clear(context.Background(), "s")
	var ce *ClearError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, http.StatusBadGateway, ce.Status)
	require.Contains(t, err.Error(), "HTTP 502")
}
