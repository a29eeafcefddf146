// Package history talks to the chat service's transcript endpoints.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/ehrlich-b/wingchat/internal/chat"
	"github.com/ehrlich-b/wingchat/internal/session"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 8 << 20
)

// FetchError means prior history could not be loaded.
type FetchError struct {
	SessionID session.ID
	Status    int // 0 when no response was received
	Err       error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch history for %s: HTTP %d", e.SessionID, e.Status)
	}
	return fmt.Sprintf("fetch history for %s: %v", e.SessionID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ClearError means the service did not acknowledge a history deletion.
type ClearError struct {
	SessionID session.ID
	Status    int
	Err       error
}

func (e *ClearError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("clear history for %s: HTTP %d", e.SessionID, e.Status)
	}
	return fmt.Sprintf("clear history for %s: %v", e.SessionID, e.Err)
}

func (e *ClearError) Unwrap() error { return e.Err }

// Client fetches and clears persisted transcripts over HTTP.
type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds each request. Zero leaves only the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient returns a client for the service at base, e.g. http://localhost:5000.
func NewClient(base string, opts ...Option) *Client {
	c := &Client{
		base:    strings.TrimRight(base, "/"),
		http:    http.DefaultClient,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type historyResponse struct {
	History []json.RawMessage `json:"history"`
}

// Fetch returns the persisted transcript for id, oldest first. A session with
// no history yields an empty slice.
func (c *Client) Fetch(ctx context.Context, id session.ID) ([]chat.Entry, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.historyURL(id), nil)
	if err != nil {
		return nil, &FetchError{SessionID: id, Err: errors.Wrap(err, "build request")}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{SessionID: id, Err: errors.Wrap(err, "get")}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &FetchError{SessionID: id, Status: resp.StatusCode, Err: errors.Errorf("unexpected status %s", resp.Status)}
	}

	var body historyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, &FetchError{SessionID: id, Err: errors.Wrap(err, "decode history")}
	}
	logger := log.With().Str("component", "history").Str("session_id", id.String()).Logger()
	entries := make([]chat.Entry, 0, len(body.History))
	for i, raw := range body.History {
		var e chat.Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			logger.Warn().Err(err).Int("index", i).Msg("skipping unreadable history entry")
			continue
		}
		entries = append(entries, e)
	}
	logger.Debug().Int("entries", len(entries)).Int("skipped", len(body.History)-len(entries)).Msg("fetched history")
	return entries, nil
}

// Clear asks the service to delete the persisted transcript for id.
func (c *Client) Clear(ctx context.Context, id session.ID) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.historyURL(id), nil)
	if err != nil {
		return &ClearError{SessionID: id, Err: errors.Wrap(err, "build request")}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &ClearError{SessionID: id, Err: errors.Wrap(err, "delete")}
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ClearError{SessionID: id, Status: resp.StatusCode, Err: errors.Errorf("unexpected status %s", resp.Status)}
	}
	log.Debug().Str("component", "history").Str("session_id", id.String()).Msg("cleared history")
	return nil
}

func (c *Client) historyURL(id session.ID) string {
	return c.base + "/api/chat/history/" + url.PathEscape(string(id))
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
