package main

import (
	"net/http"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/wingchat/internal/history"
	"github.com/ehrlich-b/wingchat/internal/ws"
)

const userAgent = "wchat/1"

// agentTransport stamps every request with the client's User-Agent.
type agentTransport struct {
	base http.RoundTripper
}

func (t agentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	return t.base.RoundTrip(req)
}

func (a *app) historyClient() *history.Client {
	hc := &http.Client{Transport: agentTransport{base: http.DefaultTransport}}
	return history.NewClient(a.cfg.Endpoint, history.WithHTTPClient(hc))
}

func (a *app) channel(wsURL string) *ws.Client {
	return ws.NewClient(wsURL, ws.WithDialOptions(&websocket.DialOptions{
		HTTPHeader: http.Header{"User-Agent": []string{userAgent}},
	}))
}
