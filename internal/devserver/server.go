// Package devserver is a local stand-in for the answering service. It speaks
// the same websocket events and history endpoints as the real one, keeps
// transcripts in sqlite, and answers with a Responder (echo by default).
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ehrlich-b/wingchat/internal/chat"
	"github.com/ehrlich-b/wingchat/internal/store"
	"github.com/ehrlich-b/wingchat/internal/ws"
)

const (
	readLimit    = 512 * 1024
	writeTimeout = 10 * time.Second
)

// Responder produces the answer for one question. A returned error is sent
// to the asker as an error event carrying err.Error().
type Responder func(ctx context.Context, sessionID, question string) (ws.ReceiveMessage, error)

// Echo answers every question by repeating it.
func Echo(_ context.Context, _ string, question string) (ws.ReceiveMessage, error) {
	return ws.ReceiveMessage{Content: "You said: " + question, Sources: []string{}}, nil
}

// Server serves /ws and /api/chat/history/{id}.
type Server struct {
	store   *store.Store
	respond Responder
	now     func() time.Time
	logger  zerolog.Logger
	mux     *http.ServeMux

	mu       sync.Mutex
	rooms    map[string]map[*peer]struct{}
	listener net.Listener
}

type Option func(*Server)

// WithResponder replaces Echo.
func WithResponder(r Responder) Option {
	return func(s *Server) { s.respond = r }
}

// WithClock overrides time.Now for stored timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func NewServer(st *store.Store, opts ...Option) *Server {
	s := &Server{
		store:   st,
		respond: Echo,
		now:     time.Now,
		logger:  log.With().Str("component", "devserver").Logger(),
		mux:     http.NewServeMux(),
		rooms:   make(map[string]map[*peer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.HandleFunc("GET /api/chat/history/{id}", s.handleGetHistory)
	s.mux.HandleFunc("DELETE /api/chat/history/{id}", s.handleDeleteHistory)
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start listens on addr and serves until Close.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("devserver listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")
	err = http.Serve(ln, s)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Addr is the bound address once Start is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}

// peer is one websocket connection. Writes are serialized by wmu.
type peer struct {
	conn    *websocket.Conn
	wmu     sync.Mutex
	session string
}

func (p *peer) send(ctx context.Context, event string, payload any) error {
	env, err := ws.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket accept")
		return
	}
	conn.SetReadLimit(readLimit)
	defer conn.CloseNow()

	ctx := r.Context()
	p := &peer{conn: conn}
	defer s.leave(p)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env ws.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Debug().Err(err).Msg("bad frame")
			continue
		}
		switch env.Event {
		case ws.EventJoin:
			var id string
			if err := env.Decode(&id); err != nil || id == "" {
				p.send(ctx, ws.EventError, ws.ErrorMessage{Message: "join needs a session id"})
				continue
			}
			s.join(p, id)
		case ws.EventSendMessage:
			var msg ws.SendMessage
			if err := env.Decode(&msg); err != nil {
				p.send(ctx, ws.EventError, ws.ErrorMessage{Message: "malformed send_message"})
				continue
			}
			s.answer(ctx, p, msg)
		default:
			s.logger.Debug().Str("event", env.Event).Msg("ignoring event")
		}
	}
}

// join moves p into the room for id. Replies go to every peer in the room.
func (s *Server) join(p *peer, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.session != "" {
		delete(s.rooms[p.session], p)
	}
	p.session = id
	if s.rooms[id] == nil {
		s.rooms[id] = make(map[*peer]struct{})
	}
	s.rooms[id][p] = struct{}{}
	s.logger.Debug().Str("session_id", id).Msg("joined")
}

func (s *Server) leave(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.session == "" {
		return
	}
	delete(s.rooms[p.session], p)
	if len(s.rooms[p.session]) == 0 {
		delete(s.rooms, p.session)
	}
}

func (s *Server) room(id string) []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer, 0, len(s.rooms[id]))
	for p := range s.rooms[id] {
		out = append(out, p)
	}
	return out
}

// answer stores the question, asks the responder, stores the answer and
// emits it to the session's room. Errors go back to the asker only.
func (s *Server) answer(ctx context.Context, p *peer, msg ws.SendMessage) {
	logger := s.logger.With().Str("session_id", msg.SessionID).Logger()
	if strings.TrimSpace(msg.Message) == "" || msg.SessionID == "" {
		p.send(ctx, ws.EventError, ws.ErrorMessage{Message: "message and sessionId are required"})
		return
	}
	if err := s.record(msg.SessionID, chat.UserMessage(msg.Message, s.now())); err != nil {
		logger.Error().Err(err).Msg("store question")
		p.send(ctx, ws.EventError, ws.ErrorMessage{})
		return
	}

	reply, err := s.respond(ctx, msg.SessionID, msg.Message)
	if err != nil {
		logger.Warn().Err(err).Msg("responder failed")
		if err := s.record(msg.SessionID, chat.ErrorMessage(err.Error(), s.now())); err != nil {
			logger.Error().Err(err).Msg("store error entry")
		}
		p.send(ctx, ws.EventError, ws.ErrorMessage{Message: err.Error()})
		return
	}
	if reply.Sources == nil {
		reply.Sources = []string{}
	}
	if err := s.record(msg.SessionID, chat.AssistantMessage(reply.Content, reply.Sources, s.now())); err != nil {
		logger.Error().Err(err).Msg("store answer")
	}

	targets := s.room(msg.SessionID)
	if len(targets) == 0 {
		// asked without joining; answer the asker anyway
		targets = []*peer{p}
	}
	for _, t := range targets {
		if err := t.send(ctx, ws.EventReceiveMessage, reply); err != nil {
			logger.Debug().Err(err).Msg("deliver reply")
		}
	}
}

func (s *Server) record(sessionID string, e chat.Entry) error {
	return s.store.AppendMessage(&store.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      string(e.Role),
		Content:   e.Content,
		Sources:   e.Sources,
		CreatedAt: e.Timestamp.UTC().Format(chat.TimestampLayout),
	})
}
