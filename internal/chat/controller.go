// Package chat is the session-bound message stream controller. It owns the
// transcript, allows one question in flight at a time, and folds transport
// events into the transcript in arrival order.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ehrlich-b/wingchat/internal/session"
	"github.com/ehrlich-b/wingchat/internal/ws"
)

var (
	// ErrNotReady is returned by Clear before the session has joined.
	ErrNotReady = errors.New("chat: session not ready")
	// ErrNotRunning is returned when the controller loop is not running.
	ErrNotRunning = errors.New("chat: controller not running")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("chat: controller already running")
)

const mailboxSize = 64

// Channel is the bidirectional transport the controller drives.
// *ws.Client implements it.
type Channel interface {
	Connect(ctx context.Context)
	Disconnect()
	Send(event string, payload any) error
	OnConnected(fn func())
	OnDisconnected(fn func(err error))
	OnMessage(event string, h ws.Handler)
}

// HistoryClient loads and deletes the service-side transcript.
// *history.Client implements it.
type HistoryClient interface {
	Fetch(ctx context.Context, id session.ID) ([]Entry, error)
	Clear(ctx context.Context, id session.ID) error
}

// View is a read-only snapshot for renderers.
type View struct {
	SessionID  session.ID
	State      State
	Conn       ConnState
	Input      string
	Transcript []Entry
	// Generation changes when entries already handed out may have moved.
	// Renderers that print incrementally start over when it changes.
	Generation uint64
}

// InputEnabled is true while the channel is connected.
func (v View) InputEnabled() bool { return v.Conn == Connected }

// Pending is true while a question is outstanding.
func (v View) Pending() bool { return v.State == AwaitingResponse }

// CanSubmit is true when Submit with non-blank text would be accepted.
func (v View) CanSubmit() bool { return v.InputEnabled() && v.State == Ready }

type mail struct {
	ev    event
	reply chan bool // nil when the sender does not wait
}

// Controller is a single-goroutine actor around step. All transcript
// changes happen on the Run goroutine.
type Controller struct {
	ch           Channel
	hist         HistoryClient
	now          func() time.Time
	replyTimeout time.Duration
	onChange     func(View)
	logger       zerolog.Logger

	mailbox chan mail
	done    chan struct{}
	started atomic.Bool

	model Model       // owned by the Run goroutine
	timer *time.Timer // reply timeout for the outstanding question

	mu   sync.RWMutex
	view View
}

type Option func(*Controller)

// WithClock overrides time.Now for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithReplyTimeout ends an unanswered question with an error entry after d.
// Zero, the default, waits forever.
func WithReplyTimeout(d time.Duration) Option {
	return func(c *Controller) { c.replyTimeout = d }
}

// WithOnChange registers fn to receive a View after every applied event.
// fn runs on the controller goroutine and must not call back into the
// controller synchronously.
func WithOnChange(fn func(View)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// New wires a controller for the already resolved session id. The id is
// used for every join and every outbound question. hist may be nil, in
// which case nothing is loaded and Clear only empties the local transcript.
func New(id session.ID, ch Channel, hist HistoryClient, opts ...Option) *Controller {
	if hist == nil {
		hist = noHistory{}
	}
	c := &Controller{
		ch:      ch,
		hist:    hist,
		now:     time.Now,
		logger:  log.With().Str("component", "chat").Str("session_id", string(id)).Logger(),
		mailbox: make(chan mail, mailboxSize),
		done:    make(chan struct{}),
		model:   NewModel(id),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.view = c.model.view()

	ch.OnConnected(func() { c.post(connectedEvent{}) })
	ch.OnDisconnected(func(err error) { c.post(disconnectedEvent{err: err}) })
	ch.OnMessage(ws.EventReceiveMessage, func(data json.RawMessage) {
		var msg ws.ReceiveMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("bad receive_message payload")
			return
		}
		c.post(replyEvent{msg: msg})
	})
	ch.OnMessage(ws.EventError, func(data json.RawMessage) {
		var msg ws.ErrorMessage
		if len(data) > 0 {
			if err := json.Unmarshal(data, &msg); err != nil {
				c.logger.Warn().Err(err).Msg("bad error payload, using default text")
			}
		}
		c.post(serviceErrorEvent{msg: msg})
	})
	return c
}

// Run starts the session: it loads history in the background, connects the
// channel, and processes events until ctx is done. The channel is
// disconnected before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.apply(ctx, startEvent{})
	c.logger.Info().Msg("session started")

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case m := <-c.mailbox:
			accepted := c.apply(ctx, m.ev)
			if m.reply != nil {
				m.reply <- accepted
			}
		}
	}
}

func (c *Controller) shutdown() {
	close(c.done)
	if c.timer != nil {
		c.timer.Stop()
	}
	c.ch.Disconnect()
	c.logger.Info().Msg("session stopped")
}

// Submit sends text as the next question. It returns false without doing
// anything when text is blank, a question is outstanding, the channel is
// down, or the session has not joined yet.
func (c *Controller) Submit(text string) bool {
	accepted, err := c.request(context.Background(), submitEvent{text: text})
	return err == nil && accepted
}

// SetInput replaces the pending input buffer.
func (c *Controller) SetInput(text string) {
	c.request(context.Background(), inputEvent{text: text})
}

// Clear deletes the service-side history and then empties the transcript.
// If the service refuses, the transcript is left as it was and the error is
// returned. An outstanding question is not affected either way.
func (c *Controller) Clear(ctx context.Context) error {
	if !c.started.Load() {
		return ErrNotRunning
	}
	select {
	case <-c.done:
		return ErrNotRunning
	default:
	}
	v := c.View()
	if v.State != Ready && v.State != AwaitingResponse {
		return ErrNotReady
	}
	if err := c.hist.Clear(ctx, v.SessionID); err != nil {
		c.logger.Warn().Err(err).Msg("clear history failed")
		return err
	}
	_, err := c.request(ctx, clearedEvent{})
	return err
}

// View returns the latest snapshot.
func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// Done is closed once Run has stopped.
func (c *Controller) Done() <-chan struct{} { return c.done }

// post delivers a transport or background event in order, dropping it only
// once the controller has stopped.
func (c *Controller) post(ev event) {
	select {
	case c.mailbox <- mail{ev: ev}:
	case <-c.done:
	}
}

func (c *Controller) request(ctx context.Context, ev event) (bool, error) {
	if !c.started.Load() {
		return false, ErrNotRunning
	}
	reply := make(chan bool, 1)
	select {
	case c.mailbox <- mail{ev: ev, reply: reply}:
	case <-c.done:
		return false, ErrNotRunning
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case ok := <-reply:
		return ok, nil
	case <-c.done:
		return false, ErrNotRunning
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// apply runs one step and its effects, then publishes the new view.
// Effects may report a follow-up event, which is stepped before the view is
// published. apply reports whether ev changed the model's protocol state or
// transcript, which is what Submit calls "accepted".
func (c *Controller) apply(ctx context.Context, ev event) bool {
	before := c.model
	queue := []event{ev}
	acted := false
	for len(queue) > 0 {
		next, effects := step(c.model, queue[0], c.now())
		queue = queue[1:]
		c.model = next
		acted = acted || len(effects) > 0
		for _, eff := range effects {
			if follow := c.run(ctx, eff); follow != nil {
				queue = append(queue, follow)
			}
		}
	}
	after := c.model

	if before.State != after.State {
		c.logger.Debug().Stringer("from", before.State).Stringer("to", after.State).Msg("state change")
	}
	if before.Conn != after.Conn {
		c.logger.Info().Stringer("conn", after.Conn).Msg("connection state")
	}

	v := after.view()
	c.mu.Lock()
	c.view = v
	c.mu.Unlock()
	if c.onChange != nil {
		c.onChange(v)
	}
	return acted || before.State != after.State || len(before.Transcript) != len(after.Transcript)
}

// run executes one effect on the controller goroutine. A non-nil result is
// stepped by apply right away.
func (c *Controller) run(ctx context.Context, eff effect) event {
	switch eff := eff.(type) {
	case fetchHistoryEffect:
		id := c.model.SessionID
		go func() {
			entries, err := c.hist.Fetch(ctx, id)
			if err != nil {
				// a missing history never blocks the conversation
				c.logger.Warn().Err(err).Msg("history unavailable, starting empty")
				entries = nil
			}
			c.post(historyEvent{entries: entries})
		}()

	case connectEffect:
		c.ch.Connect(ctx)

	case joinEffect:
		if err := c.ch.Send(ws.EventJoin, string(eff.id)); err != nil {
			c.logger.Warn().Err(err).Msg("join failed")
		}

	case sendEffect:
		if err := c.ch.Send(ws.EventSendMessage, eff.msg); err != nil {
			c.logger.Warn().Err(err).Msg("send failed")
			return sendFailedEvent{seq: eff.seq, err: err}
		}

	case armTimerEffect:
		if c.replyTimeout <= 0 {
			return nil
		}
		if c.timer != nil {
			c.timer.Stop()
		}
		seq := eff.seq
		c.timer = time.AfterFunc(c.replyTimeout, func() {
			c.post(replyTimeoutEvent{seq: seq})
		})
	}
	return nil
}

func (m Model) view() View {
	return View{
		SessionID:  m.SessionID,
		State:      m.State,
		Conn:       m.Conn,
		Input:      m.Input,
		Transcript: append([]Entry{}, m.Transcript...),
		Generation: m.Generation,
	}
}

type noHistory struct{}

func (noHistory) Fetch(context.Context, session.ID) ([]Entry, error) { return nil, nil }
func (noHistory) Clear(context.Context, session.ID) error            { return nil }
