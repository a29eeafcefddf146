package chat

import (
	"slices"
	"strings"
	"time"

	"github.com/ehrlich-b/wingchat/internal/session"
	"github.com/ehrlich-b/wingchat/internal/ws"
)

// State is the controller's protocol state.
type State int

const (
	Idle State = iota
	AwaitingConnection
	Ready
	AwaitingResponse
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingConnection:
		return "awaiting_connection"
	case Ready:
		return "ready"
	case AwaitingResponse:
		return "awaiting_response"
	}
	return "unknown"
}

// ConnState follows the transport's lifecycle events only.
type ConnState int

const (
	Disconnected ConnState = iota
	Connected
)

func (c ConnState) String() string {
	if c == Connected {
		return "connected"
	}
	return "disconnected"
}

const (
	// ReplyTimeoutText is appended when an outstanding question times out.
	ReplyTimeoutText = "no reply from service"
	// SendFailedText is appended when an accepted question never left the client.
	SendFailedText = "message not sent: connection lost"
)

// Model is everything the controller knows about a session. Values are
// never shared between steps: step clips the transcript before appending.
type Model struct {
	SessionID  session.ID
	State      State
	Conn       ConnState
	Transcript []Entry
	Input      string
	// Generation changes whenever entries already shown may have moved:
	// history merged in front of them, or a clear.
	Generation uint64

	seq      uint64 // id of the latest outstanding question, for timeouts
	hydrated bool   // history applied, failed, or superseded by a clear
}

// NewModel returns the initial model for id.
func NewModel(id session.ID) Model {
	return Model{SessionID: id, State: Idle, Conn: Disconnected}
}

// Pending is true while a question is outstanding.
func (m Model) Pending() bool { return m.State == AwaitingResponse }

// InputEnabled is true while the channel is up.
func (m Model) InputEnabled() bool { return m.Conn == Connected }

type event interface{ isEvent() }

type (
	startEvent        struct{}
	connectedEvent    struct{}
	disconnectedEvent struct{ err error }
	submitEvent       struct{ text string }
	inputEvent        struct{ text string }
	replyEvent        struct{ msg ws.ReceiveMessage }
	serviceErrorEvent struct{ msg ws.ErrorMessage }
	historyEvent      struct{ entries []Entry }
	clearedEvent      struct{}
	replyTimeoutEvent struct{ seq uint64 }
	sendFailedEvent   struct {
		seq uint64
		err error
	}
)

func (startEvent) isEvent()        {}
func (connectedEvent) isEvent()    {}
func (disconnectedEvent) isEvent() {}
func (submitEvent) isEvent()       {}
func (inputEvent) isEvent()        {}
func (replyEvent) isEvent()        {}
func (serviceErrorEvent) isEvent() {}
func (historyEvent) isEvent()      {}
func (clearedEvent) isEvent()      {}
func (replyTimeoutEvent) isEvent() {}
func (sendFailedEvent) isEvent()   {}

type effect interface{ isEffect() }

type (
	fetchHistoryEffect struct{}
	connectEffect      struct{}
	joinEffect         struct{ id session.ID }
	sendEffect         struct {
		msg ws.SendMessage
		seq uint64
	}
	armTimerEffect struct{ seq uint64 }
)

func (fetchHistoryEffect) isEffect() {}
func (connectEffect) isEffect()      {}
func (joinEffect) isEffect()         {}
func (sendEffect) isEffect()         {}
func (armTimerEffect) isEffect()     {}

// step applies one event. It has no side effects; the caller runs the
// returned effects in order.
func step(m Model, ev event, now time.Time) (Model, []effect) {
	switch ev := ev.(type) {
	case startEvent:
		if m.State != Idle {
			return m, nil
		}
		m.State = AwaitingConnection
		return m, []effect{fetchHistoryEffect{}, connectEffect{}}

	case connectedEvent:
		m.Conn = Connected
		if m.State == AwaitingConnection {
			m.State = Ready
		}
		// every new connection has to be bound to the session again
		return m, []effect{joinEffect{id: m.SessionID}}

	case disconnectedEvent:
		m.Conn = Disconnected
		return m, nil

	case inputEvent:
		m.Input = ev.text
		return m, nil

	case submitEvent:
		if strings.TrimSpace(ev.text) == "" || m.State != Ready || m.Conn != Connected {
			return m, nil
		}
		m.Transcript = appendEntry(m.Transcript, UserMessage(ev.text, now))
		m.Input = ""
		m.State = AwaitingResponse
		m.seq++
		return m, []effect{
			sendEffect{msg: ws.SendMessage{Message: ev.text, SessionID: string(m.SessionID)}, seq: m.seq},
			armTimerEffect{seq: m.seq},
		}

	case replyEvent:
		m.Transcript = appendEntry(m.Transcript, AssistantMessage(ev.msg.Content, ev.msg.Sources, now))
		if m.State == AwaitingResponse {
			m.State = Ready
		}
		return m, nil

	case serviceErrorEvent:
		m.Transcript = appendEntry(m.Transcript, ErrorMessage(ev.msg.Message, now))
		if m.State == AwaitingResponse {
			m.State = Ready
		}
		return m, nil

	case replyTimeoutEvent:
		if m.State != AwaitingResponse || ev.seq != m.seq {
			return m, nil
		}
		m.Transcript = appendEntry(m.Transcript, ErrorMessage(ReplyTimeoutText, now))
		m.State = Ready
		return m, nil

	case sendFailedEvent:
		if m.State != AwaitingResponse || ev.seq != m.seq {
			return m, nil
		}
		m.Transcript = appendEntry(m.Transcript, ErrorMessage(SendFailedText, now))
		m.State = Ready
		return m, nil

	case historyEvent:
		if m.hydrated {
			return m, nil
		}
		m.hydrated = true
		if len(ev.entries) == 0 {
			return m, nil
		}
		// history predates anything appended while the fetch was in flight
		merged := make([]Entry, 0, len(ev.entries)+len(m.Transcript))
		merged = append(merged, ev.entries...)
		merged = append(merged, m.Transcript...)
		m.Transcript = merged
		if len(merged) > len(ev.entries) {
			m.Generation++
		}
		return m, nil

	case clearedEvent:
		if m.State != Ready && m.State != AwaitingResponse {
			return m, nil
		}
		m.Transcript = []Entry{}
		m.hydrated = true
		m.Generation++
		return m, nil
	}
	return m, nil
}

func appendEntry(t []Entry, e Entry) []Entry {
	return append(slices.Clip(t), e)
}
