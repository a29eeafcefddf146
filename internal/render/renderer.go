// Package render prints a chat transcript to a terminal. It only reads
// chat.View snapshots and never drives the controller.
package render

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/ehrlich-b/wingchat/internal/chat"
)

// Renderer handles styled rendering of entries for immediate output to
// scrollback. Update prints only what changed since the previous view.
type Renderer struct {
	theme Theme
	out   io.Writer

	mu      sync.Mutex
	printed int
	gen     uint64
	conn    chat.ConnState
	pending bool
	started bool
}

func NewRenderer(out io.Writer, theme Theme) *Renderer {
	return &Renderer{theme: theme, out: out}
}

// User renders a user question.
func (r *Renderer) User(e chat.Entry) string {
	return r.theme.UserLabel.Render("You"+r.stamp(e)+":") + " " + r.theme.UserContent.Render(e.Content) + "\n\n"
}

// Assistant renders an answer card with its numbered sources.
func (r *Renderer) Assistant(e chat.Entry) string {
	var body strings.Builder
	body.WriteString(r.theme.AssistantHead.Render("Assistant" + r.stamp(e)))
	body.WriteByte('\n')
	body.WriteString(e.Content)
	if len(e.Sources) > 0 {
		body.WriteString("\n\nSources:")
		for i, s := range e.Sources {
			if label := sourceLabel(s); label != s {
				fmt.Fprintf(&body, "\n[%d] %s %s", i+1, label, r.theme.Source.Render(s))
			} else {
				fmt.Fprintf(&body, "\n[%d] %s", i+1, r.theme.Source.Render(s))
			}
		}
	}
	return r.theme.AssistantCard.Render(body.String()) + "\n\n"
}

// sourceLabel is the host of an absolute source URL, or s itself.
func sourceLabel(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return s
	}
	return u.Hostname()
}

// Error renders an error entry.
func (r *Renderer) Error(e chat.Entry) string {
	return r.theme.Error.Render("Error"+r.stamp(e)+": "+e.Content) + "\n\n"
}

// Entry dispatches on the entry's role.
func (r *Renderer) Entry(e chat.Entry) string {
	switch e.Role {
	case chat.RoleUser:
		return r.User(e)
	case chat.RoleAssistant:
		return r.Assistant(e)
	default:
		return r.Error(e)
	}
}

// Status renders a one-line system notice.
func (r *Renderer) Status(text string) string {
	return r.theme.Status.Render(text) + "\n"
}

// Welcome renders the banner shown once per session.
func (r *Renderer) Welcome(id string) string {
	return r.Status("Session "+id+". Type a question, /clear to reset, /quit to leave.") + "\n"
}

func (r *Renderer) stamp(e chat.Entry) string {
	if e.Timestamp.IsZero() {
		return ""
	}
	return " " + r.theme.Timestamp.Render(e.Timestamp.Local().Format("15:04"))
}

// Update writes everything new in v: entries past the last printed one,
// plus connection and pending notices when they change. When the view's
// generation moves, or the transcript shrank, everything is reprinted from
// the start after a notice.
func (r *Renderer) Update(v chat.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	if !r.started {
		r.started = true
		b.WriteString(r.Welcome(string(v.SessionID)))
	}
	if v.Generation != r.gen || len(v.Transcript) < r.printed {
		r.gen = v.Generation
		switch {
		case len(v.Transcript) == 0 || len(v.Transcript) < r.printed:
			b.WriteString(r.Status("Transcript cleared."))
		case r.printed > 0:
			b.WriteString(r.Status("Earlier history loaded, transcript so far:"))
		}
		r.printed = 0
	}
	for _, e := range v.Transcript[r.printed:] {
		b.WriteString(r.Entry(e))
	}
	r.printed = len(v.Transcript)

	if v.Conn != r.conn {
		r.conn = v.Conn
		if v.Conn == chat.Connected {
			b.WriteString(r.Status("Connected."))
		} else {
			b.WriteString(r.Status("Disconnected, input disabled until the connection is back."))
		}
	}
	if p := v.Pending(); p != r.pending {
		r.pending = p
		if p {
			b.WriteString(r.Status("Waiting for a reply..."))
		}
	}

	if b.Len() > 0 {
		io.WriteString(r.out, b.String())
	}
}

// Prompt is the input prompt for the current view.
func (r *Renderer) Prompt(v chat.View) string {
	switch {
	case !v.InputEnabled():
		return "(offline) > "
	case v.Pending():
		return "(waiting) > "
	default:
		return "> "
	}
}
