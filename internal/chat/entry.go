package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role tells the three transcript entry variants apart.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// DefaultErrorText is shown when the service reports an error without a message.
const DefaultErrorText = "An error occurred"

// TimestampLayout is ISO8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Entry is one immutable line of the transcript. Sources is only meaningful
// for assistant entries.
type Entry struct {
	Role      Role
	Content   string
	Sources   []string
	Timestamp time.Time
}

func UserMessage(content string, at time.Time) Entry {
	return Entry{Role: RoleUser, Content: content, Timestamp: at}
}

func AssistantMessage(content string, sources []string, at time.Time) Entry {
	if sources == nil {
		sources = []string{}
	}
	return Entry{Role: RoleAssistant, Content: content, Sources: sources, Timestamp: at}
}

func ErrorMessage(content string, at time.Time) Entry {
	if content == "" {
		content = DefaultErrorText
	}
	return Entry{Role: RoleError, Content: content, Timestamp: at}
}

type entryJSON struct {
	Role      Role     `json:"role"`
	Content   string   `json:"content"`
	Sources   []string `json:"sources,omitempty"`
	Timestamp string   `json:"timestamp"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryJSON{
		Role:      e.Role,
		Content:   e.Content,
		Sources:   e.Sources,
		Timestamp: e.Timestamp.UTC().Format(TimestampLayout),
	})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Role {
	case RoleUser, RoleAssistant, RoleError:
	default:
		return fmt.Errorf("unknown transcript role %q", raw.Role)
	}
	*e = Entry{Role: raw.Role, Content: raw.Content, Sources: raw.Sources, Timestamp: parseTimestamp(raw.Timestamp)}
	if e.Role == RoleAssistant && e.Sources == nil {
		e.Sources = []string{}
	}
	return nil
}

// zonelessLayouts are accepted for stored timestamps written without an
// offset. They are read as UTC.
var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp reads an RFC 3339 or zone-less timestamp. Anything else
// yields the zero time, which renders without a clock.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Equal reports whether two entries carry the same role, content, sources
// and instant.
func (e Entry) Equal(o Entry) bool {
	if e.Role != o.Role || e.Content != o.Content || !e.Timestamp.Equal(o.Timestamp) {
		return false
	}
	if len(e.Sources) != len(o.Sources) {
		return false
	}
	for i := range e.Sources {
		if e.Sources[i] != o.Sources[i] {
			return false
		}
	}
	return true
}
