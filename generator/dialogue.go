package generator

import (
	"encoding/json"
	"strings"
)

// LogView selects which part of a DialogueLog to read.
type LogView int

const (
	// Full contains every Turn, announcements and the article included.
	Full LogView = iota
	// Relevant contains only the Turns that feed the article prompt.
	Relevant
)

type logEntry struct {
	Turn     Turn `json:"turn"`
	Relevant bool `json:"relevant"`
}

// DialogueLog is the append-only transcript of a session. The relevant view is
// always an order-preserving subsequence of the full view.
type DialogueLog struct {
	entries []logEntry
}

// Append records the Turn in the full view, and in the relevant view when
// relevant is set.
func (l *DialogueLog) Append(turn Turn, relevant bool) {
	l.entries = append(l.entries, logEntry{Turn: turn, Relevant: relevant})
}

func (l *DialogueLog) Turns(view LogView) []Turn {
	out := make([]Turn, 0, len(l.entries))
	for _, e := range l.entries {
		if view == Relevant && !e.Relevant {
			continue
		}
		out = append(out, e.Turn)
	}
	return out
}

func (l *DialogueLog) Len(view LogView) int {
	if view == Full {
		return len(l.entries)
	}
	n := 0
	for _, e := range l.entries {
		if e.Relevant {
			n++
		}
	}
	return n
}

// Render serializes the view as "role: content\n" lines in insertion order.
// The output is fed verbatim into prompts.
func (l *DialogueLog) Render(view LogView) string {
	var sb strings.Builder
	for _, t := range l.Turns(view) {
		sb.WriteString(string(t.role))
		sb.WriteString(": ")
		sb.WriteString(t.content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (l DialogueLog) clone() DialogueLog {
	entries := make([]logEntry, len(l.entries))
	copy(entries, l.entries)
	return DialogueLog{entries: entries}
}

func (l DialogueLog) MarshalJSON() ([]byte, error) {
	if l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

func (l *DialogueLog) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &l.entries)
}

// ParseDialogue rebuilds the Turns of a rendered log. A line starting with
// "user: " or "assistant: " opens a Turn; any other line continues the content
// of the previous one. Content that itself contains such a line cannot be
// told apart from a new Turn.
func ParseDialogue(text string) ([]Turn, error) {
	if text == "" {
		return nil, nil
	}
	text = strings.TrimSuffix(text, "\n")

	var (
		turns   []Turn
		role    Role
		content []string
		open    bool
	)
	flush := func() {
		if open {
			turns = append(turns, Turn{role: role, content: strings.Join(content, "\n")})
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if r, rest, ok := splitRolePrefix(line); ok {
			flush()
			role, content, open = r, []string{rest}, true
			continue
		}
		if !open {
			return nil, ErrInvalidRole
		}
		content = append(content, line)
	}
	flush()
	return turns, nil
}

func splitRolePrefix(line string) (Role, string, bool) {
	for _, r := range []Role{RoleUser, RoleAssistant} {
		if rest, ok := strings.CutPrefix(line, string(r)+": "); ok {
			return r, rest, true
		}
	}
	return "", "", false
}
