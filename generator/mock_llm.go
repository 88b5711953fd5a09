package generator

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockLLM 一个简单的占位实现，便于本地调试，不调用外部模型。
// It asks Rounds follow-up questions per interview, then signals TASK DONE, and
// answers the article prompt with a canned Markdown piece quoting the dialogue.
type MockLLM struct {
	Rounds int

	mu    sync.Mutex
	asked map[string]int
}

func (m *MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	// Refinement prompts teach the model the completion signal; the article
	// prompt does not mention it.
	if !strings.Contains(prompt.User, CompletionSignal) {
		return m.article(prompt.User), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.asked == nil {
		m.asked = make(map[string]int)
	}
	// The first user line identifies the interview well enough for local runs.
	key := firstUserLine(prompt.User)
	if m.asked[key] >= m.Rounds {
		delete(m.asked, key)
		return CompletionSignal, nil
	}
	m.asked[key]++
	return fmt.Sprintf("Danke! Rückfrage %d: Wann und wo genau ist das passiert?", m.asked[key]), nil
}

func (m *MockLLM) article(user string) string {
	var sb strings.Builder
	sb.WriteString("# Meldung aus der Nachbarschaft\n\n")
	sb.WriteString("Aus der Leserschaft wurde uns ein Ereignis gemeldet.\n\n")
	sb.WriteString("## Aus dem Gespräch\n\n")
	for _, line := range strings.Split(user, "\n") {
		if rest, ok := strings.CutPrefix(line, "user: "); ok {
			sb.WriteString("> ")
			sb.WriteString(rest)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func firstUserLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "user: ") {
			return line
		}
	}
	return ""
}
