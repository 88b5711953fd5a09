package generator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedReply struct {
	text string
	err  error
}

// scriptedLLM answers with queued replies in order and records every prompt.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []scriptedReply
	prompts []Prompt
}

func script(replies ...string) *scriptedLLM {
	s := &scriptedLLM{}
	for _, r := range replies {
		s.replies = append(s.replies, scriptedReply{text: r})
	}
	return s
}

func (s *scriptedLLM) fail(err error) *scriptedLLM {
	s.replies = append(s.replies, scriptedReply{err: err})
	return s
}

func (s *scriptedLLM) then(text string) *scriptedLLM {
	s.replies = append(s.replies, scriptedReply{text: text})
	return s
}

func (s *scriptedLLM) Complete(_ context.Context, p Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, p)
	if len(s.replies) == 0 {
		return "", errors.New("no scripted reply left")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.text, r.err
}

func (s *scriptedLLM) calls() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Prompt(nil), s.prompts...)
}

type recordingSink struct {
	reqs []PersistRequest
	err  error
}

func (r *recordingSink) Persist(_ context.Context, req PersistRequest) (string, error) {
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return "", r.err
	}
	return "/articles/" + req.SessionID + ".txt", nil
}

var fixedNow = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

func testTemplates(t *testing.T) *Templates {
	t.Helper()
	tpl, err := NewTemplates(map[string]string{
		TemplateSystem:       "SYS",
		TemplateWelcome:      "Willkommen",
		TemplateWhat:         "Was ist passiert?",
		TemplateRefinement:   "{user_texts}|{steps}",
		TemplateWriteArticle: "{user_texts}|{date}",
	})
	require.NoError(t, err)
	return tpl
}

func newTestAgent(t *testing.T, llm LLMClient, opts ...AgentOption) *Agent {
	t.Helper()
	gw, err := NewGateway(llm, RetryPolicy{MaxAttempts: 1}, nil, nil)
	require.NoError(t, err)
	opts = append([]AgentOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	a, err := NewAgent(testTemplates(t), gw, opts...)
	require.NoError(t, err)
	return a
}

func TestNewSessionGreets(t *testing.T) {
	llm := script()
	a := newTestAgent(t, llm)

	s, err := a.NewSession(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, StateCheckForMore, s.State)
	assert.Equal(t, 0, s.Steps)
	assert.Equal(t, "assistant: Willkommen\nassistant: Was ist passiert?\n", s.Log.Render(Full))
	assert.Equal(t, 0, s.Log.Len(Relevant))
	assert.Empty(t, llm.calls(), "greeting must not call the model")
}

func TestSubmitRefinementRound(t *testing.T) {
	llm := script("Erzähl mir mehr.")
	a := newTestAgent(t, llm)
	s, err := a.NewSession(context.Background(), "s1")
	require.NoError(t, err)

	out, err := a.Submit(context.Background(), s, "Hallo")
	require.NoError(t, err)

	assert.True(t, out.Changed)
	assert.False(t, out.ShowArticle)
	assert.Equal(t, StateCheckForMore, s.State)
	assert.Equal(t, 1, s.Steps)
	assert.Equal(t, 4, s.Log.Len(Full))
	assert.Equal(t, "user: Hallo\nassistant: Erzähl mir mehr.\n", s.Log.Render(Relevant))

	calls := llm.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "SYS", calls[0].System)
	assert.Equal(t, "user: Hallo\n|1", calls[0].User)
}

func TestStepsCountRounds(t *testing.T) {
	llm := script("Wo?", "Wann?", "Wer?")
	a := newTestAgent(t, llm)
	s, err := a.NewSession(context.Background(), "s1")
	require.NoError(t, err)

	for i, text := range []string{"eins", "zwei", "drei"} {
		_, err := a.Submit(context.Background(), s, text)
		require.NoError(t, err)
		assert.Equal(t, i+1, s.Steps)
	}
	assert.Equal(t, "user: eins\nassistant: Wo?\nuser: zwei\nassistant: Wann?\nuser: drei\n|3", llm.calls()[2].User)
}

func TestBlankInputIsIgnored(t *testing.T) {
	llm := script()
	a := newTestAgent(t, llm)
	s, err := a.NewSession(context.Background(), "s1")
	require.NoError(t, err)
	before := s.Log.Render(Full)

	for _, text := range []string{"", "   ", "\n\t "} {
		out, err := a.Submit(context.Background(), s, text)
		require.NoError(t, err)
		assert.False(t, out.Changed)
	}
	assert.Equal(t, before, s.Log.Render(Full))
	assert.Equal(t, StateCheckForMore, s.State)
	assert.Equal(t, 0, s.Steps)
	assert.Empty(t, llm.calls())
}

func TestCompletionWritesArticle(t *testing.T) {
	article := "# Tauben in Heilbronn\n\nEin Würzburger fütterte Tauben."
	llm := script("Danke, das reicht. TASK DONE", article)
	sink := &recordingSink{}
	a := newTestAgent(t, llm, WithSink(sink))
	s, err := a.NewSession(context.Background(), "s1")
	require.NoError(t, err)

	out, err := a.Submit(context.Background(), s, "In Heilbronn hat ein Würzburger die Tauben gefüttert.")
	require.NoError(t, err)

	assert.Equal(t, StateDone, s.State)
	assert.True(t, out.ShowArticle)
	require.NotNil(t, s.Article)
	assert.Equal(t, article, s.Article.Text)
	assert.Equal(t, "Tauben in Heilbronn", s.Article.Title)
	assert.Equal(t, "/articles/s1.txt", s.Article.Path)

	full := s.Transcript()
	require.Len(t, full, 5)
	assert.Equal(t, ArticleAnnouncement, full[3].Content())
	assert.Equal(t, article, full[4].Content())
	assert.Equal(t, "user: In Heilbronn hat ein Würzburger die Tauben gefüttert.\n", s.Log.Render(Relevant))

	calls := llm.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "user: In Heilbronn hat ein Würzburger die Tauben gefüttert.\n|05.03.2024", calls[1].User)

	require.Len(t, sink.reqs, 1)
	req := sink.reqs[0]
	assert.Equal(t, article, req.Article)
	assert.Equal(t, s.Log.Render(Relevant), req.RelevantLog)
	assert.Equal(t, s.Log.Render(Full), req.FullLog)
	assert.Equal(t, fixedNow, req.Timestamp)
}

func TestCompletionSignalMatching(t *testing.T) {
	cases := []struct {
		reply string
		done  bool
	}{
		{"TASK DONE", true},
		{"Alles klar. TASK DONE", true},
		{"TASK DONE, danke!", true},
		{"xxTASK DONExx", true},
		{"task done", false},
		{"Task Done", false},
		{"TASK  DONE", false},
	}
	for _, tc := range cases {
		t.Run(tc.reply, func(t *testing.T) {
			a := newTestAgent(t, script(tc.reply, "# Artikel"))
			s, err := a.NewSession(context.Background(), "s")
			require.NoError(t, err)
			_, err = a.Submit(context.Background(), s, "Hallo")
			require.NoError(t, err)
			assert.Equal(t, tc.done, s.Done())
		})
	}
}

func TestDoneIgnoresInput(t *testing.T) {
	llm := script("TASK DONE", "# Artikel")
	a := newTestAgent(t, llm)
	s, err := a.NewSession(context.Background(), "s1")
	require.NoError(t, err)
	_, err = a.Submit(context.Background(), s, "Hallo")
	require.NoError(t, err)
	require.True(t, s.Done())

	full, relevant, steps, article := s.Log.Render(Full), s.Log.Render(Relevant), s.Steps, *s.Article
	out, err := a.Submit(context.Background(), s, "Noch etwas")
	require.NoError(t, err)

	assert.False(t, out.Changed)
	assert.True(t, out.ShowArticle)
	assert.Equal(t, full, s.Log.Render(Full))
	assert.Equal(t, relevant, s.Log.Render(Relevant))
	assert.Equal(t, steps, s.Steps)
	assert.Equal(t, article, *s.Article)
	assert.Len(t, llm.calls(), 2)
}

func TestModelFailureLeavesSessionUntouched(t *testing.T) {
	llm := script().fail(errors.New("connection refused")).then("Wo war das?")
	a := newTestAgent(t, llm)
	s, err := a.NewSession(context.Background(), "s1")
	require.NoError(t, err)
	before := s.Log.Render(Full)

	_, err = a.Submit(context.Background(), s, "Hallo")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Equal(t, before, s.Log.Render(Full))
	assert.Equal(t, 0, s.Steps)
	assert.Equal(t, StateCheckForMore, s.State)

	_, err = a.Submit(context.Background(), s, "Hallo")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Steps)
	assert.Equal(t, "user: Hallo\nassistant: Wo war das?\n", s.Log.Render(Relevant))
}

func TestArticleFailureRollsBackCascade(t *testing.T) {
	llm := script("TASK DONE").fail(errors.New("timeout")).then("TASK DONE").then("# Artikel")
	a := newTestAgent(t, llm)
	s, err := a.NewSession(context.Background(), "s1")
	require.NoError(t, err)

	_, err = a.Submit(context.Background(), s, "Hallo")
	require.ErrorIs(t, err, ErrModelUnavailable)
	assert.Equal(t, StateCheckForMore, s.State)
	assert.Equal(t, 2, s.Log.Len(Full))
	assert.Nil(t, s.Article)

	_, err = a.Submit(context.Background(), s, "Hallo")
	require.NoError(t, err)
	assert.True(t, s.Done())
	assert.Equal(t, "user: Hallo\n", s.Log.Render(Relevant))
}

func TestPersistFailureStillFinishes(t *testing.T) {
	sink := &recordingSink{err: ErrPersistFailure}
	a := newTestAgent(t, script("TASK DONE", "# Artikel"), WithSink(sink))
	s, err := a.NewSession(context.Background(), "s1")
	require.NoError(t, err)

	_, err = a.Submit(context.Background(), s, "Hallo")
	require.NoError(t, err)

	assert.True(t, s.Done())
	require.NotNil(t, s.Article)
	assert.Equal(t, "# Artikel", s.Article.Text)
	assert.Empty(t, s.Article.Path)
	assert.Len(t, sink.reqs, 1)
}

func TestMissingTemplateFailsGreeting(t *testing.T) {
	tpl, err := NewTemplates(map[string]string{TemplateWelcome: "Hallo"})
	require.NoError(t, err)
	gw, err := NewGateway(script(), RetryPolicy{MaxAttempts: 1}, nil, nil)
	require.NoError(t, err)
	a, err := NewAgent(tpl, gw)
	require.NoError(t, err)

	s, err := a.NewSession(context.Background(), "s1")
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestMissingVariableLeavesSessionUntouched(t *testing.T) {
	tpl, err := NewTemplates(map[string]string{
		TemplateSystem:       "SYS",
		TemplateWelcome:      "Willkommen",
		TemplateWhat:         "Was?",
		TemplateRefinement:   "{user_texts} {topic}",
		TemplateWriteArticle: "{user_texts}",
	})
	require.NoError(t, err)
	llm := script()
	gw, err := NewGateway(llm, RetryPolicy{MaxAttempts: 1}, nil, nil)
	require.NoError(t, err)
	a, err := NewAgent(tpl, gw)
	require.NoError(t, err)
	s, err := a.NewSession(context.Background(), "s1")
	require.NoError(t, err)

	_, err = a.Submit(context.Background(), s, "Hallo")
	assert.ErrorIs(t, err, ErrMissingVariable)
	assert.Equal(t, 2, s.Log.Len(Full))
	assert.Empty(t, llm.calls())
}

func TestRelevantIsSubsequenceOfFull(t *testing.T) {
	llm := script("Wo?", "Wann?", "TASK DONE", "# Artikel")
	a := newTestAgent(t, llm)
	s, err := a.NewSession(context.Background(), "s1")
	require.NoError(t, err)
	for _, text := range []string{"a", "b", "c"} {
		_, err := a.Submit(context.Background(), s, text)
		require.NoError(t, err)
	}
	require.True(t, s.Done())

	full, relevant := s.Log.Turns(Full), s.Log.Turns(Relevant)
	i := 0
	for _, turn := range full {
		if i < len(relevant) && turn == relevant[i] {
			i++
		}
	}
	assert.Equal(t, len(relevant), i)
	assert.Len(t, relevant, 5)
}

func TestRestartStartsOver(t *testing.T) {
	a := newTestAgent(t, script("Wo?", "TASK DONE", "# Artikel"))
	s, err := a.NewSession(context.Background(), "s1")
	require.NoError(t, err)
	_, err = a.Submit(context.Background(), s, "a")
	require.NoError(t, err)
	_, err = a.Submit(context.Background(), s, "b")
	require.NoError(t, err)
	require.True(t, s.Done())

	require.NoError(t, a.Restart(context.Background(), s))

	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, StateCheckForMore, s.State)
	assert.Equal(t, 0, s.Steps)
	assert.Nil(t, s.Article)
	assert.Equal(t, 2, s.Log.Len(Full))
}

func TestNewAgentRequiresCollaborators(t *testing.T) {
	gw, err := NewGateway(script(), DefaultRetryPolicy(), nil, nil)
	require.NoError(t, err)

	_, err = NewAgent(nil, gw)
	assert.Error(t, err)
	_, err = NewAgent(testTemplates(t), nil)
	assert.Error(t, err)
}
