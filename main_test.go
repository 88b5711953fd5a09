package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_news_interviewer/generator"
	"auto_news_interviewer/publisher"
)

func newMockAgent(t *testing.T, rounds int) (*generator.Agent, string) {
	t.Helper()
	templates, err := generator.LoadTemplates("")
	require.NoError(t, err)
	gw, err := generator.NewGateway(&generator.MockLLM{Rounds: rounds}, generator.RetryPolicy{MaxAttempts: 1}, nil, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	writer := publisher.NewArticleWriter(publisher.ArticlesConfig{OutputDir: dir, UniqueNames: true}, nil)
	agent, err := generator.NewAgent(templates, gw, generator.WithSink(writer))
	require.NoError(t, err)
	return agent, dir
}

func TestRunChatWritesArticle(t *testing.T) {
	agent, dir := newMockAgent(t, 1)
	in := strings.NewReader("Ein Baum ist umgefallen\n\nGestern im Stadtpark\nwird ignoriert\n")
	var out bytes.Buffer

	err := runChat(context.Background(), agent, in, &out, func(md string) string { return "[md]" + md })
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "Rückfrage 1")
	assert.Contains(t, text, "[md]# Meldung aus der Nachbarschaft")
	assert.Contains(t, text, "> Ein Baum ist umgefallen")
	assert.Contains(t, text, "Gespeichert unter "+dir)
	assert.NotContains(t, text, "wird ignoriert")
}

func TestRunChatRestart(t *testing.T) {
	agent, _ := newMockAgent(t, 3)
	in := strings.NewReader("Es regnet\n/restart\n")
	var out bytes.Buffer

	require.NoError(t, runChat(context.Background(), agent, in, &out, func(md string) string { return md }))

	text := out.String()
	assert.Contains(t, text, "--- neu gestartet ---")
	assert.Contains(t, text, "Rückfrage 1")
}

func TestRequestTimeoutCoversRetries(t *testing.T) {
	cfg := publisher.DefaultConfig()
	a := &app{cfg: cfg}
	p := cfg.RetryPolicy()
	assert.Greater(t, requestTimeout(a), 2*p.AttemptTimeout)

	cfg.LLM.TimeoutSeconds = 0
	assert.Zero(t, requestTimeout(&app{cfg: cfg}))
}
