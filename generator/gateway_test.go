package generator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_news_interviewer/metrics"
)

func fastPolicy(attempts uint) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestGatewayRetriesThenSucceeds(t *testing.T) {
	llm := script().fail(errors.New("502")).then("   ").then("Antwort")
	gw, err := NewGateway(llm, fastPolicy(3), nil, metrics.New(prometheus.NewRegistry()))
	require.NoError(t, err)

	out, err := gw.Invoke(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "Antwort", out)

	calls := llm.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, Prompt{System: "sys", User: "user"}, calls[2])
}

func TestGatewayGivesUp(t *testing.T) {
	llm := script().fail(errors.New("a")).fail(errors.New("b")).then("too late")
	gw, err := NewGateway(llm, fastPolicy(2), nil, nil)
	require.NoError(t, err)

	_, err = gw.Invoke(context.Background(), "sys", "user")
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Len(t, llm.calls(), 2)
}

type blockingLLM struct{}

func (blockingLLM) Complete(ctx context.Context, _ Prompt) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestGatewayAttemptTimeout(t *testing.T) {
	policy := fastPolicy(2)
	policy.AttemptTimeout = 10 * time.Millisecond
	gw, err := NewGateway(blockingLLM{}, policy, nil, nil)
	require.NoError(t, err)

	_, err = gw.Invoke(context.Background(), "sys", "user")
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestGatewayStopsOnCancel(t *testing.T) {
	gw, err := NewGateway(blockingLLM{}, fastPolicy(5), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = gw.Invoke(ctx, "sys", "user")
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewGatewayRequiresClient(t *testing.T) {
	_, err := NewGateway(nil, DefaultRetryPolicy(), nil, nil)
	assert.Error(t, err)
}
