package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"auto_news_interviewer/metrics"
)

// RetryPolicy bounds how hard the Gateway tries before reporting the model unavailable.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// AttemptTimeout limits one attempt; zero leaves it to the caller's context.
	AttemptTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		AttemptTimeout:  90 * time.Second,
	}
}

// Gateway sends one system and one user instruction to the model and returns the
// reply. Nothing is remembered between calls.
type Gateway struct {
	llm     LLMClient
	policy  RetryPolicy
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewGateway(llm LLMClient, policy RetryPolicy, logger *zap.Logger, m *metrics.Metrics) (*Gateway, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		llm:     llm,
		policy:  policy,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("auto_news_interviewer/generator"),
	}, nil
}

// Invoke blocks until the model answers, the attempts are used up, or ctx ends.
// Every failure wraps ErrModelUnavailable.
func (g *Gateway) Invoke(ctx context.Context, system, user string) (string, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.invoke")
	defer span.End()

	attempt := 0
	op := func() (string, error) {
		attempt++
		text, err := g.attempt(ctx, Prompt{System: system, User: user})
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		g.logger.Warn("model call failed",
			zap.Int("attempt", attempt),
			zap.Uint("max_attempts", g.policy.MaxAttempts),
			zap.Error(err),
		)
		return "", err
	}

	b := backoff.NewExponentialBackOff()
	if g.policy.InitialInterval > 0 {
		b.InitialInterval = g.policy.InitialInterval
	}
	if g.policy.MaxInterval > 0 {
		b.MaxInterval = g.policy.MaxInterval
	}

	text, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(g.policy.MaxAttempts),
	)
	span.SetAttributes(attribute.Int("attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model unavailable")
		return "", fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return text, nil
}

func (g *Gateway) attempt(ctx context.Context, prompt Prompt) (string, error) {
	if g.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.policy.AttemptTimeout)
		defer cancel()
	}
	start := time.Now()
	text, err := g.llm.Complete(ctx, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("model returned an empty reply")
	}
	g.metrics.ModelCall(time.Since(start), err)
	return text, err
}
