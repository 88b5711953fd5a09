package generator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"auto_news_interviewer/metrics"
)

// CompletionSignal in a refinement reply means the model has heard enough.
// The match is a case-sensitive substring test anywhere in the reply.
const CompletionSignal = "TASK DONE"

// ArticleAnnouncement is shown while the article is being written. It is not
// part of the material the article is written from.
const ArticleAnnouncement = "Okay, ich schreibe den Artikel..."

const articleDateLayout = "02.01.2006"

// PersistRequest carries everything written to the article file.
type PersistRequest struct {
	SessionID   string
	Article     string
	RelevantLog string
	FullLog     string
	Timestamp   time.Time
}

// ArticleSink stores a finished article and returns where it went.
type ArticleSink interface {
	Persist(ctx context.Context, req PersistRequest) (string, error)
}

// Agent 驱动采访状态机：欢迎、追问、成稿、落盘。
type Agent struct {
	templates *Templates
	gateway   *Gateway
	sink      ArticleSink
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type AgentOption func(*Agent)

// WithSink sets where finished articles are written. Without one, articles
// only live in the session.
func WithSink(sink ArticleSink) AgentOption {
	return func(a *Agent) { a.sink = sink }
}

func WithClock(now func() time.Time) AgentOption {
	return func(a *Agent) { a.now = now }
}

func WithLogger(logger *zap.Logger) AgentOption {
	return func(a *Agent) { a.logger = logger }
}

func WithMetrics(m *metrics.Metrics) AgentOption {
	return func(a *Agent) { a.metrics = m }
}

func NewAgent(templates *Templates, gateway *Gateway, opts ...AgentOption) (*Agent, error) {
	if templates == nil {
		return nil, errors.New("templates are required")
	}
	if gateway == nil {
		return nil, errors.New("model gateway is required")
	}
	a := &Agent{
		templates: templates,
		gateway:   gateway,
		now:       time.Now,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("auto_news_interviewer/generator"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NewSession creates a session and runs the greeting. On error no session is returned.
func (a *Agent) NewSession(ctx context.Context, id string) (*Session, error) {
	s := newSession(id, a.now())
	if err := a.begin(s); err != nil {
		return nil, err
	}
	a.logger.Info("session started", zap.String("session_id", id))
	return s, nil
}

// Restart throws the session's contents away and greets again under the same ID.
func (a *Agent) Restart(ctx context.Context, s *Session) error {
	fresh := newSession(s.ID, a.now())
	if err := a.begin(fresh); err != nil {
		return err
	}
	*s = *fresh
	a.logger.Info("session restarted", zap.String("session_id", s.ID))
	return nil
}

// Submit processes one user message. Blank input and input after the article
// is written are ignored. The session is only changed when the whole step,
// including a possible article cascade, succeeds.
func (a *Agent) Submit(ctx context.Context, s *Session, text string) (Outcome, error) {
	if s.Done() || strings.TrimSpace(text) == "" {
		return s.Outcome(false), nil
	}

	ctx, span := a.tracer.Start(ctx, "agent.submit", trace.WithAttributes(
		attribute.String("session_id", s.ID),
		attribute.String("state", s.State.String()),
	))
	defer span.End()

	next := s.clone()
	if next.State == StateBegin {
		if err := a.begin(next); err != nil {
			return s.Outcome(false), err
		}
	}
	if err := a.refine(ctx, next, text); err != nil {
		span.RecordError(err)
		a.logger.Error("submission failed",
			zap.String("session_id", s.ID),
			zap.Stringer("state", s.State),
			zap.Error(err),
		)
		return s.Outcome(false), err
	}
	next.UpdatedAt = a.now()
	*s = *next
	return s.Outcome(true), nil
}

func (a *Agent) begin(s *Session) error {
	for _, name := range []string{TemplateWelcome, TemplateWhat} {
		msg, err := a.templates.Render(name, nil)
		if err != nil {
			return err
		}
		s.Log.Append(assistantTurn(msg), false)
	}
	return s.enter(StateCheckForMore)
}

// refine handles one round in CheckForMore and cascades into the article when
// the model signals completion.
func (a *Agent) refine(ctx context.Context, s *Session, text string) error {
	if s.State != StateCheckForMore {
		return fmt.Errorf("cannot take input in state %s", s.State)
	}
	a.metrics.TurnProcessed(s.State.String())
	s.Log.Append(userTurn(text), true)
	s.Steps++

	reply, err := a.ask(ctx, TemplateRefinement, map[string]string{
		"user_texts": s.Log.Render(Relevant),
		"steps":      strconv.Itoa(s.Steps),
	})
	if err != nil {
		return err
	}
	if !strings.Contains(reply, CompletionSignal) {
		s.Log.Append(assistantTurn(reply), true)
		a.logger.Debug("refinement round",
			zap.String("session_id", s.ID),
			zap.Int("steps", s.Steps),
		)
		return nil
	}

	a.logger.Info("model signalled enough material",
		zap.String("session_id", s.ID),
		zap.Int("steps", s.Steps),
	)
	if err := s.enter(StateWriteArticle); err != nil {
		return err
	}
	return a.writeArticle(ctx, s)
}

func (a *Agent) writeArticle(ctx context.Context, s *Session) error {
	s.Log.Append(assistantTurn(ArticleAnnouncement), false)

	now := a.now()
	reply, err := a.ask(ctx, TemplateWriteArticle, map[string]string{
		"user_texts": s.Log.Render(Relevant),
		"date":       now.Format(articleDateLayout),
	})
	if err != nil {
		return err
	}
	article := PostProcess(reply, now)
	s.Log.Append(assistantTurn(reply), false)

	article.Path = a.persist(ctx, s, article, now)
	s.Article = &article
	return s.enter(StateDone)
}

// persist writes the article file. Failure is logged and tolerated: the
// article stays in the session either way.
func (a *Agent) persist(ctx context.Context, s *Session, article Article, now time.Time) string {
	if a.sink == nil {
		return ""
	}
	path, err := a.sink.Persist(ctx, PersistRequest{
		SessionID:   s.ID,
		Article:     article.Text,
		RelevantLog: s.Log.Render(Relevant),
		FullLog:     s.Log.Render(Full),
		Timestamp:   now,
	})
	if err != nil {
		a.metrics.ArticleFinished(false)
		a.logger.Error("article not persisted",
			zap.String("session_id", s.ID),
			zap.Error(err),
		)
		return ""
	}
	a.metrics.ArticleFinished(true)
	a.logger.Info("article written", zap.String("session_id", s.ID), zap.String("path", path))
	return path
}

func (a *Agent) ask(ctx context.Context, template string, vars map[string]string) (string, error) {
	system, err := a.templates.Render(TemplateSystem, nil)
	if err != nil {
		return "", err
	}
	user, err := a.templates.Render(template, vars)
	if err != nil {
		return "", err
	}
	a.logger.Debug("invoking model", zap.String("template", template))
	return a.gateway.Invoke(ctx, system, user)
}
