package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"auto_news_interviewer/generator"
	"auto_news_interviewer/metrics"
)

const defaultRequestTimeout = 120 * time.Second

type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
	// RequestTimeout bounds one request including all model calls it makes.
	RequestTimeout time.Duration
}

// Server is the JSON front end of the interview. It owns no interview logic:
// every request loads a session, hands it to the Agent and stores the result.
type Server struct {
	agent    *generator.Agent
	store    SessionStore
	locks    *lockTable
	logger   *zap.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	timeout  time.Duration
	validate *validator.Validate
}

func New(agent *generator.Agent, store SessionStore, opts Options) (*Server, error) {
	if agent == nil {
		return nil, errors.New("generator agent required")
	}
	if store == nil {
		return nil, errors.New("session store required")
	}
	s := &Server{
		agent:    agent,
		store:    store,
		locks:    newLockTable(),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		timeout:  opts.RequestTimeout,
		validate: validator.New(),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.timeout <= 0 {
		s.timeout = defaultRequestTimeout
	}
	return s, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleSessionCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleSessionGet)
			r.Delete("/", s.handleSessionDelete)
			r.Post("/messages", s.handleMessage)
			r.Post("/restart", s.handleRestart)
			r.Get("/article", s.handleArticle)
		})
	})
	return r
}

// --- Views ---

type messageView struct {
	Role    generator.Role `json:"role"`
	Content string         `json:"content"`
}

type sessionView struct {
	SessionID   string             `json:"session_id"`
	State       string             `json:"state"`
	Steps       int                `json:"steps"`
	Messages    []messageView      `json:"messages"`
	ShowArticle bool               `json:"show_article"`
	Article     *generator.Article `json:"article,omitempty"`
}

func newSessionView(out generator.Outcome) sessionView {
	msgs := make([]messageView, 0, len(out.Transcript))
	for _, t := range out.Transcript {
		msgs = append(msgs, messageView{Role: t.Role(), Content: t.Content()})
	}
	return sessionView{
		SessionID:   out.SessionID,
		State:       out.State.String(),
		Steps:       out.Steps,
		Messages:    msgs,
		ShowArticle: out.ShowArticle,
		Article:     out.Article,
	}
}

// Blank text is accepted and ignored by the Agent, so only the size is checked.
type messageReq struct {
	Text string `json:"text" validate:"max=20000"`
}

// --- Handlers ---

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	id := uuid.NewString()
	var view sessionView
	err := s.locks.with(id, func() error {
		sess, err := s.agent.NewSession(ctx, id)
		if err != nil {
			return err
		}
		if err := s.store.Save(ctx, sess); err != nil {
			return err
		}
		view = newSessionView(sess.Outcome(true))
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.SessionOpened()
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var view sessionView
	err := s.locks.with(id, func() error {
		sess, err := s.store.Load(r.Context(), id)
		if err != nil {
			return err
		}
		view = newSessionView(sess.Outcome(false))
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req messageReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	var view sessionView
	err := s.locks.with(id, func() error {
		sess, err := s.store.Load(ctx, id)
		if err != nil {
			return err
		}
		out, err := s.agent.Submit(ctx, sess, req.Text)
		if err != nil {
			return err
		}
		if out.Changed {
			if err := s.store.Save(ctx, sess); err != nil {
				return err
			}
		}
		view = newSessionView(out)
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	var view sessionView
	err := s.locks.with(id, func() error {
		sess, err := s.store.Load(ctx, id)
		if err != nil {
			return err
		}
		if err := s.agent.Restart(ctx, sess); err != nil {
			return err
		}
		if err := s.store.Save(ctx, sess); err != nil {
			return err
		}
		view = newSessionView(sess.Outcome(true))
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.locks.with(id, func() error {
		return s.store.Delete(r.Context(), id)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.SessionClosed()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var article *generator.Article
	err := s.locks.with(id, func() error {
		sess, err := s.store.Load(r.Context(), id)
		if err != nil {
			return err
		}
		article = sess.Article
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if article == nil {
		writeJSON(w, http.StatusConflict, errorBody{Error: "article not written yet"})
		return
	}
	writeJSON(w, http.StatusOK, article)
}

// --- Helpers ---

type errorBody struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, generator.ErrModelUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("session_id", chi.URLParam(r, "id")),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
