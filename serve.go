package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"auto_news_interviewer/server"
)

const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		store, err := newSessionStore(cmd.Context(), a)
		if err != nil {
			return err
		}
		srv, err := server.New(a.agent, store, server.Options{
			Logger:  a.logger.Named("http"),
			Metrics: a.metrics,
			// The whole cascade can take every model attempt, plus some slack.
			RequestTimeout: requestTimeout(a),
		})
		if err != nil {
			return err
		}

		listen := a.cfg.ServerAddr
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			listen = addr
		}
		httpSrv := &http.Server{
			Addr:              listen,
			Handler:           srv.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			a.logger.Info("starting web server", zap.String("addr", listen))
			serverErrors <- httpSrv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case sig := <-shutdown:
			a.logger.Info("shutting down", zap.String("signal", sig.String()))
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := httpSrv.Shutdown(ctx); err != nil {
				a.logger.Warn("graceful shutdown incomplete", zap.Error(err))
				return httpSrv.Close()
			}
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (overrides server_addr)")
}

// newSessionStore uses Redis when a URL is configured, memory otherwise.
func newSessionStore(ctx context.Context, a *app) (server.SessionStore, error) {
	ttl := a.cfg.SessionTTL()
	if a.cfg.Session.RedisURL == "" {
		return server.NewMemoryStore(ttl), nil
	}
	client, err := server.DialRedis(ctx, a.cfg.Session.RedisURL)
	if err != nil {
		return nil, err
	}
	a.logger.Info("sessions stored in redis", zap.Duration("ttl", ttl))
	return server.NewRedisStore(client, server.WithTTL(ttl)), nil
}

// requestTimeout covers two model calls (refinement and article), each with
// its full retry budget.
func requestTimeout(a *app) time.Duration {
	p := a.cfg.RetryPolicy()
	if p.AttemptTimeout <= 0 {
		return 0
	}
	return 2*time.Duration(p.MaxAttempts)*(p.AttemptTimeout+p.MaxInterval) + 10*time.Second
}
