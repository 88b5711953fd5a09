package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"auto_news_interviewer/generator"
	"auto_news_interviewer/logging"
	"auto_news_interviewer/metrics"
	"auto_news_interviewer/publisher"
)

// app bundles what both front ends share.
type app struct {
	cfg     publisher.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	agent   *generator.Agent

	shutdownTracing func(context.Context) error
}

func buildApp(cmd *cobra.Command, console bool) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := publisher.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{File: cfg.Log.File, Level: cfg.Log.Level, Console: console})
	if err != nil {
		return nil, err
	}
	shutdownTracing, err := logging.InitTracing(cfg.TraceFile)
	if err != nil {
		return nil, err
	}

	templates, err := generator.LoadTemplates(cfg.PromptsDir)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	llm, err := generator.NewLLMFromSettings(cfg.LLMSettings())
	if err != nil {
		return nil, err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	gateway, err := generator.NewGateway(llm, cfg.RetryPolicy(), logger.Named("gateway"), m)
	if err != nil {
		return nil, err
	}
	writer := publisher.NewArticleWriter(cfg.Articles, logger.Named("publisher"))
	agent, err := generator.NewAgent(templates, gateway,
		generator.WithSink(writer),
		generator.WithLogger(logger.Named("agent")),
		generator.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("interviewer configured",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
		zap.String("articles_dir", cfg.Articles.OutputDir),
	)
	return &app{
		cfg:             cfg,
		logger:          logger,
		metrics:         m,
		agent:           agent,
		shutdownTracing: shutdownTracing,
	}, nil
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownTracing(ctx); err != nil {
		a.logger.Warn("tracing shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}
