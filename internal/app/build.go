package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ent0n29/intervue/internal/calls"
	"github.com/ent0n29/intervue/internal/config"
	"github.com/ent0n29/intervue/internal/events"
	"github.com/ent0n29/intervue/internal/httpapi"
	"github.com/ent0n29/intervue/internal/interview"
	"github.com/ent0n29/intervue/internal/mockai"
	"github.com/ent0n29/intervue/internal/observability"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Calls     *calls.Manager
	Store     interview.Store
	Publisher events.Publisher
	Metrics   *observability.Metrics
	StoreMode string

	// Cleanup should be called on shutdown to release external resources (DB, broker).
	Cleanup func() error
}

// Build wires the interview service from configuration.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	logger = observability.OrDiscard(logger)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := interview.NewStore(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("interview store init failed: %w", err)
	}

	publisher, err := events.New(ctx, cfg.NATSURL, cfg.NATSToken, logger.With("component", "events"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("event publisher init failed: %w", err)
	}

	callManager := calls.NewManager(cfg.CallInactivityTimeout)
	interviewer := mockai.New(mockai.Config{
		ReplyTone:    cfg.MockReplyToneDuration,
		ScoreBase:    cfg.MockEvaluationScoreBase,
		SpeechBudget: cfg.MockSpeechBudget,
		Logger:       logger.With("component", "mockai"),
	})

	api := httpapi.New(cfg, store, callManager, interviewer, publisher, metrics, logger.With("component", "httpapi"))
	// Chain metrics onto the server's own expire hook.
	callManager.SetExpireHook(func(c *calls.Call) {
		metrics.CallEvents.WithLabelValues("expired").Inc()
		api.ExpireCall(c)
	})

	cleanup := func() error {
		api.CloseCalls()
		publisher.Close()
		return store.Close()
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Calls:     callManager,
		Store:     store,
		Publisher: publisher,
		Metrics:   metrics,
		StoreMode: storeMode(cfg),
		Cleanup:   cleanup,
	}, nil
}

func storeMode(cfg config.Config) string {
	switch {
	case cfg.DatabaseURL != "":
		return "postgres"
	case cfg.SQLitePath != "":
		return "sqlite"
	default:
		return "in-memory"
	}
}
