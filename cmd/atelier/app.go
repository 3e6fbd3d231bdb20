package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"atelier/internal/audit"
	"atelier/internal/config"
	"atelier/internal/events"
	"atelier/internal/logging"
	"atelier/internal/persist"
	"atelier/internal/ratelimit"
	"atelier/internal/session"
	"atelier/internal/signing"
	"atelier/internal/types"
)

// app is the composition root: everything a command needs, wired once.
type app struct {
	cfg      *config.Config
	router   *events.Router
	top      *session.Top
	pipeline *persist.Pipeline
	limiter  *ratelimit.Limiter
	audit    *audit.Store
	watcher  *persist.Watcher
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := logging.Initialize(cfg.StateDir, logging.Options{
		DebugMode:  cfg.Logging.DebugMode || verbose,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
		JSONFormat: cfg.Logging.JSONFormat,
	}); err != nil {
		logger.Warn("category logging unavailable", zap.Error(err))
	}

	store, err := audit.NewStore(filepath.Join(cfg.StateDir, "audit.db"))
	if err != nil {
		logger.Warn("audit store unavailable, continuing without it", zap.Error(err))
		store = nil
	}

	router := events.NewRouter()
	top := session.NewTop(cfg, router, store, clientFactory(cfg))

	signer := signing.NewSigner(cfg.StateDir)
	fileStore, err := persist.NewStore(cfg.Persistence.SessionsDir, signer, cfg.Persistence.MaxFileSizeBytes)
	if err != nil {
		return nil, err
	}

	sweep, _ := cfg.SweepInterval()
	window, _ := cfg.ResumeWindow()
	limiter := ratelimit.NewLimiter(sweep)

	watcher, err := persist.NewWatcher(cfg.Persistence.SessionsDir, router)
	if err != nil {
		logger.Warn("sessions directory watcher unavailable", zap.Error(err))
	}

	return &app{
		cfg:      cfg,
		router:   router,
		top:      top,
		pipeline: persist.NewPipeline(top, fileStore, limiter, cfg.RateLimit.ResumeLimit, window),
		limiter:  limiter,
		audit:    store,
		watcher:  watcher,
	}, nil
}

// close tears everything down in dependency order.
func (a *app) close() {
	a.top.Shutdown()
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	a.limiter.Stop()
	if a.audit != nil {
		_ = a.audit.Close()
	}
	logging.CloseAll()
}

// sessionConfig derives the per-session model parameters from global config.
func (a *app) sessionConfig() types.SessionConfig {
	return types.SessionConfig{
		Provider:    a.cfg.LLM.Provider,
		Model:       a.cfg.LLM.Model,
		Temperature: a.cfg.LLM.Temperature,
		MaxTokens:   a.cfg.LLM.MaxTokens,
	}
}

// clientFactory picks the stream client for new sessions. Provider clients
// implement session.StreamClient; the built-in offline client echoes the
// prompt back and exists so the whole lifecycle works without network or
// credentials.
func clientFactory(cfg *config.Config) session.ClientFactory {
	return func(sess types.Session) (session.StreamClient, error) {
		switch cfg.LLM.Provider {
		case "offline", "scripted", "":
			return &echoClient{}, nil
		default:
			// TODO(provider): wire the zai HTTP client once its streaming API
			// settles; until then every provider falls back to offline mode.
			return &echoClient{}, nil
		}
	}
}

// echoClient is the offline StreamClient: it repeats the prompt in a few
// chunks so streaming, persistence, and resume are all exercisable end to end.
type echoClient struct{}

func (echoClient) Stream(ctx context.Context, prompt string, h session.StreamHandler) error {
	reply := fmt.Sprintf("[offline] you said: %s", prompt)
	for _, word := range strings.SplitAfter(reply, " ") {
		if err := ctx.Err(); err != nil {
			return err
		}
		if h.OnChunk != nil {
			h.OnChunk(word)
		}
	}
	return nil
}
