package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"examreviewer/internal/util"
	"examreviewer/pkg/ai"
	"examreviewer/pkg/storage"
	"examreviewer/pkg/store"
)

const (
	defaultMaxUploadBytes   = 50 * 1024 * 1024
	defaultTargetLanguage   = "Chinese"
	defaultSummaryMaxTokens = 3000
)

// Config holds runtime configuration for the core application.
type Config struct {
	Store     store.Store
	Objects   storage.ObjectStore
	Generator ai.Generator

	MaxUploadBytes        int64
	HistoryLimit          int
	MaxTokens             int
	SummaryMaxTokens      int
	DefaultTargetLanguage string

	// Now overrides the clock in tests.
	Now func() time.Time
}

// App is the access façade over the stores, the object store and the model.
type App struct {
	store     store.Store
	objects   storage.ObjectStore
	generator ai.Generator

	maxUploadBytes   int64
	historyLimit     int
	maxTokens        int
	summaryMaxTokens int
	targetLanguage   string
	now              func() time.Time

	summaries singleflight.Group
}

// New constructs the application from already-opened collaborators.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("generator required")
	}
	a := &App{
		store:            cfg.Store,
		objects:          cfg.Objects,
		generator:        cfg.Generator,
		maxUploadBytes:   cfg.MaxUploadBytes,
		historyLimit:     cfg.HistoryLimit,
		maxTokens:        cfg.MaxTokens,
		summaryMaxTokens: cfg.SummaryMaxTokens,
		targetLanguage:   cfg.DefaultTargetLanguage,
		now:              cfg.Now,
	}
	if a.maxUploadBytes <= 0 {
		a.maxUploadBytes = defaultMaxUploadBytes
	}
	if a.historyLimit <= 0 {
		a.historyLimit = store.DefaultHistoryLimit
	}
	if a.maxTokens <= 0 {
		a.maxTokens = ai.DefaultMaxTokens
	}
	if a.summaryMaxTokens <= 0 {
		a.summaryMaxTokens = defaultSummaryMaxTokens
	}
	if a.targetLanguage == "" {
		a.targetLanguage = defaultTargetLanguage
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}
	return a, nil
}

// MaxUploadBytes is the largest accepted PDF.
func (a *App) MaxUploadBytes() int64 { return a.maxUploadBytes }

func (a *App) logger(ctx context.Context) *slog.Logger {
	return util.LoggerFromContext(ctx)
}
