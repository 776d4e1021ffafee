package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/harrisonrobin/planhub/pkg/config"
	"github.com/harrisonrobin/planhub/pkg/google"
	"github.com/harrisonrobin/planhub/pkg/index"
	"github.com/harrisonrobin/planhub/pkg/intent"
	"github.com/harrisonrobin/planhub/pkg/logging"
	"github.com/harrisonrobin/planhub/pkg/mail"
	"github.com/harrisonrobin/planhub/pkg/naturaldate"
	"github.com/harrisonrobin/planhub/pkg/notifier"
	"github.com/harrisonrobin/planhub/pkg/planner"
	"github.com/harrisonrobin/planhub/pkg/retry"
	"github.com/harrisonrobin/planhub/pkg/store"
	"github.com/harrisonrobin/planhub/pkg/store/airtable"
	"github.com/harrisonrobin/planhub/pkg/store/neo4jstore"
	"github.com/harrisonrobin/planhub/pkg/store/sqlstore"
)

// app holds the wired components for one command run.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	loc      *time.Location
	store    store.Store
	planner  *planner.Service
	notifier *notifier.Notifier
	missing  map[string]error
}

// loadApp reads the config and builds every component. Subsystems with
// missing credentials are disabled with a warning; only the store is
// required.
func loadApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, loc: loc, missing: cfg.Missing()}
	for name, err := range a.missing {
		log.Warn("subsystem disabled", "subsystem", name, "reason", err)
	}
	if err, ok := a.missing["store"]; ok {
		return nil, err
	}

	a.store, err = openStore(ctx, cfg, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}

	model, err := a.newModel(ctx)
	if err != nil {
		log.Warn("language model unavailable", "error", err)
	}
	attempts := cfg.LLM.Attempts
	if attempts < 1 {
		attempts = 1
	}
	policy := retry.Default
	policy.Attempts = attempts
	extractor := intent.NewExtractor(model,
		intent.WithTimeout(cfg.LLM.Timeout),
		intent.WithRetry(policy),
		intent.WithLogger(log))

	opts := []planner.Option{planner.WithLogger(log)}
	if mirror := a.newMirror(ctx); mirror != nil {
		opts = append(opts, planner.WithMirror(mirror))
	}
	a.planner = planner.New(a.store, extractor, naturaldate.New(loc), opts...)

	a.notifier, err = notifier.New(a.store, a.newSender(ctx), nil, notifier.Config{
		Interval:          cfg.Notifier.Interval,
		Window:            cfg.Notifier.Window,
		Timeout:           cfg.Notifier.Timeout,
		BatchSize:         cfg.Notifier.BatchSize,
		Location:          loc,
		FallbackRecipient: cfg.Mail.FallbackTo,
	}, log)
	if err != nil {
		a.store.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() error {
	return errors.Join(a.notifier.Stop(), a.store.Close())
}

func openStore(ctx context.Context, cfg *config.Config, loc *time.Location) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(cfg.StorePath())
	case "sqlite":
		return sqlstore.Open(sqlstore.DriverSQLite, cfg.StorePath())
	case "postgres":
		return sqlstore.Open(sqlstore.DriverPostgres, cfg.Store.DSN)
	case "neo4j":
		n := cfg.Store.Neo4j
		return neo4jstore.Open(ctx, n.URI, n.User, n.Password, n.Database)
	case "airtable":
		at := cfg.Store.Airtable
		return airtable.New(airtable.Options{
			APIKey:   at.APIKey,
			BaseID:   at.BaseID,
			Table:    at.Table,
			Location: loc,
		})
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// newModel returns nil when no API key is configured.
func (a *app) newModel(ctx context.Context) (intent.Model, error) {
	if _, ok := a.missing["llm"]; ok {
		return nil, nil
	}
	llm := a.cfg.LLM
	switch llm.Provider {
	case "openai":
		return intent.NewOpenAI(llm.APIKey, llm.Model, llm.BaseURL), nil
	default:
		g, err := google.NewGemini(ctx, llm.APIKey, llm.Model)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
}

// newSender falls back to logging reminders when the configured transport
// cannot be built.
func (a *app) newSender(ctx context.Context) mail.Sender {
	fallback := mail.LogSender{Log: a.log}
	if _, ok := a.missing["mail"]; ok {
		return fallback
	}
	m := a.cfg.Mail
	switch m.Transport {
	case "smtp":
		s, err := mail.NewSMTP(mail.SMTPConfig{
			Host:     m.SMTP.Host,
			Port:     m.SMTP.Port,
			Username: m.SMTP.Username,
			Password: m.SMTP.Password,
			From:     m.From,
			TLS:      m.SMTP.TLS,
			Timeout:  m.SMTP.Timeout,
		})
		if err != nil {
			a.log.Warn("smtp unavailable, reminders will only be logged", "error", err)
			return fallback
		}
		return s
	case "gmail":
		g, err := google.NewGmail(ctx, a.cfg.Dir, m.From)
		if err != nil {
			a.log.Warn("gmail unavailable, reminders will only be logged", "error", err)
			return fallback
		}
		return g
	}
	return fallback
}

// newMirror returns nil when calendar sync is disabled or not authorized.
func (a *app) newMirror(ctx context.Context) planner.Mirror {
	if !a.cfg.Calendar.Enabled {
		return nil
	}
	idx, err := index.NewEventIndex(filepath.Join(a.cfg.Dir, index.FileName))
	if err != nil {
		a.log.Warn("event index unreadable, starting empty", "error", err)
		idx, _ = index.NewEventIndex("")
	}
	client, err := google.NewClient(ctx, a.cfg.Dir, a.cfg.Calendar.Name, idx, a.log)
	if err != nil {
		a.log.Warn("calendar sync disabled", "error", err)
		return nil
	}
	return client
}
