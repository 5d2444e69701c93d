// Package api provides the HTTP service surface: fact evaluation, rule
// management, and engine lifecycle.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/solatis/factkeeper/internal/core/config"
	"github.com/solatis/factkeeper/internal/core/db"
	"github.com/solatis/factkeeper/internal/event"
	"github.com/solatis/factkeeper/internal/metrics"
	"github.com/solatis/factkeeper/internal/rules"
)

/*
 * Service orchestration.
 *
 * The active engine is held behind an atomic pointer. Rule mutations write
 * to the store first, then rebuild a fresh engine from the store and swap
 * it in; in-flight evaluations keep the engine they started with, so a
 * run never observes a half-updated rule set. The reload mutex serializes
 * rebuilds, not evaluations.
 */

// Service is the orchestration layer between HTTP handlers and the rule
// engine, store, and event hub.
type Service struct {
	cfg     *config.ServerConfig
	store   *db.RuleStore
	hub     *event.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger

	registry *rules.Registry
	scripts  *rules.ScriptEnv
	compile  rules.CompileOptions

	engine   atomic.Pointer[rules.Engine]
	reloadMu sync.Mutex
}

// NewService wires the service and loads the initial engine from the store.
func NewService(cfg *config.ServerConfig, store *db.RuleStore, hub *event.Hub, m *metrics.Metrics, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if hub == nil {
		return nil, fmt.Errorf("hub cannot be nil")
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	var scripts *rules.ScriptEnv
	if cfg.ScriptsEnabled {
		env, err := rules.NewScriptEnv(rules.ScriptOptions{
			CostLimit: cfg.ScriptCostLimit,
			Timeout:   cfg.ScriptTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("script environment: %w", err)
		}
		scripts = env
	}

	s := &Service{
		cfg:      cfg,
		store:    store,
		hub:      hub,
		metrics:  m,
		logger:   logger,
		registry: rules.NewRegistry(),
		scripts:  scripts,
		compile: rules.CompileOptions{
			Paths: rules.PathOptions{ExtendedSyntax: cfg.ExtendedPaths},
		},
	}

	if err := s.Reload(); err != nil {
		return nil, fmt.Errorf("initial rule load: %w", err)
	}
	return s, nil
}

// Registry exposes the operator registry so hosts can install custom
// operators before the service starts evaluating.
func (s *Service) Registry() *rules.Registry { return s.registry }

// Engine returns the active engine.
func (s *Service) Engine() *rules.Engine { return s.engine.Load() }

// compiler builds a compiler against the current registry and options.
func (s *Service) compiler() *rules.Compiler {
	return rules.NewCompiler(s.registry, s.scripts, s.compile)
}

// Reload rebuilds the engine from enabled stored rules and swaps it in.
// A stored rule that no longer compiles is skipped with an error log so
// one broken row cannot take the whole rule set offline.
func (s *Service) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	stored, err := s.store.ListEnabled()
	if err != nil {
		return err
	}

	engine := rules.NewEngine(s.compiler())
	for _, row := range stored {
		def, err := rules.ParseDefinition(row.Definition)
		if err != nil {
			s.logger.Error("skipping stored rule that fails to parse",
				"rule_id", row.RuleID,
				"name", row.Name,
				"error", err)
			continue
		}
		if err := s.hub.Validate(def.Event); err != nil {
			s.logger.Error("skipping stored rule with undeliverable event",
				"rule_id", row.RuleID,
				"name", row.Name,
				"error", err)
			continue
		}
		if _, err := engine.AddRule(def); err != nil {
			s.logger.Error("skipping stored rule that fails to compile",
				"rule_id", row.RuleID,
				"name", row.Name,
				"error", err)
			continue
		}
	}

	s.engine.Store(engine)
	s.metrics.RulesLoaded.Set(float64(engine.Len()))
	s.logger.Info("rule engine loaded", "rules", engine.Len())
	return nil
}

// Routes returns the authenticated route table. healthz and metrics stay
// outside so the server can mount them unauthenticated.
func (s *Service) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/evaluate", s.handleEvaluate)
	mux.HandleFunc("POST /v1/rules", s.handleCreateRule)
	mux.HandleFunc("GET /v1/rules", s.handleListRules)
	mux.HandleFunc("GET /v1/rules/{id}", s.handleGetRule)
	mux.HandleFunc("PUT /v1/rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /v1/rules/{id}", s.handleDeleteRule)
	return mux
}
