// Package server wires the wall-bounce components (registry, orchestrator,
// durable dispatch, tool governance, metrics, store, vault) into one
// process. Construction fails fast with a wrapped error rather than
// panicking, and shutdown tears components down in the reverse order they
// were started.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wombat2006/techdev-sub004/internal/apperr"
	"github.com/wombat2006/techdev-sub004/internal/config"
	"github.com/wombat2006/techdev-sub004/internal/durable"
	"github.com/wombat2006/techdev-sub004/internal/health"
	"github.com/wombat2006/techdev-sub004/internal/logging"
	"github.com/wombat2006/techdev-sub004/internal/metrics"
	"github.com/wombat2006/techdev-sub004/internal/model"
	"github.com/wombat2006/techdev-sub004/internal/orchestrator"
	"github.com/wombat2006/techdev-sub004/internal/registry"
	"github.com/wombat2006/techdev-sub004/internal/store"
	"github.com/wombat2006/techdev-sub004/internal/toolgov"
	"github.com/wombat2006/techdev-sub004/internal/tracing"
	"github.com/wombat2006/techdev-sub004/internal/vault"
)

// Server bundles every wired-up component. Handlers in internal/httpapi
// read from it through the narrow accessors below.
type Server struct {
	cfg    config.Config
	logger *slog.Logger

	metrics    *metrics.Registry
	store      store.Store
	vault      *vault.Vault
	health     *health.Tracker
	prober     *health.Prober
	registry   *registry.Registry
	dispatcher *durable.Dispatcher
	durableMgr *durable.Manager

	otelShutdown func(context.Context) error
}

// NewServer constructs and wires every component described by cfg. On any
// initialization error it returns a wrapped error; it never panics.
func NewServer(cfg config.Config) (*Server, error) {
	logger := slog.Default()

	var otelShutdown func(context.Context) error
	if cfg.OTelEnabled {
		shutdown, err := tracing.Setup(tracing.Config{
			ServiceName: cfg.OTelServiceName,
			Endpoint:    cfg.OTelEndpoint,
			Enabled:     true,
		})
		if err != nil {
			return nil, fmt.Errorf("tracing setup: %w", err)
		}
		otelShutdown = shutdown
	}

	m := metrics.New()

	var db store.Store
	if cfg.DBDSN != "" {
		sq, err := store.NewSQLite(cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if err := sq.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		db = sq
	}

	v, err := vault.New(cfg.VaultEnabled)
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}
	if cfg.VaultEnabled && db != nil {
		if salt, blob, err := db.LoadVaultBlob(context.Background()); err == nil && salt != nil {
			v.SetSalt(salt)
			if err := v.Import(blob); err != nil {
				logger.Warn("failed to import persisted vault blob", slog.String("error", err.Error()))
			}
		}
	}
	if cfg.VaultEnabled && cfg.VaultPassword != "" {
		logger.Warn("auto-unlocking vault from WALLBOUNCE_VAULT_PASSWORD environment variable; " +
			"this is visible to anything that can read this process's environment")
		if err := v.Unlock([]byte(cfg.VaultPassword)); err != nil {
			return nil, fmt.Errorf("auto-unlock vault: %w", err)
		}
	}

	ht := health.NewTracker(health.DefaultConfig(), health.WithOnUpdate(func(providerID string, state health.State) {
		var score float64
		switch state {
		case health.StateHealthy:
			score = 2
		case health.StateDegraded:
			score = 1
		default: // StateDown
			score = 0
		}
		m.ProviderHealthState.WithLabelValues(providerID).Set(score)
	}))

	b := registry.NewBuilder()
	probeTargets := loadCredentialsFile(cfg.CredentialsFile, b, v, db, time.Duration(cfg.DefaultDeadlineMS)*time.Millisecond, logger)
	reg, err := b.Build(ht)
	if err != nil {
		return nil, fmt.Errorf("build provider registry: %w", err)
	}

	prober := health.NewProber(health.DefaultProberConfig(), ht, probeTargets, logger)
	prober.Start()

	toolCatalog := loadToolCatalog(cfg.ToolCatalogFile, db, logger)
	toolMgr := toolgov.NewConfigManager(toolCatalog)
	approvals := toolgov.NewApprovalManager(time.Duration(cfg.ApprovalTTLSeconds) * time.Second)
	approvals.OnTransition(func(entry toolgov.AuditEntry) {
		m.ApprovalsTotal.WithLabelValues(string(entry.To)).Inc()
		// The callback runs under the approval manager's lock, so the request
		// lookup (which takes that lock) and the log line run on their own
		// goroutine.
		go func() {
			toolLabel, operation := "", ""
			if req, ok := approvals.Get(entry.ID); ok {
				toolLabel, operation = req.ToolLabel, req.Operation
			}
			logger.Info("tool_approval_transition", logging.ApprovalAttrs(
				entry.ID, toolLabel, operation, string(entry.From), string(entry.To), entry.Decider)...)
		}()
		if db != nil {
			_ = db.LogApprovalAudit(context.Background(), store.ApprovalAuditRecord{
				RequestID: entry.ID, FromState: string(entry.From),
				ToState: string(entry.To), Decider: entry.Decider, Notes: entry.Notes, At: entry.At,
			})
		}
	})
	approvals.OnPendingChange(func(pending int) {
		m.PendingApprovals.Set(float64(pending))
	})
	exec := toolgov.NewExecutor(approvals)
	tools := &orchestrator.ToolGov{Config: toolMgr, Approvals: approvals, Exec: exec}

	orch := orchestrator.New(reg, m, tools, cfg.MaxConcurrent)

	var durMgr *durable.Manager
	if cfg.TemporalEnabled {
		acts := &durable.Activities{Registry: reg}
		mgr, err := durable.New(durable.Config{
			HostPort: cfg.TemporalHostPort, Namespace: cfg.TemporalNamespace, TaskQueue: cfg.TemporalTaskQueue,
		}, acts)
		if err != nil {
			logger.Warn("temporal unavailable, running in-process only", slog.String("error", err.Error()))
		} else if err := mgr.Start(); err != nil {
			logger.Warn("temporal worker start failed, running in-process only", slog.String("error", err.Error()))
		} else {
			durMgr = mgr
		}
	}
	dispatcher := durable.NewDispatcher(durMgr, reg, orch, m)

	return &Server{
		cfg: cfg, logger: logger,
		metrics: m, store: db, vault: v, health: ht, prober: prober,
		registry: reg, dispatcher: dispatcher, durableMgr: durMgr,
		otelShutdown: otelShutdown,
	}, nil
}

// Analyze is the single entry point internal/httpapi calls for POST /v1/analyze.
func (s *Server) Analyze(ctx context.Context, requestID string, p model.Prompt) (model.Consensus, error) {
	ctx, span := tracing.StartAnalyzeSpan(ctx, requestID, string(p.TaskTier), string(p.Mode))
	defer span.End()

	result, err := s.dispatcher.Analyze(ctx, p)
	if err != nil {
		span.RecordError(err)
	}
	if s.store != nil {
		entry := store.AnalyzeLog{
			Timestamp: time.Now(), RequestID: requestID, TaskTier: string(p.TaskTier), Mode: string(p.Mode),
			Confidence: result.Confidence, WallBounceVerified: result.WallBounceVerified,
			TierEscalated: result.TierEscalated, TotalCostUSD: result.TotalCostUSD, TotalLatencyMS: result.TotalLatencyMS,
		}
		if err != nil {
			if ae, ok := err.(*apperr.Error); ok {
				entry.ErrorKind = string(ae.Kind)
			} else {
				entry.ErrorKind = "error"
			}
		}
		_ = s.store.LogAnalyzeRequest(ctx, entry)
	}
	return result, err
}

// Reload applies the subset of configuration that can change without a
// process restart: log level today. Provider/tool wiring and listen
// addresses require a restart.
func (s *Server) Reload(cfg config.Config) {
	logging.SetLevel(cfg.LogLevel)
	s.cfg = cfg
	s.logger.Info("configuration reloaded", slog.String("log_level", cfg.LogLevel))
}

// Ready reports whether the registry has at least one provider registered.
func (s *Server) Ready() bool { return s.registry.Count() > 0 }

func (s *Server) Metrics() *metrics.Registry { return s.metrics }

func (s *Server) Logger() *slog.Logger { return s.logger }

// TierMinProviders and TierConfidenceThreshold expose the per-tier defaults
// internal/httpapi applies when a request omits them.
func (s *Server) TierMinProviders() map[string]int { return s.cfg.TierMinProviders }

func (s *Server) TierConfidenceThreshold() map[string]float64 { return s.cfg.TierConfidenceThreshold }

// ProviderHealth reports the tracker's rolling stats and the prober's most
// recent active-check result for every known provider.
func (s *Server) ProviderHealth() ([]health.Stats, []health.ProbeResult) {
	var stats []health.Stats
	if s.health != nil {
		stats = s.health.AllStats()
	}
	var probes []health.ProbeResult
	if s.prober != nil {
		probes = s.prober.Snapshot()
	}
	return stats, probes
}

// Close stops the prober and the durable worker, flushes tracing, and then
// closes the store, returning the store's close error.
func (s *Server) Close() error {
	if s.prober != nil {
		s.prober.Stop()
	}
	if s.durableMgr != nil {
		s.durableMgr.Stop()
	}
	if s.otelShutdown != nil {
		_ = s.otelShutdown(context.Background())
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
