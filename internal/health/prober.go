// Package health tracks the runtime availability of the upstream LLM
// providers a wall-bounce round can call: Tracker holds rolling
// success/error counts the registry uses to skip providers currently in a
// cooldown window, and Prober actively polls each provider's health
// endpoint on a timer so a provider is marked down even if nothing has
// asked it for a vote recently.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Probeable is implemented by provider adapters that support health probing.
type Probeable interface {
	ID() string
	HealthEndpoint() string
}

// ProbeResult is the outcome of one active probe against a provider's health
// endpoint, kept so an operator can see why a provider is down without
// waiting for the next real vote to fail.
type ProbeResult struct {
	ProviderID string    `json:"provider_id"`
	Endpoint   string    `json:"endpoint"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code,omitempty"`
	LatencyMS  float64   `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// ProberConfig configures the health check prober.
type ProberConfig struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// DefaultProberConfig returns sensible defaults.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Interval:     30 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

// Prober periodically probes provider health endpoints and feeds results
// into the health Tracker.
type Prober struct {
	cfg     ProberConfig
	tracker *Tracker
	client  *http.Client
	logger  *slog.Logger
	stop    chan struct{}
	done    chan struct{}

	mu      sync.RWMutex
	targets map[string]Probeable   // keyed by provider ID
	results map[string]ProbeResult // keyed by provider ID, most recent probe only
}

// NewProber creates a health check prober.
func NewProber(cfg ProberConfig, tracker *Tracker, targets []Probeable, logger *slog.Logger) *Prober {
	m := make(map[string]Probeable, len(targets))
	for _, t := range targets {
		m[t.ID()] = t
	}
	return &Prober{
		cfg:     cfg,
		tracker: tracker,
		targets: m,
		results: make(map[string]ProbeResult, len(targets)),
		client:  &http.Client{Timeout: cfg.ProbeTimeout},
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Snapshot returns the most recent probe result for every known provider,
// for surfacing on an operator-facing health endpoint.
func (p *Prober) Snapshot() []ProbeResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ProbeResult, 0, len(p.results))
	for _, r := range p.results {
		out = append(out, r)
	}
	return out
}

// AddTarget registers a new probe target at runtime. If a target with the
// same ID already exists it is replaced. Safe to call while the prober is running.
func (p *Prober) AddTarget(t Probeable) {
	p.mu.Lock()
	p.targets[t.ID()] = t
	p.mu.Unlock()
	p.logger.Info("health prober: added target", slog.String("provider", t.ID()))
}

// RemoveTarget removes a probe target by ID. Safe to call while the prober is running.
func (p *Prober) RemoveTarget(id string) {
	p.mu.Lock()
	delete(p.targets, id)
	delete(p.results, id)
	p.mu.Unlock()
	p.logger.Info("health prober: removed target", slog.String("provider", id))
}

// Start begins the periodic probe loop in a goroutine.
func (p *Prober) Start() {
	go p.run()
}

// Stop signals the prober to stop and waits for it to finish.
func (p *Prober) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Prober) run() {
	defer close(p.done)

	// Probe immediately on start.
	p.probeAll()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.probeAll()
		case <-p.stop:
			return
		}
	}
}

func (p *Prober) probeAll() {
	p.mu.RLock()
	snapshot := make([]Probeable, 0, len(p.targets))
	for _, t := range p.targets {
		snapshot = append(snapshot, t)
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, t := range snapshot {
		wg.Add(1)
		go func(target Probeable) {
			defer wg.Done()
			p.probe(target)
		}(t)
	}
	wg.Wait()
}

func (p *Prober) probe(target Probeable) {
	endpoint := target.HealthEndpoint()
	if endpoint == "" {
		return
	}
	id := target.ID()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		p.tracker.RecordError(id, "probe: "+err.Error())
		p.recordResult(ProbeResult{ProviderID: id, Endpoint: endpoint, Error: err.Error(), At: time.Now()})
		p.logger.Warn("health probe request error",
			slog.String("provider", id),
			slog.String("error", err.Error()),
		)
		return
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	latencyMs := float64(time.Since(start).Milliseconds())

	if err != nil {
		p.tracker.RecordError(id, "probe: "+err.Error())
		p.recordResult(ProbeResult{ProviderID: id, Endpoint: endpoint, LatencyMS: latencyMs, Error: err.Error(), At: time.Now()})
		p.logger.Warn("health probe failed",
			slog.String("provider", id),
			slog.String("error", err.Error()),
		)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	// Any 2xx, 401 (Unauthorized — endpoint exists, auth required), or 405
	// (Method Not Allowed — endpoint exists) counts as healthy: the LLM
	// vendor's process is up even if our credentials or verb are wrong.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 ||
		resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusMethodNotAllowed {
		p.tracker.RecordSuccess(id, latencyMs)
		p.recordResult(ProbeResult{ProviderID: id, Endpoint: endpoint, Success: true, StatusCode: resp.StatusCode, LatencyMS: latencyMs, At: time.Now()})
		p.logger.Debug("health probe ok",
			slog.String("provider", id),
			slog.Int("status", resp.StatusCode),
			slog.Float64("latency_ms", latencyMs),
		)
	} else {
		p.tracker.RecordError(id, "probe: HTTP "+resp.Status)
		p.recordResult(ProbeResult{ProviderID: id, Endpoint: endpoint, StatusCode: resp.StatusCode, LatencyMS: latencyMs, Error: "HTTP " + resp.Status, At: time.Now()})
		p.logger.Warn("health probe unhealthy",
			slog.String("provider", id),
			slog.Int("status", resp.StatusCode),
		)
	}
}

func (p *Prober) recordResult(r ProbeResult) {
	p.mu.Lock()
	p.results[r.ProviderID] = r
	p.mu.Unlock()
}
