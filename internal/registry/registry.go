// Package registry implements the Provider Registry (C2): it enumerates
// permissible provider adapters, enforces the absolute routing invariant,
// and selects per-task subsets ranked by tier preference.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wombat2006/techdev-sub004/internal/apperr"
	"github.com/wombat2006/techdev-sub004/internal/health"
	"github.com/wombat2006/techdev-sub004/internal/model"
	"github.com/wombat2006/techdev-sub004/internal/provider"
)

// vendorModel is the key the absolute routing invariant is enforced over.
type vendorModel struct {
	vendor, model string
}

// entry pairs a ProviderDescriptor with the live Sender that implements it.
type entry struct {
	descriptor model.ProviderDescriptor
	sender     provider.Sender
}

// Registry is immutable after construction: Register calls are only valid
// during build-up (see Builder below); once handed to the orchestrator it
// is read-only.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry // keyed by ProviderDescriptor.Name
	tracker *health.Tracker
}

// Builder accumulates descriptors and aborts with apperr.ConfigError on an
// absolute-routing conflict.
type Builder struct {
	seen    map[vendorModel]model.Transport
	entries map[string]entry
	err     error
}

func NewBuilder() *Builder {
	return &Builder{
		seen:    make(map[vendorModel]model.Transport),
		entries: make(map[string]entry),
	}
}

// Register adds one provider. A second Transport registered for the same
// (vendor, model) pair is a configuration error.
func (b *Builder) Register(desc model.ProviderDescriptor, sender provider.Sender) *Builder {
	if b.err != nil {
		return b
	}
	key := vendorModel{vendor: desc.Vendor, model: desc.Model}
	if existing, ok := b.seen[key]; ok && existing != desc.Transport {
		b.err = apperr.New(apperr.ConfigError, fmt.Sprintf(
			"absolute routing violation: vendor=%s model=%s already registered via transport=%s, cannot also register via transport=%s",
			desc.Vendor, desc.Model, existing, desc.Transport))
		return b
	}
	b.seen[key] = desc.Transport
	b.entries[desc.Name] = entry{descriptor: desc, sender: sender}
	return b
}

// Build finalizes the registry, returning the ConfigError recorded by any
// conflicting Register call.
func (b *Builder) Build(tracker *health.Tracker) (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &Registry{entries: b.entries, tracker: tracker}, nil
}

// tierPreference orders candidates within one tier. Lower returned value
// sorts first.
func tierPreference(tier model.Tier, d model.ProviderDescriptor) float64 {
	switch tier {
	case model.TierBasic:
		// broad/inexpensive first: rank by input cost ascending.
		return d.CostPerInputToken
	case model.TierCritical:
		// highest-quality first: rank by input cost descending (proxy for
		// capability in the absence of a dedicated quality score).
		return -d.CostPerInputToken
	default: // premium: balanced, stable order by name.
		return 0
	}
}

// ProvidersFor returns an ordered list of ProviderDescriptors (with their
// Senders) eligible for taskTier, ranked by the tier's preference order,
// never duplicating a vendor unless minCount exceeds the distinct vendor
// count. It returns all available candidates when fewer than minCount
// exist; it never errors for an empty result (callers check len==0).
func (r *Registry) ProvidersFor(taskTier model.Tier, minCount int) []model.ProviderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []entry
	for _, e := range r.entries {
		if !e.descriptor.SupportsTier(taskTier) {
			continue
		}
		if r.tracker != nil && !r.tracker.IsAvailable(e.descriptor.Name) {
			continue
		}
		candidates = append(candidates, e)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		pi := tierPreference(taskTier, candidates[i].descriptor)
		pj := tierPreference(taskTier, candidates[j].descriptor)
		if pi != pj {
			return pi < pj
		}
		return candidates[i].descriptor.Name < candidates[j].descriptor.Name
	})

	var out []model.ProviderDescriptor
	seenVendor := make(map[string]bool)
	var fallback []model.ProviderDescriptor

	for _, e := range candidates {
		if !seenVendor[e.descriptor.Vendor] {
			seenVendor[e.descriptor.Vendor] = true
			out = append(out, e.descriptor)
		} else {
			fallback = append(fallback, e.descriptor)
		}
	}
	for len(out) < minCount && len(fallback) > 0 {
		out = append(out, fallback[0])
		fallback = fallback[1:]
	}
	return out
}

// Sender returns the live Sender bound to a descriptor name.
func (r *Registry) Sender(name string) (provider.Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.sender, true
}

// Count returns the number of registered providers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
