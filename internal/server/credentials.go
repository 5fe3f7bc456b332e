package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/wombat2006/techdev-sub004/internal/health"
	"github.com/wombat2006/techdev-sub004/internal/model"
	"github.com/wombat2006/techdev-sub004/internal/provider"
	"github.com/wombat2006/techdev-sub004/internal/provider/cli"
	"github.com/wombat2006/techdev-sub004/internal/provider/mcp"
	"github.com/wombat2006/techdev-sub004/internal/provider/sdkdirect"
	"github.com/wombat2006/techdev-sub004/internal/registry"
	"github.com/wombat2006/techdev-sub004/internal/store"
	"github.com/wombat2006/techdev-sub004/internal/vault"
)

// credProvider is one entry of the credentials file. Transport-specific
// fields are optional depending on Transport's value.
type credProvider struct {
	Name               string   `json:"name"`
	Vendor             string   `json:"vendor"`
	Model              string   `json:"model"`
	Transport          string   `json:"transport"` // cli | mcp | sdk-direct
	SupportedTiers     []string `json:"supported_tiers"`
	CostPerInputToken  float64  `json:"cost_per_input_token"`
	CostPerOutputToken float64  `json:"cost_per_output_token"`

	// cli
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// mcp
	Endpoints []string `json:"endpoints,omitempty"`

	// sdk-direct
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
}

type credentialsFile struct {
	Providers []credProvider `json:"providers"`
}

// loadCredentialsFile reads a JSON credentials file, builds one concrete
// Sender per entry, and registers it into b. API keys (and any other
// transport secret) are written into v under "provider:<name>:api_key" when
// the vault is unlocked, and the descriptor (never the secret) is persisted
// to db; the registry is always built from this file, and the persisted
// descriptors are not read back at startup. Unknown transports and malformed entries are skipped with a
// warning — a single bad entry must not abort startup. Returns every
// registered sender that also implements health.Probeable, for the prober.
func loadCredentialsFile(path string, b *registry.Builder, v *vault.Vault, db store.Store, timeout time.Duration, logger *slog.Logger) []health.Probeable {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		logger.Warn("credentials file stat error", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		logger.Warn("credentials file has insecure permissions, skipping",
			slog.String("path", path), slog.String("mode", fmt.Sprintf("%04o", mode)))
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("failed to read credentials file", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	var creds credentialsFile
	if err := json.Unmarshal(data, &creds); err != nil {
		logger.Warn("failed to parse credentials file", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}

	var probeTargets []health.Probeable
	ctx := context.Background()
	for _, p := range creds.Providers {
		desc, sender, err := buildProvider(p, timeout)
		if err != nil {
			logger.Warn("skipping credentials provider", slog.String("name", p.Name), slog.String("error", err.Error()))
			continue
		}
		b.Register(desc, sender)
		if probeable, ok := sender.(health.Probeable); ok {
			probeTargets = append(probeTargets, probeable)
		}

		if p.APIKey != "" && v != nil && !v.IsLocked() {
			if err := v.SetProviderCredential(p.Name, p.APIKey); err != nil {
				logger.Warn("failed to store provider secret in vault", slog.String("name", p.Name), slog.String("error", err.Error()))
			}
		}
		if db != nil {
			rec := store.ProviderRecord{
				Name: desc.Name, Vendor: desc.Vendor, Model: desc.Model,
				Transport: string(desc.Transport),
				CostPerInputToken: desc.CostPerInputToken, CostPerOutputToken: desc.CostPerOutputToken,
				SupportedTiers: p.SupportedTiers,
			}
			if err := db.UpsertProvider(ctx, rec); err != nil {
				logger.Warn("failed to persist provider descriptor", slog.String("name", p.Name), slog.String("error", err.Error()))
			}
		}
		logger.Info("registered provider from credentials file",
			slog.String("name", desc.Name), slog.String("vendor", desc.Vendor), slog.String("transport", string(desc.Transport)))
	}

	if v != nil && !v.IsLocked() && db != nil {
		if salt := v.Salt(); salt != nil {
			if err := db.SaveVaultBlob(ctx, salt, v.Export()); err != nil {
				logger.Warn("failed to persist vault after credentials load", slog.String("error", err.Error()))
			}
		}
	}
	return probeTargets
}

func buildProvider(p credProvider, timeout time.Duration) (model.ProviderDescriptor, provider.Sender, error) {
	if p.Name == "" || p.Vendor == "" || p.Model == "" {
		return model.ProviderDescriptor{}, nil, fmt.Errorf("name, vendor, and model are required")
	}
	tiers := make([]model.Tier, 0, len(p.SupportedTiers))
	for _, t := range p.SupportedTiers {
		tiers = append(tiers, model.Tier(t))
	}

	var transport model.Transport
	var sender provider.Sender

	switch p.Transport {
	case "cli":
		if p.Command == "" {
			return model.ProviderDescriptor{}, nil, fmt.Errorf("cli transport requires command")
		}
		transport = model.TransportCLI
		sender = cli.New(p.Name, p.Vendor, p.Model, p.Command, cli.WithArgs(p.Args...), cli.WithTimeout(timeout))
	case "mcp":
		if len(p.Endpoints) == 0 {
			return model.ProviderDescriptor{}, nil, fmt.Errorf("mcp transport requires at least one endpoint")
		}
		transport = model.TransportMCP
		opts := []mcp.Option{mcp.WithTimeout(timeout)}
		if len(p.Endpoints) > 1 {
			opts = append(opts, mcp.WithEndpoints(p.Endpoints[1:]...))
		}
		sender = mcp.New(p.Name, p.Vendor, p.Model, p.Endpoints[0], opts...)
	case "sdk-direct", "":
		if p.BaseURL == "" {
			return model.ProviderDescriptor{}, nil, fmt.Errorf("sdk-direct transport requires base_url")
		}
		transport = model.TransportSDKDirect
		sender = sdkdirect.New(p.Name, p.Vendor, p.Model, p.APIKey, p.BaseURL, sdkdirect.WithTimeout(timeout))
	default:
		return model.ProviderDescriptor{}, nil, fmt.Errorf("unknown transport %q", p.Transport)
	}

	desc := model.ProviderDescriptor{
		Name: p.Name, Vendor: p.Vendor, Model: p.Model, Transport: transport,
		CostPerInputToken: p.CostPerInputToken, CostPerOutputToken: p.CostPerOutputToken,
		SupportedTiers: tiers,
	}
	return desc, sender, nil
}
