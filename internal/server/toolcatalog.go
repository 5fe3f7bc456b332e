package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/wombat2006/techdev-sub004/internal/model"
	"github.com/wombat2006/techdev-sub004/internal/store"
)

// toolSeed is one entry of the tool catalog seed file, used to bootstrap
// db-backed storage the first time a deployment runs (or when no store is
// configured at all).
type toolSeed struct {
	Label             string   `json:"label"`
	TransportURL      string   `json:"transport_url"`
	AuthToken         string   `json:"auth_token,omitempty"`
	CostTier          string   `json:"cost_tier"`
	SecurityTier      string   `json:"security_tier"`
	AllowedOperations []string `json:"allowed_operations"`
	ApprovalPolicy    string   `json:"approval_policy"`
}

type toolCatalogFile struct {
	Tools []toolSeed `json:"tools"`
}

// loadToolCatalog populates C4's tool catalog at startup. db is the
// authority when it already holds records;
// otherwise a seed file bootstraps db (when present) and/or the in-memory
// catalog directly, so a fresh deployment with no store still has tools to
// advertise. An empty return is a valid catalog, not an error -- the
// tool-use path simply has nothing to offer.
func loadToolCatalog(path string, db store.Store, logger *slog.Logger) []model.ToolDescriptor {
	ctx := context.Background()

	if db != nil {
		records, err := db.ListTools(ctx)
		if err != nil {
			logger.Warn("failed to list persisted tool catalog", slog.String("error", err.Error()))
		} else if len(records) > 0 {
			return toolDescriptors(records, logger)
		}
	}

	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to read tool catalog seed file", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	}
	var seed toolCatalogFile
	if err := json.Unmarshal(data, &seed); err != nil {
		logger.Warn("failed to parse tool catalog seed file", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}

	records := make([]store.ToolRecord, 0, len(seed.Tools))
	for _, t := range seed.Tools {
		records = append(records, store.ToolRecord{
			Label: t.Label, TransportURL: t.TransportURL, AuthToken: t.AuthToken,
			CostTier: t.CostTier, SecurityTier: t.SecurityTier,
			AllowedOperations: t.AllowedOperations, ApprovalPolicy: t.ApprovalPolicy,
		})
		if db != nil {
			rec := records[len(records)-1]
			if err := db.UpsertTool(ctx, rec); err != nil {
				logger.Warn("failed to persist seeded tool descriptor", slog.String("label", t.Label), slog.String("error", err.Error()))
			}
		}
	}
	logger.Info("seeded tool catalog from file", slog.String("path", path), slog.Int("count", len(records)))
	return toolDescriptors(records, logger)
}

func toolDescriptors(records []store.ToolRecord, logger *slog.Logger) []model.ToolDescriptor {
	out := make([]model.ToolDescriptor, 0, len(records))
	for _, r := range records {
		d, err := toToolDescriptor(r)
		if err != nil {
			logger.Warn("skipping malformed tool catalog entry", slog.String("label", r.Label), slog.String("error", err.Error()))
			continue
		}
		out = append(out, d)
	}
	return out
}

func toToolDescriptor(r store.ToolRecord) (model.ToolDescriptor, error) {
	if r.Label == "" || r.TransportURL == "" {
		return model.ToolDescriptor{}, fmt.Errorf("label and transport_url are required")
	}
	costTier, ok := model.ParseCostTier(r.CostTier)
	if !ok {
		return model.ToolDescriptor{}, fmt.Errorf("unknown cost_tier %q", r.CostTier)
	}
	securityTier, ok := model.ParseSecurityTier(r.SecurityTier)
	if !ok {
		return model.ToolDescriptor{}, fmt.Errorf("unknown security_tier %q", r.SecurityTier)
	}
	policy := model.ApprovalPolicy(r.ApprovalPolicy)
	switch policy {
	case model.PolicyNever, model.PolicyConditional, model.PolicyAlways:
	default:
		return model.ToolDescriptor{}, fmt.Errorf("unknown approval_policy %q", r.ApprovalPolicy)
	}

	ops := make(map[string]struct{}, len(r.AllowedOperations))
	for _, op := range r.AllowedOperations {
		ops[op] = struct{}{}
	}

	return model.ToolDescriptor{
		Label: r.Label, TransportURL: r.TransportURL, AuthToken: r.AuthToken,
		CostTier: costTier, SecurityTier: securityTier,
		AllowedOperations: ops, ApprovalPolicy: policy,
	}, nil
}
