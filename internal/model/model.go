// Package model holds the wall-bounce core's data entities: Prompt,
// ProviderDescriptor, Vote, Consensus, ToolDescriptor, ApprovalRequest, and
// ToolExecutionResult.
package model

import (
	"time"

	"github.com/wombat2006/techdev-sub004/internal/apperr"
)

// Tier is a difficulty/criticality label influencing provider selection,
// deadlines, and confidence thresholds.
type Tier string

const (
	TierBasic    Tier = "basic"
	TierPremium  Tier = "premium"
	TierCritical Tier = "critical"
)

// Mode selects how the orchestrator fans out provider calls.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
)

// Transport names the wire mechanism a ProviderDescriptor is reachable
// through. The absolute routing invariant permits only one Transport per
// (Vendor, Model) pair.
type Transport string

const (
	TransportCLI       Transport = "cli"
	TransportMCP        Transport = "mcp"
	TransportSDKDirect Transport = "sdk-direct"
)

// Prompt is immutable once the request begins.
type Prompt struct {
	Text                string
	TaskTier            Tier
	Mode                Mode
	Depth               int
	MinProviders        int
	MaxProviders        int
	ConfidenceThreshold float64
	SessionID           string
	UserID              string
	ToolsetRef          string
}

// ProviderDescriptor describes one registrable provider/model/transport
// combination.
type ProviderDescriptor struct {
	Name              string
	Vendor            string
	Model             string
	Transport         Transport
	CostPerInputToken float64
	CostPerOutputToken float64
	SupportedTiers    []Tier
}

func (d ProviderDescriptor) SupportsTier(t Tier) bool {
	for _, s := range d.SupportedTiers {
		if s == t {
			return true
		}
	}
	return false
}

// Tokens is the input/output token count of a single Vote.
type Tokens struct {
	Input  int
	Output int
}

// Vote is produced by exactly one provider for exactly one prompt.
type Vote struct {
	ProviderName   string
	Vendor         string
	Model          string
	Content        string
	Confidence     float64
	Reasoning      string
	CostUSD        float64
	Tokens         Tokens
	LatencyMS      int64
	AgreementScore float64
	Err            *apperr.Error
}

// Consensus is the orchestrator's single answer for a request.
type Consensus struct {
	Content            string
	Confidence         float64
	Reasoning          string
	ContributingVotes  []Vote
	AllVotes           []Vote // every vote cast, including Err!=nil ones ContributingVotes excludes
	TierEscalated      bool
	ProvidersUsed      []string
	TotalCostUSD       float64
	TotalLatencyMS     int64
	WallBounceVerified bool
	QualityBand        string
	FlowTrace          any // debug-only; never consulted for control decisions
}

// ToolCostTier orders tool pricing tiers.
type ToolCostTier int

const (
	CostFree ToolCostTier = iota
	CostStandard
	CostPremium
)

func ParseCostTier(s string) (ToolCostTier, bool) {
	switch s {
	case "free":
		return CostFree, true
	case "standard":
		return CostStandard, true
	case "premium":
		return CostPremium, true
	}
	return 0, false
}

// ToolSecurityTier orders the sensitivity of tool operations.
type ToolSecurityTier int

const (
	SecurityPublic ToolSecurityTier = iota
	SecurityInternal
	SecuritySensitive
	SecurityCritical
)

func ParseSecurityTier(s string) (ToolSecurityTier, bool) {
	switch s {
	case "public":
		return SecurityPublic, true
	case "internal":
		return SecurityInternal, true
	case "sensitive":
		return SecuritySensitive, true
	case "critical":
		return SecurityCritical, true
	}
	return 0, false
}

// ApprovalPolicy controls whether a tool's invocations auto-approve.
type ApprovalPolicy string

const (
	PolicyNever       ApprovalPolicy = "never"
	PolicyConditional ApprovalPolicy = "conditional"
	PolicyAlways      ApprovalPolicy = "always"
)

// ToolDescriptor describes one external tool reachable by the orchestrator's
// tool-use path.
type ToolDescriptor struct {
	Label             string
	TransportURL      string
	AuthToken         string
	CostTier          ToolCostTier
	SecurityTier      ToolSecurityTier
	AllowedOperations map[string]struct{}
	ApprovalPolicy    ApprovalPolicy
}

// Risk grades an approval request.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// ApprovalState is the state-machine value of an ApprovalRequest.
type ApprovalState string

const (
	ApprovalPending          ApprovalState = "pending"
	ApprovalAutoApproved     ApprovalState = "auto_approved"
	ApprovalManuallyApproved ApprovalState = "manually_approved"
	ApprovalRejected         ApprovalState = "rejected"
	ApprovalExpired          ApprovalState = "expired"
)

// ApprovalRequest has a process-wide lifetime bounded by a TTL.
type ApprovalRequest struct {
	ID         string
	ToolLabel  string
	Operation  string
	Parameters map[string]any
	Risk       Risk
	Requester  string
	State      ApprovalState
	CreatedAt  time.Time
	DecidedAt  *time.Time
	Decider    string
	Notes      string
}

// IsApproving reports whether s is a terminal state from which a tool
// execution may proceed.
func (s ApprovalState) IsApproving() bool {
	return s == ApprovalAutoApproved || s == ApprovalManuallyApproved
}

// ToolExecutionResult is the outcome of one C6 execution.
type ToolExecutionResult struct {
	RequestID string
	ToolLabel string
	Operation string
	Success   bool
	Output    any
	CostUSD   float64
	LatencyMS int64
	Err       *apperr.Error
}
