package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/wombat2006/techdev-sub004/internal/apperr"
	"github.com/wombat2006/techdev-sub004/internal/logging"
	"github.com/wombat2006/techdev-sub004/internal/model"
)

// analyzeRequest is the inbound JSON shape for POST /v1/analyze.
type analyzeRequest struct {
	Prompt              string   `json:"prompt"`
	TaskType            string   `json:"task_type"`
	Mode                string   `json:"mode"`
	Depth               int      `json:"depth"`
	MinProviders        *int     `json:"min_providers"`
	MaxProviders        int      `json:"max_providers"`
	ConfidenceThreshold *float64 `json:"confidence_threshold"`
	SessionID           string   `json:"session_id"`
	UserID              string   `json:"user_id"`
}

type voteView struct {
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	Confidence     float64 `json:"confidence"`
	AgreementScore float64 `json:"agreement_score"`
	Error          string  `json:"error,omitempty"`
}

type wallBounceAnalysis struct {
	ProvidersUsed    []string   `json:"providers_used"`
	LLMVotes         []voteView `json:"llm_votes"`
	TotalCost        float64    `json:"total_cost"`
	ProcessingTimeMS int64      `json:"processing_time_ms"`
	TierEscalated    bool       `json:"tier_escalated"`
}

type analyzeResponse struct {
	Response           string              `json:"response"`
	Confidence         float64             `json:"confidence"`
	Reasoning          string              `json:"reasoning"`
	SessionID          string              `json:"session_id"`
	TaskType           string              `json:"task_type"`
	WallBounceAnalysis wallBounceAnalysis  `json:"wall_bounce_analysis"`
	FlowDetails        any                 `json:"flow_details,omitempty"`
	Timestamp          string              `json:"timestamp"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Timestamp string `json:"timestamp"`
}

func writeError(w http.ResponseWriter, ae *apperr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:     ae.Error(),
		Code:      string(ae.Kind),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func analyzeHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperr.New(apperr.MissingPrompt, "request body is not valid JSON"))
			return
		}
		if req.Prompt == "" {
			writeError(w, apperr.New(apperr.MissingPrompt, "prompt is required"))
			return
		}

		taskType := req.TaskType
		if taskType == "" {
			taskType = "basic"
		}
		tier := model.Tier(taskType)
		if tier != model.TierBasic && tier != model.TierPremium && tier != model.TierCritical {
			writeError(w, apperr.New(apperr.InvalidTaskType, "task_type must be one of basic, premium, critical"))
			return
		}

		modeStr := req.Mode
		if modeStr == "" {
			modeStr = "parallel"
		}
		mode := model.Mode(modeStr)
		if mode != model.ModeParallel && mode != model.ModeSequential {
			writeError(w, apperr.New(apperr.InvalidMode, "mode must be one of parallel, sequential"))
			return
		}

		depth := req.Depth
		if depth == 0 {
			depth = 3
		}
		if depth < 3 || depth > 5 {
			writeError(w, apperr.New(apperr.InvalidDepth, "depth must be between 3 and 5"))
			return
		}

		minProviders := tierMinProviders(d, tier)
		if req.MinProviders != nil {
			minProviders = *req.MinProviders
		}
		confidenceThreshold := tierConfidenceThreshold(d, tier)
		if req.ConfidenceThreshold != nil {
			confidenceThreshold = *req.ConfidenceThreshold
		}

		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		p := model.Prompt{
			Text:                req.Prompt,
			TaskTier:            tier,
			Mode:                mode,
			Depth:               depth,
			MinProviders:        minProviders,
			MaxProviders:        req.MaxProviders,
			ConfidenceThreshold: confidenceThreshold,
			SessionID:           sessionID,
			UserID:              req.UserID,
		}

		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			requestID = uuid.NewString()
		}

		logger := d.Srv.Logger()
		logger.Info("wall_bounce_analyze_start", logging.AnalyzeRequestAttrs(requestID, string(tier), string(mode), depth)...)

		consensus, err := d.Srv.Analyze(r.Context(), requestID, p)
		if err != nil {
			logger.Warn("wall_bounce_analyze_failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
			if ae, ok := err.(*apperr.Error); ok {
				writeError(w, ae)
			} else {
				writeError(w, apperr.New("", err.Error()))
			}
			return
		}
		logger.Info("wall_bounce_analyze_done", logging.ConsensusAttrs(
			consensus.Confidence, len(consensus.ProvidersUsed), consensus.WallBounceVerified,
			consensus.TierEscalated, consensus.TotalCostUSD)...)

		votes := make([]voteView, 0, len(consensus.AllVotes))
		for _, v := range consensus.AllVotes {
			vv := voteView{
				Provider: v.ProviderName, Model: v.Model,
				Confidence: v.Confidence, AgreementScore: v.AgreementScore,
			}
			if v.Err != nil {
				vv.Error = string(v.Err.Kind)
			}
			votes = append(votes, vv)
		}

		resp := analyzeResponse{
			Response: consensus.Content, Confidence: consensus.Confidence, Reasoning: consensus.Reasoning,
			SessionID: sessionID, TaskType: string(tier),
			WallBounceAnalysis: wallBounceAnalysis{
				ProvidersUsed: consensus.ProvidersUsed, LLMVotes: votes,
				TotalCost: consensus.TotalCostUSD, ProcessingTimeMS: consensus.TotalLatencyMS,
				TierEscalated: consensus.TierEscalated,
			},
			FlowDetails: consensus.FlowTrace,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func tierMinProviders(d Dependencies, tier model.Tier) int {
	if n, ok := d.Srv.TierMinProviders()[string(tier)]; ok {
		return n
	}
	return 2
}

func tierConfidenceThreshold(d Dependencies, tier model.Tier) float64 {
	if t, ok := d.Srv.TierConfidenceThreshold()[string(tier)]; ok {
		return t
	}
	return 0.7
}
