// Package consensus implements the Consensus Engine (C3): pairwise
// agreement scoring, deterministic winner selection, and confidence/
// reasoning summarization.
package consensus

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wombat2006/techdev-sub004/internal/apperr"
	"github.com/wombat2006/techdev-sub004/internal/model"
)

// normalize lowercases and collapses whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func unigrams(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func bigrams(tokens []string) map[string]struct{} {
	set := make(map[string]struct{})
	for i := 0; i+1 < len(tokens); i++ {
		set[tokens[i]+" "+tokens[i+1]] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Similarity computes a token-set overlap score in [0,1]: Jaccard over
// unigrams plus bigrams, weighted 0.5/0.5. sim(a,a)=1 for non-empty content;
// symmetric by construction.
func Similarity(a, b string) float64 {
	na, nb := normalize(a), normalize(b)
	if na == "" && nb == "" {
		return 1
	}
	ta, tb := strings.Fields(na), strings.Fields(nb)
	uniSim := jaccard(unigrams(ta), unigrams(tb))
	biSim := jaccard(bigrams(ta), bigrams(tb))
	return 0.5*uniSim + 0.5*biSim
}

// Compute implements winner selection and agreement scoring over votes.
// votes may include error votes (confidence=0, agreement_score=0); they are
// excluded from scoring but remain in the returned debug list by the
// caller. Compute itself only returns the scored Consensus.
func Compute(votes []model.Vote) (model.Consensus, error) {
	valid := make([]model.Vote, 0, len(votes))
	for _, v := range votes {
		if v.Err == nil {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return model.Consensus{}, apperr.New(apperr.NoValidVotes, "no valid votes to build consensus from")
	}

	// Pairwise agreement: each vote's agreement_score is the mean similarity
	// to all other non-error votes (0 when it is the only valid vote).
	for i := range valid {
		if len(valid) == 1 {
			valid[i].AgreementScore = 0
			continue
		}
		sum := 0.0
		for j := range valid {
			if i == j {
				continue
			}
			sum += Similarity(valid[i].Content, valid[j].Content)
		}
		valid[i].AgreementScore = sum / float64(len(valid)-1)
	}

	type scored struct {
		vote      model.Vote
		composite float64
	}
	scoredVotes := make([]scored, len(valid))
	for i, v := range valid {
		scoredVotes[i] = scored{vote: v, composite: 0.6*v.Confidence + 0.4*v.AgreementScore}
	}

	sort.SliceStable(scoredVotes, func(i, j int) bool {
		a, b := scoredVotes[i], scoredVotes[j]
		if a.composite != b.composite {
			return a.composite > b.composite
		}
		if a.vote.Confidence != b.vote.Confidence {
			return a.vote.Confidence > b.vote.Confidence
		}
		if a.vote.CostUSD != b.vote.CostUSD {
			return a.vote.CostUSD < b.vote.CostUSD
		}
		return a.vote.ProviderName < b.vote.ProviderName
	})

	winner := scoredVotes[0]
	confidence := clamp01(winner.composite)

	vendors := make(map[string]struct{})
	providersUsed := make([]string, 0, len(votes))
	var totalCost float64
	var totalLatency int64
	for _, v := range votes {
		providersUsed = append(providersUsed, v.ProviderName)
		totalCost += v.CostUSD
		totalLatency += v.LatencyMS
		if v.Err == nil {
			vendors[v.Vendor] = struct{}{}
		}
	}

	contributing := make([]model.Vote, len(scoredVotes))
	for i, sv := range scoredVotes {
		contributing[i] = sv.vote
	}

	var meanAgreement, meanConfidence float64
	for _, v := range valid {
		meanAgreement += v.AgreementScore
		meanConfidence += v.Confidence
	}
	meanAgreement /= float64(len(valid))
	meanConfidence /= float64(len(valid))

	return model.Consensus{
		Content:            winner.vote.Content,
		Confidence:         confidence,
		Reasoning:          buildReasoning(scoredVotes),
		ContributingVotes:  contributing,
		AllVotes:           votes,
		ProvidersUsed:      providersUsed,
		TotalCostUSD:       totalCost,
		TotalLatencyMS:     totalLatency,
		WallBounceVerified: len(vendors) >= 2,
		QualityBand:        qualityBand(meanAgreement, meanConfidence),
	}, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func qualityBand(meanAgreement, meanConfidence float64) string {
	switch {
	case meanAgreement >= 0.75 && meanConfidence >= 0.8:
		return "high"
	case meanAgreement >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

func buildReasoning(scoredVotes []struct {
	vote      model.Vote
	composite float64
}) string {
	var b strings.Builder
	b.WriteString("contributing providers: ")
	for i, sv := range scoredVotes {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s(composite=%.3f confidence=%.3f agreement=%.3f)",
			sv.vote.ProviderName, sv.composite, sv.vote.Confidence, sv.vote.AgreementScore)
	}
	return b.String()
}
