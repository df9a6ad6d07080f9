// Package council implements a three-stage consensus protocol for a
// council of independent language models. Stage 1 collects answers from
// every member in parallel, Stage 2 has each surviving member review its
// peers' anonymized answers, and Stage 3 has a designated chairman
// synthesize one final response from the answers, the reviews, and the
// aggregated consensus ranking.
package council

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Confidence represents a confidence score between 0.0 and 1.0.
type Confidence float64

// Validate checks that the confidence is in the valid range [0.0, 1.0].
func (c Confidence) Validate() error {
	if c < 0.0 || c > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %f", float64(c))
	}
	return nil
}

// Clamp returns the confidence forced into [0.0, 1.0] and whether any
// clamping was needed. Untrusted member output is clamped at ingestion
// rather than rejected.
func (c Confidence) Clamp() (Confidence, bool) {
	if c < 0.0 {
		return 0.0, true
	}
	if c > 1.0 {
		return 1.0, true
	}
	return c, false
}

// String returns confidence as a percentage string.
func (c Confidence) String() string {
	return fmt.Sprintf("%.0f%%", float64(c)*100)
}

// ParseConfidence converts a string confidence value to a float.
// Accepts floats ("0.8"), percentages ("80%"), or qualitative levels
// ("high", "medium", "low"). Qualitative mappings: high=0.8, medium=0.5,
// low=0.2.
func ParseConfidence(s string) (Confidence, error) {
	s = strings.TrimSpace(strings.ToLower(s))

	switch s {
	case "high":
		return 0.8, nil
	case "medium", "med":
		return 0.5, nil
	case "low":
		return 0.2, nil
	}

	if strings.HasSuffix(s, "%") {
		s = strings.TrimSuffix(s, "%")
		var pct float64
		if _, err := fmt.Sscanf(s, "%f", &pct); err != nil {
			return 0, fmt.Errorf("invalid confidence percentage: %q", s)
		}
		return Confidence(pct / 100), nil
	}

	var f float64
	if _, err := fmt.Sscanf(s, "%f", &f); err != nil {
		return 0, fmt.Errorf("invalid confidence value: %q", s)
	}
	return Confidence(f), nil
}

// UnmarshalJSON implements json.Unmarshaler to support string confidence
// values. Accepts floats (0.8), percentages ("80%"), or qualitative levels
// ("high", "medium", "low").
func (c *Confidence) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*c = Confidence(f)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("confidence must be a number or string, got neither")
	}

	parsed, err := ParseConfidence(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler to support string confidence values.
func (c *Confidence) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var f float64
	if err := unmarshal(&f); err == nil {
		*c = Confidence(f)
		return nil
	}

	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("confidence must be a number or string, got neither")
	}

	parsed, err := ParseConfidence(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Config is the immutable per-session configuration for a council run.
// It is validated once at engine construction, never at first use.
type Config struct {
	// Members is the ordered set of council member identifiers queried in
	// Stage 1. Size must stay within [MinCouncilSize, MaxCouncilSize].
	Members []string `json:"members"`

	// Chairman is the member that performs final synthesis in Stage 3.
	// It does not have to be a council member, though it usually is.
	Chairman string `json:"chairman"`

	// GlobalTimeout bounds the whole three-stage session.
	GlobalTimeout time.Duration `json:"global_timeout"`

	// PerMemberTimeout bounds each individual member call within a stage.
	PerMemberTimeout time.Duration `json:"per_member_timeout"`

	// MinCouncilSize is the quorum: the minimum number of successful
	// Stage-1 responses required to proceed.
	MinCouncilSize int `json:"min_council_size"`

	// MaxCouncilSize caps the configured council size.
	MaxCouncilSize int `json:"max_council_size"`

	// AnonymizeResponses assigns opaque labels to Stage-1 answers before
	// peer review. When false, labels are the member ids themselves.
	AnonymizeResponses bool `json:"anonymize_responses"`

	// RequireRankings fails the session when Stage 2 yields zero valid
	// reviews. When false, the session proceeds with an all-unranked
	// consensus.
	RequireRankings bool `json:"require_rankings"`

	// IncludeAllOpinions includes every Stage-1 answer in the chairman
	// prompt and in the result payload, not just the top-ranked one.
	IncludeAllOpinions bool `json:"include_all_opinions"`

	// IncludePeerReviews includes Stage-2 reasoning in the chairman
	// prompt and in the result payload.
	IncludePeerReviews bool `json:"include_peer_reviews"`

	// FallbackTopRanked opts into returning the top-ranked Stage-1 answer
	// when the chairman is unavailable. The fallback result is marked as
	// such; it is never presented as a synthesis.
	FallbackTopRanked bool `json:"fallback_top_ranked"`
}

// Default council size bounds.
const (
	DefaultMinCouncilSize = 2
	DefaultMaxCouncilSize = 8
)

// DefaultConfig returns a config with sensible defaults. Members and
// Chairman must still be filled in by the caller.
func DefaultConfig() Config {
	return Config{
		GlobalTimeout:      2 * time.Minute,
		PerMemberTimeout:   45 * time.Second,
		MinCouncilSize:     DefaultMinCouncilSize,
		MaxCouncilSize:     DefaultMaxCouncilSize,
		AnonymizeResponses: true,
		RequireRankings:    false,
		IncludeAllOpinions: true,
		IncludePeerReviews: true,
	}
}

// Validate checks the config invariants. All violations are reported as
// configuration errors, fatal before Stage 1 starts.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Chairman) == "" {
		errs = append(errs, "chairman is required")
	}
	if c.MinCouncilSize < 1 {
		errs = append(errs, fmt.Sprintf("min council size must be at least 1, got %d", c.MinCouncilSize))
	}
	if c.MaxCouncilSize < c.MinCouncilSize {
		errs = append(errs, fmt.Sprintf("max council size %d is below min council size %d", c.MaxCouncilSize, c.MinCouncilSize))
	}
	if len(c.Members) < c.MinCouncilSize {
		errs = append(errs, fmt.Sprintf("council has %d member(s), need at least %d", len(c.Members), c.MinCouncilSize))
	}
	if c.MaxCouncilSize >= c.MinCouncilSize && len(c.Members) > c.MaxCouncilSize {
		errs = append(errs, fmt.Sprintf("council has %d members, at most %d allowed", len(c.Members), c.MaxCouncilSize))
	}
	seen := make(map[string]bool, len(c.Members))
	for _, m := range c.Members {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, "member ids must be non-empty")
			continue
		}
		if seen[m] {
			errs = append(errs, fmt.Sprintf("duplicate member %q", m))
		}
		seen[m] = true
	}
	if c.GlobalTimeout <= 0 {
		errs = append(errs, "global timeout must be positive")
	}
	if c.PerMemberTimeout <= 0 {
		errs = append(errs, "per-member timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(errs, "; "))
	}
	return nil
}

// MemberResponse is a single member's Stage-1 result. Produced once per
// member and immutable afterward; later stages read it but never write it.
type MemberResponse struct {
	// Member is the council member identifier.
	Member string `json:"member" yaml:"member"`

	// Answer is the member's answer text. Empty when the call failed.
	Answer string `json:"answer,omitempty" yaml:"answer,omitempty"`

	// Succeeded reports whether the invocation completed.
	Succeeded bool `json:"succeeded" yaml:"succeeded"`

	// Error holds the failure reason when Succeeded is false.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Elapsed is how long the invocation took.
	Elapsed time.Duration `json:"elapsed,omitempty" yaml:"elapsed,omitempty"`
}

// Succeeded filters responses down to the ones that completed.
func Succeeded(responses []MemberResponse) []MemberResponse {
	out := make([]MemberResponse, 0, len(responses))
	for _, r := range responses {
		if r.Succeeded {
			out = append(out, r)
		}
	}
	return out
}

// Failed filters responses down to the ones that did not complete.
func Failed(responses []MemberResponse) []MemberResponse {
	out := make([]MemberResponse, 0)
	for _, r := range responses {
		if !r.Succeeded {
			out = append(out, r)
		}
	}
	return out
}

// AnonymizedResponse is a Stage-1 answer under an opaque label. The
// label-to-member mapping is held privately by the LabelMap.
type AnonymizedResponse struct {
	Label  string `json:"label" yaml:"label"`
	Answer string `json:"answer" yaml:"answer"`
}

// ReviewResult is one reviewer's Stage-2 opinion: a best-to-worst ranking
// of all anonymized labels except the reviewer's own.
type ReviewResult struct {
	// Reviewer is the member id that produced this review.
	Reviewer string `json:"reviewer" yaml:"reviewer"`

	// RankedLabels is ordered best to worst and is always a permutation
	// of the peer labels (the reviewer's own label never appears).
	RankedLabels []string `json:"ranked_labels" yaml:"ranked_labels"`

	// Reasoning is the reviewer's free-text justification.
	Reasoning string `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`

	// Confidence is the reviewer's self-reported confidence, clamped to
	// [0,1] at ingestion.
	Confidence Confidence `json:"confidence" yaml:"confidence"`
}

// RankedMember is one entry of the consensus ranking, fully de-anonymized.
type RankedMember struct {
	// Member is the real member id (labels are resolved before Stage 3;
	// the chairman never sees raw labels).
	Member string `json:"member" yaml:"member"`

	// Score is the confidence-weighted Borda total across all reviews
	// that ranked this member.
	Score float64 `json:"score" yaml:"score"`

	// AvgConfidence is the mean confidence of the reviews that ranked
	// this member.
	AvgConfidence Confidence `json:"avg_confidence" yaml:"avg_confidence"`

	// Reviews is how many valid reviews ranked this member.
	Reviews int `json:"reviews" yaml:"reviews"`

	// Unranked marks a member that received zero valid reviews. Unranked
	// is distinct from a genuine score of zero and sorts after every
	// ranked member.
	Unranked bool `json:"unranked,omitempty" yaml:"unranked,omitempty"`
}

// ConsensusRanking is the aggregate ordering from best to worst.
type ConsensusRanking []RankedMember

// Top returns the best-ranked member, or false when the ranking is empty
// or entirely unranked.
func (r ConsensusRanking) Top() (RankedMember, bool) {
	if len(r) == 0 || r[0].Unranked {
		return RankedMember{}, false
	}
	return r[0], true
}

// Members returns the member ids in ranking order.
func (r ConsensusRanking) Members() []string {
	out := make([]string, len(r))
	for i, m := range r {
		out[i] = m.Member
	}
	return out
}

// SynthesisResult is the terminal artifact of a session.
type SynthesisResult struct {
	// FinalResponse is the synthesized answer text.
	FinalResponse string `json:"final_response" yaml:"final_response"`

	// Reasoning is the chairman's synthesis reasoning, when provided.
	Reasoning string `json:"synthesis_reasoning,omitempty" yaml:"synthesis_reasoning,omitempty"`

	// Confidence is the chairman's confidence in the synthesis.
	Confidence Confidence `json:"confidence" yaml:"confidence"`

	// FromFallback marks a result produced by the caller-opted top-ranked
	// fallback instead of a real synthesis.
	FromFallback bool `json:"from_fallback,omitempty" yaml:"from_fallback,omitempty"`

	// GeneratedAt is when the synthesis completed.
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
}

// SessionState tracks the council session lifecycle.
type SessionState string

const (
	// StateCreated means the session exists but Stage 1 has not started.
	StateCreated SessionState = "created"
	// StateCollecting means Stage 1 fan-out is in flight.
	StateCollecting SessionState = "collecting_responses"
	// StateReviewing means answers are anonymized and Stage 2 is in flight.
	StateReviewing SessionState = "anonymizing_and_reviewing"
	// StateAggregating means reviews are being folded into a consensus.
	StateAggregating SessionState = "aggregating"
	// StateSynthesizing means the chairman call is in flight.
	StateSynthesizing SessionState = "synthesizing"
	// StateCompleted means the session produced a synthesis result.
	StateCompleted SessionState = "completed"
	// StateFailed means the session aborted with a stage-level error.
	StateFailed SessionState = "failed"
)

// String returns the state as a string.
func (s SessionState) String() string {
	return string(s)
}

// IsTerminal returns true if this is a final state (completed or failed).
func (s SessionState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Result is the payload returned to the caller after a session completes.
// Responses and Reviews are populated according to IncludeAllOpinions and
// IncludePeerReviews.
type Result struct {
	SessionID string           `json:"session_id" yaml:"session_id"`
	Query     string           `json:"query" yaml:"query"`
	State     SessionState     `json:"state" yaml:"state"`
	Synthesis *SynthesisResult `json:"synthesis,omitempty" yaml:"synthesis,omitempty"`
	Ranking   ConsensusRanking `json:"consensus_ranking,omitempty" yaml:"consensus_ranking,omitempty"`
	Responses []MemberResponse `json:"per_member_responses,omitempty" yaml:"per_member_responses,omitempty"`
	Reviews   []ReviewResult   `json:"per_member_reviews,omitempty" yaml:"per_member_reviews,omitempty"`
	StartedAt time.Time        `json:"started_at" yaml:"started_at"`
	Completed time.Time        `json:"completed_at" yaml:"completed_at"`
}

// Validate checks basic result integrity for completed sessions.
func (r *Result) Validate() error {
	if r.State == StateCompleted && r.Synthesis == nil {
		return errors.New("completed result is missing a synthesis")
	}
	return nil
}
