// Package output defines the stable JSON/YAML schemas the CLI and REST
// surfaces emit, plus the writers that render them.
package output

import (
	"time"

	"github.com/Dicklesworthstone/council/internal/council"
)

// ErrorResponse is the standard JSON error format
type ErrorResponse struct {
	Error   string `json:"error" yaml:"error"`
	Code    string `json:"code,omitempty" yaml:"code,omitempty"`
	Details string `json:"details,omitempty" yaml:"details,omitempty"`
}

// NewError creates a new error response
func NewError(msg string) ErrorResponse {
	return ErrorResponse{Error: msg}
}

// NewErrorWithCode creates a new error response with a code
func NewErrorWithCode(code, msg string) ErrorResponse {
	return ErrorResponse{Error: msg, Code: code}
}

// NewErrorWithDetails creates a new error response with details
func NewErrorWithDetails(msg, details string) ErrorResponse {
	return ErrorResponse{Error: msg, Details: details}
}

// SuccessResponse is a simple success indicator
type SuccessResponse struct {
	Success bool   `json:"success" yaml:"success"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// NewSuccess creates a success response
func NewSuccess(msg string) SuccessResponse {
	return SuccessResponse{Success: true, Message: msg}
}

// TimestampedResponse adds a timestamp to any response
type TimestampedResponse struct {
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
}

// NewTimestamped creates a timestamped response base
func NewTimestamped() TimestampedResponse {
	return TimestampedResponse{GeneratedAt: time.Now().UTC()}
}

// MemberAnswerRow is one council member's answer in ask output.
type MemberAnswerRow struct {
	Member    string `json:"member" yaml:"member"`
	Answer    string `json:"answer,omitempty" yaml:"answer,omitempty"`
	Succeeded bool   `json:"succeeded" yaml:"succeeded"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms" yaml:"elapsed_ms"`
}

// ReviewRow is one peer review in ask output.
type ReviewRow struct {
	Reviewer     string   `json:"reviewer" yaml:"reviewer"`
	RankedLabels []string `json:"ranked_labels" yaml:"ranked_labels"`
	Reasoning    string   `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Confidence   float64  `json:"confidence" yaml:"confidence"`
}

// RankingRow is one consensus ranking entry in ask output.
type RankingRow struct {
	Position      int     `json:"position" yaml:"position"`
	Member        string  `json:"member" yaml:"member"`
	Score         float64 `json:"score" yaml:"score"`
	AvgConfidence float64 `json:"avg_confidence" yaml:"avg_confidence"`
	Reviews       int     `json:"reviews" yaml:"reviews"`
	Unranked      bool    `json:"unranked,omitempty" yaml:"unranked,omitempty"`
}

// AskResponse is the output format for the ask command.
type AskResponse struct {
	TimestampedResponse
	SessionID     string            `json:"session_id" yaml:"session_id"`
	Query         string            `json:"query" yaml:"query"`
	State         string            `json:"state" yaml:"state"`
	FinalResponse string            `json:"final_response" yaml:"final_response"`
	Reasoning     string            `json:"synthesis_reasoning,omitempty" yaml:"synthesis_reasoning,omitempty"`
	Confidence    float64           `json:"confidence" yaml:"confidence"`
	FromFallback  bool              `json:"from_fallback,omitempty" yaml:"from_fallback,omitempty"`
	Ranking       []RankingRow      `json:"ranking,omitempty" yaml:"ranking,omitempty"`
	Answers       []MemberAnswerRow `json:"answers,omitempty" yaml:"answers,omitempty"`
	Reviews       []ReviewRow       `json:"per_member_reviews,omitempty" yaml:"per_member_reviews,omitempty"`
	ElapsedMS     int64             `json:"elapsed_ms" yaml:"elapsed_ms"`
}

// NewAskResponse flattens an engine result into the ask schema.
func NewAskResponse(result *council.Result) AskResponse {
	resp := AskResponse{
		TimestampedResponse: NewTimestamped(),
		SessionID:           result.SessionID,
		Query:               result.Query,
		State:               result.State.String(),
		ElapsedMS:           result.Completed.Sub(result.StartedAt).Milliseconds(),
	}
	if result.Synthesis != nil {
		resp.FinalResponse = result.Synthesis.FinalResponse
		resp.Reasoning = result.Synthesis.Reasoning
		resp.Confidence = float64(result.Synthesis.Confidence)
		resp.FromFallback = result.Synthesis.FromFallback
	}
	for i, m := range result.Ranking {
		resp.Ranking = append(resp.Ranking, RankingRow{
			Position:      i + 1,
			Member:        m.Member,
			Score:         m.Score,
			AvgConfidence: float64(m.AvgConfidence),
			Reviews:       m.Reviews,
			Unranked:      m.Unranked,
		})
	}
	for _, r := range result.Responses {
		resp.Answers = append(resp.Answers, MemberAnswerRow{
			Member:    r.Member,
			Answer:    r.Answer,
			Succeeded: r.Succeeded,
			Error:     r.Error,
			ElapsedMS: r.Elapsed.Milliseconds(),
		})
	}
	for _, r := range result.Reviews {
		resp.Reviews = append(resp.Reviews, ReviewRow{
			Reviewer:     r.Reviewer,
			RankedLabels: r.RankedLabels,
			Reasoning:    r.Reasoning,
			Confidence:   float64(r.Confidence),
		})
	}
	return resp
}
