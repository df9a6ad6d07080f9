package council

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/council/internal/invoker"
)

// Synthesizer runs Stage 3: one chairman call that folds the original
// query, the Stage-1 answers, the consensus ranking, and the Stage-2
// reviews into a single final response.
type Synthesizer struct {
	// Invoker reaches the chairman.
	Invoker invoker.Invoker

	// Chairman is the member that performs the synthesis.
	Chairman string

	// IncludeAllOpinions includes every Stage-1 answer in the prompt,
	// not just the top-ranked one.
	IncludeAllOpinions bool

	// IncludePeerReviews includes Stage-2 reasoning in the prompt.
	IncludePeerReviews bool

	// FallbackTopRanked, when the chairman fails, returns the top-ranked
	// Stage-1 answer marked as a fallback instead of an error. Off by
	// default: silently relabeling a peer answer as a synthesis would
	// misrepresent its provenance.
	FallbackTopRanked bool

	// Logger receives chairman-failure logs.
	Logger *slog.Logger
}

func (s *Synthesizer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Synthesize issues the chairman call, bounded by whatever remains of the
// session deadline on ctx. On chairman failure it surfaces
// ErrChairmanUnavailable unless the caller opted into FallbackTopRanked.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, responses []MemberResponse, ranking ConsensusRanking, reviews []ReviewResult) (*SynthesisResult, error) {
	prompt := s.buildPrompt(query, responses, ranking, reviews)

	raw, err := s.Invoker.Invoke(ctx, s.Chairman, prompt)
	if err != nil {
		s.logger().Warn("chairman call failed",
			"stage", StateSynthesizing.String(),
			"chairman", s.Chairman,
			"error", err)
		if s.FallbackTopRanked {
			if fb, ok := s.fallbackResult(responses, ranking); ok {
				return fb, nil
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrChairmanUnavailable, err)
	}

	result := parseSynthesisOutput(raw)
	conf, clamped := result.Confidence.Clamp()
	if clamped {
		s.logger().Warn("chairman confidence out of range, clamped",
			"chairman", s.Chairman,
			"raw", float64(result.Confidence))
	}
	result.Confidence = conf
	result.GeneratedAt = time.Now().UTC()
	return result, nil
}

// fallbackResult builds the caller-opted fallback from the top-ranked
// Stage-1 answer. Returns false when no ranked answer exists.
func (s *Synthesizer) fallbackResult(responses []MemberResponse, ranking ConsensusRanking) (*SynthesisResult, bool) {
	top, ok := ranking.Top()
	if !ok {
		return nil, false
	}
	for _, r := range responses {
		if r.Member == top.Member && r.Succeeded {
			s.logger().Info("returning top-ranked answer as fallback",
				"member", top.Member)
			return &SynthesisResult{
				FinalResponse: r.Answer,
				Reasoning:     fmt.Sprintf("chairman unavailable; top-ranked response from %s returned verbatim", top.Member),
				Confidence:    top.AvgConfidence,
				FromFallback:  true,
				GeneratedAt:   time.Now().UTC(),
			}, true
		}
	}
	return nil, false
}

// synthesisOutput is the structured shape the chairman is asked to produce.
type synthesisOutput struct {
	FinalResponse string     `json:"final_response" yaml:"final_response"`
	Reasoning     string     `json:"synthesis_reasoning" yaml:"synthesis_reasoning"`
	Confidence    Confidence `json:"confidence" yaml:"confidence"`
}

// parseSynthesisOutput parses chairman output. Structured JSON/YAML is
// preferred; free text falls back to being the final response verbatim,
// since a synthesis is ultimately prose.
func parseSynthesisOutput(raw string) *SynthesisResult {
	content := extractStructuredContent(raw, "final_response:")

	var out synthesisOutput
	if err := json.Unmarshal([]byte(content), &out); err == nil && strings.TrimSpace(out.FinalResponse) != "" {
		return &SynthesisResult{
			FinalResponse: out.FinalResponse,
			Reasoning:     out.Reasoning,
			Confidence:    out.Confidence,
		}
	}
	if err := yaml.Unmarshal([]byte(content), &out); err == nil && strings.TrimSpace(out.FinalResponse) != "" {
		return &SynthesisResult{
			FinalResponse: out.FinalResponse,
			Reasoning:     out.Reasoning,
			Confidence:    out.Confidence,
		}
	}

	return &SynthesisResult{FinalResponse: strings.TrimSpace(raw)}
}

const chairmanPromptTemplate = `You are the CHAIRMAN of a council of language models. The council has answered a question, anonymously reviewed each other's answers, and produced a consensus ranking. Your role is to synthesize one final, high-quality answer.

## Original Question
%s

## Consensus Ranking
%s
%s%s
## Your Task
1. Weigh the council's answers, favoring those the consensus ranked highly.
2. Resolve disagreements explicitly rather than averaging them away.
3. Produce one final answer, your synthesis reasoning, and a confidence between 0.0 and 1.0.

## Output Format
Respond with a single YAML code block and nothing else:

` + "```yaml" + `
final_response: |
  The synthesized answer.
synthesis_reasoning: "how the council's answers and reviews shaped this synthesis"
confidence: 0.8
` + "```" + `
`

// buildPrompt assembles the Stage-3 chairman prompt. The ranking section
// uses real member ids — anonymity serves no purpose by Stage 3.
func (s *Synthesizer) buildPrompt(query string, responses []MemberResponse, ranking ConsensusRanking, reviews []ReviewResult) string {
	var rank strings.Builder
	for i, m := range ranking {
		if m.Unranked {
			fmt.Fprintf(&rank, "%d. %s (unranked: no peer reviews)\n", i+1, m.Member)
			continue
		}
		fmt.Fprintf(&rank, "%d. %s (score %.2f, avg reviewer confidence %.2f, %d review(s))\n",
			i+1, m.Member, m.Score, float64(m.AvgConfidence), m.Reviews)
	}

	opinions := ""
	if s.IncludeAllOpinions {
		var b strings.Builder
		b.WriteString("\n## Council Answers\n")
		for _, r := range Succeeded(responses) {
			fmt.Fprintf(&b, "### %s\n%s\n\n", r.Member, r.Answer)
		}
		opinions = b.String()
	}

	reviewText := ""
	if s.IncludePeerReviews && len(reviews) > 0 {
		var b strings.Builder
		b.WriteString("\n## Peer Review Notes\n")
		for _, rv := range reviews {
			reasoning := strings.TrimSpace(rv.Reasoning)
			if reasoning == "" {
				reasoning = "(no reasoning given)"
			}
			fmt.Fprintf(&b, "- %s (confidence %.2f): %s\n", rv.Reviewer, float64(rv.Confidence), reasoning)
		}
		reviewText = b.String()
	}

	return fmt.Sprintf(chairmanPromptTemplate,
		query,
		strings.TrimRight(rank.String(), "\n"),
		opinions,
		reviewText,
	)
}
