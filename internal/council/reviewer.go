package council

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/council/internal/invoker"
)

// Reviewer runs Stage 2: every surviving member reviews the other
// members' anonymized answers and returns a ranked opinion. Review
// failures and malformed rankings are filtered, never fatal here; the
// zero-valid-reviews decision belongs to the engine.
type Reviewer struct {
	// Invoker reaches the members.
	Invoker invoker.Invoker

	// Timeout bounds each individual review call.
	Timeout time.Duration

	// Logger receives filtered-review and data-quality logs.
	Logger *slog.Logger

	// OnDataQuality, when set, is called for each clamped confidence
	// value so the engine can emit an audit event.
	OnDataQuality func(reviewer string, raw float64)
}

// NewReviewer creates a Stage-2 reviewer.
func NewReviewer(inv invoker.Invoker, timeout time.Duration) *Reviewer {
	return &Reviewer{Invoker: inv, Timeout: timeout}
}

func (r *Reviewer) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Review fans a review request out to every member in the label map and
// returns the valid reviews. Each reviewer sees all anonymized answers
// except its own; the reviewer never learns which peer authored which
// answer. The returned slice preserves member order and contains only
// reviews whose ranking is a permutation of the reviewer's peer labels.
func (r *Reviewer) Review(ctx context.Context, query string, anon []AnonymizedResponse, labels *LabelMap) []ReviewResult {
	members := labels.Members()

	results := make([]*ReviewResult, len(members))

	var wg sync.WaitGroup
	for i, member := range members {
		wg.Add(1)
		go func(i int, member string) {
			defer wg.Done()
			results[i] = r.reviewOne(ctx, query, member, anon, labels)
		}(i, member)
	}
	wg.Wait()

	valid := make([]ReviewResult, 0, len(members))
	for _, res := range results {
		if res != nil {
			valid = append(valid, *res)
		}
	}
	return valid
}

// reviewOne runs a single bounded review call. Returns nil when the call
// failed or produced a malformed ranking.
func (r *Reviewer) reviewOne(ctx context.Context, query, member string, anon []AnonymizedResponse, labels *LabelMap) *ReviewResult {
	ownLabel, ok := labels.LabelFor(member)
	if !ok {
		return nil
	}

	// The reviewer's own answer is excluded at payload-construction time,
	// so its own label can never appear in a valid ranking regardless of
	// what the model returns.
	peers := make([]AnonymizedResponse, 0, len(anon)-1)
	for _, a := range anon {
		if a.Label != ownLabel {
			peers = append(peers, a)
		}
	}
	if len(peers) == 0 {
		r.logger().Info("member has no peers to review", "member", member)
		return nil
	}

	callCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	prompt := buildReviewPrompt(query, peers)
	raw, err := r.Invoker.Invoke(callCtx, member, prompt)
	if err != nil {
		r.logger().Warn("review call failed",
			"stage", StateReviewing.String(),
			"member", member,
			"error", err)
		return nil
	}

	parsed, err := parseReviewOutput(raw)
	if err != nil {
		r.logger().Warn("review output unparseable, dropping review",
			"member", member,
			"error", err)
		return nil
	}

	expected := make([]string, len(peers))
	for i, p := range peers {
		expected[i] = p.Label
	}
	if err := validateRanking(parsed.Ranking, expected); err != nil {
		r.logger().Warn("review ranking malformed, dropping review",
			"member", member,
			"error", err)
		return nil
	}

	conf, clamped := parsed.Confidence.Clamp()
	if clamped {
		r.logger().Warn("reviewer confidence out of range, clamped",
			"member", member,
			"raw", float64(parsed.Confidence),
			"clamped", float64(conf))
		if r.OnDataQuality != nil {
			r.OnDataQuality(member, float64(parsed.Confidence))
		}
	}

	return &ReviewResult{
		Reviewer:     member,
		RankedLabels: parsed.Ranking,
		Reasoning:    parsed.Reasoning,
		Confidence:   conf,
	}
}

// validateRanking checks that got is a permutation of want.
func validateRanking(got, want []string) error {
	if len(got) == 0 {
		return fmt.Errorf("ranking is empty")
	}
	if len(got) != len(want) {
		return fmt.Errorf("ranking has %d labels, expected %d", len(got), len(want))
	}
	g := append([]string(nil), got...)
	w := append([]string(nil), want...)
	sort.Strings(g)
	sort.Strings(w)
	for i := range g {
		if g[i] != w[i] {
			return fmt.Errorf("ranking is not a permutation of the peer labels (unexpected %q)", g[i])
		}
	}
	return nil
}

// reviewOutput is the structured shape reviewers are asked to produce.
type reviewOutput struct {
	Ranking    []string   `json:"ranking" yaml:"ranking"`
	Reasoning  string     `json:"reasoning" yaml:"reasoning"`
	Confidence Confidence `json:"confidence" yaml:"confidence"`
}

// parseReviewOutput parses raw reviewer output. Supports JSON and YAML,
// extracted from code blocks (```json / ```yaml) when present.
func parseReviewOutput(raw string) (*reviewOutput, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty review output")
	}

	content := extractStructuredContent(raw, "ranking:")

	var out reviewOutput
	if err := json.Unmarshal([]byte(content), &out); err == nil {
		return &out, nil
	}
	if err := yaml.Unmarshal([]byte(content), &out); err == nil && len(out.Ranking) > 0 {
		return &out, nil
	}

	return nil, fmt.Errorf("failed to parse review output as JSON or YAML")
}

// extractStructuredContent pulls structured content out of free-form
// member output. Handles ```json and ```yaml code blocks; otherwise looks
// for the first line starting with firstField.
func extractStructuredContent(raw, firstField string) string {
	for _, lang := range []string{"json", "yaml"} {
		startMarker := "```" + lang
		endMarker := "```"

		startIdx := strings.Index(strings.ToLower(raw), startMarker)
		if startIdx == -1 {
			continue
		}

		contentStart := startIdx + len(startMarker)
		if contentStart < len(raw) && raw[contentStart] == '\n' {
			contentStart++
		}

		remaining := raw[contentStart:]
		endIdx := strings.Index(remaining, endMarker)
		if endIdx == -1 {
			return remaining
		}
		return remaining[:endIdx]
	}

	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, firstField) || strings.HasPrefix(trimmed, "\""+strings.TrimSuffix(firstField, ":")+"\"") {
			return strings.Join(lines[i:], "\n")
		}
	}

	return raw
}

const reviewPromptTemplate = `You are one member of a review panel evaluating anonymous answers to a question.

## Question
%s

## Answers Under Review
%s

## Your Task
1. Read every answer carefully.
2. Rank ALL of the answers above from best to worst by accuracy, depth, and clarity.
3. Briefly explain your ranking.
4. State your confidence in your ranking as a number between 0.0 and 1.0.

## Output Format
Respond with a single YAML code block and nothing else:

` + "```yaml" + `
ranking:
%s
reasoning: "one short paragraph explaining the ordering"
confidence: 0.8
` + "```" + `

The ranking must list every label shown above exactly once, best first.
`

// buildReviewPrompt assembles the Stage-2 prompt for one reviewer. Only
// the peers' answers are included; the reviewer's own answer never is.
func buildReviewPrompt(query string, peers []AnonymizedResponse) string {
	var answers strings.Builder
	for _, p := range peers {
		fmt.Fprintf(&answers, "### %s\n%s\n\n", p.Label, p.Answer)
	}

	var sample strings.Builder
	for _, p := range peers {
		fmt.Fprintf(&sample, "  - %q\n", p.Label)
	}

	return fmt.Sprintf(reviewPromptTemplate,
		query,
		strings.TrimRight(answers.String(), "\n"),
		strings.TrimRight(sample.String(), "\n"),
	)
}
