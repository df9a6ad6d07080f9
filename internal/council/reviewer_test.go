package council

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/council/internal/invoker"
)

// reviewFixture builds three anonymized answers and their label map.
func reviewFixture(t *testing.T) ([]AnonymizedResponse, *LabelMap) {
	t.Helper()
	responses := []MemberResponse{
		{Member: "model-a", Answer: "alpha", Succeeded: true},
		{Member: "model-b", Answer: "beta", Succeeded: true},
		{Member: "model-c", Answer: "gamma", Succeeded: true},
	}
	anon, labels := Anonymizer{Enabled: true}.Anonymize(responses)
	return anon, labels
}

// rankingYAML renders a valid review for the given labels.
func rankingYAML(confidence string, rankedLabels ...string) string {
	var b strings.Builder
	b.WriteString("```yaml\nranking:\n")
	for _, l := range rankedLabels {
		fmt.Fprintf(&b, "  - %q\n", l)
	}
	fmt.Fprintf(&b, "reasoning: \"looked solid\"\nconfidence: %s\n```\n", confidence)
	return b.String()
}

// peerLabelsFromPrompt extracts the answer labels shown in a review prompt.
func peerLabelsFromPrompt(prompt string) []string {
	var labels []string
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "### ") {
			labels = append(labels, strings.TrimPrefix(line, "### "))
		}
	}
	return labels
}

func TestReviewExcludesOwnLabel(t *testing.T) {
	anon, labels := reviewFixture(t)

	var mu sync.Mutex
	prompts := make(map[string]string)
	inv := invoker.Func(func(ctx context.Context, member, prompt string) (string, error) {
		mu.Lock()
		prompts[member] = prompt
		mu.Unlock()
		return rankingYAML("0.9", peerLabelsFromPrompt(prompt)...), nil
	})

	r := NewReviewer(inv, time.Second)
	reviews := r.Review(context.Background(), "q", anon, labels)

	if len(reviews) != 3 {
		t.Fatalf("got %d reviews, want 3", len(reviews))
	}

	for member, prompt := range prompts {
		own, _ := labels.LabelFor(member)
		if strings.Contains(prompt, "### "+own) {
			t.Errorf("reviewer %s saw its own label %q in the prompt", member, own)
		}
	}

	for _, rev := range reviews {
		own, _ := labels.LabelFor(rev.Reviewer)
		for _, l := range rev.RankedLabels {
			if l == own {
				t.Errorf("reviewer %s ranked its own label", rev.Reviewer)
			}
		}
		if len(rev.RankedLabels) != 2 {
			t.Errorf("reviewer %s ranked %d labels, want 2", rev.Reviewer, len(rev.RankedLabels))
		}
	}
}

func TestReviewDropsMalformedRankings(t *testing.T) {
	anon, labels := reviewFixture(t)

	inv := invoker.Func(func(ctx context.Context, member, prompt string) (string, error) {
		switch member {
		case "model-a":
			return rankingYAML("0.9", peerLabelsFromPrompt(prompt)...), nil
		case "model-b":
			// Duplicate label, not a permutation.
			peers := peerLabelsFromPrompt(prompt)
			return rankingYAML("0.9", peers[0], peers[0]), nil
		default:
			// Label from outside the session.
			return rankingYAML("0.9", "Response X", "Response Y"), nil
		}
	})

	r := NewReviewer(inv, time.Second)
	reviews := r.Review(context.Background(), "q", anon, labels)

	if len(reviews) != 1 {
		t.Fatalf("got %d valid reviews, want 1", len(reviews))
	}
	if reviews[0].Reviewer != "model-a" {
		t.Errorf("surviving reviewer = %s, want model-a", reviews[0].Reviewer)
	}
}

func TestReviewFailedCallIsFiltered(t *testing.T) {
	anon, labels := reviewFixture(t)

	inv := invoker.Func(func(ctx context.Context, member, prompt string) (string, error) {
		if member == "model-b" {
			return "", errors.New("upstream 500")
		}
		return rankingYAML("0.7", peerLabelsFromPrompt(prompt)...), nil
	})

	r := NewReviewer(inv, time.Second)
	reviews := r.Review(context.Background(), "q", anon, labels)

	if len(reviews) != 2 {
		t.Fatalf("got %d reviews, want 2", len(reviews))
	}
	for _, rev := range reviews {
		if rev.Reviewer == "model-b" {
			t.Error("failed reviewer should be filtered")
		}
	}
}

func TestReviewClampsConfidenceAndReports(t *testing.T) {
	anon, labels := reviewFixture(t)

	inv := invoker.Func(func(ctx context.Context, member, prompt string) (string, error) {
		return rankingYAML("1.8", peerLabelsFromPrompt(prompt)...), nil
	})

	var mu sync.Mutex
	clamps := make(map[string]float64)
	r := NewReviewer(inv, time.Second)
	r.OnDataQuality = func(reviewer string, raw float64) {
		mu.Lock()
		clamps[reviewer] = raw
		mu.Unlock()
	}

	reviews := r.Review(context.Background(), "q", anon, labels)

	if len(reviews) != 3 {
		t.Fatalf("got %d reviews, want 3", len(reviews))
	}
	for _, rev := range reviews {
		if rev.Confidence != 1.0 {
			t.Errorf("reviewer %s confidence = %v, want clamped 1.0", rev.Reviewer, rev.Confidence)
		}
		if raw, ok := clamps[rev.Reviewer]; !ok || raw != 1.8 {
			t.Errorf("data-quality callback for %s = (%v, %v)", rev.Reviewer, raw, ok)
		}
	}
}

func TestReviewSingleSurvivorHasNoPeers(t *testing.T) {
	responses := []MemberResponse{
		{Member: "model-a", Answer: "only one", Succeeded: true},
	}
	anon, labels := Anonymizer{Enabled: true}.Anonymize(responses)

	inv := invoker.Func(func(ctx context.Context, member, prompt string) (string, error) {
		t.Errorf("no review call expected, got one for %s", member)
		return "", nil
	})

	r := NewReviewer(inv, time.Second)
	reviews := r.Review(context.Background(), "q", anon, labels)
	if len(reviews) != 0 {
		t.Errorf("got %d reviews, want 0", len(reviews))
	}
}

func TestParseReviewOutputFormats(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"yaml block", "Here is my review:\n```yaml\nranking:\n  - \"Response A\"\n  - \"Response B\"\nreasoning: \"ok\"\nconfidence: 0.6\n```"},
		{"json block", "```json\n{\"ranking\": [\"Response A\", \"Response B\"], \"reasoning\": \"ok\", \"confidence\": 0.6}\n```"},
		{"bare json", `{"ranking": ["Response A", "Response B"], "confidence": 0.6}`},
		{"bare yaml with preamble", "Sure!\nranking:\n  - \"Response A\"\n  - \"Response B\"\nconfidence: 0.6"},
		{"qualitative confidence", "```yaml\nranking:\n  - \"Response A\"\n  - \"Response B\"\nconfidence: high\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := parseReviewOutput(tt.raw)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(out.Ranking) != 2 || out.Ranking[0] != "Response A" {
				t.Errorf("ranking = %v", out.Ranking)
			}
			if out.Confidence < 0.5 {
				t.Errorf("confidence = %v", out.Confidence)
			}
		})
	}

	if _, err := parseReviewOutput("I cannot rank these answers."); err == nil {
		t.Error("free text without a ranking should fail to parse")
	}
	if _, err := parseReviewOutput(""); err == nil {
		t.Error("empty output should fail to parse")
	}
}

func TestValidateRanking(t *testing.T) {
	want := []string{"Response A", "Response B", "Response C"}

	if err := validateRanking([]string{"Response C", "Response A", "Response B"}, want); err != nil {
		t.Errorf("permutation rejected: %v", err)
	}
	if err := validateRanking([]string{"Response A", "Response B"}, want); err == nil {
		t.Error("missing label accepted")
	}
	if err := validateRanking([]string{"Response A", "Response A", "Response B"}, want); err == nil {
		t.Error("duplicate label accepted")
	}
	if err := validateRanking(nil, want); err == nil {
		t.Error("empty ranking accepted")
	}
}
