package council

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// stageInvoker answers Stage-1 queries, produces valid reviews for
// Stage 2, and synthesizes for Stage 3. Per-member failures can be
// forced per stage.
type stageInvoker struct {
	answerErrs map[string]error
	reviewErrs map[string]error
	chairErr   error
	slow       map[string]time.Duration

	mu    sync.Mutex
	calls []string
}

func (s *stageInvoker) Invoke(ctx context.Context, member, prompt string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, member)
	s.mu.Unlock()

	if d, ok := s.slow[member]; ok {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(d):
		}
	}

	switch {
	case strings.Contains(prompt, "CHAIRMAN"):
		if s.chairErr != nil {
			return "", s.chairErr
		}
		return "```yaml\nfinal_response: |\n  Synthesized final answer.\nsynthesis_reasoning: \"merged the top answers\"\nconfidence: 0.9\n```", nil
	case strings.Contains(prompt, "review panel"):
		if err, ok := s.reviewErrs[member]; ok {
			return "", err
		}
		var ranking strings.Builder
		for _, line := range strings.Split(prompt, "\n") {
			if strings.HasPrefix(line, "### ") {
				fmt.Fprintf(&ranking, "  - %q\n", strings.TrimPrefix(line, "### "))
			}
		}
		return "```yaml\nranking:\n" + ranking.String() + "reasoning: \"fine\"\nconfidence: 0.8\n```", nil
	default:
		if err, ok := s.answerErrs[member]; ok {
			return "", err
		}
		return "answer from " + member, nil
	}
}

func engineConfig() Config {
	cfg := DefaultConfig()
	cfg.Members = []string{"model-a", "model-b", "model-c", "model-d"}
	cfg.Chairman = "model-chair"
	cfg.GlobalTimeout = 5 * time.Second
	cfg.PerMemberTimeout = time.Second
	return cfg
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	cfg := engineConfig()
	cfg.Chairman = ""

	_, err := New(cfg, &stageInvoker{})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("error = %v, want ErrConfiguration", err)
	}

	if _, err := New(engineConfig(), nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("nil invoker error = %v, want ErrConfiguration", err)
	}
}

func TestEngineFullSession(t *testing.T) {
	inv := &stageInvoker{}
	engine, err := New(engineConfig(), inv)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	result, err := engine.Run(context.Background(), "what is consensus?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.State != StateCompleted {
		t.Errorf("state = %s, want completed", result.State)
	}
	if result.Synthesis == nil || !strings.Contains(result.Synthesis.FinalResponse, "Synthesized final answer.") {
		t.Errorf("synthesis = %+v", result.Synthesis)
	}
	if len(result.Ranking) != 4 {
		t.Errorf("ranking has %d members, want 4", len(result.Ranking))
	}
	for _, m := range result.Ranking {
		if m.Unranked {
			t.Errorf("%s unexpectedly unranked", m.Member)
		}
	}
	if len(result.Responses) != 4 {
		t.Errorf("got %d responses, want 4 (IncludeAllOpinions)", len(result.Responses))
	}
	if len(result.Reviews) != 4 {
		t.Errorf("got %d reviews, want 4 (IncludePeerReviews)", len(result.Reviews))
	}
	if err := result.Validate(); err != nil {
		t.Errorf("result validate: %v", err)
	}
}

func TestEngineSingleTimeoutStillCompletes(t *testing.T) {
	inv := &stageInvoker{
		slow: map[string]time.Duration{"model-d": 10 * time.Second},
	}
	cfg := engineConfig()
	cfg.PerMemberTimeout = 100 * time.Millisecond

	engine, err := New(cfg, inv)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	result, err := engine.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.State != StateCompleted {
		t.Errorf("state = %s, want completed despite one timeout", result.State)
	}
	var timedOut *MemberResponse
	for i := range result.Responses {
		if result.Responses[i].Member == "model-d" {
			timedOut = &result.Responses[i]
		}
	}
	if timedOut == nil || timedOut.Succeeded {
		t.Errorf("model-d should be recorded as failed, got %+v", timedOut)
	}
	// The timed-out member is excluded from review and ranking.
	for _, m := range result.Ranking {
		if m.Member == "model-d" {
			t.Error("timed-out member should not appear in the ranking")
		}
	}
}

func TestEngineGlobalDeadlineMidCollectProceedsWithQuorum(t *testing.T) {
	inv := &stageInvoker{
		slow: map[string]time.Duration{"model-d": 10 * time.Second},
	}
	cfg := engineConfig()
	cfg.GlobalTimeout = 100 * time.Millisecond
	cfg.PerMemberTimeout = 2 * time.Second
	cfg.MinCouncilSize = 2

	engine, err := New(cfg, inv)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	// The global deadline expires while model-d is still in flight, but the
	// three collected answers meet quorum, so the session runs to completion
	// on the partial set instead of failing with a deadline error.
	result, err := engine.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.State != StateCompleted {
		t.Errorf("state = %s, want completed", result.State)
	}
	if got := len(Succeeded(result.Responses)); got != 3 {
		t.Errorf("got %d succeeded responses, want 3", got)
	}
	for _, m := range result.Ranking {
		if m.Member == "model-d" {
			t.Error("deadline-cancelled member should not appear in the ranking")
		}
	}
}

func TestEngineCancelledSessionStopsBetweenStages(t *testing.T) {
	inv := &stageInvoker{
		slow: map[string]time.Duration{"model-d": 10 * time.Second},
	}
	cfg := engineConfig()
	cfg.GlobalTimeout = 5 * time.Second
	cfg.PerMemberTimeout = 2 * time.Second
	cfg.MinCouncilSize = 2

	engine, err := New(cfg, inv)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	// Cancelling the caller's context mid-Stage-1 stops the pipeline even
	// though quorum was met by the fast members.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = engine.Run(ctx, "q")
	if !errors.Is(err, ErrDeadlineExceeded) {
		t.Fatalf("error = %v, want ErrDeadlineExceeded", err)
	}

	var sessErr *SessionError
	if !errors.As(err, &sessErr) {
		t.Fatal("error should be a *SessionError")
	}
	if sessErr.State != StateCollecting {
		t.Errorf("failed state = %s, want collecting", sessErr.State)
	}

	// Stage 2 never started.
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if len(inv.calls) != 4 {
		t.Errorf("made %d calls, want 4 (Stage 1 only)", len(inv.calls))
	}
}

func TestEngineQuorumFailure(t *testing.T) {
	inv := &stageInvoker{
		answerErrs: map[string]error{
			"model-a": errors.New("down"),
			"model-b": errors.New("down"),
			"model-c": errors.New("down"),
		},
	}
	cfg := engineConfig()
	cfg.MinCouncilSize = 2

	engine, err := New(cfg, inv)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	_, err = engine.Run(context.Background(), "q")
	if !errors.Is(err, ErrInsufficientQuorum) {
		t.Fatalf("error = %v, want ErrInsufficientQuorum", err)
	}

	var sessErr *SessionError
	if !errors.As(err, &sessErr) {
		t.Fatal("error should be a *SessionError")
	}
	if sessErr.State != StateCollecting {
		t.Errorf("failed state = %s, want collecting", sessErr.State)
	}
	if len(sessErr.Failures) != 3 {
		t.Errorf("got %d member failures, want 3", len(sessErr.Failures))
	}

	// Stage 2 never started: no review calls for the surviving member.
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if len(inv.calls) != 4 {
		t.Errorf("made %d calls, want 4 (Stage 1 only)", len(inv.calls))
	}
}

func TestEngineAllReviewsFailedProceedsUnranked(t *testing.T) {
	inv := &stageInvoker{
		reviewErrs: map[string]error{
			"model-a": errors.New("review down"),
			"model-b": errors.New("review down"),
			"model-c": errors.New("review down"),
			"model-d": errors.New("review down"),
		},
	}
	cfg := engineConfig()
	cfg.RequireRankings = false

	engine, err := New(cfg, inv)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	result, err := engine.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.State != StateCompleted {
		t.Errorf("state = %s, want completed", result.State)
	}
	for _, m := range result.Ranking {
		if !m.Unranked {
			t.Errorf("%s should be unranked with zero valid reviews", m.Member)
		}
	}
}

func TestEngineAllReviewsFailedWithRequireRankings(t *testing.T) {
	inv := &stageInvoker{
		reviewErrs: map[string]error{
			"model-a": errors.New("review down"),
			"model-b": errors.New("review down"),
			"model-c": errors.New("review down"),
			"model-d": errors.New("review down"),
		},
	}
	cfg := engineConfig()
	cfg.RequireRankings = true

	engine, err := New(cfg, inv)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	_, err = engine.Run(context.Background(), "q")
	if !errors.Is(err, ErrNoValidReviews) {
		t.Fatalf("error = %v, want ErrNoValidReviews", err)
	}
}

func TestEngineChairmanFailure(t *testing.T) {
	inv := &stageInvoker{chairErr: errors.New("chairman offline")}

	engine, err := New(engineConfig(), inv)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	_, err = engine.Run(context.Background(), "q")
	if !errors.Is(err, ErrChairmanUnavailable) {
		t.Fatalf("error = %v, want ErrChairmanUnavailable", err)
	}

	var sessErr *SessionError
	if !errors.As(err, &sessErr) {
		t.Fatal("error should be a *SessionError")
	}
	if sessErr.State != StateSynthesizing {
		t.Errorf("failed state = %s, want synthesizing", sessErr.State)
	}
}

func TestEngineChairmanFallback(t *testing.T) {
	inv := &stageInvoker{chairErr: errors.New("chairman offline")}
	cfg := engineConfig()
	cfg.FallbackTopRanked = true

	engine, err := New(cfg, inv)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	result, err := engine.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("run with fallback: %v", err)
	}
	if result.Synthesis == nil || !result.Synthesis.FromFallback {
		t.Fatalf("synthesis = %+v, want fallback-marked", result.Synthesis)
	}
	if !strings.HasPrefix(result.Synthesis.FinalResponse, "answer from ") {
		t.Errorf("fallback answer = %q, want a verbatim member answer", result.Synthesis.FinalResponse)
	}
}

func TestEngineGlobalDeadline(t *testing.T) {
	inv := &stageInvoker{
		slow: map[string]time.Duration{
			"model-a": time.Second,
			"model-b": time.Second,
			"model-c": time.Second,
			"model-d": time.Second,
		},
	}
	cfg := engineConfig()
	cfg.GlobalTimeout = 100 * time.Millisecond
	cfg.PerMemberTimeout = 2 * time.Second

	engine, err := New(cfg, inv)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	_, err = engine.Run(context.Background(), "q")
	if !errors.Is(err, ErrDeadlineExceeded) {
		t.Fatalf("error = %v, want ErrDeadlineExceeded", err)
	}
}

// recordingSink captures audit traffic for assertions.
type recordingSink struct {
	mu      sync.Mutex
	events  []AuditEvent
	records []*SessionRecord
}

func (r *recordingSink) RecordEvent(e AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) RecordSession(rec *SessionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordingSink) eventTypes() map[AuditEventType]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[AuditEventType]int)
	for _, e := range r.events {
		out[e.Type]++
	}
	return out
}

func TestEngineAuditTrail(t *testing.T) {
	inv := &stageInvoker{
		answerErrs: map[string]error{"model-d": errors.New("down")},
	}
	sink := &recordingSink{}

	engine, err := New(engineConfig(), inv, WithSink(sink))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	if _, err := engine.Run(context.Background(), "q"); err != nil {
		t.Fatalf("run: %v", err)
	}

	types := sink.eventTypes()
	if types[EventSessionCreated] != 1 {
		t.Errorf("session_created events = %d, want 1", types[EventSessionCreated])
	}
	if types[EventStageStarted] != 4 {
		t.Errorf("stage_started events = %d, want 4", types[EventStageStarted])
	}
	if types[EventMemberFailed] != 1 {
		t.Errorf("member_failed events = %d, want 1", types[EventMemberFailed])
	}
	if types[EventSessionCompleted] != 1 {
		t.Errorf("session_completed events = %d, want 1", types[EventSessionCompleted])
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.records) != 1 {
		t.Fatalf("got %d session records, want 1", len(sink.records))
	}
	rec := sink.records[0]
	if rec.State != StateCompleted || rec.Synthesis == nil {
		t.Errorf("record = %+v", rec)
	}
}

func TestEngineDirect(t *testing.T) {
	inv := &stageInvoker{}
	engine, err := New(engineConfig(), inv)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	result, err := engine.Direct(context.Background(), "plain question")
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	if result.State != StateCompleted || result.Synthesis == nil {
		t.Fatalf("result = %+v", result)
	}
	if len(result.Ranking) != 0 || len(result.Reviews) != 0 {
		t.Error("direct result should have no ranking or reviews")
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if len(inv.calls) != 1 || inv.calls[0] != "model-chair" {
		t.Errorf("calls = %v, want a single chairman call", inv.calls)
	}
}

func TestEngineSessionIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newSessionID()
		if !strings.HasPrefix(id, "cs-") {
			t.Fatalf("session id %q missing prefix", id)
		}
		if seen[id] {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = true
	}
}
