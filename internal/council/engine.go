package council

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dicklesworthstone/council/internal/invoker"
)

// Engine drives the three-stage council pipeline. An Engine is safe to
// reuse across queries: each Run creates a fresh session and shares no
// mutable state with any other session except the immutable Config.
type Engine struct {
	cfg    Config
	inv    invoker.Invoker
	sink   AuditSink
	logger *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSink attaches an audit sink. Defaults to NopSink.
func WithSink(sink AuditSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithLogger attaches a structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine. The configuration is validated here, once, so a
// constructed engine can never fail with a configuration error mid-run.
func New(cfg Config, inv invoker.Invoker, opts ...Option) (*Engine, error) {
	if inv == nil {
		return nil, fmt.Errorf("%w: invoker is required", ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		inv:    inv,
		sink:   NopSink{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine's immutable configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// session is the only mutable state of a run, owned exclusively by the
// goroutine driving the pipeline.
type session struct {
	id      string
	query   string
	state   SessionState
	started time.Time
}

// newSessionID generates a random session identifier.
func newSessionID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("cs-%d", time.Now().UnixNano())
	}
	return "cs-" + hex.EncodeToString(b[:])
}

// transition advances the session state, logging and auditing the move.
func (e *Engine) transition(s *session, next SessionState) {
	s.state = next
	e.logger.Info("council stage", "session", s.id, "state", next.String())
	e.sink.RecordEvent(NewAuditEvent(EventStageStarted, s.id, map[string]any{
		"state": next.String(),
	}))
}

// Run executes one full council session for the query. It returns either
// a complete Result or a *SessionError carrying the taxonomy sentinel;
// partial or degraded results are only produced when the configuration
// explicitly allows them, never as an implicit default.
func (e *Engine) Run(ctx context.Context, query string) (*Result, error) {
	s := &session{
		id:      newSessionID(),
		query:   query,
		state:   StateCreated,
		started: time.Now().UTC(),
	}

	// The global deadline bounds the whole session, but expiring mid-stage
	// is not itself fatal: already-collected partial results are used as
	// long as quorum holds. Only cancellation of the caller's context stops
	// the pipeline between stages.
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, e.cfg.GlobalTimeout)
	defer cancel()

	e.logger.Info("council session created",
		"session", s.id,
		"members", len(e.cfg.Members),
		"chairman", e.cfg.Chairman)
	e.sink.RecordEvent(NewAuditEvent(EventSessionCreated, s.id, map[string]any{
		"members":  e.cfg.Members,
		"chairman": e.cfg.Chairman,
	}))

	// Stage 1: collect.
	e.transition(s, StateCollecting)
	collector := &Collector{Invoker: e.inv, Timeout: e.cfg.PerMemberTimeout, Logger: e.logger}
	responses := collector.Collect(ctx, query, e.cfg.Members)
	e.auditFailures(s, responses)

	succeeded := Succeeded(responses)
	if len(succeeded) < e.cfg.MinCouncilSize {
		cause := ErrInsufficientQuorum
		if ctx.Err() != nil {
			// The deadline cut the stage short and the partial results
			// did not meet quorum.
			cause = ErrDeadlineExceeded
		}
		return nil, e.fail(s, responses, nil, nil, fmt.Errorf("%w: %d of %d members answered, need %d",
			cause, len(succeeded), len(e.cfg.Members), e.cfg.MinCouncilSize))
	}
	// Stage 2: anonymize and review. A cancelled session never starts a
	// subsequent stage.
	if err := parent.Err(); err != nil {
		return nil, e.fail(s, responses, nil, nil, fmt.Errorf("%w: %v", ErrDeadlineExceeded, err))
	}
	e.transition(s, StateReviewing)
	anonymizer := Anonymizer{Enabled: e.cfg.AnonymizeResponses}
	anon, labels := anonymizer.Anonymize(responses)

	reviewer := &Reviewer{
		Invoker: e.inv,
		Timeout: e.cfg.PerMemberTimeout,
		Logger:  e.logger,
		OnDataQuality: func(member string, raw float64) {
			e.sink.RecordEvent(NewAuditEvent(EventDataQuality, s.id, map[string]any{
				"member":         member,
				"raw_confidence": raw,
			}))
		},
	}
	reviews := reviewer.Review(ctx, query, anon, labels)

	if len(reviews) == 0 && e.cfg.RequireRankings {
		return nil, e.fail(s, responses, nil, nil, fmt.Errorf("%w: all %d review calls failed or were malformed",
			ErrNoValidReviews, labels.Len()))
	}

	// Aggregate.
	if err := parent.Err(); err != nil {
		return nil, e.fail(s, responses, reviews, nil, fmt.Errorf("%w: %v", ErrDeadlineExceeded, err))
	}
	e.transition(s, StateAggregating)
	ranking := AggregateRankings(reviews, labels)

	// Stage 3: synthesize, bounded by the remaining global deadline.
	if err := parent.Err(); err != nil {
		return nil, e.fail(s, responses, reviews, ranking, fmt.Errorf("%w: %v", ErrDeadlineExceeded, err))
	}
	e.transition(s, StateSynthesizing)
	synth := &Synthesizer{
		Invoker:            e.inv,
		Chairman:           e.cfg.Chairman,
		IncludeAllOpinions: e.cfg.IncludeAllOpinions,
		IncludePeerReviews: e.cfg.IncludePeerReviews,
		FallbackTopRanked:  e.cfg.FallbackTopRanked,
		Logger:             e.logger,
	}
	synthesis, err := synth.Synthesize(ctx, query, responses, ranking, reviews)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrChairmanUnavailable) {
			err = fmt.Errorf("%w: %v", ErrDeadlineExceeded, err)
		}
		return nil, e.fail(s, responses, reviews, ranking, err)
	}

	s.state = StateCompleted
	result := e.buildResult(s, responses, reviews, ranking, synthesis)

	e.logger.Info("council session completed",
		"session", s.id,
		"elapsed", time.Since(s.started),
		"fallback", synthesis.FromFallback)
	e.sink.RecordEvent(NewAuditEvent(EventSessionCompleted, s.id, map[string]any{
		"elapsed_ms": time.Since(s.started).Milliseconds(),
		"fallback":   synthesis.FromFallback,
	}))
	e.sink.RecordSession(&SessionRecord{
		ID:        s.id,
		Query:     s.query,
		State:     StateCompleted,
		Responses: responses,
		Reviews:   reviews,
		Ranking:   ranking,
		Synthesis: synthesis,
		StartedAt: s.started,
		Completed: result.Completed,
	})

	return result, nil
}

// Direct performs a single chairman invocation, bypassing the council.
// Hosts use this when the engine feature flag is disabled.
func (e *Engine) Direct(ctx context.Context, query string) (*Result, error) {
	s := &session{
		id:      newSessionID(),
		query:   query,
		state:   StateSynthesizing,
		started: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.GlobalTimeout)
	defer cancel()

	answer, err := e.inv.Invoke(ctx, e.cfg.Chairman, query)
	if err != nil {
		return nil, e.fail(s, nil, nil, nil, fmt.Errorf("%w: %v", ErrChairmanUnavailable, err))
	}

	s.state = StateCompleted
	synthesis := &SynthesisResult{
		FinalResponse: answer,
		Confidence:    0,
		GeneratedAt:   time.Now().UTC(),
	}
	result := e.buildResult(s, nil, nil, nil, synthesis)
	e.sink.RecordSession(&SessionRecord{
		ID:        s.id,
		Query:     s.query,
		State:     StateCompleted,
		Synthesis: synthesis,
		StartedAt: s.started,
		Completed: result.Completed,
	})
	return result, nil
}

// buildResult assembles the caller payload, honoring the opinion and
// review inclusion flags.
func (e *Engine) buildResult(s *session, responses []MemberResponse, reviews []ReviewResult, ranking ConsensusRanking, synthesis *SynthesisResult) *Result {
	result := &Result{
		SessionID: s.id,
		Query:     s.query,
		State:     s.state,
		Synthesis: synthesis,
		Ranking:   ranking,
		StartedAt: s.started,
		Completed: time.Now().UTC(),
	}
	if e.cfg.IncludeAllOpinions {
		result.Responses = responses
	}
	if e.cfg.IncludePeerReviews {
		result.Reviews = reviews
	}
	return result
}

// auditFailures emits one audit event per failed member call.
func (e *Engine) auditFailures(s *session, responses []MemberResponse) {
	for _, r := range Failed(responses) {
		e.sink.RecordEvent(NewAuditEvent(EventMemberFailed, s.id, map[string]any{
			"member": r.Member,
			"stage":  s.state.String(),
			"error":  r.Error,
		}))
	}
}

// fail records the terminal failure and wraps it in a SessionError.
func (e *Engine) fail(s *session, responses []MemberResponse, reviews []ReviewResult, ranking ConsensusRanking, cause error) error {
	failedAt := s.state
	s.state = StateFailed

	var failures []MemberFailure
	for _, r := range Failed(responses) {
		failures = append(failures, MemberFailure{
			Member: r.Member,
			Stage:  failedAt,
			Reason: r.Error,
		})
	}

	sessErr := &SessionError{
		SessionID: s.id,
		State:     failedAt,
		Failures:  failures,
		Err:       cause,
	}

	e.logger.Error("council session failed",
		"session", s.id,
		"state", failedAt.String(),
		"error", cause)
	e.sink.RecordEvent(NewAuditEvent(EventSessionFailed, s.id, map[string]any{
		"state": failedAt.String(),
		"code":  ErrorCode(cause),
		"error": cause.Error(),
	}))
	e.sink.RecordSession(&SessionRecord{
		ID:        s.id,
		Query:     s.query,
		State:     StateFailed,
		Error:     cause.Error(),
		ErrorCode: ErrorCode(cause),
		Responses: responses,
		Reviews:   reviews,
		Ranking:   ranking,
		StartedAt: s.started,
		Completed: time.Now().UTC(),
	})

	return sessErr
}
