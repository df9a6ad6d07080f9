package council

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Members = []string{"model-a", "model-b", "model-c"}
	cfg.Chairman = "model-chair"
	return cfg
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		input   string
		want    Confidence
		wantErr bool
	}{
		{"0.8", 0.8, false},
		{"80%", 0.8, false},
		{"high", 0.8, false},
		{"HIGH", 0.8, false},
		{"medium", 0.5, false},
		{"med", 0.5, false},
		{"low", 0.2, false},
		{"1", 1.0, false},
		{"not-a-number", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseConfidence(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseConfidence(%q): expected error, got %v", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseConfidence(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseConfidence(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestConfidenceUnmarshalJSON(t *testing.T) {
	var payload struct {
		Confidence Confidence `json:"confidence"`
	}

	if err := json.Unmarshal([]byte(`{"confidence": 0.7}`), &payload); err != nil {
		t.Fatalf("unmarshal float: %v", err)
	}
	if payload.Confidence != 0.7 {
		t.Errorf("float confidence = %v, want 0.7", payload.Confidence)
	}

	if err := json.Unmarshal([]byte(`{"confidence": "high"}`), &payload); err != nil {
		t.Fatalf("unmarshal string: %v", err)
	}
	if payload.Confidence != 0.8 {
		t.Errorf("string confidence = %v, want 0.8", payload.Confidence)
	}

	if err := json.Unmarshal([]byte(`{"confidence": [1]}`), &payload); err == nil {
		t.Error("expected error for array confidence")
	}
}

func TestConfidenceClamp(t *testing.T) {
	tests := []struct {
		input   Confidence
		want    Confidence
		clamped bool
	}{
		{0.5, 0.5, false},
		{0, 0, false},
		{1, 1, false},
		{-0.3, 0, true},
		{1.7, 1, true},
	}

	for _, tt := range tests {
		got, clamped := tt.input.Clamp()
		if got != tt.want || clamped != tt.clamped {
			t.Errorf("Clamp(%v) = (%v, %v), want (%v, %v)",
				tt.input, got, clamped, tt.want, tt.clamped)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing chairman", func(c *Config) { c.Chairman = "" }, "chairman"},
		{"too few members", func(c *Config) { c.Members = []string{"solo"} }, "at least"},
		{"too many members", func(c *Config) {
			c.Members = []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}
		}, "at most"},
		{"duplicate member", func(c *Config) { c.Members = []string{"a", "b", "a"} }, "duplicate"},
		{"empty member id", func(c *Config) { c.Members = []string{"a", "b", " "} }, "non-empty"},
		{"zero global timeout", func(c *Config) { c.GlobalTimeout = 0 }, "global timeout"},
		{"zero member timeout", func(c *Config) { c.PerMemberTimeout = 0 }, "per-member timeout"},
		{"max below min", func(c *Config) { c.MaxCouncilSize = 1 }, "below min"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("error %v does not wrap ErrConfiguration", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q missing %q", err.Error(), tt.want)
			}
		})
	}
}

func TestConfigValidateReportsAllViolations(t *testing.T) {
	cfg := validConfig()
	cfg.Chairman = ""
	cfg.GlobalTimeout = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "chairman") || !strings.Contains(err.Error(), "global timeout") {
		t.Errorf("error %q should report both violations", err.Error())
	}
}

func TestSessionStateIsTerminal(t *testing.T) {
	terminal := []SessionState{StateCompleted, StateFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	active := []SessionState{StateCreated, StateCollecting, StateReviewing, StateAggregating, StateSynthesizing}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestConsensusRankingTop(t *testing.T) {
	var empty ConsensusRanking
	if _, ok := empty.Top(); ok {
		t.Error("empty ranking should have no top")
	}

	allUnranked := ConsensusRanking{{Member: "a", Unranked: true}}
	if _, ok := allUnranked.Top(); ok {
		t.Error("all-unranked ranking should have no top")
	}

	ranked := ConsensusRanking{{Member: "a", Score: 2}, {Member: "b", Score: 1}}
	top, ok := ranked.Top()
	if !ok || top.Member != "a" {
		t.Errorf("Top() = (%v, %v), want member a", top, ok)
	}
}

func TestSucceededFailedFilters(t *testing.T) {
	responses := []MemberResponse{
		{Member: "a", Succeeded: true, Answer: "x"},
		{Member: "b", Succeeded: false, Error: "boom"},
		{Member: "c", Succeeded: true, Answer: "y", Elapsed: time.Second},
	}

	ok := Succeeded(responses)
	if len(ok) != 2 || ok[0].Member != "a" || ok[1].Member != "c" {
		t.Errorf("Succeeded = %v", ok)
	}
	bad := Failed(responses)
	if len(bad) != 1 || bad[0].Member != "b" {
		t.Errorf("Failed = %v", bad)
	}
}
