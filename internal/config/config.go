// Package config loads and validates the council configuration from TOML.
// Configuration is an explicit value passed into the engine's
// constructor; there is no process-wide mutable config state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Dicklesworthstone/council/internal/council"
)

// DefaultFileName is the config file looked up when no path is given.
const DefaultFileName = "council.toml"

// Config is the full configuration surface of the council binary.
type Config struct {
	Council    CouncilSettings    `toml:"council"`
	OpenRouter OpenRouterSettings `toml:"openrouter"`
	Audit      AuditSettings      `toml:"audit"`
	Serve      ServeSettings      `toml:"serve"`
}

// CouncilSettings configures the consensus engine itself.
type CouncilSettings struct {
	// Enabled gates whether the full three-stage pipeline runs at all.
	// When false, queries go to the chairman as a single-model call.
	Enabled bool `toml:"enabled"`

	// CouncilModels is the ordered set of member model identifiers.
	CouncilModels []string `toml:"council_models"`

	// ChairmanModel performs final synthesis. Required.
	ChairmanModel string `toml:"chairman_model"`

	// TimeoutSeconds bounds the whole three-stage session.
	TimeoutSeconds int `toml:"timeout_seconds"`

	// PerMemberTimeoutSeconds bounds each individual member call.
	PerMemberTimeoutSeconds int `toml:"per_member_timeout_seconds"`

	// MinCouncilSize is the Stage-1 quorum.
	MinCouncilSize int `toml:"min_council_size"`

	// MaxCouncilSize caps the configured council size.
	MaxCouncilSize int `toml:"max_council_size"`

	AnonymizeResponses bool `toml:"anonymize_responses"`
	RequireRankings    bool `toml:"require_rankings"`
	IncludeAllOpinions bool `toml:"include_all_opinions"`
	IncludePeerReviews bool `toml:"include_peer_reviews"`

	// FallbackTopRanked opts into the top-ranked-answer fallback when
	// the chairman is unavailable.
	FallbackTopRanked bool `toml:"fallback_top_ranked"`
}

// OpenRouterSettings configures the member invoker.
type OpenRouterSettings struct {
	// BaseURL overrides the OpenRouter API root.
	BaseURL string `toml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `toml:"api_key_env"`
}

// APIKey resolves the API key from the environment.
func (o OpenRouterSettings) APIKey() string {
	env := o.APIKeyEnv
	if env == "" {
		env = "OPENROUTER_API_KEY"
	}
	return os.Getenv(env)
}

// AuditSettings configures the audit sink.
type AuditSettings struct {
	// Enabled controls both the JSONL log and the sqlite store.
	Enabled bool `toml:"enabled"`

	// LogPath is the JSONL event log file.
	LogPath string `toml:"log_path"`

	// DBPath is the sqlite session archive.
	DBPath string `toml:"db_path"`
}

// ServeSettings configures the REST server.
type ServeSettings struct {
	// Addr is the listen address.
	Addr string `toml:"addr"`
}

// Default returns the configuration defaults. Council models and the
// chairman must still be provided by the user's config file.
func Default() Config {
	return Config{
		Council: CouncilSettings{
			Enabled:                 true,
			TimeoutSeconds:          120,
			PerMemberTimeoutSeconds: 45,
			MinCouncilSize:          council.DefaultMinCouncilSize,
			MaxCouncilSize:          council.DefaultMaxCouncilSize,
			AnonymizeResponses:      true,
			RequireRankings:         false,
			IncludeAllOpinions:      true,
			IncludePeerReviews:      true,
		},
		OpenRouter: OpenRouterSettings{
			APIKeyEnv: "OPENROUTER_API_KEY",
		},
		Audit: AuditSettings{
			Enabled: true,
			LogPath: defaultStatePath("events.jsonl"),
			DBPath:  defaultStatePath("sessions.db"),
		},
		Serve: ServeSettings{
			Addr: "127.0.0.1:7700",
		},
	}
}

// defaultStatePath places state files under the user config dir, falling
// back to the working directory.
func defaultStatePath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return name
	}
	return filepath.Join(dir, "council", name)
}

// Load reads the config file at path, layered over Default. A missing
// file is not an error when path is empty (defaults apply); an explicit
// path that does not exist is.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = DefaultFileName
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config file %s: %w", path, err)
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("config %s has unknown keys: %v", path, undecoded)
	}

	return cfg, nil
}

// Validate checks the engine-facing invariants. It reuses the engine's
// own validation so a config that passes here can never fail engine
// construction.
func (c Config) Validate() error {
	engineCfg := c.EngineConfig()
	return engineCfg.Validate()
}

// EngineConfig converts the file surface to the engine's typed config.
func (c Config) EngineConfig() council.Config {
	return council.Config{
		Members:            c.Council.CouncilModels,
		Chairman:           c.Council.ChairmanModel,
		GlobalTimeout:      time.Duration(c.Council.TimeoutSeconds) * time.Second,
		PerMemberTimeout:   time.Duration(c.Council.PerMemberTimeoutSeconds) * time.Second,
		MinCouncilSize:     c.Council.MinCouncilSize,
		MaxCouncilSize:     c.Council.MaxCouncilSize,
		AnonymizeResponses: c.Council.AnonymizeResponses,
		RequireRankings:    c.Council.RequireRankings,
		IncludeAllOpinions: c.Council.IncludeAllOpinions,
		IncludePeerReviews: c.Council.IncludePeerReviews,
		FallbackTopRanked:  c.Council.FallbackTopRanked,
	}
}
