package config

import (
	"fmt"
)

// Config is the full engram configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Memory    MemoryParams    `koanf:"memory"`
}

// ServerConfig holds the HTTP API bind settings.
type ServerConfig struct {
	Bind string `koanf:"bind"`
	Port int    `koanf:"port"`
}

// DatabaseConfig holds the SQLite settings.
type DatabaseConfig struct {
	// Path to the database file. Empty means ~/.engram/engram.db.
	Path string `koanf:"path"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	// Provider is "ollama", "tfidf", or "" (auto: probe ollama, fall back to tfidf).
	Provider  string `koanf:"provider"`
	OllamaURL string `koanf:"ollama_url"`
	Model     string `koanf:"model"`
	// MaxTerms is the TF-IDF vocabulary size.
	MaxTerms int `koanf:"max_terms"`
}

// MemoryParams are the tunable constants of the retention model. All rates
// are per day. Every value is overridable via config file or ENGRAM_*
// environment variables.
type MemoryParams struct {
	// Retrieval activation.
	Decay            float64 `koanf:"decay"`             // base-level decay exponent
	SpreadBoost      float64 `koanf:"spread_boost"`      // per matched context keyword
	ImportanceWeight float64 `koanf:"importance_weight"` // salience term weight

	// Consolidation: fast working trace, slow core trace.
	Mu1              float64 `koanf:"mu1"`               // working-strength decay rate
	Mu2              float64 `koanf:"mu2"`               // core-strength decay rate
	Alpha            float64 `koanf:"alpha"`             // working-to-core transfer rate
	InterleaveRatio  float64 `koanf:"interleave_ratio"`  // fraction of archive replayed per cycle
	ReplayBoost      float64 `koanf:"replay_boost"`      // core strength added on replay
	PromoteThreshold float64 `koanf:"promote_threshold"` // core strength that promotes working->core
	ArchiveThreshold float64 `koanf:"archive_threshold"` // effective strength below which entries archive

	// Forgetting and confidence labels.
	ForgetThreshold float64 `koanf:"forget_threshold"`
	CertainAbove    float64 `koanf:"certain_above"`
	LikelyAbove     float64 `koanf:"likely_above"`
	UncertainAbove  float64 `koanf:"uncertain_above"`

	// Hebbian association learning.
	HebbianThreshold int     `koanf:"hebbian_threshold"` // coactivations before a link forms
	HebbianInitial   float64 `koanf:"hebbian_initial"`   // link strength at formation
	HebbianRate      float64 `koanf:"hebbian_rate"`      // saturating reinforcement rate
	HebbianDecay     float64 `koanf:"hebbian_decay"`     // per-consolidation link decay factor
	HebbianPruneEps  float64 `koanf:"hebbian_prune_eps"` // links below this are dropped

	// Outcome feedback.
	RewardMagnitude float64 `koanf:"reward_magnitude"`
	RewardFloor     float64 `koanf:"reward_floor"` // minimum feedback confidence to act on
	RewardRecentN   int     `koanf:"reward_recent_n"`
	DownscaleFactor float64 `koanf:"downscale_factor"`

	// Recall ranking.
	HebbianBoostCap  float64     `koanf:"hebbian_boost_cap"`
	PinnedBoost      float64     `koanf:"pinned_boost"`
	ImportanceExtra  float64     `koanf:"importance_extra"`  // bonus for very high importance
	ImportanceCutoff float64     `koanf:"importance_cutoff"` // what counts as very high
	CandidateLimit   int         `koanf:"candidate_limit"`   // per-source candidate fetch size
	Blend            BlendPolicy `koanf:"blend"`
}

// BlendPolicy controls how semantic similarity and activation are mixed when
// an embedder is active. Queries carrying temporal cue words lean on the
// activation model; everything else leans on similarity. The alphas are
// tuning values, not laws, so they live in config rather than as constants.
type BlendPolicy struct {
	SemanticAlpha float64 `koanf:"semantic_alpha"` // no temporal cues
	ModerateAlpha float64 `koanf:"moderate_alpha"` // one temporal cue
	TemporalAlpha float64 `koanf:"temporal_alpha"` // two or more temporal cues
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37780,
		},
		Database: DatabaseConfig{
			Path: "",
		},
		Embedding: EmbeddingConfig{
			Provider:  "",
			OllamaURL: "http://localhost:11434",
			Model:     "nomic-embed-text",
			MaxTerms:  512,
		},
		Memory: DefaultMemoryParams(),
	}
}

// DefaultMemoryParams returns the calibrated retention-model constants.
func DefaultMemoryParams() MemoryParams {
	return MemoryParams{
		Decay:            0.5,
		SpreadBoost:      0.6,
		ImportanceWeight: 1.0,

		Mu1:              0.35,
		Mu2:              0.012,
		Alpha:            0.12,
		InterleaveRatio:  0.1,
		ReplayBoost:      0.05,
		PromoteThreshold: 0.5,
		ArchiveThreshold: 0.05,

		ForgetThreshold: 0.01,
		CertainAbove:    0.8,
		LikelyAbove:     0.5,
		UncertainAbove:  0.25,

		HebbianThreshold: 3,
		HebbianInitial:   0.5,
		HebbianRate:      0.3,
		HebbianDecay:     0.95,
		HebbianPruneEps:  0.01,

		RewardMagnitude: 0.3,
		RewardFloor:     0.3,
		RewardRecentN:   3,
		DownscaleFactor: 0.95,

		HebbianBoostCap:  3.0,
		PinnedBoost:      5.0,
		ImportanceExtra:  0.5,
		ImportanceCutoff: 0.8,
		CandidateLimit:   100,
		Blend: BlendPolicy{
			SemanticAlpha: 0.9,
			ModerateAlpha: 0.6,
			TemporalAlpha: 0.3,
		},
	}
}

// Validate rejects out-of-range memory parameters. Values are rejected, never
// silently clamped.
func (p MemoryParams) Validate() error {
	unit := map[string]float64{
		"interleave_ratio": p.InterleaveRatio,
		"replay_boost":     p.ReplayBoost,
		"hebbian_initial":  p.HebbianInitial,
		"hebbian_rate":     p.HebbianRate,
		"hebbian_decay":    p.HebbianDecay,
		"downscale_factor": p.DownscaleFactor,
		"reward_magnitude": p.RewardMagnitude,
		"reward_floor":     p.RewardFloor,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			return fmt.Errorf("memory.%s must be in [0,1], got %g", name, v)
		}
	}
	positive := map[string]float64{
		"decay": p.Decay,
		"mu1":   p.Mu1,
		"mu2":   p.Mu2,
		"alpha": p.Alpha,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("memory.%s must be positive, got %g", name, v)
		}
	}
	if p.Mu2 >= p.Mu1 {
		return fmt.Errorf("memory.mu2 (%g) must be smaller than memory.mu1 (%g): the core trace is the durable one", p.Mu2, p.Mu1)
	}
	if p.HebbianThreshold < 1 {
		return fmt.Errorf("memory.hebbian_threshold must be at least 1, got %d", p.HebbianThreshold)
	}
	if p.RewardRecentN < 0 {
		return fmt.Errorf("memory.reward_recent_n must be non-negative, got %d", p.RewardRecentN)
	}
	return nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1,65535], got %d", c.Server.Port)
	}
	return c.Memory.Validate()
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
