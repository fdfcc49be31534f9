package config

// AppConfig holds application-level settings.
type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// Timeout bounds every remote call, as a duration string (e.g. "500ms").
	Timeout string `mapstructure:"timeout"`
}

// RankingConfig controls the score engine and its scheduled decay.
type RankingConfig struct {
	DecayFactor    float64 `mapstructure:"decay_factor"`    // multiplied into every score each cycle
	PruneThreshold float64 `mapstructure:"prune_threshold"` // entries at or below this are dropped
	CycleInterval  string  `mapstructure:"cycle_interval"`  // e.g. "5m"
	LockTTL        string  `mapstructure:"lock_ttl"`        // must exceed the cycle's expected runtime
	ViewPoints     float64 `mapstructure:"view_points"`
	LikePoints     float64 `mapstructure:"like_points"`
	CommentPoints  float64 `mapstructure:"comment_points"`
}

// BreakerConfig controls the circuit breaker guarding remote score writes.
type BreakerConfig struct {
	FailureThreshold float64 `mapstructure:"failure_threshold"` // failure rate in [0,1] that opens the circuit
	MinSamples       int     `mapstructure:"min_samples"`       // rolling-window volume before the rate is trusted
	Cooldown         string  `mapstructure:"cooldown"`          // open -> half-open delay, e.g. "30s"
	ReplayBatchSize  int     `mapstructure:"replay_batch_size"` // ops per pipeline during fallback replay
}

// CacheConfig controls TTLs and windows for the tiered caches.
type CacheConfig struct {
	DetailTTL       string `mapstructure:"detail_ttl"`       // e.g. "10m"
	RefreshGap      string `mapstructure:"refresh_gap"`      // early-refresh window before expiry, e.g. "60s"
	ListTTL         string `mapstructure:"list_ttl"`         // weekly/legend list lifetime, e.g. "24h30m"
	FirstPageSize   int    `mapstructure:"first_page_size"`  // capped window for the first-page feed
	DedupeWindow    string `mapstructure:"dedupe_window"`    // view-once window per viewer, e.g. "24h"
	CounterInterval string `mapstructure:"counter_interval"` // counter buffer flush cadence, e.g. "60s"
}

// Config is the top-level configuration structure.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Ranking RankingConfig `mapstructure:"ranking"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	Cache   CacheConfig   `mapstructure:"cache"`
}

// FillDefaults applies default values if not provided.
func (c *Config) FillDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Redis.Timeout == "" {
		c.Redis.Timeout = "500ms"
	}
	if c.Ranking.DecayFactor == 0 {
		c.Ranking.DecayFactor = 0.97
	}
	if c.Ranking.PruneThreshold == 0 {
		c.Ranking.PruneThreshold = 1.0
	}
	if c.Ranking.CycleInterval == "" {
		c.Ranking.CycleInterval = "5m"
	}
	if c.Ranking.LockTTL == "" {
		c.Ranking.LockTTL = "90s"
	}
	if c.Ranking.ViewPoints == 0 {
		c.Ranking.ViewPoints = 2
	}
	if c.Ranking.LikePoints == 0 {
		c.Ranking.LikePoints = 5
	}
	if c.Ranking.CommentPoints == 0 {
		c.Ranking.CommentPoints = 3
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 0.5
	}
	if c.Breaker.MinSamples == 0 {
		c.Breaker.MinSamples = 10
	}
	if c.Breaker.Cooldown == "" {
		c.Breaker.Cooldown = "30s"
	}
	if c.Breaker.ReplayBatchSize == 0 {
		c.Breaker.ReplayBatchSize = 500
	}
	if c.Cache.DetailTTL == "" {
		c.Cache.DetailTTL = "10m"
	}
	if c.Cache.RefreshGap == "" {
		c.Cache.RefreshGap = "60s"
	}
	if c.Cache.ListTTL == "" {
		c.Cache.ListTTL = "24h30m"
	}
	if c.Cache.FirstPageSize == 0 {
		c.Cache.FirstPageSize = 30
	}
	if c.Cache.DedupeWindow == "" {
		c.Cache.DedupeWindow = "24h"
	}
	if c.Cache.CounterInterval == "" {
		c.Cache.CounterInterval = "60s"
	}
}
