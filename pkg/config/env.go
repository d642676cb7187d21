package config

import (
	"os"
	"strconv"
	"time"
)

// Flat environment overrides applied after decode. These exist so a
// single container restart with one env var can retune a service without
// editing the config file.
const (
	EnvHeartbeatIntervalSeconds   = "HEARTBEAT_INTERVAL_SECONDS"
	EnvBakeIntervalTicks          = "TEMPORAL_BAKE_INTERVAL_TICKS"
	EnvInterviewIntervalTicks     = "TEMPORAL_INTERVIEW_INTERVAL_TICKS"
	EnvObserverMode               = "OBSERVER_MODE"
	EnvObserverMinInterval        = "OBSERVER_MIN_INTERVAL"
	EnvObserverMaxPerStream       = "OBSERVER_MAX_PER_STREAM"
	EnvObserverCallTimeout        = "OBSERVER_CALL_TIMEOUT"
	EnvObserverGraceTokens        = "OBSERVER_GRACE_TOKENS"
	EnvObserverKeywordThreshold   = "OBSERVER_KEYWORD_RATIO_THRESHOLD"
	EnvEnforceConstraints         = "ENFORCE_GENERATION_CONSTRAINTS"
	EnvMaxAllowedTemperature      = "MAX_ALLOWED_TEMPERATURE"
	EnvMaxAllowedTopP             = "MAX_ALLOWED_TOP_P"
	EnvMaxAllowedResponseTokens   = "MAX_ALLOWED_RESPONSE_TOKENS"
	EnvProbeSimilarityThreshold   = "SEMANTIC_PROBE_SIMILARITY_THRESHOLD"
	EnvProbeMaxPhrases            = "SEMANTIC_PROBE_MAX_PHRASES"
	EnvProbeCacheMaxAgeTurns      = "SEMANTIC_PROBE_CACHE_MAX_AGE_TURNS"
	EnvProbeMinWords              = "SEMANTIC_PROBE_MIN_WORDS"
)

func applyEnvOverrides(cfg *Config) {
	if v, ok := envInt(EnvHeartbeatIntervalSeconds); ok {
		cfg.Heartbeat.Interval = time.Duration(v) * time.Second
	}
	if v, ok := envInt(EnvBakeIntervalTicks); ok {
		cfg.Heartbeat.BakeInterval = v
	}
	if v, ok := envInt(EnvInterviewIntervalTicks); ok {
		cfg.Heartbeat.InterviewEvery = v
	}
	if v := os.Getenv(EnvObserverMode); v != "" {
		cfg.Observer.Mode = v
	}
	if v, ok := envDuration(EnvObserverMinInterval); ok {
		cfg.Observer.MinCallInterval = v
	}
	if v, ok := envInt(EnvObserverMaxPerStream); ok {
		cfg.Observer.MaxCallsPerTurn = v
	}
	if v, ok := envDuration(EnvObserverCallTimeout); ok {
		cfg.Observer.LLMTimeout = v
	}
	if v, ok := envInt(EnvObserverGraceTokens); ok {
		cfg.Observer.GraceTokens = v
	}
	if v, ok := envFloat(EnvObserverKeywordThreshold); ok {
		cfg.Observer.KeywordThreshold = v
	}
	if v := os.Getenv(EnvEnforceConstraints); v != "" {
		cfg.Constraints.Enforce = v == "1" || v == "true"
	}
	if v, ok := envFloat(EnvMaxAllowedTemperature); ok {
		cfg.Constraints.MaxTemperature = v
	}
	if v, ok := envFloat(EnvMaxAllowedTopP); ok {
		cfg.Constraints.MaxTopP = v
	}
	if v, ok := envInt(EnvMaxAllowedResponseTokens); ok {
		cfg.Constraints.MaxResponseTokens = v
	}
	if v, ok := envFloat(EnvProbeSimilarityThreshold); ok {
		cfg.Probe.SimilarityThreshold = v
	}
	if v, ok := envInt(EnvProbeMaxPhrases); ok {
		cfg.Probe.MaxPhrases = v
	}
	if v, ok := envInt(EnvProbeCacheMaxAgeTurns); ok {
		cfg.Probe.CacheMaxAgeTurns = v
	}
	if v, ok := envInt(EnvProbeMinWords); ok {
		cfg.Probe.MinWordsToProbe = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(name string) (float64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// envDuration accepts both Go duration strings and bare seconds.
func envDuration(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), true
	}
	return 0, false
}
