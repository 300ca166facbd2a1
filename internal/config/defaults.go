package config

import "time"

// DefaultFastPathKeywords are phrases that mark a documentation lookup.
var DefaultFastPathKeywords = []string{
	"how to", "how do i", "how do you", "specification", "spec sheet", "threshold",
	"policy", "procedure", "manual", "instructions", "datasheet", "guideline",
}

// DefaultRouterRules map responders to the words that select them in the rule decider.
var DefaultRouterRules = map[string][]string{
	"telemetry": {"battery", "soc", "charge", "voltage", "temperature", "status", "level", "current", "reading", "power"},
	"docs":      {"document", "documentation", "explain", "what does", "where is", "find"},
	"general":   {"hello", "hi", "thanks", "thank you", "help", "who are you"},
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/shiryo/data/shiryo.db"
	}

	if cfg.Source.Type == "" {
		cfg.Source.Type = SourceDrive
	}
	if cfg.Source.ContextFolder == "" {
		cfg.Source.ContextFolder = "context"
	}
	if cfg.Source.ContextMarkers == nil {
		cfg.Source.ContextMarkers = []string{"[context]", "(context)"}
	}
	if cfg.Source.PageSize == 0 {
		cfg.Source.PageSize = 100
	}
	if cfg.Source.RequestsPerSecond == 0 {
		cfg.Source.RequestsPerSecond = 8
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hashing"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.RequestsPerMinute == 0 {
		cfg.Embedding.RequestsPerMinute = 60
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 5
	}
	if cfg.Embedding.InitialBackoff == 0 {
		cfg.Embedding.InitialBackoff = time.Second
	}
	if cfg.Embedding.MaxBackoff == 0 {
		cfg.Embedding.MaxBackoff = 30 * time.Second
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}

	if cfg.Chunking.MaxTokens == 0 {
		cfg.Chunking.MaxTokens = 512
	}

	if cfg.Sync.Concurrency == 0 {
		cfg.Sync.Concurrency = 5
	}
	if cfg.Sync.FetchTimeout == 0 {
		cfg.Sync.FetchTimeout = 60 * time.Second
	}

	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 5
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 50
	}
	if cfg.Search.MinQueryLength == 0 {
		cfg.Search.MinQueryLength = 3
	}
	if cfg.Search.CandidateMultiplier == 0 {
		cfg.Search.CandidateMultiplier = 4
	}

	if cfg.Router.FastPathKeywords == nil {
		cfg.Router.FastPathKeywords = append([]string(nil), DefaultFastPathKeywords...)
	}
	if cfg.Router.FastPathMinLength == 0 {
		cfg.Router.FastPathMinLength = 12
	}
	if cfg.Router.FastPathTypos == 0 {
		cfg.Router.FastPathTypos = 1
	}
	if cfg.Router.Decider == "" {
		cfg.Router.Decider = DeciderRules
	}
	if cfg.Router.Rules == nil {
		cfg.Router.Rules = make(map[string][]string, len(DefaultRouterRules))
		for k, v := range DefaultRouterRules {
			cfg.Router.Rules[k] = append([]string(nil), v...)
		}
	}

	if cfg.LLM.Provider != "" && cfg.LLM.APIKeyEnv == "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.APIKeyEnv = "ANTHROPIC_API_KEY"
		case "openai":
			cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}

	if cfg.Conversation.ContextTurns == 0 {
		cfg.Conversation.ContextTurns = 10
	}
}
