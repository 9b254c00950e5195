package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kotae/data/db/kotae.db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1024
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/kotae/data/models/multilingual-e5-large.onnx"
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 512
	}
	if cfg.Rerank.Provider == "" {
		cfg.Rerank.Provider = "lexical"
	}
	if cfg.Rerank.APIKeyEnv == "" {
		cfg.Rerank.APIKeyEnv = "RERANK_API_KEY"
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "extractive"
	}
	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Generation.APIKeyEnv == "" {
		cfg.Generation.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4o-mini"
	}
	if cfg.Generation.MaxContextChars == 0 {
		cfg.Generation.MaxContextChars = 12000
	}
	if cfg.Retrieval.TopKSearch == 0 {
		cfg.Retrieval.TopKSearch = 10
	}
	if cfg.Retrieval.TopKFinal == 0 {
		cfg.Retrieval.TopKFinal = 3
	}
	if cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	if cfg.RateLimit.RetentionHours == 0 {
		cfg.RateLimit.RetentionHours = 24
	}
	if cfg.RateLimit.DefaultLimit == 0 {
		cfg.RateLimit.DefaultLimit = 60
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
