// Package config provides configuration management for the collection
// pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Pagination style constants for source APIs.
const (
	// PaginationOffset pages by page number and offset.
	PaginationOffset = "offset"
	// PaginationCursor pages by opaque continuation token.
	PaginationCursor = "cursor"
)

// Backoff policy constants for rate-limit responses.
const (
	// BackoffExponential doubles the delay on each retry.
	BackoffExponential = "exponential"
	// BackoffFixed waits a fixed interval on each retry.
	BackoffFixed = "fixed"
)

// Config holds all configuration for the collection pipeline.
type Config struct {
	// Server contains the status/metrics HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Collection contains the query matrix and run settings.
	Collection CollectionConfig `mapstructure:"collection"`
	// Breaker contains circuit breaker settings shared by all sources.
	Breaker BreakerConfig `mapstructure:"breaker"`
	// Sources contains per-source API settings.
	Sources SourcesConfig `mapstructure:"sources"`
	// Dedup contains deduplication scoring settings.
	Dedup DedupConfig `mapstructure:"dedup"`
	// Quality contains abstract quality and structural filter settings.
	Quality QualityConfig `mapstructure:"quality"`
	// Citations contains citation cache settings.
	Citations CitationsConfig `mapstructure:"citations"`
}

// ServerConfig holds the status server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// Port is the HTTP server port (default: 8080).
	Port int `mapstructure:"port"`
	// Enabled controls whether the status server runs during collection.
	Enabled bool `mapstructure:"enabled"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the status server bind address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
}

// CollectionConfig holds the query matrix and run settings.
type CollectionConfig struct {
	// KeywordsOne is the first keyword group. Required.
	KeywordsOne []string `mapstructure:"keywords_one"`
	// KeywordsTwo is the second keyword group. When set, queries are the
	// pairwise combination of both groups.
	KeywordsTwo []string `mapstructure:"keywords_two"`
	// YearStart is the first publication year to collect, inclusive.
	YearStart int `mapstructure:"year_start"`
	// YearEnd is the last publication year to collect, inclusive.
	YearEnd int `mapstructure:"year_end"`
	// MaxArticles caps collected articles per query per source.
	MaxArticles int `mapstructure:"max_articles"`
	// FlushThreshold is the number of buffered pages before a flush.
	FlushThreshold int `mapstructure:"flush_threshold"`
	// OutputDir is the root directory for page artifacts and state.
	OutputDir string `mapstructure:"output_dir"`
}

// Years lists the configured year range in ascending order.
func (c *CollectionConfig) Years() []int {
	if c.YearStart == 0 || c.YearEnd < c.YearStart {
		return nil
	}
	years := make([]int, 0, c.YearEnd-c.YearStart+1)
	for y := c.YearStart; y <= c.YearEnd; y++ {
		years = append(years, y)
	}
	return years
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold is consecutive failures before the circuit opens.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// Cooldown is how long an open circuit waits before a probe.
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// SourcesConfig holds configuration for all source APIs.
type SourcesConfig struct {
	// ArXiv contains arXiv API settings.
	ArXiv SourceConfig `mapstructure:"arxiv"`
	// OpenAlex contains OpenAlex API settings.
	OpenAlex SourceConfig `mapstructure:"openalex"`
	// SemanticScholar contains Semantic Scholar API settings.
	SemanticScholar SourceConfig `mapstructure:"semantic_scholar"`
	// PubMed contains PubMed API settings.
	PubMed SourceConfig `mapstructure:"pubmed"`
}

// SourceConfig holds configuration for a single source API.
type SourceConfig struct {
	// Enabled controls whether this source is collected.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key (loaded from environment variable, e.g.
	// SCILEX_SOURCES_SEMANTIC_SCHOLAR_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// Burst is the rate limiter burst size.
	Burst int `mapstructure:"burst"`
	// PageSize is the number of results requested per page.
	PageSize int `mapstructure:"page_size"`
	// Pagination is the paging style (offset, cursor).
	Pagination string `mapstructure:"pagination"`
	// Backoff is the rate-limit backoff policy (exponential, fixed).
	Backoff string `mapstructure:"backoff"`
	// FixedBackoff is the wait per retry under the fixed policy.
	FixedBackoff time.Duration `mapstructure:"fixed_backoff"`
	// MaxRetries is the maximum retry attempts per page fetch.
	MaxRetries int `mapstructure:"max_retries"`
	// Mailto is the contact address some APIs ask for in requests.
	Mailto string `mapstructure:"mailto"`
}

// DedupConfig holds deduplication scoring settings.
type DedupConfig struct {
	// AbstractWeight scores a non-missing abstract.
	AbstractWeight int `mapstructure:"abstract_weight"`
	// AuthorsWeight scores non-missing authors.
	AuthorsWeight int `mapstructure:"authors_weight"`
	// DOIWeight scores a non-missing DOI.
	DOIWeight int `mapstructure:"doi_weight"`
}

// QualityConfig holds abstract quality and structural filter settings.
type QualityConfig struct {
	// MinWords flags abstracts shorter than this as too short.
	MinWords int `mapstructure:"min_words"`
	// MaxWords flags abstracts longer than this; 0 disables the check.
	MaxWords int `mapstructure:"max_words"`
	// MinScore is the abstract acceptance threshold.
	MinScore int `mapstructure:"min_score"`
	// CheckLanguage enables the language heuristic.
	CheckLanguage bool `mapstructure:"check_language"`
	// ExpectedLanguage names the expected abstract language.
	ExpectedLanguage string `mapstructure:"expected_language"`
	// RequireDOI rejects records without a DOI.
	RequireDOI bool `mapstructure:"require_doi"`
	// RequireAbstract rejects records without an abstract.
	RequireAbstract bool `mapstructure:"require_abstract"`
	// MinAbstractWords rejects records whose abstract is shorter; 0 disables.
	MinAbstractWords int `mapstructure:"min_abstract_words"`
	// RequireYear rejects records without a parseable publication year.
	RequireYear bool `mapstructure:"require_year"`
	// RequireOpenAccess rejects records without an open access PDF.
	RequireOpenAccess bool `mapstructure:"require_open_access"`
	// MinAuthors rejects records with fewer authors.
	MinAuthors int `mapstructure:"min_authors"`
}

// CitationsConfig holds citation cache settings.
type CitationsConfig struct {
	// Enabled controls whether citation enrichment runs.
	Enabled bool `mapstructure:"enabled"`
	// Path is the SQLite database file for the cache.
	Path string `mapstructure:"path"`
	// TTL is how long cached entries stay fresh.
	TTL time.Duration `mapstructure:"ttl"`
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SCILEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/scilex")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Sources.ArXiv.APIKey = os.Getenv("SCILEX_SOURCES_ARXIV_API_KEY")
	cfg.Sources.OpenAlex.APIKey = os.Getenv("SCILEX_SOURCES_OPENALEX_API_KEY")
	cfg.Sources.SemanticScholar.APIKey = os.Getenv("SCILEX_SOURCES_SEMANTIC_SCHOLAR_API_KEY")
	cfg.Sources.PubMed.APIKey = os.Getenv("SCILEX_SOURCES_PUBMED_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	// Collection defaults
	v.SetDefault("collection.keywords_one", []string{})
	v.SetDefault("collection.keywords_two", []string{})
	v.SetDefault("collection.year_start", 0)
	v.SetDefault("collection.year_end", 0)
	v.SetDefault("collection.max_articles", 1000)
	v.SetDefault("collection.flush_threshold", 5)
	v.SetDefault("collection.output_dir", "collects")

	// Breaker defaults
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown", "60s")

	// Source defaults - arXiv. The API asks clients to stay at or below
	// 3 requests per second.
	v.SetDefault("sources.arxiv.enabled", true)
	v.SetDefault("sources.arxiv.base_url", "https://export.arxiv.org/api")
	v.SetDefault("sources.arxiv.timeout", "30s")
	v.SetDefault("sources.arxiv.rate_limit", 3.0)
	v.SetDefault("sources.arxiv.burst", 1)
	v.SetDefault("sources.arxiv.page_size", 100)
	v.SetDefault("sources.arxiv.pagination", PaginationOffset)
	v.SetDefault("sources.arxiv.backoff", BackoffFixed)
	v.SetDefault("sources.arxiv.fixed_backoff", "30s")
	v.SetDefault("sources.arxiv.max_retries", 3)

	// Source defaults - OpenAlex
	v.SetDefault("sources.openalex.enabled", true)
	v.SetDefault("sources.openalex.base_url", "https://api.openalex.org")
	v.SetDefault("sources.openalex.timeout", "30s")
	v.SetDefault("sources.openalex.rate_limit", 10.0)
	v.SetDefault("sources.openalex.burst", 2)
	v.SetDefault("sources.openalex.page_size", 200)
	v.SetDefault("sources.openalex.pagination", PaginationCursor)
	v.SetDefault("sources.openalex.backoff", BackoffExponential)
	v.SetDefault("sources.openalex.max_retries", 3)
	v.SetDefault("sources.openalex.mailto", "")

	// Source defaults - Semantic Scholar
	v.SetDefault("sources.semantic_scholar.enabled", true)
	v.SetDefault("sources.semantic_scholar.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("sources.semantic_scholar.timeout", "30s")
	v.SetDefault("sources.semantic_scholar.rate_limit", 1.0)
	v.SetDefault("sources.semantic_scholar.burst", 1)
	v.SetDefault("sources.semantic_scholar.page_size", 100)
	v.SetDefault("sources.semantic_scholar.pagination", PaginationOffset)
	v.SetDefault("sources.semantic_scholar.backoff", BackoffExponential)
	v.SetDefault("sources.semantic_scholar.max_retries", 3)

	// Source defaults - PubMed. NCBI recommends max 3 req/sec without an
	// API key.
	v.SetDefault("sources.pubmed.enabled", true)
	v.SetDefault("sources.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("sources.pubmed.timeout", "30s")
	v.SetDefault("sources.pubmed.rate_limit", 3.0)
	v.SetDefault("sources.pubmed.burst", 1)
	v.SetDefault("sources.pubmed.page_size", 100)
	v.SetDefault("sources.pubmed.pagination", PaginationOffset)
	v.SetDefault("sources.pubmed.backoff", BackoffExponential)
	v.SetDefault("sources.pubmed.max_retries", 3)

	// Dedup defaults
	v.SetDefault("dedup.abstract_weight", 1)
	v.SetDefault("dedup.authors_weight", 1)
	v.SetDefault("dedup.doi_weight", 1)

	// Quality defaults
	v.SetDefault("quality.min_words", 30)
	v.SetDefault("quality.max_words", 0)
	v.SetDefault("quality.min_score", 50)
	v.SetDefault("quality.check_language", true)
	v.SetDefault("quality.expected_language", "english")
	v.SetDefault("quality.require_doi", false)
	v.SetDefault("quality.require_abstract", false)
	v.SetDefault("quality.min_abstract_words", 0)
	v.SetDefault("quality.require_year", false)
	v.SetDefault("quality.require_open_access", false)
	v.SetDefault("quality.min_authors", 0)

	// Citations defaults
	v.SetDefault("citations.enabled", false)
	v.SetDefault("citations.path", "collects/citations.db")
	v.SetDefault("citations.ttl", "720h")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if len(c.Collection.KeywordsOne) == 0 {
		return fmt.Errorf("collection.keywords_one is required")
	}
	if c.Collection.YearStart <= 0 || c.Collection.YearEnd <= 0 {
		return fmt.Errorf("collection.year_start and collection.year_end are required")
	}
	if c.Collection.YearEnd < c.Collection.YearStart {
		return fmt.Errorf("collection.year_end (%d) must be >= collection.year_start (%d)",
			c.Collection.YearEnd, c.Collection.YearStart)
	}
	if c.Collection.MaxArticles <= 0 {
		return fmt.Errorf("collection.max_articles must be positive")
	}
	if c.Collection.FlushThreshold <= 0 {
		return fmt.Errorf("collection.flush_threshold must be positive")
	}
	if c.Collection.OutputDir == "" {
		return fmt.Errorf("collection.output_dir is required")
	}

	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive")
	}
	if c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("breaker.cooldown must be positive")
	}

	for name, src := range c.EnabledSources() {
		if src.BaseURL == "" {
			return fmt.Errorf("sources.%s.base_url is required", name)
		}
		if src.PageSize <= 0 {
			return fmt.Errorf("sources.%s.page_size must be positive", name)
		}
		if src.RateLimit <= 0 {
			return fmt.Errorf("sources.%s.rate_limit must be positive", name)
		}
		switch src.Pagination {
		case PaginationOffset, PaginationCursor:
		default:
			return fmt.Errorf("sources.%s.pagination must be %q or %q",
				name, PaginationOffset, PaginationCursor)
		}
		switch src.Backoff {
		case BackoffExponential:
		case BackoffFixed:
			if src.FixedBackoff <= 0 {
				return fmt.Errorf("sources.%s.fixed_backoff must be positive under the fixed policy", name)
			}
		default:
			return fmt.Errorf("sources.%s.backoff must be %q or %q",
				name, BackoffExponential, BackoffFixed)
		}
	}

	if c.Quality.MinScore < 0 || c.Quality.MinScore > 100 {
		return fmt.Errorf("quality.min_score must be between 0 and 100")
	}

	if c.Citations.Enabled && c.Citations.Path == "" {
		return fmt.Errorf("citations.path is required when citations are enabled")
	}

	return nil
}

// EnabledSources returns the enabled source configs keyed by source name.
func (c *Config) EnabledSources() map[string]SourceConfig {
	all := map[string]SourceConfig{
		"arxiv":            c.Sources.ArXiv,
		"openalex":         c.Sources.OpenAlex,
		"semantic_scholar": c.Sources.SemanticScholar,
		"pubmed":           c.Sources.PubMed,
	}
	enabled := make(map[string]SourceConfig, len(all))
	for name, src := range all {
		if src.Enabled {
			enabled[name] = src
		}
	}
	return enabled
}
