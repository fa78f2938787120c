package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequired sets the minimum environment a valid config needs.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SCILEX_COLLECTION_KEYWORDS_ONE", "serious game")
	t.Setenv("SCILEX_COLLECTION_YEAR_START", "2019")
	t.Setenv("SCILEX_COLLECTION_YEAR_END", "2021")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	// Collection defaults
	assert.Equal(t, 1000, cfg.Collection.MaxArticles)
	assert.Equal(t, 5, cfg.Collection.FlushThreshold)
	assert.Equal(t, "collects", cfg.Collection.OutputDir)
	assert.Equal(t, []int{2019, 2020, 2021}, cfg.Collection.Years())

	// Breaker defaults
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.Cooldown)

	// Source defaults
	assert.True(t, cfg.Sources.ArXiv.Enabled)
	assert.Equal(t, "https://export.arxiv.org/api", cfg.Sources.ArXiv.BaseURL)
	assert.Equal(t, 3.0, cfg.Sources.ArXiv.RateLimit)
	assert.Equal(t, BackoffFixed, cfg.Sources.ArXiv.Backoff)
	assert.Equal(t, 30*time.Second, cfg.Sources.ArXiv.FixedBackoff)
	assert.Equal(t, PaginationOffset, cfg.Sources.ArXiv.Pagination)

	assert.Equal(t, PaginationCursor, cfg.Sources.OpenAlex.Pagination)
	assert.Equal(t, BackoffExponential, cfg.Sources.OpenAlex.Backoff)
	assert.Equal(t, 200, cfg.Sources.OpenAlex.PageSize)

	assert.Equal(t, 1.0, cfg.Sources.SemanticScholar.RateLimit)
	assert.Equal(t, 3.0, cfg.Sources.PubMed.RateLimit)

	// Dedup defaults
	assert.Equal(t, 1, cfg.Dedup.AbstractWeight)
	assert.Equal(t, 1, cfg.Dedup.AuthorsWeight)
	assert.Equal(t, 1, cfg.Dedup.DOIWeight)

	// Quality defaults
	assert.Equal(t, 30, cfg.Quality.MinWords)
	assert.Equal(t, 50, cfg.Quality.MinScore)
	assert.True(t, cfg.Quality.CheckLanguage)
	assert.Zero(t, cfg.Quality.MinAbstractWords)
	assert.False(t, cfg.Quality.RequireYear)
	assert.False(t, cfg.Quality.RequireOpenAccess)

	// Citations defaults
	assert.False(t, cfg.Citations.Enabled)
	assert.Equal(t, 720*time.Hour, cfg.Citations.TTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SCILEX_COLLECTION_KEYWORDS_ONE", "serious game,gamification")
	t.Setenv("SCILEX_COLLECTION_KEYWORDS_TWO", "learning")
	t.Setenv("SCILEX_COLLECTION_MAX_ARTICLES", "250")
	t.Setenv("SCILEX_SOURCES_ARXIV_RATE_LIMIT", "1.5")
	t.Setenv("SCILEX_SOURCES_OPENALEX_ENABLED", "false")
	t.Setenv("SCILEX_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"serious game", "gamification"}, cfg.Collection.KeywordsOne)
	assert.Equal(t, []string{"learning"}, cfg.Collection.KeywordsTwo)
	assert.Equal(t, 250, cfg.Collection.MaxArticles)
	assert.Equal(t, 1.5, cfg.Sources.ArXiv.RateLimit)
	assert.False(t, cfg.Sources.OpenAlex.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Secrets(t *testing.T) {
	setRequired(t)
	t.Setenv("SCILEX_SOURCES_SEMANTIC_SCHOLAR_API_KEY", "s2-test-key")
	t.Setenv("SCILEX_SOURCES_PUBMED_API_KEY", "ncbi-test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s2-test-key", cfg.Sources.SemanticScholar.APIKey)
	assert.Equal(t, "ncbi-test-key", cfg.Sources.PubMed.APIKey)
	assert.Empty(t, cfg.Sources.ArXiv.APIKey)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing keywords",
			env:     map[string]string{"SCILEX_COLLECTION_KEYWORDS_ONE": ""},
			wantErr: "keywords_one",
		},
		{
			name:    "missing years",
			env:     map[string]string{"SCILEX_COLLECTION_YEAR_START": "0"},
			wantErr: "year_start",
		},
		{
			name: "inverted year range",
			env: map[string]string{
				"SCILEX_COLLECTION_YEAR_START": "2022",
				"SCILEX_COLLECTION_YEAR_END":   "2020",
			},
			wantErr: "year_end",
		},
		{
			name:    "bad log level",
			env:     map[string]string{"SCILEX_LOGGING_LEVEL": "verbose"},
			wantErr: "invalid log level",
		},
		{
			name:    "bad pagination style",
			env:     map[string]string{"SCILEX_SOURCES_ARXIV_PAGINATION": "scroll"},
			wantErr: "pagination",
		},
		{
			name:    "bad backoff policy",
			env:     map[string]string{"SCILEX_SOURCES_PUBMED_BACKOFF": "jitter"},
			wantErr: "backoff",
		},
		{
			name:    "fixed policy needs interval",
			env:     map[string]string{"SCILEX_SOURCES_ARXIV_FIXED_BACKOFF": "0s"},
			wantErr: "fixed_backoff",
		},
		{
			name:    "zero max articles",
			env:     map[string]string{"SCILEX_COLLECTION_MAX_ARTICLES": "0"},
			wantErr: "max_articles",
		},
		{
			name:    "breaker threshold",
			env:     map[string]string{"SCILEX_BREAKER_FAILURE_THRESHOLD": "0"},
			wantErr: "failure_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_DisabledSourceSkipsValidation(t *testing.T) {
	setRequired(t)
	t.Setenv("SCILEX_SOURCES_ARXIV_ENABLED", "false")
	t.Setenv("SCILEX_SOURCES_ARXIV_PAGINATION", "scroll")

	_, err := Load()
	require.NoError(t, err, "disabled sources are not validated")
}

func TestEnabledSources(t *testing.T) {
	setRequired(t)
	t.Setenv("SCILEX_SOURCES_PUBMED_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	enabled := cfg.EnabledSources()
	assert.Contains(t, enabled, "arxiv")
	assert.Contains(t, enabled, "openalex")
	assert.Contains(t, enabled, "semantic_scholar")
	assert.NotContains(t, enabled, "pubmed")
}
