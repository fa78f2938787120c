// Package main provides the entry point for the scilex collection pipeline.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/scilex/scilex/internal/aggregate"
	"github.com/scilex/scilex/internal/citations"
	"github.com/scilex/scilex/internal/collector"
	"github.com/scilex/scilex/internal/config"
	"github.com/scilex/scilex/internal/dedup"
	"github.com/scilex/scilex/internal/domain"
	"github.com/scilex/scilex/internal/fetch"
	"github.com/scilex/scilex/internal/observability"
	"github.com/scilex/scilex/internal/progress"
	"github.com/scilex/scilex/internal/quality"
	"github.com/scilex/scilex/internal/resilience"
	"github.com/scilex/scilex/internal/sources/arxiv"
	"github.com/scilex/scilex/internal/sources/openalex"
	"github.com/scilex/scilex/internal/sources/pubmed"
	"github.com/scilex/scilex/internal/sources/semanticscholar"
	"github.com/scilex/scilex/internal/store"
)

const usage = `usage: scilex <command>

commands:
  collect    run the collection matrix against all enabled sources
  aggregate  aggregate collected pages into a deduplicated corpus
  status     serve the progress endpoint over the persisted state
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "collect":
		return runCollect(ctx, cfg, logger)
	case "aggregate":
		return runAggregate(ctx, cfg, logger)
	case "status":
		return runStatus(ctx, cfg, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// runCollect walks every enabled source through the full query matrix, one
// worker per source. Interrupting the run flushes buffers and leaves the
// ledger resumable.
func runCollect(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	runID := uuid.New().String()
	// Artifacts record the collection run as an integer; the UUID identifies
	// the run in logs and the progress endpoint.
	idCollect := int(time.Now().Unix())
	log := observability.WithRunContext(logger, runID).With().Str("component", "collect").Logger()

	st, err := store.NewStateStore(cfg.Collection.OutputDir)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}

	promReg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promReg)
	tracker := progress.NewTracker(runID)

	breakerCfgs := make(map[string]resilience.Config)
	for name := range cfg.EnabledSources() {
		breakerCfgs[name] = resilience.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
		}
	}
	breakers := resilience.NewRegistry(breakerCfgs)

	registry := collector.NewRegistry()
	queries := make([]domain.Query, 0)
	years := cfg.Collection.Years()

	for name, src := range cfg.EnabledSources() {
		col, fetcher := buildSource(name, src, breakers, logger)
		if col == nil {
			log.Warn().Str("source", name).Msg("unknown source in configuration, skipping")
			continue
		}

		driver := collector.NewDriver(fetcher, st, collector.DriverConfig{
			MaxArticles:    cfg.Collection.MaxArticles,
			FlushThreshold: cfg.Collection.FlushThreshold,
			IDCollect:      idCollect,
		}, logger, metrics, tracker.Observe)

		registry.Register(col, driver)
		queries = append(queries, aggregate.ComposeQueries(name,
			cfg.Collection.KeywordsOne, cfg.Collection.KeywordsTwo, years)...)
	}

	var srv *progress.Server
	if cfg.Server.Enabled {
		srv = progress.NewServer(progress.ServerConfig{
			Address:         cfg.Server.Address(),
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, tracker, breakers, promReg, logger)
		go func() {
			if err := srv.Start(); err != nil {
				log.Error().Err(err).Msg("status server failed")
			}
		}()
	}

	log.Info().
		Strs("sources", registry.Sources()).
		Int("queries", len(queries)).
		Int("max_articles", cfg.Collection.MaxArticles).
		Msg("collection starting")

	outcomes := registry.CollectAll(ctx, queries)

	failed := 0
	for _, out := range outcomes {
		if out.Err != nil {
			failed++
			log.Error().Err(out.Err).
				Str("source", out.Source).
				Int("query_id", out.Query.QueryID).
				Int("year", out.Query.Year).
				Msg("query did not complete")
		}
	}
	log.Info().Int("total", len(outcomes)).Int("failed", failed).Msg("collection finished")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("status server shutdown failed")
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d queries did not complete; re-run collect to resume", failed, len(outcomes))
	}
	return nil
}

// buildSource constructs a source collector plus its fetch client. The fetch
// client carries the per-source rate limit, backoff policy, and credentials.
func buildSource(name string, src config.SourceConfig, breakers *resilience.Registry, logger zerolog.Logger) (collector.Collector, *fetch.Client) {
	fc := fetch.Config{
		Source:           name,
		Timeout:          src.Timeout,
		RateLimit:        src.RateLimit,
		Burst:            src.Burst,
		MaxRetries:       src.MaxRetries,
		Backoff:          fetch.BackoffPolicy(src.Backoff),
		FixedBackoff:     src.FixedBackoff,
		APIKey:           src.APIKey,
		APIKeyConfigName: fmt.Sprintf("sources.%s.api_key", name),
	}

	switch name {
	case arxiv.SourceName:
		fetcher := fetch.NewClient(fc, breakers, logger)
		return arxiv.New(arxiv.Config{
			BaseURL:      src.BaseURL,
			PageSize:     src.PageSize,
			RateLimit:    src.RateLimit,
			Burst:        src.Burst,
			FixedBackoff: src.FixedBackoff,
		}), fetcher

	case openalex.SourceName:
		fetcher := fetch.NewClient(fc, breakers, logger)
		return openalex.New(openalex.Config{
			BaseURL:   src.BaseURL,
			PageSize:  src.PageSize,
			RateLimit: src.RateLimit,
			Burst:     src.Burst,
			Mailto:    src.Mailto,
		}), fetcher

	case semanticscholar.SourceName:
		fc.APIKeyHeader = semanticscholar.APIKeyHeader
		fetcher := fetch.NewClient(fc, breakers, logger)
		return semanticscholar.New(semanticscholar.Config{
			BaseURL:   src.BaseURL,
			PageSize:  src.PageSize,
			RateLimit: src.RateLimit,
			Burst:     src.Burst,
		}), fetcher

	case pubmed.SourceName:
		fetcher := fetch.NewClient(fc, breakers, logger)
		return pubmed.New(pubmed.Config{
			BaseURL:   src.BaseURL,
			PageSize:  src.PageSize,
			RateLimit: src.RateLimit,
			Burst:     src.Burst,
		}, fetcher), fetcher
	}

	return nil, nil
}

// corpusStats is the run summary written alongside the corpus.
type corpusStats struct {
	GeneratedAt    time.Time               `json:"generated_at"`
	Artifacts      int                     `json:"artifacts"`
	RecordsLoaded  int                     `json:"records_loaded"`
	ArtifactsBad   int                     `json:"artifacts_skipped"`
	Dedup          dedup.Stats             `json:"dedup"`
	Quality        quality.ValidationStats `json:"quality"`
	QualityRemoved int                     `json:"quality_removed"`
	FilterRejected map[string]int          `json:"filter_rejected,omitempty"`
	FinalCount     int                     `json:"final_count"`
	Citations      *citationSummary        `json:"citation_cache,omitempty"`
}

// citationSummary reports cache state and how much of the corpus it covers.
type citationSummary struct {
	citations.Stats
	CorpusCached int `json:"corpus_cached"`
}

// refineCorpus grades every abstract, drops records below the acceptance
// threshold, then applies the structural filters. It returns the surviving
// records with the grading stats, the number removed by the quality gate,
// and the per-reason structural rejection counts.
func refineCorpus(records []domain.Record, v *quality.Validator, f quality.Filters) ([]domain.Record, quality.ValidationStats, int, map[string]int) {
	_, stats := v.ValidateRecords(records)

	kept := v.FilterByAbstractQuality(records)
	removed := len(records) - len(kept)

	kept, rejected := f.Apply(kept)
	return kept, stats, removed, rejected
}

// runAggregate flattens every persisted page artifact into one corpus:
// aggregate, deduplicate, grade abstracts, filter, and write the result.
func runAggregate(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	log := logger.With().Str("component", "aggregate").Logger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	matrix := make([]domain.Query, 0)
	years := cfg.Collection.Years()
	for name := range cfg.EnabledSources() {
		matrix = append(matrix, aggregate.ComposeQueries(name,
			cfg.Collection.KeywordsOne, cfg.Collection.KeywordsTwo, years)...)
	}

	tagged, aggStats, err := aggregate.New(cfg.Collection.OutputDir, logger).Load(matrix)
	if err != nil {
		return fmt.Errorf("load artifacts: %w", err)
	}
	records := aggregate.Records(tagged)
	log.Info().
		Int("artifacts", aggStats.Artifacts).
		Int("records", aggStats.Records).
		Int("skipped", aggStats.Skipped).
		Msg("artifacts loaded")

	deduper := dedup.New(dedup.QualityWeights{
		Abstract: cfg.Dedup.AbstractWeight,
		Authors:  cfg.Dedup.AuthorsWeight,
		DOI:      cfg.Dedup.DOIWeight,
	}, logger, metrics)
	records, dedupStats := deduper.Deduplicate(records)
	log.Info().
		Int("initial", dedupStats.InitialCount).
		Int("final", dedupStats.FinalCount).
		Int("doi_removed", dedupStats.DOIRemoved).
		Int("title_removed", dedupStats.TitleRemoved).
		Msg("deduplication finished")

	validator := quality.NewValidator(quality.ValidatorConfig{
		MinWords:         cfg.Quality.MinWords,
		MaxWords:         cfg.Quality.MaxWords,
		CheckLanguage:    cfg.Quality.CheckLanguage,
		ExpectedLanguage: cfg.Quality.ExpectedLanguage,
		MinScore:         cfg.Quality.MinScore,
	})
	filters := quality.Filters{
		RequireDOI:        cfg.Quality.RequireDOI,
		RequireAbstract:   cfg.Quality.RequireAbstract,
		MinAbstractWords:  cfg.Quality.MinAbstractWords,
		RequireYear:       cfg.Quality.RequireYear,
		YearMin:           cfg.Collection.YearStart,
		YearMax:           cfg.Collection.YearEnd,
		RequireOpenAccess: cfg.Quality.RequireOpenAccess,
		MinAuthors:        cfg.Quality.MinAuthors,
	}
	records, qualityStats, qualityRemoved, rejected := refineCorpus(records, validator, filters)
	log.Info().
		Int("quality_removed", qualityRemoved).
		Int("kept", len(records)).
		Float64("average_score", qualityStats.AverageScore).
		Msg("quality gate applied")

	stats := corpusStats{
		GeneratedAt:    time.Now().UTC(),
		Artifacts:      aggStats.Artifacts,
		RecordsLoaded:  aggStats.Records,
		ArtifactsBad:   aggStats.Skipped,
		Dedup:          dedupStats,
		Quality:        qualityStats,
		QualityRemoved: qualityRemoved,
		FilterRejected: rejected,
		FinalCount:     len(records),
	}

	if cfg.Citations.Enabled {
		citStats, err := citationCacheStats(ctx, cfg, metrics, records)
		if err != nil {
			log.Warn().Err(err).Msg("citation cache unavailable")
		} else {
			stats.Citations = citStats
		}
	}

	if err := writeJSONFile(filepath.Join(cfg.Collection.OutputDir, "corpus.json"), records); err != nil {
		return fmt.Errorf("write corpus: %w", err)
	}
	if err := writeJSONFile(filepath.Join(cfg.Collection.OutputDir, "corpus_stats.json"), stats); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}

	log.Info().Int("final_count", len(records)).Str("output", cfg.Collection.OutputDir).Msg("corpus written")
	return nil
}

// citationCacheStats sweeps expired entries and reports cache coverage of
// the corpus DOIs.
func citationCacheStats(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, records []domain.Record) (*citationSummary, error) {
	cache, err := citations.Open(cfg.Citations.Path, cfg.Citations.TTL, metrics)
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	if _, err := cache.CleanupExpired(ctx); err != nil {
		return nil, err
	}

	stats, err := cache.Stats(ctx)
	if err != nil {
		return nil, err
	}

	dois := make([]string, 0, len(records))
	for _, rec := range records {
		if !domain.IsMissing(rec.DOI) {
			dois = append(dois, rec.DOI)
		}
	}
	cached, err := cache.GetBatch(ctx, dois)
	if err != nil {
		return nil, err
	}

	return &citationSummary{Stats: stats, CorpusCached: len(cached)}, nil
}

// runStatus serves the progress endpoint over the persisted ledgers, for
// inspecting a finished or interrupted run without re-collecting.
func runStatus(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	log := logger.With().Str("component", "status").Logger()

	st, err := store.NewStateStore(cfg.Collection.OutputDir)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}

	tracker := progress.NewTracker("persisted")
	for name := range cfg.EnabledSources() {
		ledger, err := st.Ledger(name)
		if err != nil {
			return fmt.Errorf("read %s ledger: %w", name, err)
		}
		for queryID, p := range ledger {
			tracker.Observe(name, queryID, p)
		}
	}

	srv := progress.NewServer(progress.ServerConfig{
		Address:         cfg.Server.Address(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, tracker, resilience.NewRegistry(nil), nil, logger)

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// writeJSONFile writes v as indented JSON via a temp file and rename.
func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".corpus-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
