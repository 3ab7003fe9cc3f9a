package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"fleamarket-radar/config"
	"fleamarket-radar/notifier"
	"fleamarket-radar/scraper"
	"fleamarket-radar/scraper/mercari"
	"fleamarket-radar/scraper/yahoo"
	"fleamarket-radar/services"
	"fleamarket-radar/storage"
	"fleamarket-radar/summarizer"
	"fleamarket-radar/utils"
)

func main() {
	cfg := config.Load()
	logger := utils.NewLogger(cfg.LogLevel, cfg.LogPretty)

	root := &cobra.Command{
		Use:           "fleamarket-radar",
		Short:         "Secondhand marketplace price radar",
		Long:          "Scrapes mercari and Yahoo flea market listings, tracks their sale lifecycle, flags underpriced items and produces LLM market reports.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		scrapeCmd(cfg, logger),
		analyzeCmd(cfg, logger),
		reportCmd(cfg, logger),
		cleanupCmd(cfg, logger),
	)

	if err := root.Execute(); err != nil {
		logger.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

// openStore picks the backend: PostgreSQL when DATABASE_URL is set, a local
// SQLite file otherwise.
func openStore(cfg *config.Config, logger zerolog.Logger) (storage.Store, error) {
	if cfg.DatabaseURL != "" {
		logger.Debug().Msg("using postgres backend")
		return storage.NewPostgres(cfg.DatabaseURL)
	}
	logger.Debug().Str("path", cfg.SQLitePath).Msg("using sqlite backend")
	return storage.NewSQLite(cfg.SQLitePath)
}

func scrapeCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Fetch current listings and record them in the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}

			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			keywords := services.ResolveKeywords(cfg.Keywords, cfg.AutoKeyword, store, logger)
			logger.Info().Strs("keywords", keywords).Msg("scrape starting")

			allocCtx, cancel := scraper.NewAllocator(cmd.Context(), cfg.ChromeBin, logger)
			defer cancel()

			runner := scraper.NewRunner([]scraper.Source{
				mercari.New(allocCtx, cfg, logger),
				yahoo.New(allocCtx, cfg, logger),
			}, cfg.PolitenessDelay, logger)

			raw := runner.Run(cmd.Context(), keywords)
			if len(raw) == 0 {
				return errors.New("scrape: no listings fetched from any source")
			}

			listings := services.NewNormalizer(logger).Normalize(raw)
			if len(listings) == 0 {
				return errors.New("scrape: every fetched item failed validation")
			}

			stored := 0
			for _, l := range listings {
				if err := store.Upsert(l); err != nil {
					return fmt.Errorf("scrape: %w", err)
				}
				stored++
			}
			logger.Info().Int("fetched", len(raw)).Int("stored", stored).Msg("scrape finished")
			return nil
		},
	}
}

func analyzeCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Flag underpriced listings and send alert notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}

			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			detector := services.NewBargainDetector(store, services.DetectorConfig{
				CentralStatistic:  cfg.CentralStatistic,
				MinCohortSize:     cfg.MinCohortSize,
				DiscountThreshold: cfg.DiscountThreshold,
				PriceFloor:        cfg.PriceFloor,
				WindowDays:        cfg.CohortWindowDays,
			}, logger)

			candidates, err := detector.Detect()
			if err != nil {
				return err
			}

			var n notifier.Notifier
			if cfg.NotifierConfigured() {
				n = notifier.NewEmailNotifier(notifier.EmailConfig{
					Host:     cfg.SMTPHost,
					Port:     cfg.SMTPPort,
					User:     cfg.EmailUser,
					Password: cfg.EmailPassword,
					To:       cfg.Recipients(),
				}, logger)
			}

			gate := services.NewNotificationGate(store, n, cfg.CooldownWindow, logger)
			gate.Process(candidates)
			return nil
		},
	}
}

func reportCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Generate the LLM market report from the analysis window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.ValidateReport(); err != nil {
				return err
			}

			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			gemini, err := summarizer.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
			if err != nil {
				return err
			}
			reports, err := storage.NewReportWriter(cfg.ReportDir)
			if err != nil {
				return err
			}

			analyzer := services.NewAnalyzer(store, gemini, reports, services.AnalyzerConfig{
				WindowDays:       cfg.AnalysisDays,
				SampleCap:        cfg.SampleCap,
				ChunkSize:        cfg.ChunkSize,
				InterChunkDelay:  cfg.InterChunkDelay,
				RateLimitBackoff: cfg.RateLimitBackoff,
				TokenCeiling:     cfg.TokenCeiling,
				PromptTemplate:   cfg.PromptTemplate,
			}, logger)

			path, err := analyzer.Run(ctx)
			if errors.Is(err, services.ErrNoData) {
				logger.Info().Int("window_days", cfg.AnalysisDays).Msg("no listings in window, nothing to report")
				return nil
			}
			if err != nil {
				return err
			}
			logger.Info().Str("report", path).Msg("report finished")
			return nil
		},
	}
}

func cleanupCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge listings older than the retention horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}

			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			deleted, err := store.PurgeOlderThan(cfg.RetentionDays)
			if err != nil {
				return err
			}
			logger.Info().Int64("deleted", deleted).Int("retention_days", cfg.RetentionDays).Msg("cleanup finished")
			return nil
		},
	}
}
