package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KaayaanAi/mcp-crypto-news/internal/cache"
	"github.com/KaayaanAi/mcp-crypto-news/internal/config"
	"github.com/KaayaanAi/mcp-crypto-news/internal/inference"
	"github.com/KaayaanAi/mcp-crypto-news/internal/keyword"
	"github.com/KaayaanAi/mcp-crypto-news/internal/lexicon"
	"github.com/KaayaanAi/mcp-crypto-news/internal/logging"
	"github.com/KaayaanAi/mcp-crypto-news/internal/pipeline"
	"github.com/KaayaanAi/mcp-crypto-news/internal/ratelimit"
	"github.com/KaayaanAi/mcp-crypto-news/internal/server"
	"github.com/KaayaanAi/mcp-crypto-news/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP analysis API",
	Long: `Start the analysis server. POST /analyze accepts a batch of news items and
returns one sentiment verdict per item; /health and /metrics report service
state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		analyzer, store, notifier, err := buildPipeline(ctx, cfg, logger)
		if err != nil {
			return err
		}
		notifier.Start(ctx)

		srv := server.New(analyzer, store, version, logger)
		if err := srv.Run(ctx, cfg.ListenAddr()); err != nil {
			return fmt.Errorf("server: %w", err)
		}
		logger.Info("shutdown complete")
		return nil
	},
}

// buildPipeline wires the analysis dependencies from configuration. The
// returned notifier still needs Start; the rate limiter's eviction loop is
// started here.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pipeline.Analyzer, *cache.Store, *webhook.Notifier, error) {
	lex, err := loadLexicon(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	classifier, err := keyword.New(lex)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building classifier: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.Cache.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("redis url: %w", err)
	}
	store := cache.New(cache.NewRedisKV(redis.NewClient(redisOpts)), cfg.CacheTTL(), logger)

	provider := inference.Unconfigured()
	if cfg.AIEnabled() {
		provider, err = inference.New(cfg.AI.Provider, cfg.AI.Model, cfg.AIKey())
		if err != nil {
			return nil, nil, nil, err
		}
	} else {
		logger.Warn("no AI key configured, running keyword-only with degraded fallbacks")
	}
	batcher := inference.NewBatcher(provider, inference.DefaultTimeout, logger)

	limiter := ratelimit.New(cfg.RequestsPerHour(), time.Hour)
	limiter.Start(ctx)

	notifier := webhook.New(webhook.Options{
		URL:     cfg.Webhook.URL,
		Secret:  cfg.WebhookSecret(),
		Mode:    webhook.Mode(cfg.Webhook.Mode),
		Retries: cfg.Webhook.Retries,
	}, logger)

	analyzer := pipeline.New(store, classifier, limiter, batcher, notifier, cfg.Threshold(), logger)
	return analyzer, store, notifier, nil
}

func loadLexicon(cfg *config.Config) (*lexicon.Lexicon, error) {
	if cfg.Analysis.Lexicon != "" {
		return lexicon.Load(cfg.Analysis.Lexicon)
	}
	return lexicon.Default()
}
