package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaayaanAi/mcp-crypto-news/internal/config"
	"github.com/KaayaanAi/mcp-crypto-news/internal/feed"
	"github.com/KaayaanAi/mcp-crypto-news/internal/logging"
	"github.com/KaayaanAi/mcp-crypto-news/internal/news"
	"github.com/KaayaanAi/mcp-crypto-news/internal/normalize"
	"github.com/KaayaanAi/mcp-crypto-news/internal/store"
)

const scanBatchSize = 20

var flagScanForce bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Fetch the configured news feeds and analyze new articles",
	Long: `Pull every enabled feed, analyze articles not yet in the local history, and
record the verdicts. Articles already analyzed are skipped unless their
content changed.`,
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

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		history, err := store.Open(config.HistoryPath())
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer history.Close()

		if !flagScanForce && !history.NeedsScan(cfg.CacheTTL()) {
			fmt.Println("Feeds scanned recently; use --force to scan anyway.")
			return nil
		}

		fmt.Println("Fetching feeds...")
		fetched := feed.FetchAll(ctx, cfg.EnabledSources())
		for _, e := range fetched.Errors {
			fmt.Printf("  [warn] %v\n", e)
		}

		fresh, err := unseenArticles(history, fetched.Articles)
		if err != nil {
			return err
		}
		if len(fresh) == 0 {
			fmt.Println("No new articles.")
			return history.SetLastScan()
		}
		fmt.Printf("Analyzing %d new article(s)...\n", len(fresh))

		analyzer, _, notifier, err := buildPipeline(ctx, cfg, logger)
		if err != nil {
			return err
		}
		notifier.Start(ctx)

		var analyzed int
		for start := 0; start < len(fresh); start += scanBatchSize {
			end := start + scanBatchSize
			if end > len(fresh) {
				end = len(fresh)
			}
			batch := fresh[start:end]

			items := make([]news.Item, len(batch))
			for i, a := range batch {
				items[i] = a.Item()
			}

			resp, err := analyzer.AnalyzeBatch(ctx, "scanner", items)
			if err != nil {
				return fmt.Errorf("analyzing batch: %w", err)
			}
			if resp.Rejected {
				fmt.Printf("Rate limited; retry in %s. Stopping.\n", resp.RetryAfter.Round(time.Second))
				break
			}

			if err := history.Record(entriesFor(batch, resp.Results)); err != nil {
				return fmt.Errorf("recording history: %w", err)
			}
			analyzed += len(batch)
		}

		if err := history.SetLastScan(); err != nil {
			return err
		}
		if pruned, err := history.Prune(cfg.RetentionDuration()); err == nil && pruned > 0 {
			fmt.Printf("Pruned %d old record(s).\n", pruned)
		}

		fmt.Printf("Done: %d article(s) analyzed.\n", analyzed)
		return nil
	},
}

func init() {
	scanCmd.Flags().BoolVar(&flagScanForce, "force", false, "scan even if the last scan is recent")
}

// unseenArticles drops articles whose normalized content is already recorded.
func unseenArticles(history *store.History, articles []feed.Article) ([]feed.Article, error) {
	keys := make([]string, 0, len(articles))
	keyFor := make(map[string]string, len(articles))
	for _, a := range articles {
		key, _, err := normalize.Normalize(a.Item())
		if err != nil {
			continue // empty entries are not worth analyzing
		}
		keys = append(keys, key)
		keyFor[a.ID] = key
	}

	seen, err := history.Seen(keys)
	if err != nil {
		return nil, fmt.Errorf("checking history: %w", err)
	}

	var fresh []feed.Article
	for _, a := range articles {
		key, ok := keyFor[a.ID]
		if !ok || seen[key] {
			continue
		}
		fresh = append(fresh, a)
	}
	return fresh, nil
}

func entriesFor(articles []feed.Article, results []news.Result) []store.Entry {
	now := time.Now()
	entries := make([]store.Entry, 0, len(results))
	for i, r := range results {
		if i >= len(articles) {
			break
		}
		a := articles[i]
		key, _, err := normalize.Normalize(a.Item())
		if err != nil {
			continue
		}
		entries = append(entries, store.Entry{
			Key:           key,
			Source:        a.Source,
			Title:         a.Title,
			Link:          a.Link,
			Impact:        string(r.Impact),
			Confidence:    r.Confidence,
			AffectedCoins: r.AffectedCoins,
			Lang:          r.Lang,
			LowConfidence: r.LowConfidence,
			AnalyzedAt:    now,
		})
	}
	return entries
}
