package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edupipe/edupipe/internal/analyze"
	"github.com/edupipe/edupipe/internal/config"
	"github.com/edupipe/edupipe/internal/content"
	"github.com/edupipe/edupipe/internal/embed"
	"github.com/edupipe/edupipe/internal/extract"
	"github.com/edupipe/edupipe/internal/fetch"
	"github.com/edupipe/edupipe/internal/index"
	"github.com/edupipe/edupipe/internal/pipeline"
	"github.com/edupipe/edupipe/internal/search"
	"github.com/edupipe/edupipe/internal/searchstore"
	"github.com/edupipe/edupipe/internal/storage"
)

// app holds the wired pipeline components for one command invocation.
type app struct {
	cfg      config.Config
	catalog  config.Catalog
	store    *storage.Store
	idxStore *index.FileStore
	pipe     *pipeline.Pipeline
	searcher *search.Searcher
	embed    *embed.Client
}

func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	catalog, err := config.LoadCatalog(cfg.Pipeline.CatalogPath)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	log := slog.Default()
	fetcher := fetch.New(cfg.Fetch)
	idxStore := index.NewFileStore(filepath.Join(cfg.Storage.DataDir, "resource_index.json"))
	builder := index.NewBuilder(fetcher, idxStore, catalog, index.Limits{
		MaxPagesPerSubject: cfg.Pipeline.MaxPagesPerSubject,
		MaxPerSubject:      cfg.Pipeline.MaxPerSubject,
	}, log)
	extractor := extract.New(fetcher, catalog.Source, log)

	embedClient := embed.NewClient(cfg.Embedding)
	analyzer, err := analyze.New(embedClient, cfg.Embedding.CacheSize, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	upserter := searchstore.NewClient(cfg.SearchStore, log)

	pipe := pipeline.New(pipeline.Deps{
		Indexer:    builder,
		IndexStore: idxStore,
		Extractor:  extractor,
		Analyzer:   analyzer,
		Upserter:   upserter,
		Store:      store,
		Config:     cfg.Pipeline,
		Log:        log,
	})

	return &app{
		cfg:      cfg,
		catalog:  catalog,
		store:    store,
		idxStore: idxStore,
		pipe:     pipe,
		searcher: search.New(analyzer, store),
		embed:    embedClient,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// --- pipeline steps ---

var indexCmd = newStepCommand(pipeline.StepIndex,
	"Discover resources and build the resource index")

var extractCmd = newStepCommand(pipeline.StepExtract,
	"Extract content for indexed resources")

var analyzeCmd = newStepCommand(pipeline.StepAnalyze,
	"Classify, keyword, and embed extracted records")

var upsertCmd = newStepCommand(pipeline.StepUpsert,
	"Push analyzed records to the search index")

var runCmd = newStepCommand(pipeline.StepAll,
	"Run the full pipeline: index, extract, analyze, upsert")

func newStepCommand(step pipeline.Step, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(step),
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			subjects, _ := cmd.Flags().GetStringSlice("subject")

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			printStep("running %s", step)
			run, err := a.pipe.Execute(cmd.Context(), step, subjects)
			if run.ID != "" {
				printRunSummary(run)
			}
			if err != nil {
				return err
			}
			printSuccess("%s completed (run %s)", step, run.ID)
			return nil
		},
	}
	cmd.Flags().StringSlice("subject", nil, "limit to the named subjects (repeatable)")
	return cmd
}

func printRunSummary(run storage.Run) {
	s := run.Summary
	printStatus("Status", "%s", run.Status)
	if s.Indexed > 0 {
		printStatus("Indexed", "%d", s.Indexed)
	}
	if s.Extracted > 0 || s.LowContent > 0 {
		printStatus("Extracted", "%d (%d low-content)", s.Extracted, s.LowContent)
	}
	if s.Analyzed > 0 {
		printStatus("Analyzed", "%d", s.Analyzed)
	}
	if s.Upserted > 0 {
		printStatus("Upserted", "%d", s.Upserted)
	}
	if s.Skipped > 0 {
		printStatus("Skipped", "%d permanently unavailable", s.Skipped)
	}
	for stage, n := range s.Failed {
		printWarning("%d %s failures queued for retry", n, stage)
	}
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over the local content store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		subject, _ := cmd.Flags().GetString("subject")
		contentType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		q := search.Query{
			Text:        query,
			Subject:     subject,
			ContentType: content.Type(contentType),
			TopK:        limit,
		}
		if cmd.Flags().Changed("grade") {
			grade, _ := cmd.Flags().GetInt("grade")
			q.Grade = &grade
		}

		results, err := a.searcher.Search(cmd.Context(), q)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}

		if len(results) == 0 {
			printWarning("no results")
			return nil
		}
		for i, res := range results {
			fmt.Fprintf(os.Stdout, "%2d. [%.2f] %s (%s, %s)\n    %s\n",
				i+1, res.Score, res.Title, res.Subject, res.ContentType, res.URL)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().String("subject", "", "restrict to one subject")
	searchCmd.Flags().String("type", "", "restrict to one content type")
	searchCmd.Flags().Int("grade", 0, "restrict to resources covering this grade (0 = Foundation)")
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
	searchCmd.Flags().Bool("json", false, "print results as JSON")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, kv := range config.ShowAll(cfg) {
			fmt.Fprintf(os.Stdout, "  %s = %s\n", colorize(colorBold, kv.Key), kv.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value, reverting to the default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline and store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		printStatus("Source", "%s", a.catalog.Source)
		printStatus("Data dir", "%s", a.cfg.Storage.DataDir)

		idx, err := a.idxStore.Load()
		switch {
		case errors.Is(err, index.ErrNoIndex):
			printStatus("Index", "not built")
		case err != nil:
			printError("index: %v", err)
		default:
			printStatus("Index", "%d resources across %d subjects (built %s)",
				idx.TotalResources, len(idx.Subjects), idx.CreatedAt.Format("2006-01-02 15:04"))
		}

		stats, err := a.store.ContentStats()
		if err != nil {
			return err
		}
		printStatus("Extracted", "%d (%d low-content, %d skipped)", stats.Total, stats.LowContent, stats.Skipped)
		printStatus("Analyzed", "%d (%d embedded)", stats.Analyzed, stats.Embedded)
		printStatus("Upserted", "%d", stats.Upserted)

		if a.embed.IsRunning(cmd.Context()) {
			printStatus("Embeddings", "%s at %s", a.embed.Model(), a.cfg.Embedding.BaseURL)
		} else {
			printStatus("Embeddings", "unreachable at %s", a.cfg.Embedding.BaseURL)
		}
		if a.cfg.SearchStore.Endpoint == "" {
			printStatus("Search store", "not configured")
		} else {
			printStatus("Search store", "%s (index %s)", a.cfg.SearchStore.Endpoint, a.cfg.SearchStore.IndexName)
		}

		runs, err := a.store.ListRuns(1)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			r := runs[0]
			printStatus("Last run", "%s %s (%s)", r.Step, r.Status, r.StartedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}
