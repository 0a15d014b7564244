package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"depgraph/internal/config"
	"depgraph/internal/crawler"
	"depgraph/internal/extractor"
	"depgraph/internal/graph"
	"depgraph/internal/index"
	"depgraph/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:          "depgraph",
		Short:        "Build code dependency graphs for Python, TypeScript, JavaScript and Go repositories",
		SilenceUsage: true,
	}
	configPath string
	dbPath     string
	repository string
	asJSON     bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "depgraph.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Path to the graph database (SQLite), overrides storage.path")
	rootCmd.PersistentFlags().StringVarP(&repository, "repo", "r", "", "Repository name the graph is stored under")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")

	indexCmd.Flags().String("export", "", "Also write the assembled graph as JSON to this file")
	indexCmd.Flags().String("metrics-out", "", "Write run metrics in Prometheus text format to this file")
	indexCmd.Flags().BoolP("verbose", "v", false, "Print every unit that failed extraction")
	depsCmd.Flags().Int("hops", 1, "How many edges away from the symbol to walk")
	depsCmd.Flags().Float64("min-confidence", 0, "Ignore edges below this confidence")
	depsCmd.Flags().StringSlice("types", nil, "Only walk these relation types (e.g. Calls,Imports)")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(depsCmd)
}

// setup loads the configuration and installs the logger.
func setup() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	level, _ := cfg.LogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

// initStore opens the SQLite store behind the retrying decorator.
func initStore(cfg *config.Config, metrics *index.Metrics) (*storage.SQLiteStore, storage.GraphStore, error) {
	if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	db, err := storage.NewSQLiteStore(cfg.Storage.Path, storage.WithBatchSize(cfg.Storage.BatchSize))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	opts := []storage.RetryOption{storage.WithRetryLogger(slog.Default())}
	if metrics != nil {
		opts = append(opts, storage.WithRetryHook(metrics.StoreRetryHook))
	}
	retrying := storage.NewRetryingStore(db, storage.RetryPolicy{
		MaxAttempts:    cfg.Storage.MaxAttempts,
		InitialBackoff: cfg.Storage.InitialBackoff,
	}, opts...)
	return db, retrying, nil
}

func requireRepo() error {
	if repository == "" {
		return fmt.Errorf("--repo is required")
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a repository and store its dependency graph",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) > 0 {
			root = args[0]
		}
		root, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		if repository == "" {
			repository = filepath.Base(root)
		}

		cfg, err := setup()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		registry := prometheus.NewRegistry()
		metrics := index.NewMetrics(registry)
		db, store, err := initStore(cfg, metrics)
		if err != nil {
			return err
		}
		defer db.Close()

		reg := extractor.DefaultRegistry()
		cr := crawler.NewCrawler(reg, crawler.WithIgnored(cfg.Index.Ignore))
		fmt.Fprintf(os.Stderr, "📂 Scanning directory: %s\n", root)
		units, err := cr.Collect(ctx, root, repository)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		idx, err := index.NewIndexer(extractor.NewExtractor(reg),
			index.WithStore(store),
			index.WithWorkers(cfg.Index.Workers),
			index.WithCacheSize(cfg.Index.CacheSize),
			index.WithMetrics(metrics),
		)
		if err != nil {
			return err
		}

		summary, err := idx.Run(ctx, repository, units)
		if export, _ := cmd.Flags().GetString("export"); export != "" && err == nil {
			var g *graph.Graph
			if g, err = store.LoadGraph(ctx, repository); err == nil {
				err = index.SaveGraph(g, export)
			}
		}

		if out, _ := cmd.Flags().GetString("metrics-out"); out != "" {
			if werr := prometheus.WriteToTextfile(out, registry); werr != nil {
				slog.Warn("failed to write metrics", "file", out, "error", werr)
			}
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose && summary != nil {
			summary.Failures = nil
		}
		if summary != nil {
			if asJSON {
				if perr := printJSON(summary); perr != nil {
					return perr
				}
			} else {
				printSummary(summary)
			}
		}
		return err
	},
}

func printSummary(s *index.RunSummary) {
	fmt.Printf("Repository:            %s\n", s.Repository)
	if s.RunID != "" {
		fmt.Printf("Run:                   %s\n", s.RunID)
	}
	fmt.Printf("Files processed:       %d (failed %d, cached %d)\n", s.FilesProcessed, s.FilesFailed, s.CacheHits)
	fmt.Printf("Declarations:          %d\n", s.DeclarationsCreated)
	fmt.Printf("References resolved:   %d (unresolved %d)\n", s.ReferencesResolved, s.ReferencesUnresolved)
	fmt.Printf("Isolated node ratio:   %.1f%%\n", s.IsolatedNodeRatio*100)
	fmt.Printf("Duration:              %v\n", s.Duration.Round(time.Millisecond))
	if st := s.Resolution; st != nil && st.Unresolved > 0 {
		fmt.Println("Unresolved by reason:")
		printCounts(stringKeys(st.ByReason))
	}
	for _, f := range s.Failures {
		fmt.Printf("  ✗ %s [%s] %s\n", f.FilePath, f.Kind, f.Error)
	}
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show health metrics of a stored graph",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRepo(); err != nil {
			return err
		}
		cfg, err := setup()
		if err != nil {
			return err
		}
		db, store, err := initStore(cfg, nil)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		h, err := store.GetGraphStats(ctx, repository)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(h)
		}
		if run, err := db.LastRun(ctx, repository); err == nil {
			fmt.Printf("Last run:      %s at %s\n", run.RunID, run.CommittedAt.Format(time.RFC3339))
		}
		fmt.Printf("Nodes:         %d\n", h.TotalNodes)
		fmt.Printf("Edges:         %d (%.2f per node)\n", h.TotalEdges, h.EdgeNodeRatio())
		fmt.Printf("Isolated:      %d (%.1f%%)\n", h.Isolated(), h.IsolatedRatio()*100)
		fmt.Println("Nodes by type (isolated):")
		for _, typ := range sortedKeys(h.NodesByType) {
			fmt.Printf("  %-12s %6d (%d)\n", typ, h.NodesByType[typ], h.IsolatedByType[typ])
		}
		fmt.Println("Edges by type:")
		printCounts(h.EdgeTypeCounts)
		return nil
	},
}

var depsCmd = &cobra.Command{
	Use:   "deps <symbol>",
	Short: "Show what a symbol depends on and what depends on it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRepo(); err != nil {
			return err
		}
		cfg, err := setup()
		if err != nil {
			return err
		}
		db, store, err := initStore(cfg, nil)
		if err != nil {
			return err
		}
		defer db.Close()

		g, err := store.LoadGraph(cmd.Context(), repository)
		if err != nil {
			return err
		}
		matches := g.FindByName(args[0])
		if len(matches) == 0 {
			return fmt.Errorf("no symbol named %q in %s", args[0], repository)
		}

		hops, _ := cmd.Flags().GetInt("hops")
		minConf, _ := cmd.Flags().GetFloat64("min-confidence")
		types, _ := cmd.Flags().GetStringSlice("types")
		nc := graph.NeighborhoodConfig{MaxHops: hops, MinConfidence: minConf}
		if len(types) > 0 {
			nc.AllowedTypes = make(map[string]bool, len(types))
			for _, t := range types {
				nc.AllowedTypes[strings.TrimSpace(t)] = true
			}
		}

		ids := make([]string, 0, len(matches))
		for _, n := range matches {
			ids = append(ids, n.ID)
		}
		sub := g.Neighborhood(ids, nc)
		if asJSON {
			return printJSON(sub)
		}

		for _, n := range matches {
			fmt.Printf("%s %s (%s:%d)\n", n.Type, n.Properties.QualifiedName, n.Properties.FilePath, n.Properties.StartLine)
			for _, e := range g.OutEdges(n.ID) {
				printEdge("→", e, g.Nodes[e.TargetID])
			}
			for _, e := range g.InEdges(n.ID) {
				printEdge("←", e, g.Nodes[e.SourceID])
			}
		}
		if hops > 1 {
			fmt.Printf("%d nodes within %d hops\n", len(sub.NodeIDs), hops)
			for _, id := range sub.NodeIDs {
				n := g.Nodes[id]
				fmt.Printf("  %.2f %s (%s)\n", sub.NodeScores[id], n.Properties.QualifiedName, n.Properties.FilePath)
			}
		}
		return nil
	},
}

func printEdge(arrow string, e graph.Edge, other *graph.Node) {
	if other == nil {
		return
	}
	fmt.Printf("  %s %-10s %s (%s) [%s %.2f]\n", arrow, e.Type, other.Properties.QualifiedName, other.Properties.FilePath, e.Rule, e.Confidence)
}

func printCounts(m map[string]int) {
	for _, k := range sortedKeys(m) {
		fmt.Printf("  %-14s %6d\n", k, m[k])
	}
}

func stringKeys[K ~string](m map[K]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
