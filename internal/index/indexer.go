// Package index runs one repository through extraction, symbol table
// construction, resolution and assembly, then commits the graph.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"depgraph/internal/extractor"
	"depgraph/internal/graph"
	"depgraph/internal/ir"
	"depgraph/internal/resolver"
	"depgraph/internal/storage"
	"depgraph/internal/symtab"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// Phase is a step of an indexing run. Each phase starts only after the
// previous one finished for the whole repository.
type Phase string

const (
	PhaseCollecting  Phase = "collecting_declarations"
	PhaseSymbolTable Phase = "building_symbol_table"
	PhaseResolving   Phase = "resolving_references"
	PhaseAssembling  Phase = "assembling_graph"
	PhaseComputed    Phase = "computed"
	PhaseCommitted   Phase = "committed"
)

var ErrRepositoryMismatch = errors.New("code unit belongs to another repository")

const defaultCacheSize = 4096

// Indexer orchestrates codebase indexing and graph management. One Indexer
// may run several repositories, concurrently or not; runs share only the
// extraction cache.
type Indexer struct {
	extractor *extractor.Extractor
	store     storage.GraphStore
	cache     *lru.Cache[string, *extractor.FileResult]
	metrics   *Metrics
	workers   int
	logger    *slog.Logger
	onPhase   func(repository string, p Phase)
}

type Option func(*Indexer) error

// WithStore sets where Run commits graphs. Without a store Run only builds.
func WithStore(s storage.GraphStore) Option {
	return func(i *Indexer) error {
		i.store = s
		return nil
	}
}

func WithWorkers(n int) Option {
	return func(i *Indexer) error {
		if n > 0 {
			i.workers = n
		}
		return nil
	}
}

// WithCacheSize bounds the number of files whose extraction is reused
// between runs. Zero disables the cache.
func WithCacheSize(n int) Option {
	return func(i *Indexer) error {
		if n <= 0 {
			i.cache = nil
			return nil
		}
		c, err := lru.New[string, *extractor.FileResult](n)
		if err != nil {
			return err
		}
		i.cache = c
		return nil
	}
}

func WithMetrics(m *Metrics) Option {
	return func(i *Indexer) error {
		if m != nil {
			i.metrics = m
		}
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(i *Indexer) error {
		if logger != nil {
			i.logger = logger
		}
		return nil
	}
}

// WithPhaseHook is called when a run enters a phase.
func WithPhaseHook(fn func(repository string, p Phase)) Option {
	return func(i *Indexer) error {
		i.onPhase = fn
		return nil
	}
}

// NewIndexer creates a new indexer.
func NewIndexer(ext *extractor.Extractor, opts ...Option) (*Indexer, error) {
	if ext == nil {
		ext = extractor.NewExtractor(nil)
	}
	i := &Indexer{
		extractor: ext,
		workers:   runtime.NumCPU(),
		logger:    slog.Default(),
	}
	if err := WithCacheSize(defaultCacheSize)(i); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	if i.metrics == nil {
		i.metrics = NewMetrics(nil)
	}
	return i, nil
}

// FileFailure is one unit that could not be extracted.
type FileFailure struct {
	FilePath string `json:"file_path"`
	UnitID   string `json:"unit_id"`
	Kind     string `json:"error_kind"`
	Error    string `json:"error"`
}

// RunSummary reports one indexing run. Failures carries per-unit detail and
// is not logged.
type RunSummary struct {
	Repository           string          `json:"repository"`
	RunID                string          `json:"run_id,omitempty"`
	Phase                Phase           `json:"phase"`
	FilesProcessed       int             `json:"files_processed"`
	FilesFailed          int             `json:"files_failed"`
	DeclarationsCreated  int             `json:"declarations_created"`
	ReferencesResolved   int             `json:"references_resolved"`
	ReferencesUnresolved int             `json:"references_unresolved"`
	IsolatedNodeRatio    float64         `json:"isolated_node_ratio"`
	Health               graph.Health    `json:"health"`
	Resolution           *resolver.Stats `json:"resolution,omitempty"`
	CacheHits            int             `json:"cache_hits"`
	Duration             time.Duration   `json:"duration"`
	Failures             []FileFailure   `json:"failures,omitempty"`
}

// Run builds the repository graph from units and commits it to the store.
// On any error nothing of this run is visible in the store.
func (i *Indexer) Run(ctx context.Context, repository string, units []ir.CodeUnit) (*RunSummary, error) {
	start := time.Now()
	g, summary, err := i.build(ctx, repository, units)
	if err == nil && i.store != nil {
		summary.RunID, err = i.store.CommitGraph(ctx, g)
		if err == nil {
			i.enter(summary, PhaseCommitted)
		}
	}
	summary.Duration = time.Since(start)
	i.finish(summary, err)
	return summary, err
}

// Build runs every phase up to and including assembly without writing.
func (i *Indexer) Build(ctx context.Context, repository string, units []ir.CodeUnit) (*graph.Graph, *RunSummary, error) {
	start := time.Now()
	g, summary, err := i.build(ctx, repository, units)
	summary.Duration = time.Since(start)
	i.finish(summary, err)
	return g, summary, err
}

func (i *Indexer) build(ctx context.Context, repository string, units []ir.CodeUnit) (*graph.Graph, *RunSummary, error) {
	summary := &RunSummary{Repository: repository}

	i.enter(summary, PhaseCollecting)
	files, err := groupByFile(repository, units)
	if err != nil {
		return nil, summary, err
	}
	results, err := i.extractStage(ctx, files, summary)
	if err != nil {
		return nil, summary, err
	}
	var decls []*ir.Declaration
	var refs []ir.RawReference
	for _, res := range results {
		decls = append(decls, res.Declarations...)
		refs = append(refs, res.References...)
	}
	summary.DeclarationsCreated = len(decls)

	i.enter(summary, PhaseSymbolTable)
	table := symtab.Build(decls)

	i.enter(summary, PhaseResolving)
	relations, stats, err := resolver.New(table, refs,
		resolver.WithWorkers(i.workers),
		resolver.WithLogger(i.logger),
	).ResolveAll(ctx)
	if err != nil {
		return nil, summary, fmt.Errorf("resolve references: %w", err)
	}
	summary.Resolution = stats
	summary.ReferencesResolved = stats.Resolved
	summary.ReferencesUnresolved = stats.Unresolved

	i.enter(summary, PhaseAssembling)
	g, err := graph.NewAssembler(repository, graph.WithLogger(i.logger)).Assemble(decls, relations)
	if err != nil {
		return nil, summary, err
	}
	summary.Health = g.Health()
	summary.IsolatedNodeRatio = summary.Health.IsolatedRatio()
	i.enter(summary, PhaseComputed)
	return g, summary, nil
}

type fileUnits struct {
	path  string
	units []ir.CodeUnit
}

func groupByFile(repository string, units []ir.CodeUnit) ([]fileUnits, error) {
	byPath := make(map[string][]ir.CodeUnit)
	for _, u := range units {
		if u.Repository != repository {
			return nil, fmt.Errorf("%w: %s (%s)", ErrRepositoryMismatch, u.UnitID, u.Repository)
		}
		byPath[u.FilePath] = append(byPath[u.FilePath], u)
	}
	out := make([]fileUnits, 0, len(byPath))
	for path, us := range byPath {
		out = append(out, fileUnits{path: path, units: us})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].path < out[b].path })
	return out, nil
}

// extractStage extracts files in parallel. Results keep file order so the
// run does not depend on scheduling.
func (i *Indexer) extractStage(ctx context.Context, files []fileUnits, summary *RunSummary) ([]*extractor.FileResult, error) {
	results := make([]*extractor.FileResult, len(files))
	failures := make([][]*extractor.ExtractionError, len(files))
	hits := make([]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.workers)
	for n, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			key := cacheKey(f.units)
			if i.cache != nil {
				if cached, ok := i.cache.Get(key); ok {
					results[n], hits[n] = cached, true
					return nil
				}
			}
			res, errs := i.extractor.ExtractFile(gctx, f.units)
			if err := gctx.Err(); err != nil {
				return err
			}
			results[n], failures[n] = res, errs
			if i.cache != nil && len(errs) == 0 {
				i.cache.Add(key, res)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for n, errs := range failures {
		summary.FilesProcessed++
		if hits[n] {
			summary.CacheHits++
		}
		if len(errs) == 0 {
			continue
		}
		summary.FilesFailed++
		for _, xerr := range errs {
			i.logger.Warn("unit extraction failed",
				"repository", summary.Repository,
				"file", xerr.FilePath,
				"unit_id", xerr.UnitID,
				"error_kind", xerr.Kind,
			)
			summary.Failures = append(summary.Failures, FileFailure{
				FilePath: xerr.FilePath,
				UnitID:   xerr.UnitID,
				Kind:     string(xerr.Kind),
				Error:    xerr.Error(),
			})
		}
	}
	return results, nil
}

// cacheKey fingerprints every unit of a file. Extraction of a file depends
// on nothing else.
func cacheKey(units []ir.CodeUnit) string {
	hashes := make([]string, 0, len(units))
	for _, u := range units {
		hashes = append(hashes, u.ContentHash())
	}
	sort.Strings(hashes)
	h := sha256.New()
	for _, s := range hashes {
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (i *Indexer) enter(summary *RunSummary, p Phase) {
	summary.Phase = p
	i.logger.Debug("indexing phase", "repository", summary.Repository, "phase", p)
	if i.onPhase != nil {
		i.onPhase(summary.Repository, p)
	}
}

func (i *Indexer) finish(summary *RunSummary, err error) {
	m := i.metrics
	m.RunDuration.Observe(summary.Duration.Seconds())
	m.FilesFailed.Add(float64(summary.FilesFailed))
	hits := float64(summary.CacheHits)
	m.CacheLookups.WithLabelValues("hit").Add(hits)
	m.CacheLookups.WithLabelValues("miss").Add(float64(summary.FilesProcessed) - hits)
	if st := summary.Resolution; st != nil {
		for rule, n := range st.ByRule {
			m.ReferencesResolved.WithLabelValues(string(rule)).Add(float64(n))
		}
		for reason, n := range st.ByReason {
			m.ReferencesDropped.WithLabelValues(string(reason)).Add(float64(n))
		}
	}

	if err != nil {
		m.Runs.WithLabelValues(outcome(err)).Inc()
		i.logger.Error("indexing run failed",
			"repository", summary.Repository,
			"phase", summary.Phase,
			"files_processed", summary.FilesProcessed,
			"files_failed", summary.FilesFailed,
			"error", err,
		)
		return
	}
	m.Runs.WithLabelValues("success").Inc()
	m.IsolatedRatio.WithLabelValues(summary.Repository).Set(summary.IsolatedNodeRatio)
	i.logger.Info("indexing run finished",
		"repository", summary.Repository,
		"run_id", summary.RunID,
		"files_processed", summary.FilesProcessed,
		"files_failed", summary.FilesFailed,
		"declarations_created", summary.DeclarationsCreated,
		"references_resolved", summary.ReferencesResolved,
		"references_unresolved", summary.ReferencesUnresolved,
		"isolated_node_ratio", summary.IsolatedNodeRatio,
		"duration", summary.Duration,
	)
}

func outcome(err error) string {
	var swe *storage.StoreWriteError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, graph.ErrInvariantViolation):
		return "invariant_violation"
	case errors.As(err, &swe):
		return "store_failed"
	}
	return "failed"
}
