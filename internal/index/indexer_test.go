package index

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"depgraph/internal/extractor"
	"depgraph/internal/graph"
	"depgraph/internal/ir"
	"depgraph/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chainPy = `def f1():
    return f2()


def f2():
    return f3()


def f3():
    return f4()


def f4():
    return f5()


def f5():
    return 1
`

func chunk(t *testing.T, repo string, files map[string]string) []ir.CodeUnit {
	t.Helper()
	reg := extractor.DefaultRegistry()
	var units []ir.CodeUnit
	for path, src := range files {
		us, err := reg.Chunk(context.Background(), repo, path, []byte(src))
		require.NoError(t, err)
		units = append(units, us...)
	}
	return units
}

func newTestIndexer(t *testing.T, opts ...Option) *Indexer {
	t.Helper()
	opts = append([]Option{WithWorkers(2)}, opts...)
	ix, err := NewIndexer(nil, opts...)
	require.NoError(t, err)
	return ix
}

func TestBuild_CallChainHasNoIsolatedFunctions(t *testing.T) {
	units := chunk(t, "repo", map[string]string{"app/chain.py": chainPy})
	g, summary, err := newTestIndexer(t).Build(context.Background(), "repo", units)
	require.NoError(t, err)

	assert.Equal(t, PhaseComputed, summary.Phase)
	assert.Equal(t, 1, summary.FilesProcessed)
	assert.Equal(t, 0, summary.FilesFailed)
	assert.Equal(t, 6, summary.DeclarationsCreated, "module plus five functions")
	assert.Equal(t, 5, summary.Health.NodesByType["Function"])
	assert.Equal(t, 0, summary.Health.IsolatedByType["Function"])
	assert.InDelta(t, 0.0, summary.Health.IsolatedRatioByType()["Function"], 1e-9)
	assert.Equal(t, 4, summary.Health.EdgeTypeCounts["Calls"])
	assert.Equal(t, 4, summary.ReferencesResolved)

	f1 := g.FindByName("f1")
	require.Len(t, f1, 1)
	deps := g.GetDependencies(f1[0].ID)
	require.Len(t, deps, 1)
	assert.Equal(t, "f2", deps[0].Properties.Name)
}

func TestBuild_ImportedHelper(t *testing.T) {
	units := chunk(t, "repo", map[string]string{
		"src/a.ts": "export function helper() {}\n",
		"src/b.ts": "import { helper } from './a';\nfunction main() { helper(); }\n",
	})
	g, summary, err := newTestIndexer(t).Build(context.Background(), "repo", units)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Health.EdgeTypeCounts["Calls"])
	assert.Equal(t, 1, summary.Health.EdgeTypeCounts["Imports"])

	main := g.FindByName("main")
	require.Len(t, main, 1)
	deps := g.GetDependencies(main[0].ID)
	require.Len(t, deps, 1)
	assert.Equal(t, "helper", deps[0].Properties.Name)
	assert.Equal(t, "src/a.ts", deps[0].Properties.FilePath)
}

func TestBuild_IsIdempotent(t *testing.T) {
	files := map[string]string{
		"app/chain.py": chainPy,
		"src/a.ts":     "export function helper() {}\n",
		"src/b.ts":     "import { helper } from './a';\nfunction main() { helper(); }\n",
	}
	encode := func(ix *Indexer) ([]byte, *RunSummary) {
		g, summary, err := ix.Build(context.Background(), "repo", chunk(t, "repo", files))
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, WriteJSON(&buf, g))
		return buf.Bytes(), summary
	}

	cached := newTestIndexer(t)
	first, s1 := encode(cached)
	second, s2 := encode(cached)
	uncached, _ := encode(newTestIndexer(t, WithCacheSize(0)))

	assert.Equal(t, 0, s1.CacheHits)
	assert.Equal(t, 3, s2.CacheHits)
	assert.Equal(t, string(first), string(second))
	assert.Equal(t, string(first), string(uncached))
}

func TestBuild_ExtractionFailureDoesNotAbort(t *testing.T) {
	units := chunk(t, "repo", map[string]string{"app/chain.py": chainPy})
	units = append(units, ir.CodeUnit{
		UnitID:      "legacy/report.cob:program:0-10",
		Repository:  "repo",
		FilePath:    "legacy/report.cob",
		Language:    "cobol",
		ASTNodeType: "program",
		Span:        ir.Span{StartByte: 0, EndByte: 10},
		RawText:     "IDENTIFIC.",
	})

	_, summary, err := newTestIndexer(t).Build(context.Background(), "repo", units)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.FilesProcessed)
	assert.Equal(t, 1, summary.FilesFailed)
	assert.Equal(t, 6, summary.DeclarationsCreated)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "legacy/report.cob", summary.Failures[0].FilePath)
	assert.Equal(t, string(extractor.KindUnsupportedLanguage), summary.Failures[0].Kind)
}

func TestBuild_PhasesRunInOrder(t *testing.T) {
	var phases []Phase
	ix := newTestIndexer(t, WithPhaseHook(func(repo string, p Phase) {
		assert.Equal(t, "repo", repo)
		phases = append(phases, p)
	}))
	_, _, err := ix.Build(context.Background(), "repo", chunk(t, "repo", map[string]string{"app/chain.py": chainPy}))
	require.NoError(t, err)
	assert.Equal(t, []Phase{PhaseCollecting, PhaseSymbolTable, PhaseResolving, PhaseAssembling, PhaseComputed}, phases)
}

func TestBuild_RejectsForeignUnits(t *testing.T) {
	units := chunk(t, "other", map[string]string{"app/chain.py": chainPy})
	_, _, err := newTestIndexer(t).Build(context.Background(), "repo", units)
	require.ErrorIs(t, err, ErrRepositoryMismatch)
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, summary, err := newTestIndexer(t).Build(ctx, "repo", chunk(t, "repo", map[string]string{"app/chain.py": chainPy}))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseCollecting, summary.Phase)
}

func TestRun_CommitsToStore(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	defer store.Close()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	ix := newTestIndexer(t, WithStore(store), WithMetrics(metrics))

	summary, err := ix.Run(context.Background(), "repo", chunk(t, "repo", map[string]string{"app/chain.py": chainPy}))
	require.NoError(t, err)
	assert.Equal(t, PhaseCommitted, summary.Phase)
	assert.NotEmpty(t, summary.RunID)

	stats, err := store.GetGraphStats(context.Background(), "repo")
	require.NoError(t, err)
	assert.Equal(t, summary.Health, stats)

	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues("success")), 1e-9)
	assert.InDelta(t, 4.0, testutil.ToFloat64(metrics.ReferencesResolved.WithLabelValues("same_file")), 1e-9)
	assert.InDelta(t, summary.IsolatedNodeRatio, testutil.ToFloat64(metrics.IsolatedRatio.WithLabelValues("repo")), 1e-9)
}

type failingStore struct {
	storage.GraphStore
}

func (failingStore) CommitGraph(context.Context, *graph.Graph) (string, error) {
	return "", &storage.StoreWriteError{Repository: "repo", Attempts: 3, Err: errors.New("disk full")}
}

func TestRun_StoreFailureFailsTheRun(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	ix := newTestIndexer(t, WithStore(failingStore{}), WithMetrics(metrics))

	summary, err := ix.Run(context.Background(), "repo", chunk(t, "repo", map[string]string{"app/chain.py": chainPy}))
	var swe *storage.StoreWriteError
	require.ErrorAs(t, err, &swe)
	assert.Empty(t, summary.RunID)
	assert.Equal(t, PhaseComputed, summary.Phase)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues("store_failed")), 1e-9)
}
