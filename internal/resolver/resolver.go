// Package resolver maps raw references to declarations with a fixed priority
// chain, preferring to drop a reference over guessing its target.
package resolver

import (
	"context"
	"log/slog"
	"runtime"
	"strings"

	"depgraph/internal/ir"
	"depgraph/internal/symtab"

	"golang.org/x/sync/errgroup"
)

const defaultBatchSize = 512

// Resolver resolves the references of one repository run against its symbol
// table. Nothing it holds is mutated after New, so Resolve is safe for
// concurrent use.
type Resolver struct {
	table     *symtab.SymbolTable
	refs      []ir.RawReference
	exports   *exportIndex
	chain     *Chain
	workers   int
	batchSize int
	logger    *slog.Logger
}

type Option func(*Resolver)

// WithWorkers bounds the number of concurrently resolved batches.
func WithWorkers(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithChain replaces the default priority chain.
func WithChain(c *Chain) Option {
	return func(r *Resolver) {
		if c != nil {
			r.chain = c
		}
	}
}

// New prepares a resolver for refs. The table must already hold every
// declaration of the run.
func New(table *symtab.SymbolTable, refs []ir.RawReference, opts ...Option) *Resolver {
	r := &Resolver{
		table:     table,
		refs:      refs,
		chain:     NewDefaultChain(),
		workers:   runtime.NumCPU(),
		batchSize: defaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.exports = buildExportIndex(table, refs)
	return r
}

// ResolveAll resolves every reference in batches. The relations come back in
// reference order regardless of scheduling.
func (r *Resolver) ResolveAll(ctx context.Context) ([]ir.Relation, *Stats, error) {
	batches := (len(r.refs) + r.batchSize - 1) / r.batchSize
	results := make([][]Result, batches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := 0; i < batches; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lo := i * r.batchSize
			hi := min(lo+r.batchSize, len(r.refs))
			out := make([]Result, 0, hi-lo)
			for _, ref := range r.refs[lo:hi] {
				out = append(out, r.Resolve(ref))
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	stats := newStats()
	var relations []ir.Relation
	for _, batch := range results {
		for _, res := range batch {
			stats.record(res)
			if res.Resolved() {
				relations = append(relations, res.Relation)
				continue
			}
			if res.Reason == ReasonAmbiguous {
				r.logger.Debug("reference left ambiguous",
					"name", res.Ref.Name,
					"kind", res.Ref.Kind,
					"file", res.Ref.Location.FilePath,
					"candidates", res.Remaining,
				)
			}
		}
	}
	return relations, stats, nil
}

// Resolve maps one reference to at most one target.
func (r *Resolver) Resolve(ref ir.RawReference) Result {
	res := Result{Ref: ref}
	src, ok := r.table.Declaration(ref.SourceID)
	if !ok {
		res.Reason = ReasonSourceMissing
		return res
	}
	q := &query{ref: ref, source: src}
	if ref.Kind == ir.RelationImports || (ref.Kind == ir.RelationExports && ref.Name == "*") {
		return r.resolveModule(q, res)
	}
	if ref.HasHint() {
		q.modules = r.modulesFor(ref, src)
		if len(q.modules) == 0 {
			res.Reason = ReasonExternal
			return res
		}
	}

	candidates, reason := r.candidates(q)
	if len(candidates) == 0 {
		res.Reason = reason
		return res
	}
	target, rule, rest := r.chain.Run(q, candidates)
	if target != nil {
		return r.resolved(res, src, target, rule)
	}
	res.Remaining = len(rest)
	switch {
	case ref.HasHint() && len(q.imported) == 0:
		res.Reason = ReasonNoCandidate
	case len(rest) > 1:
		res.Reason = ReasonAmbiguous
	case !q.receiverKnown():
		res.Reason = ReasonUnknownReceiver
	default:
		res.Reason = ReasonNoCandidate
	}
	return res
}

// modulesFor resolves the hint. A Python attribute call on a from-imported
// name hints "pkg.name"; when that is not a module, the package is tried.
func (r *Resolver) modulesFor(ref ir.RawReference, src *ir.Declaration) []string {
	mods := r.table.ModulePaths(ref.Hint, src)
	if len(mods) > 0 || src.Language != "python" || ref.Kind != ir.RelationCalls {
		return mods
	}
	i := strings.LastIndex(ref.Hint, ".")
	if i < 0 || i == len(ref.Hint)-1 {
		return nil
	}
	parent := ref.Hint[:i]
	if strings.Trim(parent, ".") == "" {
		parent = ref.Hint[:i+1]
	}
	return r.table.ModulePaths(parent, src)
}

// resolveModule links a module to the module an import or star re-export names.
func (r *Resolver) resolveModule(q *query, res Result) Result {
	if !q.ref.HasHint() {
		res.Reason = ReasonNoCandidate
		return res
	}
	var paths []string
	if q.source.Language == "python" && q.ref.Name != q.ref.Hint && q.ref.Name != "*" {
		// `from pkg import mod` imports the submodule when there is one.
		paths = r.table.ModulePaths(joinPython(q.ref.Hint, q.ref.Name), q.source)
	}
	if len(paths) == 0 {
		paths = r.table.ModulePaths(q.ref.Hint, q.source)
	}
	if len(paths) == 0 {
		res.Reason = ReasonExternal
		return res
	}
	for _, p := range paths {
		for _, id := range r.table.Modules(q.source.Language, p) {
			if id == q.source.ID {
				continue
			}
			target, _ := r.table.Declaration(id)
			return r.resolved(res, q.source, target, RuleImport)
		}
	}
	res.Reason = ReasonNoCandidate
	return res
}

func joinPython(hint, name string) string {
	if strings.HasSuffix(hint, ".") {
		return hint + name
	}
	return hint + "." + name
}

// candidates collects what the reference could name, filtered by what its
// relation kind can target.
func (r *Resolver) candidates(q *query) ([]*ir.Declaration, Reason) {
	ref := q.ref
	accept := acceptFor(ref)

	var ids []string
	if ref.Receiver != "" && !selfReceiver(ref.Receiver) {
		if ids = r.table.Lookup(ref.Receiver + "." + ref.Name); len(ids) > 0 {
			q.qualified = true
		}
	}
	if len(ids) == 0 {
		ids = r.table.Lookup(ref.Name)
	}

	var out []*ir.Declaration
	mismatched, untyped, self := false, false, false
	for _, id := range ids {
		if id == ref.SourceID {
			self = true
			continue
		}
		d, _ := r.table.Declaration(id)
		if !accept(d) {
			mismatched = true
			continue
		}
		if ref.Receiver != "" && !selfReceiver(ref.Receiver) && !q.qualified && d.Kind != ir.KindMethod {
			// a member call on an unknown object can only reach a method
			untyped = true
			continue
		}
		out = append(out, d)
	}

	if len(q.modules) > 0 {
		q.imported = make(map[string]bool)
		seen := make(map[string]bool, len(out))
		for _, d := range out {
			seen[d.ID] = true
		}
		for _, d := range r.imported(q, accept) {
			if d.ID == ref.SourceID {
				self = true
				continue
			}
			q.imported[d.ID] = true
			if !seen[d.ID] {
				seen[d.ID] = true
				out = append(out, d)
			}
		}
	}

	switch {
	case len(out) > 0:
		return out, ""
	case self:
		return nil, ReasonSelfReference
	case untyped:
		return nil, ReasonUnknownReceiver
	case mismatched:
		return nil, ReasonKindMismatch
	}
	return nil, ReasonNoCandidate
}

// imported finds the declarations the hinted modules make visible under the
// reference's name. "Cls.method" finds Cls first, then its method.
func (r *Resolver) imported(q *query, accept func(*ir.Declaration) bool) []*ir.Declaration {
	lang := q.source.Language
	name := q.ref.Name
	var out []*ir.Declaration
	i := strings.LastIndex(name, ".")
	for _, m := range q.modules {
		if i <= 0 {
			out = append(out, r.exports.find(lang, m, name, accept)...)
			continue
		}
		owner, member := ir.ShortName(name[:i]), name[i+1:]
		isType := func(d *ir.Declaration) bool { return d.Kind.IsType() }
		for _, cls := range r.exports.find(lang, m, owner, isType) {
			for _, id := range r.table.InModule(cls.Language, cls.Module) {
				d, _ := r.table.Declaration(id)
				if d.Name == member && d.Container == cls.Name && accept(d) {
					out = append(out, d)
				}
			}
		}
	}
	return dedupe(out)
}

func acceptFor(ref ir.RawReference) func(*ir.Declaration) bool {
	switch ref.Kind {
	case ir.RelationCalls:
		return func(d *ir.Declaration) bool { return d.Kind.IsCallable() }
	case ir.RelationExtends, ir.RelationImplements, ir.RelationUsesType:
		return func(d *ir.Declaration) bool { return d.Kind.IsType() }
	default:
		return func(d *ir.Declaration) bool { return d.Kind != ir.KindModule }
	}
}

func (r *Resolver) resolved(res Result, src, target *ir.Declaration, rule Rule) Result {
	res.Rule = rule
	res.Relation = ir.Relation{
		SourceID:   src.ID,
		TargetID:   target.ID,
		Kind:       res.Ref.Kind,
		Rule:       string(rule),
		Confidence: Confidence(res.Ref.Kind, rule, res.Ref.Location),
	}
	return res
}
