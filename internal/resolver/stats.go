package resolver

import "depgraph/internal/ir"

// Reason explains why a reference stayed unresolved.
type Reason string

const (
	// ReasonNoCandidate: nothing in the repository carries the name.
	ReasonNoCandidate Reason = "no_candidate"
	// ReasonAmbiguous: several candidates survived every rule.
	ReasonAmbiguous Reason = "ambiguous"
	// ReasonExternal: the import hint names a module outside the repository.
	ReasonExternal Reason = "external"
	// ReasonKindMismatch: candidates exist but none can be the target of this relation kind.
	ReasonKindMismatch Reason = "kind_mismatch"
	// ReasonUnknownReceiver: a member call on an untyped receiver with no local match.
	ReasonUnknownReceiver Reason = "unknown_receiver"
	// ReasonSelfReference: the only declaration carrying the name is the referencing one.
	ReasonSelfReference Reason = "self_reference"
	// ReasonSourceMissing: the referencing declaration is not in the table.
	ReasonSourceMissing Reason = "source_missing"
)

// Result is the outcome of resolving one reference.
type Result struct {
	Ref      ir.RawReference
	Relation ir.Relation
	Rule     Rule
	Reason   Reason
	// Remaining is how many candidates were left when resolution gave up.
	Remaining int
}

// Resolved reports whether the reference found a target.
func (r Result) Resolved() bool {
	return r.Relation.TargetID != ""
}

// Stats is the resolver's measurement harness: how many references each
// rule decided and why the rest were dropped.
type Stats struct {
	Attempted  int
	Resolved   int
	Unresolved int
	ByRule     map[Rule]int
	ByReason   map[Reason]int
	// ResolvedByKind and UnresolvedByKind split the totals per relation kind.
	ResolvedByKind   map[ir.RelationKind]int
	UnresolvedByKind map[ir.RelationKind]int
}

func newStats() *Stats {
	return &Stats{
		ByRule:           make(map[Rule]int),
		ByReason:         make(map[Reason]int),
		ResolvedByKind:   make(map[ir.RelationKind]int),
		UnresolvedByKind: make(map[ir.RelationKind]int),
	}
}

func (s *Stats) record(res Result) {
	s.Attempted++
	if res.Resolved() {
		s.Resolved++
		s.ByRule[res.Rule]++
		s.ResolvedByKind[res.Ref.Kind]++
		return
	}
	s.Unresolved++
	reason := res.Reason
	if reason == "" {
		reason = ReasonNoCandidate
	}
	s.ByReason[reason]++
	s.UnresolvedByKind[res.Ref.Kind]++
}

// UnresolvedRatio is Unresolved/Attempted, or 0 for an empty run.
func (s *Stats) UnresolvedRatio() float64 {
	if s == nil || s.Attempted == 0 {
		return 0
	}
	return float64(s.Unresolved) / float64(s.Attempted)
}
