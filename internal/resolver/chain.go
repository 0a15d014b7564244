package resolver

import (
	"depgraph/internal/ir"
)

// Rule names the priority step that decided a resolution.
type Rule string

const (
	RuleExact         Rule = "exact"
	RuleSameFile      Rule = "same_file"
	RuleSameContainer Rule = "same_container"
	RuleImport        Rule = "import"
	RuleUniqueName    Rule = "unique_name"
)

// AllRules lists the rules in priority order.
var AllRules = []Rule{RuleExact, RuleSameFile, RuleSameContainer, RuleImport, RuleUniqueName}

// query is what the rules know about one reference.
type query struct {
	ref    ir.RawReference
	source *ir.Declaration
	// modules are the in-repository module paths the hint names.
	modules []string
	// imported are the declarations found in those modules, barrels followed.
	imported map[string]bool
	// qualified is set when the receiver itself named a class ("Cls.method").
	qualified bool
}

// localHint reports whether the hint, if any, still allows the source's own
// file and container to be preferred.
func (q *query) localHint() bool {
	if !q.ref.HasHint() {
		return true
	}
	for _, m := range q.modules {
		if m == q.source.Module {
			return true
		}
	}
	return false
}

func (q *query) receiverKnown() bool {
	return q.ref.Receiver == "" || selfReceiver(q.ref.Receiver) || q.qualified
}

// Narrower is one step of the priority chain. It returns the candidates the
// step prefers; an empty result means the step has no opinion.
type Narrower interface {
	Rule() Rule
	Narrow(q *query, candidates []*ir.Declaration) []*ir.Declaration
}

// Chain applies narrowers in order. A step that leaves exactly one candidate
// decides the reference; a step that leaves several narrows the set for the
// next step.
type Chain struct {
	steps []Narrower
}

func NewChain(steps ...Narrower) *Chain {
	return &Chain{steps: steps}
}

// NewDefaultChain is exact, same file, same container, import, unique name.
func NewDefaultChain() *Chain {
	return NewChain(exactStep{}, sameFileStep{}, sameContainerStep{}, importStep{}, uniqueNameStep{})
}

// Run returns the chosen target and the deciding rule, or the remaining
// candidates when no step could break the tie.
func (c *Chain) Run(q *query, candidates []*ir.Declaration) (*ir.Declaration, Rule, []*ir.Declaration) {
	for _, step := range c.steps {
		narrowed := step.Narrow(q, candidates)
		switch {
		case len(narrowed) == 1:
			return narrowed[0], step.Rule(), nil
		case len(narrowed) > 1:
			candidates = narrowed
		}
	}
	return nil, "", candidates
}

func filter(candidates []*ir.Declaration, keep func(*ir.Declaration) bool) []*ir.Declaration {
	var out []*ir.Declaration
	for _, c := range candidates {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

type exactStep struct{}

func (exactStep) Rule() Rule { return RuleExact }

func (exactStep) Narrow(q *query, candidates []*ir.Declaration) []*ir.Declaration {
	return filter(candidates, func(c *ir.Declaration) bool {
		return c.MostSpecificName() == q.ref.Name
	})
}

type sameFileStep struct{}

func (sameFileStep) Rule() Rule { return RuleSameFile }

func (sameFileStep) Narrow(q *query, candidates []*ir.Declaration) []*ir.Declaration {
	if !q.localHint() {
		return nil
	}
	return filter(candidates, func(c *ir.Declaration) bool {
		return c.FilePath() == q.source.FilePath()
	})
}

type sameContainerStep struct{}

func (sameContainerStep) Rule() Rule { return RuleSameContainer }

func (sameContainerStep) Narrow(q *query, candidates []*ir.Declaration) []*ir.Declaration {
	container := q.source.Container
	if q.source.Kind == ir.KindClass {
		container = q.source.Name
	}
	if container == "" || !q.localHint() {
		return nil
	}
	if q.ref.Receiver != "" && !selfReceiver(q.ref.Receiver) {
		return nil
	}
	return filter(candidates, func(c *ir.Declaration) bool {
		return c.Container == container && c.Module == q.source.Module && c.Language == q.source.Language
	})
}

type importStep struct{}

func (importStep) Rule() Rule { return RuleImport }

func (importStep) Narrow(q *query, candidates []*ir.Declaration) []*ir.Declaration {
	if len(q.imported) == 0 {
		return nil
	}
	return filter(candidates, func(c *ir.Declaration) bool {
		return q.imported[c.ID]
	})
}

type uniqueNameStep struct{}

func (uniqueNameStep) Rule() Rule { return RuleUniqueName }

// Narrow only confirms a lone candidate. Hinted references never reach here
// with a guess: an internal hint was the import step's to decide.
func (uniqueNameStep) Narrow(q *query, candidates []*ir.Declaration) []*ir.Declaration {
	if len(candidates) != 1 || q.ref.HasHint() || !q.receiverKnown() {
		return nil
	}
	return candidates
}

func selfReceiver(recv string) bool {
	switch recv {
	case "self", "this", "cls":
		return true
	}
	return false
}
