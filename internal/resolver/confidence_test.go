package resolver

import (
	"testing"

	"depgraph/internal/ir"
)

func TestConfidence_Bounds(t *testing.T) {
	loc := ir.Location{FilePath: "a.ts", StartLine: 1, EndLine: 1}
	for _, kind := range ir.AllRelationKinds {
		for _, rule := range AllRules {
			c := Confidence(kind, rule, loc)
			if c <= 0 || c >= 1 {
				t.Fatalf("expected confidence in (0,1) for %s/%s, got %f", kind, rule, c)
			}
		}
	}
}

func TestConfidence_ExactHigherThanUniqueName(t *testing.T) {
	loc := ir.Location{FilePath: "a.py", StartLine: 10, EndLine: 12}
	exact := Confidence(ir.RelationCalls, RuleExact, loc)
	unique := Confidence(ir.RelationCalls, RuleUniqueName, loc)
	if exact <= unique {
		t.Fatalf("expected exact confidence > unique_name (%f <= %f)", exact, unique)
	}
}

func TestConfidence_LocationPenalty(t *testing.T) {
	withLoc := Confidence(ir.RelationCalls, RuleSameFile, ir.Location{FilePath: "a.go", StartLine: 3, EndLine: 3})
	noLoc := Confidence(ir.RelationCalls, RuleSameFile, ir.Location{})
	if noLoc >= withLoc {
		t.Fatalf("expected a missing location to reduce confidence (%f >= %f)", noLoc, withLoc)
	}
}
