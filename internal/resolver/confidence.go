package resolver

import "depgraph/internal/ir"

// Confidence scores a resolved relation from its kind, the rule that decided
// it and whether the reference carried a usable source location.
func Confidence(kind ir.RelationKind, rule Rule, loc ir.Location) float64 {
	base := baseConfidence(kind)

	switch rule {
	case RuleExact:
		base += 0.2
	case RuleImport:
		base += 0.15
	case RuleSameContainer:
		base += 0.12
	case RuleSameFile:
		base += 0.08
	case RuleUniqueName:
		base -= 0.1
	default:
		base -= 0.03
	}

	if loc.FilePath == "" {
		base -= 0.05
	}
	if loc.StartLine <= 0 || loc.EndLine < loc.StartLine {
		base -= 0.05
	}

	return clamp(base, 0.1, 0.99)
}

func baseConfidence(kind ir.RelationKind) float64 {
	switch kind {
	case ir.RelationImports:
		return 0.8
	case ir.RelationExports:
		return 0.78
	case ir.RelationExtends, ir.RelationImplements:
		return 0.74
	case ir.RelationCalls:
		return 0.7
	case ir.RelationUsesType:
		return 0.65
	default:
		return 0.55
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
