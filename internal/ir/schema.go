package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Span is a half-open byte range [StartByte, EndByte) inside a source file.
type Span struct {
	StartByte uint32 `json:"start_byte"`
	EndByte   uint32 `json:"end_byte"`
}

// Location describes where a declaration or reference originated in source code.
type Location struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// CodeUnit is a pre-segmented piece of source produced by the upstream chunker.
// It is read-only for the whole indexing run.
type CodeUnit struct {
	UnitID      string `json:"unit_id"`
	Repository  string `json:"repository"`
	FilePath    string `json:"file_path"`
	Language    string `json:"language"`
	ASTNodeType string `json:"ast_node_type"`
	Span        Span   `json:"source_span"`
	RawText     string `json:"raw_text"`
}

// ContentHash fingerprints everything extraction of the unit depends on.
func (u CodeUnit) ContentHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%d-%d|", u.Repository, u.Language, u.FilePath, u.UnitID, u.ASTNodeType, u.Span.StartByte, u.Span.EndByte)
	h.Write([]byte(u.RawText))
	return hex.EncodeToString(h.Sum(nil))
}

type DeclKind string

const (
	KindModule    DeclKind = "Module"
	KindClass     DeclKind = "Class"
	KindFunction  DeclKind = "Function"
	KindMethod    DeclKind = "Method"
	KindInterface DeclKind = "Interface"
	KindTypeAlias DeclKind = "TypeAlias"
	KindConfig    DeclKind = "Config"
)

// IsCallable reports whether a declaration of this kind can be the target of a call.
// Classes are callable through constructors.
func (k DeclKind) IsCallable() bool {
	switch k {
	case KindFunction, KindMethod, KindClass:
		return true
	}
	return false
}

// IsType reports whether the kind can appear in a type position.
func (k DeclKind) IsType() bool {
	switch k {
	case KindClass, KindInterface, KindTypeAlias:
		return true
	}
	return false
}

// Declaration is the graph-node-to-be for one named construct. One CodeUnit
// yields at most one Declaration.
type Declaration struct {
	ID         string   `json:"declaration_id"`
	UnitID     string   `json:"unit_id"`
	Repository string   `json:"repository"`
	Language   string   `json:"language"`
	Kind       DeclKind `json:"kind"`
	Name       string   `json:"name"`
	// QualifiedNames is ordered from most-specific to least-specific.
	QualifiedNames []string `json:"qualified_name_candidates"`
	Container      string   `json:"container,omitempty"`
	Module         string   `json:"module"`
	Exported       bool     `json:"exported,omitempty"`
	Doc            string   `json:"doc,omitempty"`
	ContentHash    string   `json:"content_hash"`
	Location       Location `json:"location"`
}

// FilePath is a shortcut for d.Location.FilePath.
func (d *Declaration) FilePath() string {
	return d.Location.FilePath
}

// MostSpecificName returns the first qualified name candidate, or Name.
func (d *Declaration) MostSpecificName() string {
	if len(d.QualifiedNames) > 0 {
		return d.QualifiedNames[0]
	}
	return d.Name
}

type RelationKind string

const (
	RelationCalls      RelationKind = "Calls"
	RelationImports    RelationKind = "Imports"
	RelationExports    RelationKind = "Exports"
	RelationExtends    RelationKind = "Extends"
	RelationImplements RelationKind = "Implements"
	RelationUsesType   RelationKind = "UsesType"
)

// AllRelationKinds lists relation kinds in a stable order.
var AllRelationKinds = []RelationKind{
	RelationCalls,
	RelationImports,
	RelationExports,
	RelationExtends,
	RelationImplements,
	RelationUsesType,
}

// RawReference is an unresolved mention of a name. It is consumed once by the
// resolver and never persisted.
type RawReference struct {
	SourceID string       `json:"source_declaration_id"`
	Name     string       `json:"referenced_name"`
	Kind     RelationKind `json:"relation_kind"`
	// Hint carries the import source path when one is known.
	Hint string `json:"resolution_hint,omitempty"`
	// Alias is the local binding name for imports and re-exports ("import { a as b }").
	Alias string `json:"alias,omitempty"`
	// Receiver is the object expression of a member call ("this", "self", "svc").
	Receiver string   `json:"receiver,omitempty"`
	TypeOnly bool     `json:"type_only,omitempty"`
	Location Location `json:"location"`
}

// SamePackageHint is the hint Go references carry when they name something
// in the package of the referencing file.
const SamePackageHint = "."

// HasHint reports whether the reference carries a resolution hint.
func (r RawReference) HasHint() bool {
	return r.Hint != ""
}

// ShortName returns the last dotted segment of the referenced name.
func (r RawReference) ShortName() string {
	return ShortName(r.Name)
}

// ShortName returns the last dotted segment of name.
func ShortName(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
		return name[i+1:]
	}
	return name
}

// Relation is a resolved reference.
type Relation struct {
	SourceID string       `json:"source_declaration_id"`
	TargetID string       `json:"target_declaration_id"`
	Kind     RelationKind `json:"relation_kind"`
	Rule     string       `json:"rule"`
	// Confidence is in [0,1] and reflects how strong the deciding rule is.
	Confidence float64 `json:"confidence"`
}
