package graph

import (
	"github.com/google/uuid"
)

var (
	nodeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("depgraph/node"))
	edgeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("depgraph/edge"))
)

// NodeID is derived from the repository and the code unit, so re-indexing an
// unchanged unit reproduces it.
func NodeID(repository, unitID string) string {
	return uuid.NewSHA1(nodeNamespace, []byte(repository+"\x00"+unitID)).String()
}

// EdgeID identifies the (source, target, relation type) triple.
func EdgeID(sourceID, targetID, relationType string) string {
	return uuid.NewSHA1(edgeNamespace, []byte(sourceID+"\x00"+targetID+"\x00"+relationType)).String()
}

// NodeProperties is the persisted payload of a node.
type NodeProperties struct {
	Name          string `json:"name"`
	FilePath      string `json:"file_path"`
	QualifiedName string `json:"qualified_name,omitempty"`
	Language      string `json:"language"`
	Module        string `json:"module,omitempty"`
	Container     string `json:"container,omitempty"`
	DeclarationID string `json:"declaration_id"`
	UnitID        string `json:"unit_id"`
	ContentHash   string `json:"content_hash"`
	StartLine     int    `json:"start_line"`
	EndLine       int    `json:"end_line"`
	Exported      bool   `json:"exported,omitempty"`
	Doc           string `json:"doc,omitempty"`
}

// Node is one declaration in the persisted graph.
type Node struct {
	ID         string         `json:"node_id"`
	Repository string         `json:"repository"`
	Type       string         `json:"node_type"`
	Properties NodeProperties `json:"properties"`
}

// Edge is one resolved relation between two nodes of the same repository.
type Edge struct {
	ID         string  `json:"edge_id"`
	Repository string  `json:"repository"`
	SourceID   string  `json:"source_node_id"`
	TargetID   string  `json:"target_node_id"`
	Type       string  `json:"relation_type"`
	Rule       string  `json:"rule,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

type edgeKey struct {
	source, target, kind string
}

func (e Edge) key() edgeKey {
	return edgeKey{source: e.SourceID, target: e.TargetID, kind: e.Type}
}
