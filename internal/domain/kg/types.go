package kg

import (
	"time"
)

// Mention is a single textual occurrence of an entity produced by the
// upstream extraction layer. Immutable once created.
type Mention struct {
	Text       string  `json:"text"`
	EntityType string  `json:"entity_type"`
	StartPos   int     `json:"start_pos"`
	EndPos     int     `json:"end_pos"`
	SourceRef  string  `json:"source_ref"`
	Confidence float64 `json:"confidence"`
	// EntityID is an optional pre-clustering key supplied by the extractor.
	EntityID string `json:"entity_id,omitempty"`
}

// Entity is the canonical, deduplicated representation of one real-world
// thing across multiple mentions. Mentions reference entities by id only;
// entities never point back at mentions.
type Entity struct {
	EntityID      string    `json:"entity_id"`
	CanonicalName string    `json:"canonical_name"`
	EntityType    string    `json:"entity_type"`
	SurfaceForms  []string  `json:"surface_forms"`
	MentionCount  int       `json:"mention_count"`
	Confidence    float64   `json:"confidence"`
	CreatedAt     time.Time `json:"created_at"`
}

func (e *Entity) HasSurfaceForm(text string) bool {
	for _, sf := range e.SurfaceForms {
		if sf == text {
			return true
		}
	}
	return false
}

// EntityRef identifies one endpoint of a relationship candidate.
type EntityRef struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name,omitempty"`
}

// RelationshipCandidate is the relationship-extraction output consumed by
// the edge builder. Never persisted directly.
type RelationshipCandidate struct {
	RelationshipID   string    `json:"relationship_id"`
	RelationshipType string    `json:"relationship_type"`
	Subject          EntityRef `json:"subject"`
	Object           EntityRef `json:"object"`
	Confidence       float64   `json:"confidence"`
	ExtractionMethod string    `json:"extraction_method"`
	EvidenceText     string    `json:"evidence_text"`
	EntityDistance   int       `json:"entity_distance"`
	SourceRef        string    `json:"source_ref,omitempty"`
}

// Edge is a persisted, weighted, typed directed relationship between two
// entities. Deduplicated by (SubjectID, ObjectID, RelationshipType).
type Edge struct {
	RelationshipID   string    `json:"relationship_id"`
	RelationshipType string    `json:"relationship_type"`
	SubjectID        string    `json:"subject_id"`
	ObjectID         string    `json:"object_id"`
	Weight           float64   `json:"weight"`
	Confidence       float64   `json:"confidence"`
	CreatedAt        time.Time `json:"created_at"`
}

// DedupeKey returns the identity under which competing candidates collide.
func (e *Edge) DedupeKey() string {
	return e.SubjectID + "|" + e.ObjectID + "|" + e.RelationshipType
}

// Path is one bounded-depth traversal between two anchor entities.
type Path struct {
	EntityIDs     []string  `json:"entity_ids"`
	EntityNames   []string  `json:"entity_names"`
	RelationTypes []string  `json:"relation_types"`
	EdgeWeights   []float64 `json:"edge_weights"`
}

// Hops is the number of edges on the path.
func (p *Path) Hops() int { return len(p.RelationTypes) }

// Neighbor is a directly or transitively connected entity found while
// expanding from a single anchor.
type Neighbor struct {
	Entity          *Entity `json:"entity"`
	Distance        int     `json:"distance"`
	ConnectionCount int     `json:"connection_count"`
	Centrality      float64 `json:"centrality"`
}

// ResultKind distinguishes path results from related-entity results.
type ResultKind string

const (
	ResultPath          ResultKind = "path"
	ResultRelatedEntity ResultKind = "related_entity"
)

// RankedResult is one scored answer to a multi-hop query.
type RankedResult struct {
	Rank        int        `json:"rank"`
	Kind        ResultKind `json:"kind"`
	Score       float64    `json:"score"`
	Confidence  float64    `json:"confidence"`
	Explanation string     `json:"explanation"`

	Path    *Path     `json:"path,omitempty"`
	Related *Neighbor `json:"related,omitempty"`
}
