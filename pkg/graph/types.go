package graph

import "encoding/json"

// System property keys used by the graph API. Twin and relationship
// documents are schema-validated by the backend, so the client keeps them as
// open maps instead of fixed structs.
const (
	TwinIDKey           = "$dtId"
	MetadataKey         = "$metadata"
	ModelKey            = "$model"
	RelationshipIDKey   = "$relationshipId"
	SourceIDKey         = "$sourceId"
	TargetIDKey         = "$targetId"
	RelationshipNameKey = "$relationshipName"
)

// Twin is a digital twin document. Properties beyond the $-prefixed system
// keys must conform to the twin's DTDL model; the backend enforces that.
type Twin map[string]any

// ID returns the twin's $dtId, or "" if absent.
func (t Twin) ID() string {
	id, _ := t[TwinIDKey].(string)
	return id
}

// Model returns the twin's model ID from $metadata.$model, or "" if absent.
func (t Twin) Model() string {
	metadata, _ := t[MetadataKey].(map[string]any)
	model, _ := metadata[ModelKey].(string)
	return model
}

// Relationship is a relationship document between two twins.
type Relationship map[string]any

// ID returns the relationship's $relationshipId.
func (r Relationship) ID() string {
	id, _ := r[RelationshipIDKey].(string)
	return id
}

// SourceID returns the relationship's $sourceId.
func (r Relationship) SourceID() string {
	id, _ := r[SourceIDKey].(string)
	return id
}

// TargetID returns the relationship's $targetId.
func (r Relationship) TargetID() string {
	id, _ := r[TargetIDKey].(string)
	return id
}

// Name returns the relationship's $relationshipName.
func (r Relationship) Name() string {
	name, _ := r[RelationshipNameKey].(string)
	return name
}

// IncomingRelationship is the lightweight shape returned by the incoming
// relationships listing. It carries the source side only; callers fetch the
// source twin separately if they need its properties.
type IncomingRelationship struct {
	RelationshipID   string `json:"$relationshipId"`
	SourceID         string `json:"$sourceId"`
	RelationshipName string `json:"$relationshipName"`
}

// ModelEntry describes a DTDL model known to the backend.
type ModelEntry struct {
	ID             string            `json:"id"`
	DisplayName    map[string]string `json:"displayName,omitempty"`
	Description    map[string]string `json:"description,omitempty"`
	Decommissioned bool              `json:"decommissioned,omitempty"`
	UploadTime     string            `json:"uploadTime,omitempty"`

	// Model is the full DTDL definition, present only when requested.
	Model json.RawMessage `json:"model,omitempty"`
}

// PatchOperation is a JSON Patch operation (RFC 6902) applied to a twin or
// relationship.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// DistanceMetric selects how vector similarity is computed by the backend.
type DistanceMetric string

// Supported distance metrics. Cosine distance falls in [0, 2]; Euclidean
// distance is unbounded non-negative. Lower is more similar for both.
const (
	MetricCosine    DistanceMetric = "cosine"
	MetricEuclidean DistanceMetric = "euclidean"
)

// SearchRequest is the combined predicate submitted to the backend's search
// endpoint: an optional model-equality filter AND either a vector distance
// computation or a keyword match over the twin's text properties.
type SearchRequest struct {
	// Text is the caller's free-text query. On the keyword path the backend
	// matches it directly; on the vector path it is informational only.
	Text string `json:"text,omitempty"`

	// Vector is the query embedding. When set, VectorProperty names the
	// stored embedding property it is compared against.
	Vector         []float32      `json:"vector,omitempty"`
	VectorProperty string         `json:"vectorProperty,omitempty"`
	Metric         DistanceMetric `json:"metric,omitempty"`

	// ModelID restricts matches to twins of the given model.
	ModelID string `json:"modelId,omitempty"`

	Limit int `json:"limit,omitempty"`
}

// SearchMatch is one backend search hit. Distance is meaningful on the
// vector path; on the keyword path ordering is backend-defined relevance and
// Distance is zero.
type SearchMatch struct {
	Twin     Twin    `json:"twin"`
	Distance float64 `json:"distance"`
}

// ModelSearchResult is one hit from the model search endpoint.
type ModelSearchResult struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
}
