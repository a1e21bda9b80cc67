package memory

import (
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// MemoryType tags what kind of knowledge a memory holds
type MemoryType string

const (
	MemoryTypeFact        MemoryType = "fact"
	MemoryTypeObservation MemoryType = "observation"
	MemoryTypePreference  MemoryType = "preference"
	MemoryTypeEvent       MemoryType = "event"
)

// Valid reports whether t is one of the known memory types
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryTypeFact, MemoryTypeObservation, MemoryTypePreference, MemoryTypeEvent:
		return true
	}
	return false
}

// RelationType tags the direction-dependent meaning of an association
type RelationType string

const (
	RelationRelatedTo   RelationType = "related_to"
	RelationDerivedFrom RelationType = "derived_from"
	RelationContradicts RelationType = "contradicts"
	RelationSupersedes  RelationType = "supersedes"
)

// Valid reports whether r is one of the known relation types
func (r RelationType) Valid() bool {
	switch r {
	case RelationRelatedTo, RelationDerivedFrom, RelationContradicts, RelationSupersedes:
		return true
	}
	return false
}

// Memory is a single stored memory record. It is owned by the record store;
// the retrieval core never mutates it apart from access bookkeeping.
type Memory struct {
	ID             string     `json:"id"`
	Content        string     `json:"content"`
	Type           MemoryType `json:"memory_type"`
	Importance     float64    `json:"importance"`
	Source         string     `json:"source,omitempty"`
	ChannelID      string     `json:"channel_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AccessCount    int64      `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// DefaultImportance is assigned when the caller does not supply one
const DefaultImportance = 0.5

// NewMemory creates a memory with a fresh id and default importance
func NewMemory(content string, memoryType MemoryType) *Memory {
	id, _ := gonanoid.New()
	return &Memory{
		ID:         id,
		Content:    content,
		Type:       memoryType,
		Importance: DefaultImportance,
		CreatedAt:  time.Now().UTC(),
	}
}

// Association is a directed weighted edge between two memories
type Association struct {
	ID        string       `json:"id"`
	SourceID  string       `json:"source_id"`
	TargetID  string       `json:"target_id"`
	Relation  RelationType `json:"relation"`
	Weight    float64      `json:"weight"`
	CreatedAt time.Time    `json:"created_at"`
}

// NewAssociation creates an association with a fresh id and default weight
func NewAssociation(sourceID, targetID string, relation RelationType) *Association {
	return &Association{
		ID:        uuid.New().String(),
		SourceID:  sourceID,
		TargetID:  targetID,
		Relation:  relation,
		Weight:    0.5,
		CreatedAt: time.Now().UTC(),
	}
}

// AssociationInput describes an association to create alongside a save
type AssociationInput struct {
	TargetID string       `json:"target_id"`
	Relation RelationType `json:"relation"`
	Weight   float64      `json:"weight,omitempty"`
}

// CreateMemoryInput carries everything needed to save a new memory.
// Embedding is optional; when nil one is generated from Content.
type CreateMemoryInput struct {
	Content      string             `json:"content"`
	Type         MemoryType         `json:"memory_type,omitempty"`
	Importance   *float64           `json:"importance,omitempty"`
	Source       string             `json:"source,omitempty"`
	ChannelID    string             `json:"channel_id,omitempty"`
	Embedding    []float32          `json:"-"`
	Associations []AssociationInput `json:"associations,omitempty"`
}

// SearchConfig holds per-query tunables for hybrid search
type SearchConfig struct {
	// MaxResultsPerSource bounds how many candidates each source (vector,
	// text) contributes before the merge.
	MaxResultsPerSource int `json:"max_results_per_source"`
	// VectorWeight and TextWeight blend the two normalized relevance
	// signals for ids present in both result sets.
	VectorWeight float64 `json:"vector_weight"`
	TextWeight   float64 `json:"text_weight"`
}

// DefaultSearchConfig returns the standard per-query tunables
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MaxResultsPerSource: 20,
		VectorWeight:        0.5,
		TextWeight:          0.5,
	}
}

// SearchResult is an intermediate (id, combined score) pair produced by the
// merge step. The set is unsorted; ordering happens during curation.
type SearchResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}
