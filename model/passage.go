package model

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// PassageRecord is a text passage with its embedding in a vector collection.
// ID is assigned by the store on first insert. Hash identifies the text.
type PassageRecord struct {
	ID       uint64    `json:"id"`
	Vector   []float32 `json:"vector,omitempty"`
	Text     string    `json:"text"`
	Hash     string    `json:"hash"`
	SourceID string    `json:"source_id,omitempty"`
	Metadata Metadata  `json:"metadata,omitempty"`
}

// NewPassageRecord creates a record and fills in its hash.
func NewPassageRecord(text string, vector []float32, sourceID string) *PassageRecord {
	return &PassageRecord{
		Vector:   vector,
		Text:     text,
		Hash:     HashText(text),
		SourceID: sourceID,
		Metadata: Metadata{},
	}
}

// HashText returns the 64 bit xxhash of text as 16 hex characters.
// Two texts with the same hash are treated as the same passage.
func HashText(text string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(text))
}

// PassageHit is a passage returned by a vector search.
type PassageHit struct {
	ID       uint64   `json:"id"`
	Text     string   `json:"text"`
	Hash     string   `json:"hash"`
	SourceID string   `json:"source_id,omitempty"`
	Metadata Metadata `json:"metadata,omitempty"`
	Score    float64  `json:"score"`
}

// CollectionInfo describes one vector collection.
type CollectionInfo struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Count     int64  `json:"count"`
}
