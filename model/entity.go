package model

// Entity is a named node in a graph namespace.
// Name is case sensitive and unique within the namespace.
type Entity struct {
	Name      string    `json:"name"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// EntityHit is an entity returned by a vector search.
type EntityHit struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}
