package model

// SeedHit is an entity that passed the seed threshold.
type SeedHit struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// RetrievedEdge is a relation in the assembled context.
// Seed and Score belong to the seed whose expansion produced it first,
// Path holds the hops leading from that seed to the relation.
type RetrievedEdge struct {
	Relation
	Seed  string     `json:"seed"`
	Score float64    `json:"score"`
	Path  []Relation `json:"path,omitempty"`
}

// RetrievalResult represents the context retrieved for one query
type RetrievalResult struct {
	Query     string           `json:"query"`
	Seeds     []SeedHit        `json:"seeds"`
	Edges     []*RetrievedEdge `json:"edges"`
	Passages  []*PassageHit    `json:"passages,omitempty"`
	Truncated bool             `json:"truncated"`
}

// Triples returns the relations in context order.
func (r *RetrievalResult) Triples() []Relation {
	triples := make([]Relation, 0, len(r.Edges))
	for _, e := range r.Edges {
		triples = append(triples, e.Relation)
	}
	return triples
}

// Empty reports whether nothing was grounded.
func (r *RetrievalResult) Empty() bool {
	return len(r.Edges) == 0 && len(r.Passages) == 0
}

// RetrievalRequest is what the chat layer sends.
type RetrievalRequest struct {
	Query   string            `json:"query"`
	Options *RetrievalOptions `json:"options,omitempty"`
}

// RetrievalResponse is what the chat layer receives.
// Triples is an empty list, not null, when nothing was found.
type RetrievalResponse struct {
	Triples  []Relation    `json:"triples"`
	Seeds    []SeedHit     `json:"seeds"`
	Passages []*PassageHit `json:"passages,omitempty"`
}
