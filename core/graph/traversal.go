package graph

import (
	"context"

	"github.com/siherrmann/grounder/model"
)

// GraphDB defines the interface for graph operations
type GraphDB interface {
	// OutgoingRelations returns the relations with entity as head in insertion order.
	OutgoingRelations(ctx context.Context, entity string) ([]*Edge, error)
}

// Edge is a stored relation with its insertion sequence number.
type Edge struct {
	Seq      int64
	Relation model.Relation
}

// walk is a path under construction
type walk struct {
	edges []*Edge
	last  string
}

func (w *walk) contains(seq int64) bool {
	for _, e := range w.edges {
		if e.Seq == seq {
			return true
		}
	}
	return false
}

func (w *walk) path() *model.Path {
	p := &model.Path{Edges: make([]model.Relation, len(w.edges))}
	for i, e := range w.edges {
		p.Edges[i] = e.Relation
	}
	return p
}

// Walks performs a level by level expansion from a source entity.
// It returns every walk of 1..maxHops relations in which no relation repeats,
// ordered by length, then by insertion order of the relations along the walk.
// Entities may be revisited; the walk length bounds the search.
func Walks(ctx context.Context, db GraphDB, source string, maxHops int) ([]*model.Path, error) {
	if err := model.ValidateHops(maxHops); err != nil {
		return nil, err
	}

	var results []*model.Path
	level := []*walk{{last: source}}

	for depth := 1; depth <= maxHops && len(level) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Relations are fetched once per entity and level
		outgoing := map[string][]*Edge{}
		var next []*walk
		for _, current := range level {
			edges, ok := outgoing[current.last]
			if !ok {
				var err error
				edges, err = db.OutgoingRelations(ctx, current.last)
				if err != nil {
					return nil, err
				}
				outgoing[current.last] = edges
			}

			for _, edge := range edges {
				if current.contains(edge.Seq) {
					continue
				}

				newEdges := make([]*Edge, len(current.edges), len(current.edges)+1)
				copy(newEdges, current.edges)
				newEdges = append(newEdges, edge)

				extended := &walk{edges: newEdges, last: edge.Relation.Tail}
				next = append(next, extended)
				results = append(results, extended.path())
			}
		}
		level = next
	}

	if results == nil {
		results = []*model.Path{}
	}
	return results, nil
}
