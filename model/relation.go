package model

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/siherrmann/grounder/helper"
)

// Relation is a directed, typed edge between two entities.
type Relation struct {
	Head string `json:"head"`
	Type string `json:"relation"`
	Tail string `json:"tail"`
}

func (r Relation) String() string {
	return fmt.Sprintf("(%s)-[%s]->(%s)", r.Head, r.Type, r.Tail)
}

// Triple is the ingestion format of a relation, one json object per line.
type Triple struct {
	H string `json:"h"`
	R string `json:"r"`
	T string `json:"t"`
}

// Normalize validates the triple and returns it as a relation with a normalized type.
func (t Triple) Normalize() (Relation, error) {
	head := strings.TrimSpace(t.H)
	tail := strings.TrimSpace(t.T)
	if head == "" || tail == "" {
		return Relation{}, helper.Errorf(helper.ErrInvalidArgument, "triple %q has an empty entity", t.H+"|"+t.R+"|"+t.T)
	}

	relType, err := NormalizeRelationType(t.R)
	if err != nil {
		return Relation{}, err
	}

	return Relation{Head: head, Type: relType, Tail: tail}, nil
}

// NormalizeRelationType replaces whitespace runs with "_" and checks the remaining characters.
// Letters, digits, "_", "-" and ":" are allowed.
func NormalizeRelationType(relType string) (string, error) {
	normalized := strings.Join(strings.Fields(relType), "_")
	if normalized == "" {
		return "", helper.Errorf(helper.ErrInvalidArgument, "relation type is empty")
	}

	for _, r := range normalized {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == ':' {
			continue
		}
		return "", helper.Errorf(helper.ErrInvalidArgument, "relation type %q contains %q", relType, r)
	}

	return normalized, nil
}

// Path is a walk of relations starting at a seed entity.
// Each relation's head is the previous relation's tail.
type Path struct {
	Edges []Relation `json:"edges"`
}

// Len returns the number of hops.
func (p *Path) Len() int {
	return len(p.Edges)
}

// Seed returns the head of the first relation.
func (p *Path) Seed() string {
	if len(p.Edges) == 0 {
		return ""
	}
	return p.Edges[0].Head
}
