package model

import (
	"regexp"

	"github.com/siherrmann/grounder/helper"
)

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,47}$`)

// ValidateName checks a namespace or collection name.
// Names are interpolated into identifiers, so only ascii letters, digits and "_" are accepted.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return helper.Errorf(helper.ErrInvalidArgument, "name %q must match %s", name, namePattern.String())
	}
	return nil
}

// DeleteAllConfirmation has to be ConfirmDeleteAll for DeleteAll to run.
type DeleteAllConfirmation string

const ConfirmDeleteAll DeleteAllConfirmation = "delete all entities and relations"

// GraphInfo is the read-only description of a graph namespace.
type GraphInfo struct {
	Namespace       string   `json:"namespace"`
	EntityCount     int64    `json:"entity_count"`
	RelationCount   int64    `json:"relation_count"`
	RelationTypes   []string `json:"relation_types"`
	Labels          []string `json:"labels"`
	VectorDimension int      `json:"vector_dimension"`
	State           string   `json:"state"`
}
