package model

import "github.com/siherrmann/grounder/helper"

// MaxHops is the largest expansion depth accepted by the graph stores.
const MaxHops = 5

// RetrievalOptions represents configuration for a retrieval query
type RetrievalOptions struct {
	// Seed selection
	Threshold float64 `json:"threshold" yaml:"threshold"` // seeds need a score strictly above this
	TopK      int     `json:"top_k" yaml:"top_k"`         // candidates asked from the vector search
	MaxSeeds  int     `json:"max_seeds" yaml:"max_seeds"`

	// Graph expansion
	Hops int `json:"hops" yaml:"hops"`

	// Size bound of the assembled context, zero means unbounded
	MaxEdges int `json:"max_edges,omitempty" yaml:"max_edges"`
	MaxBytes int `json:"max_bytes,omitempty" yaml:"max_bytes"`

	// Passage collection searched alongside the graph, empty skips passages
	Collection string `json:"collection,omitempty" yaml:"collection"`
}

// DefaultRetrievalOptions returns the defaults used when a request sets nothing.
func DefaultRetrievalOptions() RetrievalOptions {
	return RetrievalOptions{
		Threshold: 0.9,
		TopK:      10,
		MaxSeeds:  5,
		Hops:      2,
		MaxEdges:  200,
		MaxBytes:  32 * 1024,
	}
}

// WithDefaults returns o with every zero field taken from defaults.
// The size bounds of defaults are upper bounds: a request may tighten them, never lift them.
func (o RetrievalOptions) WithDefaults(defaults RetrievalOptions) RetrievalOptions {
	merged := o
	if merged.Threshold == 0 {
		merged.Threshold = defaults.Threshold
	}
	if merged.TopK == 0 {
		merged.TopK = defaults.TopK
	}
	if merged.MaxSeeds == 0 {
		merged.MaxSeeds = defaults.MaxSeeds
	}
	if merged.Hops == 0 {
		merged.Hops = defaults.Hops
	}
	merged.MaxEdges = tighter(merged.MaxEdges, defaults.MaxEdges)
	merged.MaxBytes = tighter(merged.MaxBytes, defaults.MaxBytes)
	if merged.Collection == "" {
		merged.Collection = defaults.Collection
	}
	return merged
}

// tighter returns the smaller positive bound, zero meaning unbounded.
func tighter(request, limit int) int {
	if request == 0 {
		return limit
	}
	if limit > 0 && limit < request {
		return limit
	}
	return request
}

// Validate checks the option ranges.
func (o *RetrievalOptions) Validate() error {
	if o.Threshold < -1 || o.Threshold > 1 {
		return helper.Errorf(helper.ErrInvalidArgument, "threshold %v outside [-1, 1]", o.Threshold)
	}
	if o.Hops < 1 || o.Hops > MaxHops {
		return helper.Errorf(helper.ErrInvalidArgument, "hops %d outside [1, %d]", o.Hops, MaxHops)
	}
	if o.MaxSeeds < 1 {
		return helper.Errorf(helper.ErrInvalidArgument, "max seeds %d must be positive", o.MaxSeeds)
	}
	if o.TopK < 1 {
		return helper.Errorf(helper.ErrInvalidArgument, "top k %d must be positive", o.TopK)
	}
	if o.MaxEdges < 0 || o.MaxBytes < 0 {
		return helper.Errorf(helper.ErrInvalidArgument, "size bounds must not be negative")
	}
	if o.Collection != "" {
		if err := ValidateName(o.Collection); err != nil {
			return err
		}
	}
	return nil
}

// ValidateHops checks a hop count against [1, MaxHops].
func ValidateHops(hops int) error {
	if hops < 1 || hops > MaxHops {
		return helper.Errorf(helper.ErrInvalidArgument, "hops %d outside [1, %d]", hops, MaxHops)
	}
	return nil
}
