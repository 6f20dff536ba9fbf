// Package pipeline runs the synchronization pipeline: an ordered registry of
// data sources executed sequentially by a single background run, with
// progress and the single-flight guard held in the shared KV store.
package pipeline

import (
	"context"
	"fmt"
	"sort"
)

// FailureMode controls what a source failure does to the rest of the run.
type FailureMode string

const (
	// FailureFatal stops the run; later sources stay pending.
	FailureFatal FailureMode = "fatal"
	// FailureIsolated records the error on the source and continues.
	FailureIsolated FailureMode = "isolated"
)

// Runner executes one sync source. The returned message is surfaced in the
// source's progress entry on success.
type Runner interface {
	Run(ctx context.Context) (string, error)
}

// SourceDefinition describes one registered sync source.
type SourceDefinition struct {
	Order          int
	Key            string
	Name           string
	Description    string
	DefaultEnabled bool
	FailureMode    FailureMode
	Runner         Runner
}

// Registry holds the source definitions in execution order.
type Registry struct {
	sources []SourceDefinition
}

// NewRegistry builds a registry from the given definitions, sorted by Order.
func NewRegistry(defs ...SourceDefinition) *Registry {
	sources := make([]SourceDefinition, len(defs))
	copy(sources, defs)
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Order < sources[j].Order
	})
	return &Registry{sources: sources}
}

// Sources returns the definitions in execution order.
func (r *Registry) Sources() []SourceDefinition {
	out := make([]SourceDefinition, len(r.sources))
	copy(out, r.sources)
	return out
}

// Resolve maps requested keys onto definitions, preserving registry order
// regardless of request order. Nil or empty keys select the default-enabled
// set. An unknown key fails the whole resolution.
func (r *Registry) Resolve(keys []string) ([]SourceDefinition, error) {
	if len(keys) == 0 {
		var selected []SourceDefinition
		for _, src := range r.sources {
			if src.DefaultEnabled {
				selected = append(selected, src)
			}
		}
		if len(selected) == 0 {
			return nil, ErrNoSources
		}
		return selected, nil
	}

	wanted := make(map[string]bool, len(keys))
	for _, key := range keys {
		known := false
		for _, src := range r.sources {
			if src.Key == key {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSource, key)
		}
		wanted[key] = true
	}

	var selected []SourceDefinition
	for _, src := range r.sources {
		if wanted[src.Key] {
			selected = append(selected, src)
		}
	}
	if len(selected) == 0 {
		return nil, ErrNoSources
	}
	return selected, nil
}
