package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter selects records by symbol glob patterns and source ids
type GlobFilter struct {
	symbolGlobs []glob.Glob
	sources     map[int]struct{}
}

// NewGlobFilter creates a new glob-based filter.
// Empty patterns or sources match everything.
func NewGlobFilter(symbolPatterns []string, sources []int) (*GlobFilter, error) {
	filter := &GlobFilter{
		symbolGlobs: make([]glob.Glob, 0, len(symbolPatterns)),
		sources:     make(map[int]struct{}, len(sources)),
	}

	for _, pattern := range symbolPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid symbol pattern %q: %w", pattern, err)
		}
		filter.symbolGlobs = append(filter.symbolGlobs, g)
	}
	for _, id := range sources {
		filter.sources[id] = struct{}{}
	}

	return filter, nil
}

// Match returns true if the symbol and source match the configured filter
func (f *GlobFilter) Match(symbol string, sourceID int) bool {
	if len(f.sources) > 0 {
		if _, ok := f.sources[sourceID]; !ok {
			return false
		}
	}

	if len(f.symbolGlobs) == 0 {
		return true
	}
	for _, g := range f.symbolGlobs {
		if g.Match(symbol) {
			return true
		}
	}
	return false
}
