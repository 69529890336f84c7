package syncer

import (
	"sort"

	"github.com/hyperengineering/spinsync/internal/types"
)

// PassContext accumulates what one sync pass observed: the local ids it
// wrote or kept per record kind, the tag names it encountered and the
// failures it recovered from. It is owned by a single pass and is not safe
// for concurrent use.
type PassContext struct {
	Scope types.Scope

	seen     map[types.Kind]map[string]struct{}
	tags     map[string]struct{}
	synced   int
	failures map[types.Kind]int
}

// NewPassContext starts an empty pass for scope.
func NewPassContext(scope types.Scope) *PassContext {
	return &PassContext{
		Scope:    scope,
		seen:     make(map[types.Kind]map[string]struct{}),
		tags:     make(map[string]struct{}),
		failures: make(map[types.Kind]int),
	}
}

// MarkSeen records a local id as observed this pass.
func (p *PassContext) MarkSeen(kind types.Kind, id string) {
	set, ok := p.seen[kind]
	if !ok {
		set = make(map[string]struct{})
		p.seen[kind] = set
	}
	set[id] = struct{}{}
}

// Seen returns the ids observed for kind.
func (p *PassContext) Seen(kind types.Kind) map[string]struct{} {
	out := make(map[string]struct{}, len(p.seen[kind]))
	for id := range p.seen[kind] {
		out[id] = struct{}{}
	}
	return out
}

// AddTags records tag names as observed this pass.
func (p *PassContext) AddTags(names ...string) {
	for _, n := range names {
		p.tags[n] = struct{}{}
	}
}

// Tags returns the observed tag names, sorted.
func (p *PassContext) Tags() []string {
	out := make([]string, 0, len(p.tags))
	for n := range p.tags {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (p *PassContext) recordSynced() { p.synced++ }

// RecordFailure counts a failure the pass recovered from.
func (p *PassContext) RecordFailure(kind types.Kind) { p.failures[kind]++ }

// Synced is the number of entities written this pass.
func (p *PassContext) Synced() int { return p.synced }

// Failures is the number of recovered failures this pass.
func (p *PassContext) Failures() int {
	n := 0
	for _, c := range p.failures {
		n += c
	}
	return n
}

// Complete reports whether the pass recovered from no failure of kind.
func (p *PassContext) Complete(kind types.Kind) bool {
	return p.failures[kind] == 0
}
