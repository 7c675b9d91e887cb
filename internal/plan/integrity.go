// integrity.go validates step-modification sets and computes cascade deletions.
package plan

import (
	"fmt"
)

// maxCascadeDepth bounds the child traversal. Plans are shallow in
// practice; anything deeper indicates corrupted parent links.
const maxCascadeDepth = 50

// ModificationSet names the step ids an agent turn wants to modify, add,
// or remove. Produced by the marker extractors; never applied unvalidated.
type ModificationSet struct {
	Modified []string `json:"modified"`
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
}

// IsEmpty reports whether the set names no ids at all.
func (m ModificationSet) IsEmpty() bool {
	return len(m.Modified) == 0 && len(m.Added) == 0 && len(m.Removed) == 0
}

// ValidationReport collects human-readable integrity errors for one
// modification set. Callers must not apply the set when IsValid is false.
type ValidationReport struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}

// ValidateModifications checks a modification set against the current plan:
// modified/removed ids must exist, added ids must be new and mutually
// distinct, and no id may be both added-and-removed or modified-and-removed.
// All violations are collected rather than failing on the first.
func ValidateModifications(p *Plan, mods ModificationSet) ValidationReport {
	report := ValidationReport{IsValid: true}

	addError := func(format string, args ...interface{}) {
		report.IsValid = false
		report.Errors = append(report.Errors, fmt.Sprintf(format, args...))
	}

	for _, id := range mods.Modified {
		if !p.HasStep(id) {
			addError("modified step %q does not exist in the plan", id)
		}
	}
	for _, id := range mods.Removed {
		if !p.HasStep(id) {
			addError("removed step %q does not exist in the plan", id)
		}
	}

	seenAdded := make(map[string]bool)
	for _, id := range mods.Added {
		if p.HasStep(id) {
			addError("added step %q collides with an existing step", id)
		}
		if seenAdded[id] {
			addError("added step %q appears more than once", id)
		}
		seenAdded[id] = true
	}

	removed := make(map[string]bool)
	for _, id := range mods.Removed {
		removed[id] = true
	}
	for _, id := range mods.Added {
		if removed[id] {
			addError("step %q is both added and removed", id)
		}
	}
	for _, id := range mods.Modified {
		if removed[id] {
			addError("step %q is both modified and removed", id)
		}
	}

	return report
}

// CascadeResult holds the outcome of a cascade-deletion computation.
// Direct preserves the caller's ids; Cascade holds descendants pulled in
// by the traversal; All is their union.
type CascadeResult struct {
	Direct   []string `json:"direct"`
	Cascade  []string `json:"cascade"`
	All      []string `json:"all"`
	Warnings []string `json:"warnings,omitempty"`
}

// CascadeDelete expands a direct-removal set to include every descendant
// of each removed step. The traversal is a bounded-depth DFS over a
// precomputed children index, with an explicit ancestry set so a cycle in
// parent links stops the branch instead of recursing forever.
func CascadeDelete(p *Plan, removed []string) CascadeResult {
	result := CascadeResult{}

	direct := make(map[string]bool)
	for _, id := range removed {
		if !direct[id] {
			direct[id] = true
			result.Direct = append(result.Direct, id)
		}
	}

	children := p.ChildIndex()
	cascade := make(map[string]bool)

	var walk func(id string, depth int, path map[string]bool)
	walk = func(id string, depth int, path map[string]bool) {
		if depth > maxCascadeDepth {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("cascade traversal exceeded depth %d at step %q; branch abandoned", maxCascadeDepth, id))
			return
		}
		for _, child := range children[id] {
			if path[child] {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("cycle detected through step %q; branch abandoned", child))
				continue
			}
			if !direct[child] && !cascade[child] {
				cascade[child] = true
				result.Cascade = append(result.Cascade, child)
			}
			path[child] = true
			walk(child, depth+1, path)
			delete(path, child)
		}
	}

	for _, id := range result.Direct {
		walk(id, 0, map[string]bool{id: true})
	}

	result.All = append(result.All, result.Direct...)
	result.All = append(result.All, result.Cascade...)
	return result
}

// ApplyRemovals deletes the given step ids from the plan. The set should
// already be cascade-expanded and validated.
func (p *Plan) ApplyRemovals(ids []string) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := p.Steps[:0]
	for _, s := range p.Steps {
		if !drop[s.ID] {
			kept = append(kept, s)
		}
	}
	p.Steps = kept
}

// MergeRemovals merges removed-id lists from the structured modification
// block and any simple-removal blocks, deduplicated in first-seen order.
func MergeRemovals(lists ...[]string) []string {
	seen := make(map[string]bool)
	var merged []string
	for _, list := range lists {
		for _, id := range list {
			if id != "" && !seen[id] {
				seen[id] = true
				merged = append(merged, id)
			}
		}
	}
	return merged
}
