// Package plan holds the step-forest data model and the integrity engine:
// modification validation, cascade deletion, completeness validation, and
// the deterministic completion/readiness oracle.
package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Step statuses.
const (
	StatusPending     = "pending"
	StatusInProgress  = "in_progress"
	StatusCompleted   = "completed"
	StatusBlocked     = "blocked"
	StatusSkipped     = "skipped"
	StatusNeedsReview = "needs_review"
)

// Complexity ratings. Empty means unrated.
const (
	ComplexityLow    = "low"
	ComplexityMedium = "medium"
	ComplexityHigh   = "high"
)

// Step is a single unit of planned work. Steps form a forest via ParentID:
// at most one parent, empty for roots. No step may be its own ancestor.
type Step struct {
	ID          string                 `json:"id"`
	ParentID    string                 `json:"parent_id,omitempty"`
	OrderIndex  int                    `json:"order_index"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Status      string                 `json:"status"`
	Complexity  string                 `json:"complexity,omitempty"`
	ContentHash string                 `json:"content_hash,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Plan is an ordered forest of steps plus an explicit approval flag set
// when the user (or the review stage) signs off on the plan.
type Plan struct {
	Title    string `json:"title"`
	Approved bool   `json:"approved"`
	Steps    []Step `json:"steps"`
}

// HashContent fingerprints a step's title and description. The hash is
// recomputed when a step completes so later edits to the same step are
// detectable as content drift.
func HashContent(title, description string) string {
	h := sha256.Sum256([]byte(title + "\x00" + description))
	return hex.EncodeToString(h[:8])
}

// FindStep returns the step with the given id, or nil.
func (p *Plan) FindStep(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// HasStep reports whether the plan contains a step with the given id.
func (p *Plan) HasStep(id string) bool {
	return p.FindStep(id) != nil
}

// ChildIndex builds a parent-id -> child-ids index over the plan. Built
// once per traversal so tree walks never chase ParentID pointers directly.
func (p *Plan) ChildIndex() map[string][]string {
	idx := make(map[string][]string)
	for _, s := range p.Steps {
		if s.ParentID != "" {
			idx[s.ParentID] = append(idx[s.ParentID], s.ID)
		}
	}
	return idx
}

// SortSteps orders steps by OrderIndex, stable on id for equal indexes.
func (p *Plan) SortSteps() {
	sort.SliceStable(p.Steps, func(i, j int) bool {
		if p.Steps[i].OrderIndex != p.Steps[j].OrderIndex {
			return p.Steps[i].OrderIndex < p.Steps[j].OrderIndex
		}
		return p.Steps[i].ID < p.Steps[j].ID
	})
}

// MaxOrderIndex returns the highest order index in the plan, or -1 when empty.
func (p *Plan) MaxOrderIndex() int {
	max := -1
	for _, s := range p.Steps {
		if s.OrderIndex > max {
			max = s.OrderIndex
		}
	}
	return max
}
