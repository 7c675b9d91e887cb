// composable.go implements the five-section composable plan and its
// completeness validation.
package plan

import (
	"fmt"
	"strings"
)

// minDescriptionLen is the shortest step description accepted by
// completeness validation.
const minDescriptionLen = 50

// Composable section names, used in re-prompt context and on disk.
const (
	SectionMetadata     = "metadata"
	SectionSteps        = "steps"
	SectionDependencies = "dependencies"
	SectionCoverage     = "coverage"
	SectionAcceptance   = "acceptance"
)

// Metadata describes the plan as a whole.
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Approved    bool   `json:"approved"`
}

// Dependency declares that one step depends on others having completed.
type Dependency struct {
	StepID    string   `json:"step_id"`
	DependsOn []string `json:"depends_on"`
}

// Coverage names the tests a step is required to add or keep passing.
type Coverage struct {
	StepID   string   `json:"step_id"`
	Required []string `json:"required"`
}

// AcceptanceMapping ties one acceptance criterion to the steps implementing it.
type AcceptanceMapping struct {
	Criterion string   `json:"criterion"`
	StepIDs   []string `json:"step_ids"`
}

// SectionState records the last validation outcome for one section.
type SectionState struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Composable is a plan split into five independently validated sections.
type Composable struct {
	Metadata     Metadata                `json:"metadata"`
	Steps        []Step                  `json:"steps"`
	Dependencies []Dependency            `json:"dependencies"`
	Coverage     []Coverage              `json:"coverage"`
	Acceptance   []AcceptanceMapping     `json:"acceptance"`
	Sections     map[string]SectionState `json:"sections"`
}

// FromLegacy upgrades a flat-step plan into the composable shape. The new
// sections start empty and every section flag starts false, so an upgraded
// plan is re-validated rather than assumed complete. Step id, order, and
// status are preserved exactly.
func FromLegacy(p *Plan) *Composable {
	c := &Composable{
		Metadata: Metadata{Title: p.Title, Approved: p.Approved},
		Steps:    append([]Step(nil), p.Steps...),
		Sections: make(map[string]SectionState),
	}
	for _, name := range []string{SectionMetadata, SectionSteps, SectionDependencies, SectionCoverage, SectionAcceptance} {
		c.Sections[name] = SectionState{Valid: false}
	}
	return c
}

// Flat projects the composable plan back onto the flat shape used by the
// integrity engine and the readiness oracle.
func (c *Composable) Flat() *Plan {
	return &Plan{
		Title:    c.Metadata.Title,
		Approved: c.Metadata.Approved,
		Steps:    c.Steps,
	}
}

// RepromptContext carries exact identifiers for everything incomplete,
// suitable for feeding back into the next planning turn.
type RepromptContext struct {
	IncompleteSections []string `json:"incomplete_sections"`
	MissingComplexity  []string `json:"missing_complexity,omitempty"`
	ShortDescriptions  []string `json:"short_descriptions,omitempty"`
	UnmappedCriteria   []string `json:"unmapped_criteria,omitempty"`
}

// CompletenessResult is the outcome of validating all five sections.
// Complete is the logical AND of the per-section valid flags.
type CompletenessResult struct {
	Complete bool                    `json:"complete"`
	Sections map[string]SectionState `json:"sections"`
	Reprompt *RepromptContext        `json:"reprompt,omitempty"`
}

// ValidateCompleteness validates each section independently and records
// the outcome on the plan. On failure the result carries a structured
// re-prompt context naming every offending identifier.
func (c *Composable) ValidateCompleteness(criteria []string) CompletenessResult {
	reprompt := &RepromptContext{}

	sections := map[string]SectionState{
		SectionMetadata:     c.validateMetadata(),
		SectionSteps:        c.validateSteps(reprompt),
		SectionDependencies: c.validateDependencies(),
		SectionCoverage:     c.validateCoverage(),
		SectionAcceptance:   c.validateAcceptance(criteria, reprompt),
	}

	complete := true
	for name, state := range sections {
		if !state.Valid {
			complete = false
			reprompt.IncompleteSections = append(reprompt.IncompleteSections, name)
		}
	}

	c.Sections = sections

	result := CompletenessResult{Complete: complete, Sections: sections}
	if !complete {
		result.Reprompt = reprompt
	}
	return result
}

func (c *Composable) validateMetadata() SectionState {
	var errs []string
	if strings.TrimSpace(c.Metadata.Title) == "" {
		errs = append(errs, "plan has no title")
	}
	return SectionState{Valid: len(errs) == 0, Errors: errs}
}

func (c *Composable) validateSteps(reprompt *RepromptContext) SectionState {
	var errs []string
	if len(c.Steps) == 0 {
		errs = append(errs, "plan has no steps")
	}
	for _, s := range c.Steps {
		if s.Complexity == "" {
			errs = append(errs, fmt.Sprintf("step %q has no complexity rating", s.ID))
			reprompt.MissingComplexity = append(reprompt.MissingComplexity, s.ID)
		}
		if len(strings.TrimSpace(s.Description)) < minDescriptionLen {
			errs = append(errs, fmt.Sprintf("step %q description is under %d characters", s.ID, minDescriptionLen))
			reprompt.ShortDescriptions = append(reprompt.ShortDescriptions, s.ID)
		}
	}
	return SectionState{Valid: len(errs) == 0, Errors: errs}
}

func (c *Composable) validateDependencies() SectionState {
	var errs []string
	ids := make(map[string]bool, len(c.Steps))
	for _, s := range c.Steps {
		ids[s.ID] = true
	}
	for _, d := range c.Dependencies {
		if !ids[d.StepID] {
			errs = append(errs, fmt.Sprintf("dependency declared for unknown step %q", d.StepID))
		}
		for _, dep := range d.DependsOn {
			if !ids[dep] {
				errs = append(errs, fmt.Sprintf("step %q depends on unknown step %q", d.StepID, dep))
			}
			if dep == d.StepID {
				errs = append(errs, fmt.Sprintf("step %q depends on itself", d.StepID))
			}
		}
	}
	return SectionState{Valid: len(errs) == 0, Errors: errs}
}

func (c *Composable) validateCoverage() SectionState {
	var errs []string
	ids := make(map[string]bool, len(c.Steps))
	for _, s := range c.Steps {
		ids[s.ID] = true
	}
	for _, cov := range c.Coverage {
		if !ids[cov.StepID] {
			errs = append(errs, fmt.Sprintf("test coverage declared for unknown step %q", cov.StepID))
		}
		if len(cov.Required) == 0 {
			errs = append(errs, fmt.Sprintf("step %q declares an empty required-test list", cov.StepID))
		}
	}
	return SectionState{Valid: len(errs) == 0, Errors: errs}
}

// validateAcceptance checks that every declared acceptance criterion is
// covered by at least one implementing step.
func (c *Composable) validateAcceptance(criteria []string, reprompt *RepromptContext) SectionState {
	var errs []string
	ids := make(map[string]bool, len(c.Steps))
	for _, s := range c.Steps {
		ids[s.ID] = true
	}

	mapped := make(map[string]bool)
	for _, m := range c.Acceptance {
		covered := false
		for _, id := range m.StepIDs {
			if !ids[id] {
				errs = append(errs, fmt.Sprintf("criterion %q maps to unknown step %q", m.Criterion, id))
				continue
			}
			covered = true
		}
		if covered {
			mapped[m.Criterion] = true
		}
	}

	for _, criterion := range criteria {
		if !mapped[criterion] {
			errs = append(errs, fmt.Sprintf("acceptance criterion %q is not covered by any step", criterion))
			reprompt.UnmappedCriteria = append(reprompt.UnmappedCriteria, criterion)
		}
	}

	return SectionState{Valid: len(errs) == 0, Errors: errs}
}
