// extract.go defines the typed records and extractor functions for each
// marker block.
package marker

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/drydock-dev/drydock/internal/plan"
)

// Option is one labeled answer choice attached to a concern.
type Option struct {
	Label       string `json:"label"`
	Recommended bool   `json:"recommended,omitempty"`
}

// Concern is a question raised by the coding agent. Blocker concerns
// bypass verification and are surfaced immediately.
type Concern struct {
	Priority int      `json:"priority"` // 1 (highest) to 3
	Category string   `json:"category,omitempty"`
	Text     string   `json:"text"`
	Options  []Option `json:"options,omitempty"`
	Blocker  bool     `json:"blocker,omitempty"`
}

// ExtractConcerns parses every [CONCERN ...] block. The body is the
// question text followed by hyphen-prefixed options; an option suffixed
// "(recommended)" is flagged.
func ExtractConcerns(text string) ([]Concern, Presence) {
	blocks := findBlocks(text, blockConcern)
	if len(blocks) == 0 {
		if hasSentinel(text, sentinelNoConcerns) {
			return nil, ExplicitNone
		}
		return nil, Absent
	}

	var concerns []Concern
	for _, b := range blocks {
		attrs := parseAttrs(b.attrs)
		c := Concern{
			Priority: clampPriority(atoiDefault(attrs["priority"], 2)),
			Category: attrs["category"],
			Blocker:  attrs["blocker"] == "true",
		}

		var textLines []string
		for _, line := range strings.Split(b.body, "\n") {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "- ") {
				label := strings.TrimSpace(strings.TrimPrefix(trimmed, "- "))
				opt := Option{Label: label}
				lower := strings.ToLower(label)
				if strings.HasSuffix(lower, "(recommended)") {
					opt.Label = strings.TrimSpace(label[:len(label)-len("(recommended)")])
					opt.Recommended = true
				}
				c.Options = append(c.Options, opt)
				continue
			}
			if trimmed != "" {
				textLines = append(textLines, trimmed)
			}
		}
		c.Text = strings.Join(textLines, "\n")
		if c.Text == "" && len(c.Options) == 0 {
			continue
		}
		concerns = append(concerns, c)
	}

	if len(concerns) == 0 {
		return nil, Absent
	}
	return concerns, Found
}

// StepProposal is a step definition lifted from a [STEP ...] block: the
// first body line is the title, the rest the description.
type StepProposal struct {
	ID          string `json:"id"`
	ParentID    string `json:"parent_id,omitempty"`
	Status      string `json:"status,omitempty"`
	Complexity  string `json:"complexity,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ExtractSteps parses every [STEP ...] block.
func ExtractSteps(text string) ([]StepProposal, Presence) {
	blocks := findBlocks(text, blockStep)
	if len(blocks) == 0 {
		if hasSentinel(text, sentinelNoSteps) {
			return nil, ExplicitNone
		}
		return nil, Absent
	}

	var steps []StepProposal
	for _, b := range blocks {
		attrs := parseAttrs(b.attrs)
		if attrs["id"] == "" {
			continue
		}
		s := StepProposal{
			ID:         attrs["id"],
			ParentID:   attrs["parent"],
			Status:     attrs["status"],
			Complexity: attrs["complexity"],
		}
		lines := strings.SplitN(b.body, "\n", 2)
		s.Title = strings.TrimSpace(lines[0])
		if len(lines) > 1 {
			s.Description = strings.TrimSpace(lines[1])
		}
		steps = append(steps, s)
	}

	if len(steps) == 0 {
		return nil, Absent
	}
	return steps, Found
}

// ExtractModifications parses the structured [PLAN-MODIFICATION] block and
// merges in every [REMOVE-STEPS] block. Field names are case-insensitive;
// id lists accept a JSON array or a loose comma/line-separated list.
func ExtractModifications(text string) (plan.ModificationSet, Presence) {
	var mods plan.ModificationSet
	found := false

	for _, b := range findBlocks(text, blockModification) {
		fields := parseKeyValueLines(b.body)
		mods.Modified = append(mods.Modified, parseIDList(fields["modified"])...)
		mods.Added = append(mods.Added, parseIDList(fields["added"])...)
		mods.Removed = append(mods.Removed, parseIDList(fields["removed"])...)
		found = true
	}

	var simple []string
	for _, b := range findBlocks(text, blockRemoval) {
		simple = append(simple, parseIDList(b.body)...)
		found = true
	}

	mods.Removed = plan.MergeRemovals(mods.Removed, simple)
	mods.Modified = plan.MergeRemovals(mods.Modified)
	mods.Added = plan.MergeRemovals(mods.Added)

	if !found {
		if hasSentinel(text, sentinelNoPlanChanges) {
			return mods, ExplicitNone
		}
		return mods, Absent
	}
	return mods, Found
}

// parseIDList accepts either a JSON string array or a loose comma/newline
// separated list, with or without surrounding brackets.
func parseIDList(val string) []string {
	val = strings.TrimSpace(val)
	if val == "" || strings.EqualFold(val, "none") {
		return nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(val), &ids); err == nil {
		return trimAll(ids)
	}

	stripped := strings.TrimSuffix(strings.TrimPrefix(val, "["), "]")
	if err := json.Unmarshal([]byte("["+stripped+"]"), &ids); err == nil {
		return trimAll(ids)
	}

	split := strings.FieldsFunc(stripped, func(r rune) bool {
		return r == ',' || r == '\n'
	})
	return trimAll(split)
}

// trimAll trims whitespace and stray quotes from each entry and drops empties.
func trimAll(ss []string) []string {
	var result []string
	for _, s := range ss {
		trimmed := strings.Trim(strings.TrimSpace(s), `"'`)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// StatusReport is the agent's per-turn status block.
type StatusReport struct {
	StepID        string `json:"step_id"`
	Status        string `json:"status"`
	FilesModified int    `json:"files_modified"`
	Tests         string `json:"tests,omitempty"`
	WorkType      string `json:"work_type,omitempty"`
	Progress      int    `json:"progress"`
	Message       string `json:"message,omitempty"`
}

// ExtractStatus parses the last [STATUS] block; later blocks supersede
// earlier ones within a turn.
func ExtractStatus(text string) (*StatusReport, Presence) {
	blocks := findBlocks(text, blockStatus)
	if len(blocks) == 0 {
		if hasSentinel(text, sentinelNoStatus) {
			return nil, ExplicitNone
		}
		return nil, Absent
	}

	fields := parseKeyValueLines(blocks[len(blocks)-1].body)
	return &StatusReport{
		StepID:        fields["step"],
		Status:        fields["status"],
		FilesModified: atoiDefault(fields["files_modified"], 0),
		Tests:         fields["tests"],
		WorkType:      fields["work_type"],
		Progress:      atoiDefault(fields["progress"], 0),
		Message:       fields["message"],
	}, Found
}

// StepComplete reports a finished step with its corroborating commit.
type StepComplete struct {
	StepID  string   `json:"step_id"`
	Status  string   `json:"status"`
	Commit  string   `json:"commit,omitempty"`
	Summary string   `json:"summary,omitempty"`
	Files   []string `json:"files,omitempty"`
}

// ExtractStepCompletions parses every [STEP-COMPLETE] block.
func ExtractStepCompletions(text string) ([]StepComplete, Presence) {
	blocks := findBlocks(text, blockStepComplete)
	if len(blocks) == 0 {
		return nil, Absent
	}

	var completions []StepComplete
	for _, b := range blocks {
		fields := parseKeyValueLines(b.body)
		if fields["step"] == "" {
			continue
		}
		completions = append(completions, StepComplete{
			StepID:  fields["step"],
			Status:  fields["status"],
			Commit:  fields["commit"],
			Summary: fields["summary"],
			Files:   parseIDList(fields["files"]),
		})
	}
	if len(completions) == 0 {
		return nil, Absent
	}
	return completions, Found
}

// Submission reports a created change submission (pull/merge request).
type Submission struct {
	Title        string `json:"title"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
}

// ExtractSubmission parses the [SUBMISSION-CREATED] block.
func ExtractSubmission(text string) (*Submission, Presence) {
	blocks := findBlocks(text, blockSubmission)
	if len(blocks) == 0 {
		if hasSentinel(text, sentinelNoSubmission) {
			return nil, ExplicitNone
		}
		return nil, Absent
	}

	fields := parseKeyValueLines(blocks[0].body)
	return &Submission{
		Title:        fields["title"],
		SourceBranch: fields["source"],
		TargetBranch: fields["target"],
	}, Found
}

func atoiDefault(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 3 {
		return 3
	}
	return p
}
