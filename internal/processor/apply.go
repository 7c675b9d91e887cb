// apply.go holds the per-turn plan mutation helpers: proposal merging,
// retry classification, and completion reconciliation.
package processor

import (
	"fmt"
	"os"

	"github.com/drydock-dev/drydock/internal/log"
	"github.com/drydock-dev/drydock/internal/marker"
	"github.com/drydock-dev/drydock/internal/plan"
	"github.com/drydock-dev/drydock/internal/session"
)

// retriesKey is the step-metadata key for the per-step retry counter.
const retriesKey = "retries"

var validStatuses = map[string]bool{
	plan.StatusPending:     true,
	plan.StatusInProgress:  true,
	plan.StatusCompleted:   true,
	plan.StatusBlocked:     true,
	plan.StatusSkipped:     true,
	plan.StatusNeedsReview: true,
}

// mergeSteps merges the turn's step proposals into the plan. New ids are
// appended at the end of the step order; existing ids are left untouched so
// a re-review pass never clobbers in-progress status. A proposal whose
// parent is neither in the plan nor in the same batch is rejected: such a
// step could never become ready.
func mergeSteps(flat *plan.Plan, output string) (int, []string) {
	proposals, presence := marker.ExtractSteps(output)
	if presence != marker.Found {
		return 0, nil
	}

	known := make(map[string]bool, len(flat.Steps)+len(proposals))
	for _, s := range flat.Steps {
		known[s.ID] = true
	}
	for _, prop := range proposals {
		known[prop.ID] = true
	}

	order := flat.MaxOrderIndex()
	added := 0
	var errs []string
	for _, prop := range proposals {
		if flat.HasStep(prop.ID) {
			continue
		}
		if prop.ParentID != "" && !known[prop.ParentID] {
			errs = append(errs, fmt.Sprintf("step %s references unknown parent %s", prop.ID, prop.ParentID))
			continue
		}
		status := prop.Status
		if !validStatuses[status] {
			status = plan.StatusPending
		}
		order++
		flat.Steps = append(flat.Steps, plan.Step{
			ID:          prop.ID,
			ParentID:    prop.ParentID,
			OrderIndex:  order,
			Title:       prop.Title,
			Description: prop.Description,
			Status:      status,
			Complexity:  prop.Complexity,
		})
		added++
	}
	return added, errs
}

// classifyRetry counts same-step failing-test turns. At the ceiling the
// step is blocked and a blocker question is surfaced, since the session
// cannot make unattended progress on it.
func (p *Processor) classifyRetry(sess *session.Session, flat *plan.Plan, status *marker.StatusReport, d *Decision) {
	if status == nil || status.StepID == "" || !testsFailing(status) {
		return
	}
	step := flat.FindStep(status.StepID)
	if step == nil {
		return
	}

	retries := stepRetries(step) + 1
	setStepMeta(step, retriesKey, retries)
	sess.Retries++

	ceiling := p.RetryCeiling
	if ceiling <= 0 {
		ceiling = DefaultRetryCeiling
	}
	if retries < ceiling {
		p.logEvent(log.LogEvent{
			Event:   log.EventTurnCompleted,
			Project: sess.Project,
			Feature: sess.Feature,
			StepID:  step.ID,
			Attempt: retries,
			Reason:  "tests failing, will retry",
		})
		return
	}

	step.Status = plan.StatusBlocked
	p.logEvent(log.LogEvent{
		Event:   log.EventStepBlocked,
		Project: sess.Project,
		Feature: sess.Feature,
		StepID:  step.ID,
		Attempt: retries,
	})

	blocker := marker.Concern{
		Priority: 1,
		Category: "blocked_step",
		Text:     fmt.Sprintf("Step %q (%s) was blocked after %d failed attempts. How should it proceed?", step.ID, step.Title, retries),
		Blocker:  true,
	}
	qs, err := p.Sessions.AddQuestions(sess.Project, sess.Feature, sess.Stage, []marker.Concern{blocker})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to surface blocked-step question: %v\n", err)
		return
	}
	d.Blockers = append(d.Blockers, qs...)
	d.QuestionsAdded += len(qs)
}

// applyCompletions reconciles [STEP-COMPLETE] blocks with commit-based
// corroboration: a new revision since the session baseline is accepted as
// completion evidence independent of the agent's summary.
func (p *Processor) applyCompletions(sess *session.Session, flat *plan.Plan, output string) {
	completions, presence := marker.ExtractStepCompletions(output)
	if presence != marker.Found {
		return
	}

	corroborated := false
	if p.Git != nil {
		ok, err := p.Git.HasNewRevisionSince(sess.BaselineRev)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to check for new revisions: %v\n", err)
		} else {
			corroborated = ok
		}
	}

	for _, c := range completions {
		step := flat.FindStep(c.StepID)
		if step == nil {
			continue
		}

		status := c.Status
		if !validStatuses[status] {
			status = plan.StatusCompleted
		}
		step.Status = status
		if status != plan.StatusCompleted && status != plan.StatusSkipped {
			continue
		}

		step.ContentHash = plan.HashContent(step.Title, step.Description)
		if step.Metadata != nil {
			delete(step.Metadata, retriesKey)
		}
		if c.Commit != "" {
			setStepMeta(step, "commit", c.Commit)
		}
		setStepMeta(step, "corroborated", corroborated)
		if len(c.Files) > 0 {
			setStepMeta(step, "files", c.Files)
		}
		sess.Retries = 0

		p.logEvent(log.LogEvent{
			Event:   log.EventStepCompleted,
			Project: sess.Project,
			Feature: sess.Feature,
			StepID:  step.ID,
			Reason:  c.Summary,
		})
	}

	// Move the corroboration baseline forward so the next step's evidence
	// is a commit made after this one.
	if corroborated {
		p.recordBaseline(sess)
	}
}

func stepRetries(s *plan.Step) int {
	if s.Metadata == nil {
		return 0
	}
	switch v := s.Metadata[retriesKey].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func setStepMeta(s *plan.Step, key string, v interface{}) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]interface{})
	}
	s.Metadata[key] = v
}

// repromptFrom converts the validator's re-prompt context into the shape
// persisted on the session record.
func repromptFrom(r *plan.RepromptContext) *session.Reprompt {
	if r == nil {
		return nil
	}
	return &session.Reprompt{
		IncompleteSections: r.IncompleteSections,
		MissingComplexity:  r.MissingComplexity,
		ShortDescriptions:  r.ShortDescriptions,
		UnmappedCriteria:   r.UnmappedCriteria,
	}
}
