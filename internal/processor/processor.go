// Package processor applies one agent turn's output to session, plan, and
// question state and decides what happens next. It is the only writer of
// the session record: marker extraction feeds the plan integrity engine,
// raised concerns feed the verification pipeline, loop health feeds the
// circuit breaker, and stage advancement is decided by the plan oracle,
// never by the agent's self-report.
package processor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/drydock-dev/drydock/internal/breaker"
	"github.com/drydock-dev/drydock/internal/gitx"
	"github.com/drydock-dev/drydock/internal/log"
	"github.com/drydock-dev/drydock/internal/marker"
	"github.com/drydock-dev/drydock/internal/plan"
	"github.com/drydock-dev/drydock/internal/session"
	"github.com/drydock-dev/drydock/internal/storage"
	"github.com/drydock-dev/drydock/internal/verify"
)

// DefaultRetryCeiling is how many same-step failing-test turns are allowed
// before the step is blocked and escalated.
const DefaultRetryCeiling = 4

// Processor orchestrates one session's turns.
type Processor struct {
	Sessions     *session.Store
	Docs         storage.Store
	Verifier     *verify.Pipeline
	Git          gitx.Inspector
	Logger       *log.Logger
	Thresholds   breaker.Thresholds
	RetryCeiling int
	// Criteria are the feature's acceptance criteria, checked against the
	// plan's acceptance mapping during plan review.
	Criteria []string
}

// New creates a processor with default thresholds and retry ceiling.
func New(sessions *session.Store, docs storage.Store, verifier *verify.Pipeline) *Processor {
	return &Processor{
		Sessions:     sessions,
		Docs:         docs,
		Verifier:     verifier,
		Thresholds:   breaker.DefaultThresholds(),
		RetryCeiling: DefaultRetryCeiling,
	}
}

// Decision is the outcome of applying one turn.
type Decision struct {
	Action           string             `json:"action"` // proceed, need_input, re_prompt, halt
	Reason           string             `json:"reason,omitempty"`
	StageAdvanced    bool               `json:"stage_advanced,omitempty"`
	QuestionsAdded   int                `json:"questions_added,omitempty"`
	Blockers         []session.Question `json:"blockers,omitempty"`
	ValidationErrors []string           `json:"validation_errors,omitempty"`
}

// ProcessTurn reconciles the raw agent output against persisted state and
// returns the decision for the orchestration loop. Every write goes through
// the session store's lock-scoped operations, so a replayed turn never
// double-books.
func (p *Processor) ProcessTurn(ctx context.Context, sess *session.Session, output string) (*Decision, error) {
	dir := session.Dir(sess.Project, sess.Feature)
	brk, err := breaker.Load(p.Docs, dir, p.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("load breaker: %w", err)
	}

	comp, err := p.Sessions.LoadPlan(sess.Project, sess.Feature)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	hadPlan := comp != nil
	if comp == nil {
		comp = plan.FromLegacy(&plan.Plan{})
	}
	flat := comp.Flat()

	d := &Decision{Action: session.OutcomeProceed}

	if err := p.applyConcerns(ctx, sess, flat, output, d); err != nil {
		return nil, err
	}
	p.applyModifications(sess, flat, output, d)
	if _, stepErrs := mergeSteps(flat, output); len(stepErrs) > 0 {
		d.Action = session.OutcomeReprompt
		d.Reason = "step proposal rejected"
		d.ValidationErrors = append(d.ValidationErrors, stepErrs...)
	}
	if comp.Metadata.Title == "" && len(flat.Steps) > 0 {
		comp.Metadata.Title = sess.Feature
	}

	status, _ := marker.ExtractStatus(output)
	p.recordLoopHealth(brk, status)
	if sess.Stage == session.StageImplementation {
		p.classifyRetry(sess, flat, status, d)
		p.applyCompletions(sess, flat, output)
	}

	if marker.HasImplementationCompleteSignal(output) {
		// Logged for the audit trail; completion is decided from step state.
		p.logEvent(log.LogEvent{
			Event:   log.EventTurnCompleted,
			Project: sess.Project,
			Feature: sess.Feature,
			Stage:   sess.Stage.String(),
			Reason:  "agent self-reported implementation complete",
		})
	}

	comp.Steps = flat.Steps
	if err := p.advance(sess, comp, flat, output, d); err != nil {
		return nil, err
	}

	if hadPlan || len(comp.Steps) > 0 {
		if err := p.Sessions.SavePlan(sess.Project, sess.Feature, comp); err != nil {
			return nil, fmt.Errorf("save plan: %w", err)
		}
	}

	// The breaker's verdict dominates every other decision.
	if hd := brk.ShouldHaltExecution(); hd.ShouldHalt {
		sess.Status = session.StatusHalted
		d.Action = session.OutcomeHalt
		d.Reason = hd.Reason
		p.logEvent(log.LogEvent{
			Event:   log.EventSessionHalted,
			Project: sess.Project,
			Feature: sess.Feature,
			Stage:   sess.Stage.String(),
			Reason:  hd.Reason,
		})
	} else if len(d.Blockers) > 0 {
		sess.Status = session.StatusAwaitingUser
		d.Action = session.OutcomeNeedInput
		if d.Reason == "" {
			d.Reason = "blocker raised by agent"
		}
	}

	if err := p.Sessions.Save(sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	p.writeStatus(sess, flat, brk)
	return d, nil
}

// applyConcerns routes raised concerns: blockers bypass verification and
// are surfaced immediately; the rest go through the verification pipeline
// and only survivors become questions.
func (p *Processor) applyConcerns(ctx context.Context, sess *session.Session, flat *plan.Plan, output string, d *Decision) error {
	concerns, _ := marker.ExtractConcerns(output)
	if len(concerns) == 0 {
		return nil
	}

	var blockers, rest []marker.Concern
	for _, c := range concerns {
		if c.Blocker {
			blockers = append(blockers, c)
		} else {
			rest = append(rest, c)
		}
	}

	if len(blockers) > 0 {
		qs, err := p.Sessions.AddQuestions(sess.Project, sess.Feature, sess.Stage, blockers)
		if err != nil {
			return fmt.Errorf("persist blockers: %w", err)
		}
		d.Blockers = qs
		d.QuestionsAdded += len(qs)
		for _, q := range qs {
			p.logEvent(log.LogEvent{
				Event:   log.EventBlockerSurfaced,
				Project: sess.Project,
				Feature: sess.Feature,
				Stage:   sess.Stage.String(),
				Reason:  q.Text,
			})
		}
	}

	if len(rest) == 0 {
		return nil
	}

	surviving := rest
	if p.Verifier != nil {
		vlog := p.Verifier.VerifyBatch(ctx, rest, flat)
		if err := p.Sessions.AppendValidation(sess.Project, sess.Feature, vlog); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to append validation log: %v\n", err)
		}
		p.logEvent(log.LogEvent{
			Event:      log.EventConcernVerified,
			Project:    sess.Project,
			Feature:    sess.Feature,
			Stage:      sess.Stage.String(),
			Passed:     vlog.Passed,
			Filtered:   vlog.Filtered,
			Repurposed: vlog.Repurposed,
		})
		surviving = vlog.Surviving()
	}

	if len(surviving) > 0 {
		qs, err := p.Sessions.AddQuestions(sess.Project, sess.Feature, sess.Stage, surviving)
		if err != nil {
			return fmt.Errorf("persist questions: %w", err)
		}
		d.QuestionsAdded += len(qs)
	}
	return nil
}

// applyModifications validates and applies the turn's plan-modification
// blocks. An invalid set is never applied; its errors ride back on the
// decision for the next re-prompt.
func (p *Processor) applyModifications(sess *session.Session, flat *plan.Plan, output string, d *Decision) {
	mods, presence := marker.ExtractModifications(output)
	if presence != marker.Found || mods.IsEmpty() {
		return
	}

	report := plan.ValidateModifications(flat, mods)
	if !report.IsValid {
		d.Action = session.OutcomeReprompt
		d.Reason = "plan modification rejected"
		d.ValidationErrors = report.Errors
		return
	}

	if len(mods.Removed) > 0 {
		cascade := plan.CascadeDelete(flat, mods.Removed)
		flat.ApplyRemovals(cascade.All)
		sess.Replans++
	}
}

// recordLoopHealth feeds the turn's status block into the circuit breaker.
// A turn with no status block reads as a no-progress, no-error loop.
func (p *Processor) recordLoopHealth(brk *breaker.Breaker, status *marker.StatusReport) {
	filesChanged, hasErrors := 0, false
	if status != nil {
		filesChanged = status.FilesModified
		hasErrors = testsFailing(status)
	}
	before := brk.State()
	after, err := brk.RecordLoopResult(filesChanged, hasErrors)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to record loop result: %v\n", err)
		return
	}
	if before != after {
		p.logEvent(log.LogEvent{
			Event:  log.EventBreakerTransition,
			Reason: fmt.Sprintf("%s -> %s", before, after),
		})
	}
}

func testsFailing(status *marker.StatusReport) bool {
	return strings.EqualFold(status.Tests, "failing") || strings.EqualFold(status.Status, "error")
}

// advance applies the stage-specific completion rules. Advancement is
// always decided by plan state, never by the agent's own report.
func (p *Processor) advance(sess *session.Session, comp *plan.Composable, flat *plan.Plan, output string, d *Decision) error {
	switch sess.Stage {
	case session.StageDiscovery:
		if len(flat.Steps) > 0 && d.Action == session.OutcomeProceed {
			p.advanceStage(sess, d)
		}

	case session.StagePlanReview:
		result := comp.ValidateCompleteness(p.Criteria)
		if !result.Complete {
			sess.Reprompt = repromptFrom(result.Reprompt)
			if d.Action == session.OutcomeProceed {
				d.Action = session.OutcomeReprompt
				d.Reason = "plan incomplete"
			}
			p.logEvent(log.LogEvent{
				Event:   log.EventPlanIncomplete,
				Project: sess.Project,
				Feature: sess.Feature,
				Reason:  strings.Join(result.Reprompt.IncompleteSections, ", "),
			})
			return nil
		}
		sess.Reprompt = nil

		total, answered, err := p.planningQuestionCounts(sess)
		if err != nil {
			return err
		}
		if plan.IsApproved(flat, total, answered) {
			comp.Metadata.Approved = true
			p.advanceStage(sess, d)
			p.recordBaseline(sess)
		} else if d.Action == session.OutcomeProceed {
			if total == 0 {
				// A complete plan that raised no questions still needs an
				// explicit sign-off; park instead of looping the review.
				if err := p.requestApproval(sess, d); err != nil {
					return err
				}
			} else if answered < total {
				d.Action = session.OutcomeNeedInput
				d.Reason = "awaiting answers to planning questions"
				sess.Status = session.StatusAwaitingUser
			}
		}

	case session.StageImplementation:
		if plan.IsImplementationComplete(flat) {
			p.advanceStage(sess, d)
		}

	case session.StageChangeSubmission:
		if sub, presence := marker.ExtractSubmission(output); presence == marker.Found {
			sess.Submission = &session.Submission{
				Title:  sub.Title,
				Source: sub.SourceBranch,
				Target: sub.TargetBranch,
			}
			p.logEvent(log.LogEvent{
				Event:   log.EventStageAdvanced,
				Project: sess.Project,
				Feature: sess.Feature,
				Reason:  fmt.Sprintf("submission created: %s (%s -> %s)", sub.Title, sub.SourceBranch, sub.TargetBranch),
			})
			p.advanceStage(sess, d)
		}

	case session.StageSubmissionReview:
		if d.Action == session.OutcomeProceed && d.QuestionsAdded == 0 {
			now := time.Now()
			sess.Status = session.StatusCompleted
			sess.ClosedAt = &now
			p.logEvent(log.LogEvent{
				Event:   log.EventSessionCompleted,
				Project: sess.Project,
				Feature: sess.Feature,
			})
		}
	}
	return nil
}

// requestApproval surfaces a synthetic approval question for a complete,
// question-less plan. Answering it (or drydock approve) unblocks the review.
func (p *Processor) requestApproval(sess *session.Session, d *Decision) error {
	qs, err := p.Sessions.AddQuestions(sess.Project, sess.Feature, session.StagePlanReview, []marker.Concern{{
		Priority: 1,
		Category: "plan_approval",
		Text:     "The plan is complete and raised no questions. Approve it to start implementation?",
		Options:  []marker.Option{{Label: "yes", Recommended: true}, {Label: "no"}},
	}})
	if err != nil {
		return fmt.Errorf("add approval question: %w", err)
	}
	d.QuestionsAdded += len(qs)
	d.Action = session.OutcomeNeedInput
	d.Reason = "plan awaiting approval"
	sess.Status = session.StatusAwaitingUser
	return nil
}

// planningQuestionCounts sums questions from the two planning stages.
func (p *Processor) planningQuestionCounts(sess *session.Session) (int, int, error) {
	var total, answered int
	for _, stage := range []session.Stage{session.StageDiscovery, session.StagePlanReview} {
		t, a, err := p.Sessions.CountQuestions(sess.Project, sess.Feature, stage)
		if err != nil {
			return 0, 0, fmt.Errorf("count questions: %w", err)
		}
		total += t
		answered += a
	}
	return total, answered, nil
}

func (p *Processor) advanceStage(sess *session.Session, d *Decision) {
	from := sess.Stage
	sess.Stage++
	d.StageAdvanced = true
	p.logEvent(log.LogEvent{
		Event:   log.EventStageAdvanced,
		Project: sess.Project,
		Feature: sess.Feature,
		Stage:   sess.Stage.String(),
		Reason:  fmt.Sprintf("completed %s", from),
	})
}

// recordBaseline stamps the current revision so later step completions can
// be corroborated against new commits.
func (p *Processor) recordBaseline(sess *session.Session) {
	if p.Git == nil {
		return
	}
	rev, err := p.Git.CurrentRevision()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to read baseline revision: %v\n", err)
		return
	}
	sess.BaselineRev = rev
}

func (p *Processor) writeStatus(sess *session.Session, flat *plan.Plan, brk *breaker.Breaker) {
	var current string
	if step := plan.NextReadyStep(flat); step != nil {
		current = step.ID
	}
	open := 0
	if qs, err := p.Sessions.LoadQuestions(sess.Project, sess.Feature); err == nil {
		for i := range qs {
			if !qs[i].Answered() {
				open++
			}
		}
	}
	summary := &session.StatusSummary{
		SessionID:     sess.ID,
		Project:       sess.Project,
		Feature:       sess.Feature,
		Stage:         sess.Stage.String(),
		Status:        sess.Status,
		BreakerState:  brk.State(),
		StepCounts:    plan.CountByStatus(flat),
		CurrentStep:   current,
		OpenQuestions: open,
	}
	if err := p.Sessions.WriteStatus(summary); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write status summary: %v\n", err)
	}
}

func (p *Processor) logEvent(event log.LogEvent) {
	if p.Logger == nil {
		return
	}
	if err := p.Logger.Append(event); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to log %s: %v\n", event.Event, err)
	}
}
