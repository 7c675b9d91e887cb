// loop.go runs a session's turns: build the stage prompt, invoke the
// coding agent, apply the turn through the processor, repeat until the
// session needs input, halts, or completes.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/drydock-dev/drydock/internal/agent"
	"github.com/drydock-dev/drydock/internal/breaker"
	"github.com/drydock-dev/drydock/internal/locker"
	"github.com/drydock-dev/drydock/internal/log"
	"github.com/drydock-dev/drydock/internal/plan"
	"github.com/drydock-dev/drydock/internal/session"
	"github.com/drydock-dev/drydock/prompts"
)

// DefaultMaxTurns bounds one run invocation.
const DefaultMaxTurns = 25

var (
	// ErrNoSession means run was called before start.
	ErrNoSession = errors.New("no session for this project/feature")
	// ErrNoReadyStep means implementation cannot pick a step: everything
	// left is blocked or waiting on an unfinished parent.
	ErrNoReadyStep = errors.New("no ready step in the plan")
)

// Loop drives one session with a single logical worker. Cross-process
// exclusivity comes from the lock registry; a session already being run
// elsewhere fails fast with locker.ErrInFlight.
type Loop struct {
	Proc     *Processor
	Runner   agent.Runner
	Locks    *locker.Registry
	Model    string
	Timeout  time.Duration
	WorkDir  string
	Request  string // change request text, rendered into the discovery prompt
	MaxTurns int
}

// Run executes turns until the session leaves the active state or the
// turn budget is spent. It returns the final session record.
func (l *Loop) Run(ctx context.Context, project, feature string) (*session.Session, error) {
	run := func() (*session.Session, error) { return l.run(ctx, project, feature) }
	if l.Locks == nil {
		return run()
	}

	var sess *session.Session
	err := l.Locks.WithSession(project, feature, func() error {
		var runErr error
		sess, runErr = run()
		return runErr
	})
	return sess, err
}

func (l *Loop) run(ctx context.Context, project, feature string) (*session.Session, error) {
	sess, err := l.Proc.Sessions.Load(project, feature)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}

	// Close out turns a crashed run left dangling before starting new ones.
	if closed, err := l.Proc.Sessions.MarkInterrupted(project, feature); err != nil {
		return nil, err
	} else if closed > 0 {
		l.Proc.logEvent(log.LogEvent{
			Event:   log.EventTurnInterrupted,
			Project: project,
			Feature: feature,
			Reason:  fmt.Sprintf("closed %d dangling turns", closed),
		})
	}

	maxTurns := l.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	for i := 0; i < maxTurns; i++ {
		if sess.Status != session.StatusActive {
			return sess, nil
		}
		brk, err := breaker.Load(l.Proc.Docs, session.Dir(project, feature), l.Proc.Thresholds)
		if err != nil {
			return sess, err
		}
		if !brk.CanExecute() {
			sess.Status = session.StatusHalted
			if err := l.Proc.Sessions.Save(sess); err != nil {
				return sess, err
			}
			return sess, nil
		}

		decision, err := l.runTurn(ctx, sess)
		if err != nil {
			return sess, err
		}
		if decision.Action != session.OutcomeProceed {
			return sess, nil
		}
	}
	return sess, nil
}

// runTurn executes one agent turn end to end. Infrastructure failures are
// absorbed as an empty-output turn, which the breaker reads as no progress.
func (l *Loop) runTurn(ctx context.Context, sess *session.Session) (*Decision, error) {
	prompt, err := l.buildPrompt(sess)
	if err != nil {
		return nil, err
	}

	turn, err := l.Proc.Sessions.StartTurn(sess.Project, sess.Feature, sess.Stage)
	if err != nil {
		return nil, err
	}
	l.Proc.logEvent(log.LogEvent{
		Event:   log.EventTurnStarted,
		Project: sess.Project,
		Feature: sess.Feature,
		Stage:   sess.Stage.String(),
		TurnID:  turn.ID,
	})

	timeout := l.Timeout
	if timeout <= 0 {
		timeout = agent.DefaultCodingTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	result, err := l.Runner.Run(callCtx, agent.Request{
		Prompt:       prompt,
		AllowedTools: agent.CodingTools,
		ResumeToken:  sess.ResumeToken,
		WorkDir:      l.WorkDir,
		Model:        l.Model,
		Timeout:      timeout,
	})
	cancel()

	output := ""
	cost := 0.0
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: agent turn failed: %v\n", err)
	} else {
		output = result.Output
		cost = result.CostUSD
		if result.ResumeToken != "" {
			sess.ResumeToken = result.ResumeToken
		}
		if result.IsError {
			fmt.Fprintf(os.Stderr, "Warning: agent reported error: %s\n", result.ErrMessage)
		}
	}

	decision, err := l.Proc.ProcessTurn(ctx, sess, output)
	if err != nil {
		return nil, err
	}
	if err := l.Proc.Sessions.FinishTurn(sess.Project, sess.Feature, turn.ID, decision.Action, cost); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to finish turn: %v\n", err)
	}
	l.Proc.logEvent(log.LogEvent{
		Event:   log.EventTurnCompleted,
		Project: sess.Project,
		Feature: sess.Feature,
		Stage:   sess.Stage.String(),
		TurnID:  turn.ID,
		Reason:  decision.Action,
		CostUSD: cost,
	})
	return decision, nil
}

// buildPrompt renders the current stage's template against session state.
func (l *Loop) buildPrompt(sess *session.Session) (string, error) {
	comp, err := l.Proc.Sessions.LoadPlan(sess.Project, sess.Feature)
	if err != nil {
		return "", err
	}
	var flat *plan.Plan
	if comp != nil {
		flat = comp.Flat()
	} else {
		flat = &plan.Plan{}
	}

	switch sess.Stage {
	case session.StageDiscovery:
		return render(prompts.DiscoveryTemplate, map[string]string{
			"Project": sess.Project,
			"Feature": sess.Feature,
			"Request": l.Request,
		})

	case session.StagePlanReview:
		return render(prompts.PlanReviewTemplate, map[string]string{
			"Project":     sess.Project,
			"Feature":     sess.Feature,
			"PlanSummary": planSummary(flat, false),
			"Reprompt":    repromptText(sess.Reprompt),
		})

	case session.StageImplementation:
		step := plan.NextReadyStep(flat)
		if step == nil {
			return "", ErrNoReadyStep
		}
		retry := ""
		if n := stepRetries(step); n > 0 {
			retry = fmt.Sprintf("tests failing (attempt %d)", n)
		}
		return render(prompts.ImplementationTemplate, map[string]string{
			"Project":         sess.Project,
			"Feature":         sess.Feature,
			"StepID":          step.ID,
			"StepTitle":       step.Title,
			"StepDescription": step.Description,
			"RetryContext":    retry,
		})

	case session.StageChangeSubmission:
		return render(prompts.ChangeSubmissionTemplate, map[string]string{
			"Project":     sess.Project,
			"Feature":     sess.Feature,
			"PlanSummary": planSummary(flat, true),
		})

	case session.StageSubmissionReview:
		sub := sess.Submission
		if sub == nil {
			sub = &session.Submission{}
		}
		return render(prompts.SubmissionReviewTemplate, map[string]string{
			"Project":         sess.Project,
			"Feature":         sess.Feature,
			"SubmissionTitle": sub.Title,
			"SourceBranch":    sub.Source,
			"TargetBranch":    sub.Target,
		})
	}
	return "", fmt.Errorf("no prompt for stage %d", sess.Stage)
}

func render(tmpl string, data map[string]string) (string, error) {
	t, err := template.New("stage").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse stage template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render stage template: %w", err)
	}
	return b.String(), nil
}

// planSummary renders steps as one line each for prompt context.
func planSummary(flat *plan.Plan, completedOnly bool) string {
	flat.SortSteps()
	var lines []string
	for _, s := range flat.Steps {
		if completedOnly && s.Status != plan.StatusCompleted && s.Status != plan.StatusSkipped {
			continue
		}
		complexity := s.Complexity
		if complexity == "" {
			complexity = "unrated"
		}
		lines = append(lines, fmt.Sprintf("- %s [%s, %s] %s", s.ID, s.Status, complexity, s.Title))
	}
	if len(lines) == 0 {
		return "(no steps yet)"
	}
	return strings.Join(lines, "\n")
}

func repromptText(r *session.Reprompt) string {
	if r == nil {
		return ""
	}
	var lines []string
	if len(r.IncompleteSections) > 0 {
		lines = append(lines, "incomplete sections: "+strings.Join(r.IncompleteSections, ", "))
	}
	if len(r.MissingComplexity) > 0 {
		lines = append(lines, "steps missing a complexity rating: "+strings.Join(r.MissingComplexity, ", "))
	}
	if len(r.ShortDescriptions) > 0 {
		lines = append(lines, "steps with under-length descriptions: "+strings.Join(r.ShortDescriptions, ", "))
	}
	if len(r.UnmappedCriteria) > 0 {
		lines = append(lines, "acceptance criteria not mapped to any step: "+strings.Join(r.UnmappedCriteria, ", "))
	}
	return strings.Join(lines, "\n")
}
