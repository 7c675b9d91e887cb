// Package report aggregates a session's turns, plan, and event log
// into a human-readable summary.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/drydock-dev/drydock/internal/log"
	"github.com/drydock-dev/drydock/internal/plan"
	"github.com/drydock-dev/drydock/internal/session"
)

// Report holds the aggregated statistics for one session.
type Report struct {
	Project string
	Feature string
	Stage   string
	Status  string

	TotalSteps int
	StepCounts map[string]int

	Turns         int
	Interrupted   int
	Replans       int
	QuestionsOpen int
	BreakerOpens  int

	Duration time.Duration
	CostUSD  float64

	Submission *session.Submission
}

// Generate gathers the session record, plan, turn history, and log
// events into a Report. Missing pieces (no plan yet, empty log) are
// tolerated and leave their fields zeroed.
func Generate(sessions *session.Store, logger *log.Logger, project, feature string) (*Report, error) {
	sess, err := sessions.Load(project, feature)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("no session for %s/%s", project, feature)
	}

	r := &Report{
		Project:    project,
		Feature:    feature,
		Stage:      sess.Stage.String(),
		Status:     sess.Status,
		Replans:    sess.Replans,
		Submission: sess.Submission,
	}

	if p, planErr := sessions.LoadPlan(project, feature); planErr == nil && p != nil {
		flat := p.Flat()
		r.TotalSteps = len(flat.Steps)
		r.StepCounts = plan.CountByStatus(flat)
	}

	turns, err := sessions.LoadTurns(project, feature)
	if err == nil {
		r.Turns = len(turns)
		for _, t := range turns {
			r.CostUSD += t.CostUSD
			if t.Outcome == session.OutcomeInterrupted {
				r.Interrupted++
			}
		}
	}

	questions, err := sessions.LoadQuestions(project, feature)
	if err == nil {
		for _, q := range questions {
			if !q.Answered() {
				r.QuestionsOpen++
			}
		}
	}

	if logger != nil {
		if events, readErr := logger.ReadAll(); readErr == nil {
			r.Duration = spanFor(events, project, feature)
			r.BreakerOpens = countOpens(events, project, feature)
		}
	}

	return r, nil
}

// spanFor returns the wall-clock span between a session's first and
// last logged events.
func spanFor(events []log.LogEvent, project, feature string) time.Duration {
	var first, last time.Time
	for _, e := range events {
		if e.Project != project || e.Feature != feature {
			continue
		}
		if first.IsZero() || e.Time.Before(first) {
			first = e.Time
		}
		if e.Time.After(last) {
			last = e.Time
		}
	}
	if first.IsZero() {
		return 0
	}
	return last.Sub(first)
}

func countOpens(events []log.LogEvent, project, feature string) int {
	opens := 0
	for _, e := range events {
		if e.Event != log.EventBreakerTransition || e.Project != project || e.Feature != feature {
			continue
		}
		if strings.HasSuffix(e.Reason, "OPEN") || to(e) == "OPEN" {
			opens++
		}
	}
	return opens
}

func to(e log.LogEvent) string {
	if e.Data == nil {
		return ""
	}
	if v, ok := e.Data["to"].(string); ok {
		return v
	}
	return ""
}

// Format produces a terminal-friendly summary string.
func Format(r *Report) string {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString("  Drydock Session Report\n")
	b.WriteString("========================================\n\n")

	fmt.Fprintf(&b, "Session:     %s/%s\n", r.Project, r.Feature)
	fmt.Fprintf(&b, "Stage:       %s\n", r.Stage)
	fmt.Fprintf(&b, "Status:      %s\n", r.Status)
	b.WriteString("\n")

	fmt.Fprintf(&b, "Steps:       %d total\n", r.TotalSteps)
	for _, status := range []string{"completed", "in_progress", "pending", "blocked", "skipped"} {
		if n := r.StepCounts[status]; n > 0 {
			fmt.Fprintf(&b, "  %-11s %d\n", status+":", n)
		}
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Turns:       %d", r.Turns)
	if r.Interrupted > 0 {
		fmt.Fprintf(&b, " (%d interrupted)", r.Interrupted)
	}
	b.WriteString("\n")
	if r.Replans > 0 {
		fmt.Fprintf(&b, "Replans:     %d\n", r.Replans)
	}
	if r.BreakerOpens > 0 {
		fmt.Fprintf(&b, "Breaker:     opened %d time(s)\n", r.BreakerOpens)
	}
	if r.QuestionsOpen > 0 {
		fmt.Fprintf(&b, "Open questions: %d\n", r.QuestionsOpen)
	}

	if r.Duration > 0 {
		fmt.Fprintf(&b, "Duration:    %s\n", r.Duration.Round(time.Second))
	}
	if r.CostUSD > 0 {
		fmt.Fprintf(&b, "Cost:        $%.2f\n", r.CostUSD)
	}

	if r.Submission != nil {
		b.WriteString("\n")
		fmt.Fprintf(&b, "Submission:  %s\n", r.Submission.Title)
		fmt.Fprintf(&b, "  %s -> %s\n", r.Submission.Source, r.Submission.Target)
	}

	return b.String()
}
