package processor

import (
	"context"
	"strings"
	"testing"

	"github.com/drydock-dev/drydock/internal/agent"
	"github.com/drydock-dev/drydock/internal/marker"
	"github.com/drydock-dev/drydock/internal/plan"
	"github.com/drydock-dev/drydock/internal/session"
	"github.com/drydock-dev/drydock/internal/storage"
	"github.com/drydock-dev/drydock/internal/verify"
)

// fixedRunner answers every verification prompt with the same output.
type fixedRunner struct {
	output string
}

func (f *fixedRunner) Run(ctx context.Context, req agent.Request) (*agent.Result, error) {
	return &agent.Result{Output: f.output}, nil
}

// fakeGit is a canned version-control inspector.
type fakeGit struct {
	rev       string
	hasNewRev bool
}

func (g *fakeGit) CurrentRevision() (string, error)            { return g.rev, nil }
func (g *fakeGit) HasNewRevisionSince(rev string) (bool, error) { return g.hasNewRev, nil }

func newTestProcessor(t *testing.T) (*Processor, *session.Store) {
	t.Helper()
	docs := storage.NewFileStore(t.TempDir())
	sessions := session.NewStore(docs)
	p := New(sessions, docs, nil)
	p.Git = &fakeGit{rev: "abc123", hasNewRev: true}
	return p, sessions
}

func startSession(t *testing.T, sessions *session.Store, stage session.Stage) *session.Session {
	t.Helper()
	sess, err := sessions.Create("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	sess.Stage = stage
	if err := sessions.Save(sess); err != nil {
		t.Fatal(err)
	}
	return sess
}

// longDesc pads a description past the completeness validator's minimum.
func longDesc(s string) string {
	return s + strings.Repeat(" with additional detail", 3)
}

func savePlan(t *testing.T, sessions *session.Store, steps ...plan.Step) {
	t.Helper()
	c := plan.FromLegacy(&plan.Plan{Title: "Widgets", Steps: steps})
	if err := sessions.SavePlan("acme", "widgets", c); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoveryTurnCreatesPlanAndAdvances(t *testing.T) {
	p, sessions := newTestProcessor(t)
	sess := startSession(t, sessions, session.StageDiscovery)

	output := `Plan drafted.
[STEP id=s1 complexity=low]
Set up schema
` + longDesc("Create the initial database schema for widgets") + `
[/STEP]
[STEP id=s2 parent=s1 complexity=medium]
Add endpoints
` + longDesc("Expose the widget CRUD endpoints over the API") + `
[/STEP]
[STATUS]
step: s1
status: ok
files_modified: 2
[/STATUS]`

	d, err := p.ProcessTurn(context.Background(), sess, output)
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if d.Action != session.OutcomeProceed {
		t.Errorf("action = %q, want proceed", d.Action)
	}
	if !d.StageAdvanced || sess.Stage != session.StagePlanReview {
		t.Errorf("stage = %v, want plan_review", sess.Stage)
	}

	c, err := sessions.LoadPlan("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || len(c.Steps) != 2 {
		t.Fatalf("plan = %+v, want 2 steps", c)
	}
	if c.Steps[0].Status != plan.StatusPending {
		t.Errorf("new step status = %q, want pending", c.Steps[0].Status)
	}
}

func TestMergeLeavesExistingStepsUntouched(t *testing.T) {
	p, sessions := newTestProcessor(t)
	sess := startSession(t, sessions, session.StageDiscovery)
	savePlan(t, sessions, plan.Step{
		ID: "s1", OrderIndex: 0, Title: "original", Status: plan.StatusInProgress,
	})

	output := `[STEP id=s1]
Renamed title that must not apply
[/STEP]
[STEP id=s2]
Brand new step
It does something else entirely.
[/STEP]`

	if _, err := p.ProcessTurn(context.Background(), sess, output); err != nil {
		t.Fatal(err)
	}

	c, err := sessions.LoadPlan("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	s1 := c.Flat().FindStep("s1")
	if s1.Title != "original" || s1.Status != plan.StatusInProgress {
		t.Errorf("existing step clobbered: %+v", s1)
	}
	s2 := c.Flat().FindStep("s2")
	if s2 == nil {
		t.Fatal("new step not appended")
	}
	if s2.OrderIndex <= s1.OrderIndex {
		t.Errorf("new step order %d not after existing %d", s2.OrderIndex, s1.OrderIndex)
	}
}

func TestMergeRejectsUnknownParent(t *testing.T) {
	p, sessions := newTestProcessor(t)
	sess := startSession(t, sessions, session.StageDiscovery)
	savePlan(t, sessions, plan.Step{
		ID: "s1", OrderIndex: 0, Title: "original", Status: plan.StatusPending,
	})

	// s2 hangs off a step that exists nowhere; it could never become
	// ready, so the proposal bounces back as a re-prompt.
	output := `[STEP id=s2 parent=ghost]
Orphaned step
It depends on a parent that does not exist.
[/STEP]
[STEP id=s3 parent=s1]
Valid child
Its parent is already in the plan.
[/STEP]`

	d, err := p.ProcessTurn(context.Background(), sess, output)
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != session.OutcomeReprompt {
		t.Errorf("action = %q, want re_prompt", d.Action)
	}
	if len(d.ValidationErrors) != 1 || !strings.Contains(d.ValidationErrors[0], "ghost") {
		t.Errorf("validation errors = %v, want unknown-parent error", d.ValidationErrors)
	}

	c, err := sessions.LoadPlan("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	flat := c.Flat()
	if flat.FindStep("s2") != nil {
		t.Error("orphaned step was persisted")
	}
	if flat.FindStep("s3") == nil {
		t.Error("valid sibling proposal was dropped")
	}
}

func TestMergeAcceptsParentFromSameBatch(t *testing.T) {
	flat := &plan.Plan{}
	output := `[STEP id=child parent=root]
Child first
The child appears before its parent in the same reply.
[/STEP]
[STEP id=root]
Root step
The parent arrives later in the batch.
[/STEP]`

	added, errs := mergeSteps(flat, output)
	if len(errs) != 0 {
		t.Fatalf("errs = %v, want none", errs)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}
}

func TestBlockerBypassesVerification(t *testing.T) {
	p, sessions := newTestProcessor(t)
	// A verifier that filters everything: the blocker must still surface.
	p.Verifier = verify.New(&fixedRunner{output: `{"action": "filter", "reason": "noise"}`})
	sess := startSession(t, sessions, session.StageImplementation)
	savePlan(t, sessions, plan.Step{ID: "s1", Title: "step", Status: plan.StatusPending})

	output := `[CONCERN priority=1 blocker=true]
The migration cannot run: the target table is owned by another team.
[/CONCERN]
[CONCERN priority=3]
Minor style question.
[/CONCERN]
[STATUS]
step: s1
status: ok
files_modified: 1
[/STATUS]`

	d, err := p.ProcessTurn(context.Background(), sess, output)
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != session.OutcomeNeedInput {
		t.Errorf("action = %q, want need_input", d.Action)
	}
	if len(d.Blockers) != 1 {
		t.Fatalf("blockers = %d, want 1", len(d.Blockers))
	}
	if sess.Status != session.StatusAwaitingUser {
		t.Errorf("session status = %q, want awaiting_user", sess.Status)
	}

	// Only the blocker survives: the other concern was filtered.
	qs, err := sessions.LoadQuestions("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	if len(qs) != 1 || !qs[0].Blocker {
		t.Errorf("questions = %+v, want the blocker only", qs)
	}
}

func TestPlanReviewIncompleteAttachesReprompt(t *testing.T) {
	p, sessions := newTestProcessor(t)
	p.Criteria = []string{"widgets can be listed"}
	sess := startSession(t, sessions, session.StagePlanReview)
	// No complexity, short description: two completeness failures.
	savePlan(t, sessions, plan.Step{ID: "s1", Title: "step", Description: "short", Status: plan.StatusPending})

	d, err := p.ProcessTurn(context.Background(), sess, "Reviewed the plan, looks fine to me.")
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != session.OutcomeReprompt {
		t.Errorf("action = %q, want re_prompt", d.Action)
	}
	if sess.Reprompt == nil {
		t.Fatal("no reprompt context attached")
	}
	if len(sess.Reprompt.MissingComplexity) != 1 || sess.Reprompt.MissingComplexity[0] != "s1" {
		t.Errorf("missing complexity = %v, want [s1]", sess.Reprompt.MissingComplexity)
	}
	if len(sess.Reprompt.UnmappedCriteria) != 1 {
		t.Errorf("unmapped criteria = %v", sess.Reprompt.UnmappedCriteria)
	}
	if sess.Stage != session.StagePlanReview {
		t.Errorf("stage advanced despite incomplete plan")
	}
}

func TestPlanReviewCompleteAndApprovedAdvances(t *testing.T) {
	p, sessions := newTestProcessor(t)
	sess := startSession(t, sessions, session.StagePlanReview)

	c := &plan.Composable{
		Metadata: plan.Metadata{Title: "Widgets"},
		Steps: []plan.Step{{
			ID: "s1", Title: "step", Status: plan.StatusPending,
			Complexity:  plan.ComplexityLow,
			Description: longDesc("Implement the widget listing endpoint"),
		}},
		Sections: map[string]plan.SectionState{},
	}
	if err := sessions.SavePlan("acme", "widgets", c); err != nil {
		t.Fatal(err)
	}

	// One answered planning question makes the oracle approve.
	qs, err := sessions.AddQuestions("acme", "widgets", session.StagePlanReview, concernList("Use soft deletes?"))
	if err != nil {
		t.Fatal(err)
	}
	if err := sessions.AnswerQuestion("acme", "widgets", qs[0].ID, "yes"); err != nil {
		t.Fatal(err)
	}

	d, err := p.ProcessTurn(context.Background(), sess, `[STATUS]
step: s1
status: ok
files_modified: 1
[/STATUS]`)
	if err != nil {
		t.Fatal(err)
	}
	if !d.StageAdvanced || sess.Stage != session.StageImplementation {
		t.Errorf("stage = %v, want implementation", sess.Stage)
	}
	if sess.Reprompt != nil {
		t.Error("reprompt context not cleared")
	}
	if sess.BaselineRev != "abc123" {
		t.Errorf("baseline revision = %q, want abc123", sess.BaselineRev)
	}

	got, err := sessions.LoadPlan("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Metadata.Approved {
		t.Error("plan not marked approved")
	}
}

func TestPlanReviewWithoutQuestionsParksForApproval(t *testing.T) {
	p, sessions := newTestProcessor(t)
	sess := startSession(t, sessions, session.StagePlanReview)

	c := &plan.Composable{
		Metadata: plan.Metadata{Title: "Widgets"},
		Steps: []plan.Step{{
			ID: "s1", Title: "step", Status: plan.StatusPending,
			Complexity:  plan.ComplexityLow,
			Description: longDesc("Implement the widget listing endpoint"),
		}},
		Sections: map[string]plan.SectionState{},
	}
	if err := sessions.SavePlan("acme", "widgets", c); err != nil {
		t.Fatal(err)
	}

	cleanTurn := `[NO-CONCERNS]
[STATUS]
step: s1
status: ok
files_modified: 1
[/STATUS]`

	// A complete plan with zero planning questions must not loop: the
	// review parks on a synthetic approval question instead.
	d, err := p.ProcessTurn(context.Background(), sess, cleanTurn)
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != session.OutcomeNeedInput {
		t.Fatalf("action = %q, want need_input", d.Action)
	}
	if sess.Status != session.StatusAwaitingUser {
		t.Errorf("status = %q, want awaiting_user", sess.Status)
	}
	if sess.Stage != session.StagePlanReview {
		t.Errorf("stage = %v, want plan_review", sess.Stage)
	}

	qs, err := sessions.LoadQuestions("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	if len(qs) != 1 || qs[0].Category != "plan_approval" {
		t.Fatalf("questions = %+v, want one plan_approval question", qs)
	}

	// Answering the approval question unblocks the next review turn.
	if err := sessions.AnswerQuestion("acme", "widgets", qs[0].ID, "yes"); err != nil {
		t.Fatal(err)
	}
	sess.Status = session.StatusActive
	d, err = p.ProcessTurn(context.Background(), sess, cleanTurn)
	if err != nil {
		t.Fatal(err)
	}
	if !d.StageAdvanced || sess.Stage != session.StageImplementation {
		t.Errorf("stage = %v, want implementation", sess.Stage)
	}

	got, err := sessions.LoadPlan("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Metadata.Approved {
		t.Error("plan not marked approved")
	}

	// No second approval question piles up.
	qs, err = sessions.LoadQuestions("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	if len(qs) != 1 {
		t.Errorf("questions = %d, want 1", len(qs))
	}
}

func TestPlanReviewAwaitsUnansweredQuestions(t *testing.T) {
	p, sessions := newTestProcessor(t)
	sess := startSession(t, sessions, session.StagePlanReview)
	c := &plan.Composable{
		Metadata: plan.Metadata{Title: "Widgets"},
		Steps: []plan.Step{{
			ID: "s1", Title: "step", Status: plan.StatusPending,
			Complexity:  plan.ComplexityLow,
			Description: longDesc("Implement the widget listing endpoint"),
		}},
		Sections: map[string]plan.SectionState{},
	}
	if err := sessions.SavePlan("acme", "widgets", c); err != nil {
		t.Fatal(err)
	}
	if _, err := sessions.AddQuestions("acme", "widgets", session.StagePlanReview, concernList("Use soft deletes?")); err != nil {
		t.Fatal(err)
	}

	d, err := p.ProcessTurn(context.Background(), sess, `[STATUS]
step: s1
status: ok
files_modified: 1
[/STATUS]`)
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != session.OutcomeNeedInput {
		t.Errorf("action = %q, want need_input", d.Action)
	}
	if sess.Stage != session.StagePlanReview {
		t.Error("stage advanced without approval")
	}
}

func TestImplementationCompletionAndAdvance(t *testing.T) {
	p, sessions := newTestProcessor(t)
	sess := startSession(t, sessions, session.StageImplementation)
	sess.BaselineRev = "abc123"
	savePlan(t, sessions,
		plan.Step{ID: "s1", Title: "one", Status: plan.StatusCompleted},
		plan.Step{ID: "s2", Title: "two", Status: plan.StatusInProgress, Metadata: map[string]interface{}{"retries": float64(2)}},
	)

	output := `[STEP-COMPLETE]
step: s2
status: completed
commit: def456
summary: endpoints added
[/STEP-COMPLETE]
[STATUS]
step: s2
status: ok
files_modified: 3
tests: passing
[/STATUS]
[IMPLEMENTATION-COMPLETE]`

	d, err := p.ProcessTurn(context.Background(), sess, output)
	if err != nil {
		t.Fatal(err)
	}
	if !d.StageAdvanced || sess.Stage != session.StageChangeSubmission {
		t.Errorf("stage = %v, want change_submission", sess.Stage)
	}

	c, err := sessions.LoadPlan("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	s2 := c.Flat().FindStep("s2")
	if s2.Status != plan.StatusCompleted {
		t.Errorf("s2 status = %q, want completed", s2.Status)
	}
	if s2.ContentHash == "" {
		t.Error("content hash not recomputed on completion")
	}
	if _, ok := s2.Metadata["retries"]; ok {
		t.Error("retry counter not cleared on completion")
	}
	if s2.Metadata["commit"] != "def456" {
		t.Errorf("commit metadata = %v", s2.Metadata["commit"])
	}
	if s2.Metadata["corroborated"] != true {
		t.Error("completion not corroborated despite new revision")
	}
}

func TestSelfReportNeverCompletesStage(t *testing.T) {
	p, sessions := newTestProcessor(t)
	sess := startSession(t, sessions, session.StageImplementation)
	savePlan(t, sessions,
		plan.Step{ID: "s1", Title: "one", Status: plan.StatusCompleted},
		plan.Step{ID: "s2", Title: "two", Status: plan.StatusPending},
	)

	_, err := p.ProcessTurn(context.Background(), sess, `[IMPLEMENTATION-COMPLETE]
[STATUS]
step: s2
status: ok
files_modified: 1
[/STATUS]`)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Stage != session.StageImplementation {
		t.Error("stage advanced on self-report with a pending step")
	}
}

func TestRetryCeilingBlocksStep(t *testing.T) {
	p, sessions := newTestProcessor(t)
	p.RetryCeiling = 3
	sess := startSession(t, sessions, session.StageImplementation)
	savePlan(t, sessions, plan.Step{ID: "s1", Title: "one", Status: plan.StatusInProgress})

	failing := `[STATUS]
step: s1
status: ok
files_modified: 2
tests: failing
[/STATUS]`

	var d *Decision
	var err error
	for i := 0; i < 3; i++ {
		d, err = p.ProcessTurn(context.Background(), sess, failing)
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}

	c, err := sessions.LoadPlan("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	s1 := c.Flat().FindStep("s1")
	if s1.Status != plan.StatusBlocked {
		t.Errorf("step status = %q, want blocked after ceiling", s1.Status)
	}
	if len(d.Blockers) != 1 {
		t.Errorf("blockers = %d, want blocked-step question", len(d.Blockers))
	}
	if d.Action != session.OutcomeNeedInput {
		t.Errorf("action = %q, want need_input", d.Action)
	}
}

func TestInvalidModificationIsRejected(t *testing.T) {
	p, sessions := newTestProcessor(t)
	sess := startSession(t, sessions, session.StageImplementation)
	savePlan(t, sessions, plan.Step{ID: "s1", Title: "one", Status: plan.StatusPending})

	d, err := p.ProcessTurn(context.Background(), sess, `[PLAN-MODIFICATION]
removed: ["ghost"]
[/PLAN-MODIFICATION]
[STATUS]
step: s1
status: ok
files_modified: 1
[/STATUS]`)
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != session.OutcomeReprompt {
		t.Errorf("action = %q, want re_prompt", d.Action)
	}
	if len(d.ValidationErrors) == 0 {
		t.Error("no validation errors carried on the decision")
	}

	c, err := sessions.LoadPlan("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Flat().HasStep("s1") {
		t.Error("plan mutated by an invalid modification set")
	}
}

func TestRemovalCascades(t *testing.T) {
	p, sessions := newTestProcessor(t)
	sess := startSession(t, sessions, session.StageImplementation)
	savePlan(t, sessions,
		plan.Step{ID: "a", Title: "a", Status: plan.StatusPending},
		plan.Step{ID: "b", ParentID: "a", Title: "b", Status: plan.StatusPending},
		plan.Step{ID: "c", ParentID: "b", Title: "c", Status: plan.StatusPending},
		plan.Step{ID: "d", Title: "d", Status: plan.StatusPending},
	)

	_, err := p.ProcessTurn(context.Background(), sess, `[REMOVE-STEPS]
a
[/REMOVE-STEPS]
[STATUS]
step: d
status: ok
files_modified: 1
[/STATUS]`)
	if err != nil {
		t.Fatal(err)
	}

	c, err := sessions.LoadPlan("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	flat := c.Flat()
	for _, id := range []string{"a", "b", "c"} {
		if flat.HasStep(id) {
			t.Errorf("step %q survived cascade removal", id)
		}
	}
	if !flat.HasStep("d") {
		t.Error("unrelated step removed")
	}
	if sess.Replans != 1 {
		t.Errorf("replans = %d, want 1", sess.Replans)
	}
}

func TestBreakerHaltDominates(t *testing.T) {
	p, sessions := newTestProcessor(t)
	sess := startSession(t, sessions, session.StageImplementation)
	savePlan(t, sessions, plan.Step{ID: "s1", Title: "one", Status: plan.StatusPending})

	// No status block: each turn reads as a no-progress loop.
	var d *Decision
	var err error
	for i := 0; i < 3; i++ {
		d, err = p.ProcessTurn(context.Background(), sess, "thinking...")
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}

	if d.Action != session.OutcomeHalt {
		t.Errorf("action = %q, want halt", d.Action)
	}
	if sess.Status != session.StatusHalted {
		t.Errorf("session status = %q, want halted", sess.Status)
	}
	if !strings.Contains(strings.ToLower(d.Reason), "progress") {
		t.Errorf("halt reason %q does not mention progress", d.Reason)
	}
}

func TestSubmissionAdvancesStage(t *testing.T) {
	p, sessions := newTestProcessor(t)
	sess := startSession(t, sessions, session.StageChangeSubmission)
	savePlan(t, sessions, plan.Step{ID: "s1", Title: "one", Status: plan.StatusCompleted})

	d, err := p.ProcessTurn(context.Background(), sess, `[SUBMISSION-CREATED]
title: Add widgets
source: drydock/widgets
target: main
[/SUBMISSION-CREATED]
[STATUS]
step: s1
status: ok
files_modified: 1
[/STATUS]`)
	if err != nil {
		t.Fatal(err)
	}
	if !d.StageAdvanced || sess.Stage != session.StageSubmissionReview {
		t.Errorf("stage = %v, want submission_review", sess.Stage)
	}
}

func TestCleanReviewCompletesSession(t *testing.T) {
	p, sessions := newTestProcessor(t)
	sess := startSession(t, sessions, session.StageSubmissionReview)
	savePlan(t, sessions, plan.Step{ID: "s1", Title: "one", Status: plan.StatusCompleted})

	d, err := p.ProcessTurn(context.Background(), sess, `Review passed.
[NO-CONCERNS]
[STATUS]
step: s1
status: ok
files_modified: 1
[/STATUS]`)
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != session.OutcomeProceed {
		t.Errorf("action = %q, want proceed", d.Action)
	}
	if sess.Status != session.StatusCompleted {
		t.Errorf("session status = %q, want completed", sess.Status)
	}
	if sess.ClosedAt == nil {
		t.Error("ClosedAt not stamped")
	}
}

func concernList(texts ...string) []marker.Concern {
	var out []marker.Concern
	for _, t := range texts {
		out = append(out, marker.Concern{Text: t, Priority: 2})
	}
	return out
}
