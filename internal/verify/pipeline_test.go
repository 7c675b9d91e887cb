package verify

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/drydock-dev/drydock/internal/agent"
	"github.com/drydock-dev/drydock/internal/marker"
	"github.com/drydock-dev/drydock/internal/plan"
)

// scriptedRunner answers each prompt by matching a substring of the
// concern text embedded in it.
type scriptedRunner struct {
	responses map[string]string // concern substring -> raw agent output
	err       error
	calls     atomic.Int64
}

func (s *scriptedRunner) Run(ctx context.Context, req agent.Request) (*agent.Result, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	for needle, response := range s.responses {
		if strings.Contains(req.Prompt, needle) {
			return &agent.Result{Output: response}, nil
		}
	}
	return &agent.Result{Output: `{"action": "pass", "reason": "default"}`}, nil
}

func concernsOf(texts ...string) []marker.Concern {
	var out []marker.Concern
	for _, t := range texts {
		out = append(out, marker.Concern{Text: t, Priority: 2})
	}
	return out
}

func TestVerifyBatchCounts(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{
		"question one":   `{"action": "pass", "reason": "relevant"}`,
		"question two":   `Sure! {"action": "pass", "reason": "also relevant"}`,
		"question three": `{"action": "filter", "reason": "noise"}`,
	}}
	p := New(runner)

	log := p.VerifyBatch(context.Background(), concernsOf("question one", "question two", "question three"), nil)

	if log.Passed != 2 || log.Filtered != 1 || log.Repurposed != 0 {
		t.Errorf("counts = %d/%d/%d, want 2/1/0", log.Passed, log.Filtered, log.Repurposed)
	}
	if got := len(log.Surviving()); got != 2 {
		t.Errorf("surviving = %d, want 2", got)
	}
	if log.Passed+log.Filtered+log.Repurposed != log.Total {
		t.Error("counts do not sum to total")
	}
	// Results stay index-correlated with the input despite concurrency.
	for i, r := range log.Results {
		if r.Index != i {
			t.Errorf("result %d has index %d", i, r.Index)
		}
	}
	if log.Results[2].Action != ActionFilter {
		t.Errorf("result order broken: %+v", log.Results)
	}
}

func TestInfrastructureFailureResolvesToPass(t *testing.T) {
	runner := &scriptedRunner{err: errors.New("agent timed out after 5m0s: context deadline exceeded")}
	p := New(runner)

	log := p.VerifyBatch(context.Background(), concernsOf("is this safe?"), nil)

	r := log.Results[0]
	if r.Action != ActionPass {
		t.Errorf("action = %q, want pass on infrastructure failure", r.Action)
	}
	if !r.Fallback {
		t.Error("fallback flag not set")
	}
	if !strings.Contains(r.Reason, "timed out") {
		t.Errorf("reason = %q, want it to mention the timeout", r.Reason)
	}
	if log.Passed != 1 {
		t.Errorf("Passed = %d, want 1", log.Passed)
	}
}

func TestUnparsableOutputResolvesToPass(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{
		"anything": "I could not decide, sorry.",
	}}
	p := New(runner)

	log := p.VerifyBatch(context.Background(), concernsOf("anything"), nil)
	if log.Results[0].Action != ActionPass || !log.Results[0].Fallback {
		t.Errorf("result = %+v, want conservative pass", log.Results[0])
	}
}

func TestRepurposeWithReplacements(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{
		"vague": `{"action": "repurpose", "reason": "too broad", "replacements": [{"text": "Should X use Y?", "priority": 1}, {"text": "Is Z required?", "priority": 2}]}`,
	}}
	p := New(runner)

	log := p.VerifyBatch(context.Background(), concernsOf("vague question"), nil)
	if log.Repurposed != 1 || log.Filtered != 0 {
		t.Errorf("counts = %+v", log)
	}
	if got := len(log.Surviving()); got != 2 {
		t.Errorf("surviving = %d, want the 2 replacements", got)
	}
}

func TestRepurposeWithoutReplacementsCountsAsFiltered(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{
		"empty": `{"action": "repurpose", "reason": "redundant", "replacements": []}`,
	}}
	p := New(runner)

	log := p.VerifyBatch(context.Background(), concernsOf("empty repurpose"), nil)
	if log.Filtered != 1 || log.Repurposed != 0 {
		t.Errorf("counts = %+v, want empty repurpose counted as filtered", log)
	}
	if len(log.Surviving()) != 0 {
		t.Error("empty repurpose should not survive")
	}
}

func TestDuplicateConcernsShareOneCall(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{
		"dup": `{"action": "filter", "reason": "noise"}`,
	}}
	p := New(runner)

	log := p.VerifyBatch(context.Background(), concernsOf("dup", "dup", "dup"), nil)
	if log.Filtered != 3 {
		t.Errorf("Filtered = %d, want all 3 duplicates filtered", log.Filtered)
	}
	if calls := runner.calls.Load(); calls != 1 {
		t.Errorf("agent calls = %d, want 1 for identical concerns", calls)
	}
}

func TestPromptCarriesPlanAndGuidance(t *testing.T) {
	var captured string
	runner := &captureRunner{capture: &captured}
	p := New(runner)
	p.Prefs.RiskTolerance = RiskLow

	currentPlan := &plan.Plan{Steps: []plan.Step{
		{ID: "s1", Status: plan.StatusInProgress, Title: "wire the loader"},
		{ID: "s0", Status: plan.StatusCompleted, Title: "done already"},
	}}

	_ = p.VerifyBatch(context.Background(), concernsOf("does the loader handle empty files?"), currentPlan)

	if !strings.Contains(captured, "wire the loader") {
		t.Error("prompt missing active plan step")
	}
	if strings.Contains(captured, "done already") {
		t.Error("prompt includes completed step")
	}
	if !strings.Contains(captured, "risk-averse") {
		t.Error("prompt missing risk guidance")
	}
}

type captureRunner struct {
	capture *string
}

func (c *captureRunner) Run(ctx context.Context, req agent.Request) (*agent.Result, error) {
	*c.capture = req.Prompt
	if len(req.AllowedTools) != 3 {
		return nil, errors.New("verification must run with read-only tools")
	}
	return &agent.Result{Output: `{"action": "pass", "reason": "ok"}`}, nil
}

func TestLegacyBooleanShape(t *testing.T) {
	v, err := ParseVerdict(`prose before {"valid": false, "reason": "obsolete"} prose after`)
	if err != nil {
		t.Fatal(err)
	}
	if v.Action != ActionFilter || v.Reason != "obsolete" {
		t.Errorf("verdict = %+v", v)
	}

	v, err = ParseVerdict(`{"valid": true, "reason": "keep"}`)
	if err != nil || v.Action != ActionPass {
		t.Errorf("verdict = %+v, err = %v", v, err)
	}
}

func TestParseVerdictSkipsNonVerdictObjects(t *testing.T) {
	out := `The step config is {"timeout": 30} but my verdict is {"action": "FILTER", "reason": "case-insensitive"}`
	v, err := ParseVerdict(out)
	if err != nil {
		t.Fatal(err)
	}
	if v.Action != ActionFilter {
		t.Errorf("action = %q", v.Action)
	}
}
