package plan

import "testing"

func TestIsImplementationComplete(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     bool
	}{
		{"empty plan", nil, false},
		{"all completed", []string{StatusCompleted, StatusCompleted}, true},
		{"completed and skipped", []string{StatusCompleted, StatusSkipped, StatusCompleted}, true},
		{"one pending", []string{StatusCompleted, StatusPending}, false},
		{"one blocked", []string{StatusCompleted, StatusBlocked}, false},
		{"needs review", []string{StatusNeedsReview}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Plan{}
			for i, st := range tt.statuses {
				p.Steps = append(p.Steps, Step{ID: string(rune('a' + i)), Status: st})
			}
			if got := IsImplementationComplete(p); got != tt.want {
				t.Errorf("IsImplementationComplete = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsApproved(t *testing.T) {
	p := &Plan{}
	if IsApproved(p, 0, 0) {
		t.Error("no questions and no flag should not be approved")
	}
	if !IsApproved(p, 3, 3) {
		t.Error("all questions answered should be approved")
	}
	if IsApproved(p, 3, 2) {
		t.Error("unanswered questions should not be approved")
	}
	p.Approved = true
	if !IsApproved(p, 0, 0) {
		t.Error("explicit flag should approve regardless of questions")
	}
}

func TestNextReadyStepPrefersLowComplexity(t *testing.T) {
	p := &Plan{Steps: []Step{
		{ID: "s1", OrderIndex: 0, Status: StatusPending, Complexity: ComplexityHigh},
		{ID: "s2", OrderIndex: 1, Status: StatusPending, Complexity: ComplexityLow},
		{ID: "s3", OrderIndex: 2, Status: StatusPending}, // unrated = medium
	}}
	got := NextReadyStep(p)
	if got == nil || got.ID != "s2" {
		t.Fatalf("NextReadyStep = %v, want s2", got)
	}
}

func TestNextReadyStepTieBreakOrderIndex(t *testing.T) {
	p := &Plan{Steps: []Step{
		{ID: "s2", OrderIndex: 5, Status: StatusPending, Complexity: ComplexityLow},
		{ID: "s1", OrderIndex: 1, Status: StatusPending, Complexity: ComplexityLow},
	}}
	got := NextReadyStep(p)
	if got == nil || got.ID != "s1" {
		t.Fatalf("NextReadyStep = %v, want s1", got)
	}
}

func TestNextReadyStepWaitsForParent(t *testing.T) {
	p := &Plan{Steps: []Step{
		{ID: "parent", OrderIndex: 0, Status: StatusInProgress},
		{ID: "child", ParentID: "parent", OrderIndex: 1, Status: StatusPending},
	}}
	if got := NextReadyStep(p); got != nil {
		t.Errorf("NextReadyStep = %v, want nil while parent in progress", got)
	}

	p.Steps[0].Status = StatusCompleted
	got := NextReadyStep(p)
	if got == nil || got.ID != "child" {
		t.Fatalf("NextReadyStep = %v, want child after parent completes", got)
	}
}

func TestNextReadyStepUnratedTreatedAsMedium(t *testing.T) {
	p := &Plan{Steps: []Step{
		{ID: "unrated", OrderIndex: 0, Status: StatusPending},
		{ID: "high", OrderIndex: 1, Status: StatusPending, Complexity: ComplexityHigh},
	}}
	got := NextReadyStep(p)
	if got == nil || got.ID != "unrated" {
		t.Fatalf("NextReadyStep = %v, want unrated (medium beats high)", got)
	}
}

func TestHashContentStable(t *testing.T) {
	a := HashContent("title", "description")
	b := HashContent("title", "description")
	if a != b {
		t.Error("hash is not deterministic")
	}
	if a == HashContent("title", "other") {
		t.Error("hash ignores description")
	}
	// Concatenation boundary must matter.
	if HashContent("ab", "c") == HashContent("a", "bc") {
		t.Error("hash collides across the title/description boundary")
	}
}
