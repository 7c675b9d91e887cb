package tui

import (
	"strings"
	"testing"

	"github.com/drydock-dev/drydock/internal/marker"
	"github.com/drydock-dev/drydock/internal/session"
	"github.com/drydock-dev/drydock/internal/storage"
)

func TestViewBeforeFirstTurn(t *testing.T) {
	sessions := session.NewStore(storage.NewFileStore(t.TempDir()))
	m, err := New(sessions, "acme", "widgets", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	view := m.View()
	if !strings.Contains(view, "waiting for the first turn") {
		t.Errorf("view missing placeholder:\n%s", view)
	}
}

func TestViewShowsStatusAndQuestions(t *testing.T) {
	sessions := session.NewStore(storage.NewFileStore(t.TempDir()))
	if _, err := sessions.Create("acme", "widgets"); err != nil {
		t.Fatal(err)
	}
	err := sessions.WriteStatus(&session.StatusSummary{
		SessionID:    "abc",
		Project:      "acme",
		Feature:      "widgets",
		Stage:        "implementation",
		Status:       session.StatusActive,
		BreakerState: "HALF_OPEN",
		StepCounts:   map[string]int{"pending": 2, "completed": 1},
		CurrentStep:  "s3",
	})
	if err != nil {
		t.Fatal(err)
	}
	qs, err := sessions.AddQuestions("acme", "widgets", session.StageImplementation, []marker.Concern{
		{Priority: 2, Text: "Keep the old index?"},
	})
	if err != nil {
		t.Fatal(err)
	}

	m, err := New(sessions, "acme", "widgets", "")
	if err != nil {
		t.Fatal(err)
	}

	view := m.View()
	for _, want := range []string{"implementation", "HALF_OPEN", "s3", "pending", "Keep the old index?"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	// Answer the question; a reload drops it from the open list.
	if err := sessions.AnswerQuestion("acme", "widgets", qs[0].ID, "yes"); err != nil {
		t.Fatal(err)
	}
	m.reload()
	if strings.Contains(m.View(), "open questions") {
		t.Error("answered question still listed as open")
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q", got)
	}
}
