package cleanup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// createSessionDir writes a minimal session.json under project/feature.
func createSessionDir(t *testing.T, root, project, feature, status string, updatedAt time.Time) string {
	t.Helper()
	dir := filepath.Join(root, project, feature)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("creating session dir: %v", err)
	}
	data, err := json.Marshal(map[string]interface{}{
		"status":     status,
		"updated_at": updatedAt,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "session.json"), data, 0644); err != nil {
		t.Fatalf("writing session.json: %v", err)
	}
	return dir
}

func TestPruneFinished_RemovesOldCompleted(t *testing.T) {
	root := t.TempDir()
	now := time.Now()

	old := createSessionDir(t, root, "acme", "old-feature", "completed", now.AddDate(0, 0, -60))
	recent := createSessionDir(t, root, "acme", "recent-feature", "completed", now.AddDate(0, 0, -5))

	pruned, err := PruneFinished(root, 30, false)
	if err != nil {
		t.Fatalf("PruneFinished failed: %v", err)
	}

	if len(pruned) != 1 || pruned[0] != "acme/old-feature" {
		t.Errorf("expected pruned=[acme/old-feature], got %v", pruned)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("expected %s to be deleted", old)
	}
	if _, err := os.Stat(recent); err != nil {
		t.Errorf("expected %s to still exist: %v", recent, err)
	}
}

func TestPruneFinished_KeepsActiveSessions(t *testing.T) {
	root := t.TempDir()
	now := time.Now()

	active := createSessionDir(t, root, "acme", "in-progress", "active", now.AddDate(0, 0, -90))
	waiting := createSessionDir(t, root, "acme", "parked", "awaiting_user", now.AddDate(0, 0, -90))

	pruned, err := PruneFinished(root, 30, false)
	if err != nil {
		t.Fatalf("PruneFinished failed: %v", err)
	}

	if len(pruned) != 0 {
		t.Errorf("expected no pruned dirs, got %v", pruned)
	}
	for _, dir := range []string{active, waiting} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("expected %s to still exist: %v", dir, err)
		}
	}
}

func TestPruneFinished_DryRun(t *testing.T) {
	root := t.TempDir()
	old := createSessionDir(t, root, "acme", "stale", "abandoned", time.Now().AddDate(0, 0, -60))

	pruned, err := PruneFinished(root, 30, true)
	if err != nil {
		t.Fatalf("PruneFinished dry-run failed: %v", err)
	}

	if len(pruned) != 1 || pruned[0] != "acme/stale" {
		t.Errorf("expected pruned=[acme/stale], got %v", pruned)
	}
	if _, err := os.Stat(old); err != nil {
		t.Errorf("expected %s to still exist in dry-run: %v", old, err)
	}
}

func TestPruneFinished_SkipsUnparseableDirs(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "acme", "no-session")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	pruned, err := PruneFinished(root, 1, false)
	if err != nil {
		t.Fatalf("PruneFinished failed: %v", err)
	}
	if len(pruned) != 0 {
		t.Errorf("expected no pruned dirs, got %v", pruned)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected %s to still exist: %v", dir, err)
	}
}

func TestPruneFinished_RemovesEmptyProjectDir(t *testing.T) {
	root := t.TempDir()
	createSessionDir(t, root, "acme", "only-one", "completed", time.Now().AddDate(0, 0, -60))

	if _, err := PruneFinished(root, 30, false); err != nil {
		t.Fatalf("PruneFinished failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "acme")); !os.IsNotExist(err) {
		t.Error("expected empty project directory to be removed")
	}
}

func TestPruneFinished_NonexistentDir(t *testing.T) {
	pruned, err := PruneFinished(filepath.Join(t.TempDir(), "missing"), 30, false)
	if err != nil {
		t.Fatalf("expected nil error for nonexistent dir, got: %v", err)
	}
	if len(pruned) != 0 {
		t.Errorf("expected empty pruned list, got %v", pruned)
	}
}
