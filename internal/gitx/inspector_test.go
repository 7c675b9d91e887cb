package gitx

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func gitAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-m", "first")
	return dir
}

func commitFile(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{{"add", "."}, {"commit", "-m", "more"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
}

func TestCurrentRevision(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not installed")
	}
	dir := initRepo(t)
	c := &CLI{WorkDir: dir}

	rev, err := c.CurrentRevision()
	if err != nil {
		t.Fatalf("CurrentRevision: %v", err)
	}
	if len(rev) < 7 {
		t.Errorf("revision %q too short", rev)
	}
}

func TestHasNewRevisionSince(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not installed")
	}
	dir := initRepo(t)
	c := &CLI{WorkDir: dir}

	rev, err := c.CurrentRevision()
	if err != nil {
		t.Fatal(err)
	}

	newer, err := c.HasNewRevisionSince(rev)
	if err != nil {
		t.Fatalf("HasNewRevisionSince: %v", err)
	}
	if newer {
		t.Error("no commits since baseline, want false")
	}

	commitFile(t, dir, "b.txt")

	newer, err = c.HasNewRevisionSince(rev)
	if err != nil {
		t.Fatal(err)
	}
	if !newer {
		t.Error("commit added since baseline, want true")
	}
}

func TestHasNewRevisionSinceEmptyBaseline(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not installed")
	}
	dir := initRepo(t)
	c := &CLI{WorkDir: dir}

	newer, err := c.HasNewRevisionSince("")
	if err != nil {
		t.Fatal(err)
	}
	if !newer {
		t.Error("repo has a HEAD, want true for empty baseline")
	}
}
