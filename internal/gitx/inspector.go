// Package gitx inspects version control for completion corroboration: a
// new commit recorded since a step began is accepted as completion
// evidence independent of the agent's textual self-report.
package gitx

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrGitNotInstalled is returned when the git CLI is not found in PATH.
var ErrGitNotInstalled = errors.New("git not found in PATH")

// Inspector answers revision questions for one working directory.
type Inspector interface {
	// CurrentRevision returns the current HEAD commit hash.
	CurrentRevision() (string, error)
	// HasNewRevisionSince reports whether any commit exists after rev.
	HasNewRevisionSince(rev string) (bool, error)
}

// CLI implements Inspector by shelling out to git.
type CLI struct {
	WorkDir string
}

func ensureGit() error {
	if _, err := exec.LookPath("git"); err != nil {
		return ErrGitNotInstalled
	}
	return nil
}

func (c *CLI) run(args ...string) (string, error) {
	if err := ensureGit(); err != nil {
		return "", err
	}
	cmd := exec.Command("git", args...)
	if c.WorkDir != "" {
		cmd.Dir = c.WorkDir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentRevision shells out to: git rev-parse HEAD
func (c *CLI) CurrentRevision() (string, error) {
	return c.run("rev-parse", "HEAD")
}

// HasNewRevisionSince shells out to: git rev-list <rev>..HEAD --count
func (c *CLI) HasNewRevisionSince(rev string) (bool, error) {
	if rev == "" {
		// No baseline recorded; any HEAD counts as new work.
		_, err := c.CurrentRevision()
		return err == nil, err
	}
	out, err := c.run("rev-list", rev+"..HEAD", "--count")
	if err != nil {
		return false, err
	}
	count, err := strconv.Atoi(out)
	if err != nil {
		return false, fmt.Errorf("parse rev-list count %q: %w", out, err)
	}
	return count > 0, nil
}
