// Package cleanup implements pruning of finished session directories.
package cleanup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// sessionRecord is the slice of session.json needed to decide whether a
// directory is prunable.
type sessionRecord struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// finished reports whether the session will never run another turn.
func (s sessionRecord) finished() bool {
	return s.Status == "completed" || s.Status == "abandoned"
}

// PruneFinished removes session directories whose session is completed
// or abandoned and was last updated more than maxAgeDays ago.
// sessionsDir is the sessions root (.drydock/sessions), which contains
// one directory per project, each containing one directory per feature.
// If dryRun is true, nothing is deleted; the function only returns the
// "project/feature" names that would be removed.
func PruneFinished(sessionsDir string, maxAgeDays int, dryRun bool) ([]string, error) {
	projects, err := os.ReadDir(sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading sessions directory: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	var pruned []string

	for _, project := range projects {
		if !project.IsDir() {
			continue
		}
		projectDir := filepath.Join(sessionsDir, project.Name())

		features, readErr := os.ReadDir(projectDir)
		if readErr != nil {
			return pruned, fmt.Errorf("reading %s: %w", project.Name(), readErr)
		}

		for _, feature := range features {
			if !feature.IsDir() {
				continue
			}
			featureDir := filepath.Join(projectDir, feature.Name())

			rec, ok := readSession(featureDir)
			if !ok || !rec.finished() || !rec.UpdatedAt.Before(cutoff) {
				continue
			}

			if !dryRun {
				if rmErr := os.RemoveAll(featureDir); rmErr != nil {
					return pruned, fmt.Errorf("removing %s/%s: %w", project.Name(), feature.Name(), rmErr)
				}
			}
			pruned = append(pruned, project.Name()+"/"+feature.Name())
		}

		// Drop the project directory once its last feature is gone.
		if !dryRun {
			removeIfEmpty(projectDir)
		}
	}

	return pruned, nil
}

// readSession decodes session.json from a feature directory. Directories
// without a parseable session are left alone.
func readSession(featureDir string) (sessionRecord, bool) {
	data, err := os.ReadFile(filepath.Join(featureDir, "session.json"))
	if err != nil {
		return sessionRecord{}, false
	}
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return sessionRecord{}, false
	}
	return rec, true
}

func removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		_ = os.Remove(dir)
	}
}
