// env.go wires the shared dependencies every subcommand needs: the
// project root, its config, and the session document store.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/drydock-dev/drydock/internal/config"
	"github.com/drydock-dev/drydock/internal/session"
	"github.com/drydock-dev/drydock/internal/storage"
)

const dataDir = ".drydock"

type env struct {
	root     string
	cfg      *config.Config
	docs     *storage.FileStore
	sessions *session.Store
}

// loadEnv resolves the working directory, reads the config (falling
// back to defaults when none exists yet), and opens the session store.
func loadEnv() (*env, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}

	cfg, err := config.ReadConfig(root)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	docs := storage.NewFileStore(filepath.Join(root, dataDir))
	return &env{
		root:     root,
		cfg:      cfg,
		docs:     docs,
		sessions: session.NewStore(docs),
	}, nil
}

// project returns the configured project name, falling back to the
// working directory's base name.
func (e *env) project() string {
	if e.cfg.Project.Name != "" {
		return e.cfg.Project.Name
	}
	return filepath.Base(e.root)
}

// sessionDir returns the absolute path of a session's document
// directory, used by the watch-mode dashboard.
func (e *env) sessionDir(feature string) string {
	return filepath.Join(e.docs.Root(), filepath.FromSlash(session.Dir(e.project(), feature)))
}

// requireSession loads a session and fails with a friendly message
// when none exists for the feature.
func (e *env) requireSession(feature string) (*session.Session, error) {
	sess, err := e.sessions.Load(e.project(), feature)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("no session for %q; start one with: drydock start %s", feature, feature)
	}
	return sess, nil
}
