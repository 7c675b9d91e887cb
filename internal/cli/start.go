// start.go implements "drydock start", which creates a session for a
// feature and seeds the change request.
package cli

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/drydock-dev/drydock/internal/config"
	"github.com/drydock-dev/drydock/internal/session"
)

var startCmd = &cobra.Command{
	Use:   "start <feature> [description]",
	Short: "Start a change session for a feature",
	Long: `Create a new session in the discovery stage. The description is
the change request handed to the discovery turn; it can also be given
later via 'drydock run'. Writes a default config on first use.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	feature := args[0]

	// First run in a project: persist the default config so the user
	// has something to edit.
	configPath := filepath.Join(env.root, dataDir, "config.yaml")
	if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
		env.cfg.Project.Name = env.project()
		if writeErr := config.WriteConfig(env.root, env.cfg); writeErr != nil {
			return fmt.Errorf("writing config: %w", writeErr)
		}
		fmt.Printf("Initialized %s\n", configPath)
	}

	existing, err := env.sessions.Load(env.project(), feature)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("session for %q already exists (status %s)", feature, existing.Status)
	}

	sess, err := env.sessions.Create(env.project(), feature)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	if len(args) > 1 {
		reqPath := path.Join(session.Dir(env.project(), feature), "request.md")
		if writeErr := env.docs.Write(reqPath, []byte(args[1])); writeErr != nil {
			return fmt.Errorf("writing change request: %w", writeErr)
		}
	}

	fmt.Printf("Started session %s (%s/%s) at stage %s\n", sess.ID, sess.Project, sess.Feature, sess.Stage)
	fmt.Printf("Next: drydock run %s\n", feature)
	return nil
}
