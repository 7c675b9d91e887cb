// clean.go implements "drydock clean", which prunes finished session
// directories.
package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/drydock-dev/drydock/internal/cleanup"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Prune finished session directories",
	Long: `Remove session directories for completed or abandoned sessions
older than the given age. Active and waiting sessions are never touched.`,
	RunE: runClean,
}

var (
	maxAgeFlag int
	dryRunFlag bool
)

func init() {
	cleanCmd.Flags().IntVar(&maxAgeFlag, "max-age", 30, "Prune finished sessions older than this many days")
	cleanCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Print what would be removed without deleting")
}

func runClean(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}

	sessionsDir := filepath.Join(env.docs.Root(), "sessions")
	pruned, err := cleanup.PruneFinished(sessionsDir, maxAgeFlag, dryRunFlag)
	if err != nil {
		return fmt.Errorf("pruning sessions: %w", err)
	}

	if len(pruned) == 0 {
		fmt.Println("Nothing to prune.")
		return nil
	}
	verb := "Pruned"
	if dryRunFlag {
		verb = "Would prune"
	}
	for _, name := range pruned {
		fmt.Printf("%s %s\n", verb, name)
	}
	return nil
}
