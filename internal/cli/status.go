// status.go implements "drydock status", a one-shot status print with
// an optional live watch mode.
package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/drydock-dev/drydock/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status <feature>",
	Short: "Show session progress",
	Long: `Display the session's stage, status, circuit breaker state, step
counts, and open questions. With --watch, render a live dashboard that
refreshes as the session's documents change on disk.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var watchFlag bool

func init() {
	statusCmd.Flags().BoolVar(&watchFlag, "watch", false, "Live dashboard, refreshed on document changes")
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	feature := args[0]

	if _, err := env.requireSession(feature); err != nil {
		return err
	}

	if watchFlag {
		model, err := tui.New(env.sessions, env.project(), feature, env.sessionDir(feature))
		if err != nil {
			return fmt.Errorf("starting dashboard: %w", err)
		}
		return tui.Run(model)
	}

	summary, err := env.sessions.ReadStatus(env.project(), feature)
	if err != nil {
		return fmt.Errorf("reading status: %w", err)
	}
	if summary == nil {
		fmt.Printf("Session %s/%s has not run a turn yet.\n", env.project(), feature)
		fmt.Printf("Next: drydock run %s\n", feature)
		return nil
	}

	fmt.Printf("Session %s (%s/%s)\n", summary.SessionID, summary.Project, summary.Feature)
	fmt.Printf("  stage    %s\n", summary.Stage)
	fmt.Printf("  status   %s\n", summary.Status)
	fmt.Printf("  breaker  %s\n", summary.BreakerState)
	if summary.CurrentStep != "" {
		fmt.Printf("  next     %s\n", summary.CurrentStep)
	}

	if len(summary.StepCounts) > 0 {
		fmt.Println("\nSteps:")
		keys := make([]string, 0, len(summary.StepCounts))
		for k := range summary.StepCounts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-13s %d\n", k, summary.StepCounts[k])
		}
	}

	if summary.OpenQuestions > 0 {
		fmt.Printf("\n%d open question(s): drydock questions %s\n", summary.OpenQuestions, feature)
	}
	return nil
}
