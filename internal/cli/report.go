// report.go implements "drydock report", a post-run session summary.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drydock-dev/drydock/internal/log"
	"github.com/drydock-dev/drydock/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report <feature>",
	Short: "Summarize a session's steps, turns, and cost",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	feature := args[0]

	logger, err := log.NewLogger(env.root)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}

	r, err := report.Generate(env.sessions, logger, env.project(), feature)
	if err != nil {
		return err
	}
	fmt.Print(report.Format(r))
	return nil
}
