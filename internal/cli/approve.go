// approve.go implements "drydock approve", the explicit plan sign-off.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drydock-dev/drydock/internal/session"
)

var approveCmd = &cobra.Command{
	Use:   "approve <feature>",
	Short: "Approve the plan so implementation can start",
	Long: `Set the plan's approval flag. Plan review advances once the plan is
complete and approved; approval also comes implicitly from answering every
planning question.`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

func runApprove(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	feature := args[0]

	sess, err := env.requireSession(feature)
	if err != nil {
		return err
	}

	comp, err := env.sessions.LoadPlan(env.project(), feature)
	if err != nil {
		return fmt.Errorf("loading plan: %w", err)
	}
	if comp == nil || len(comp.Steps) == 0 {
		return fmt.Errorf("no plan to approve; run discovery first: drydock run %s", feature)
	}
	if comp.Metadata.Approved {
		fmt.Println("Plan is already approved.")
		return nil
	}

	comp.Metadata.Approved = true
	if err := env.sessions.SavePlan(env.project(), feature, comp); err != nil {
		return fmt.Errorf("saving plan: %w", err)
	}

	// Close any pending approval question so status stops showing it.
	questions, err := env.sessions.LoadQuestions(env.project(), feature)
	if err == nil {
		for _, q := range questions {
			if q.Category == "plan_approval" && !q.Answered() {
				if ansErr := env.sessions.AnswerQuestion(env.project(), feature, q.ID, "yes"); ansErr != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to close approval question: %v\n", ansErr)
				}
			}
		}
	}

	fmt.Printf("Plan approved (%d steps)\n", len(comp.Steps))

	if sess.Status == session.StatusAwaitingUser {
		sess.Status = session.StatusActive
		if err := env.sessions.Save(sess); err != nil {
			return fmt.Errorf("resuming session: %w", err)
		}
	}
	fmt.Printf("Next: drydock run %s\n", feature)
	return nil
}
