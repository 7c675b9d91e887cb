// breaker.go implements "drydock breaker", inspection and reset of a
// session's circuit breaker.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drydock-dev/drydock/internal/breaker"
	"github.com/drydock-dev/drydock/internal/session"
)

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Inspect or reset a session's circuit breaker",
}

var breakerShowCmd = &cobra.Command{
	Use:   "show <feature>",
	Short: "Print the breaker state and transition history",
	Args:  cobra.ExactArgs(1),
	RunE:  runBreakerShow,
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset <feature>",
	Short: "Reset an open breaker and reactivate the session",
	Args:  cobra.ExactArgs(1),
	RunE:  runBreakerReset,
}

func init() {
	breakerCmd.AddCommand(breakerShowCmd)
	breakerCmd.AddCommand(breakerResetCmd)
}

func loadBreaker(env *env, feature string) (*breaker.Breaker, error) {
	dir := session.Dir(env.project(), feature)
	brk, err := breaker.Load(env.docs, dir, breaker.Thresholds{
		HalfOpenAfter:       env.cfg.Breaker.HalfOpenAfter,
		OpenAfterNoProgress: env.cfg.Breaker.OpenAfterNoProgress,
		OpenAfterSameError:  env.cfg.Breaker.OpenAfterSameError,
	})
	if err != nil {
		return nil, fmt.Errorf("loading breaker: %w", err)
	}
	return brk, nil
}

func runBreakerShow(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	feature := args[0]

	if _, err := env.requireSession(feature); err != nil {
		return err
	}
	brk, err := loadBreaker(env, feature)
	if err != nil {
		return err
	}

	rec := brk.Record()
	fmt.Printf("Breaker for %s/%s\n", env.project(), feature)
	fmt.Printf("  state        %s\n", rec.State)
	fmt.Printf("  loop         %d\n", rec.CurrentLoop)
	fmt.Printf("  no progress  %d\n", rec.NoProgressCount)
	fmt.Printf("  same error   %d\n", rec.SameErrorCount)
	fmt.Printf("  total opens  %d\n", rec.TotalOpens)
	if rec.LastReason != "" {
		fmt.Printf("  last reason  %s\n", rec.LastReason)
	}

	history, err := brk.History()
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}
	if len(history) > 0 {
		fmt.Println("\nTransitions:")
		for _, t := range history {
			fmt.Printf("  loop %-4d %s -> %s  %s\n", t.Loop, t.From, t.To, t.Reason)
		}
	}
	return nil
}

func runBreakerReset(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	feature := args[0]

	sess, err := env.requireSession(feature)
	if err != nil {
		return err
	}
	brk, err := loadBreaker(env, feature)
	if err != nil {
		return err
	}

	if brk.State() == breaker.StateClosed {
		fmt.Println("Breaker is already closed.")
		return nil
	}
	if err := brk.Reset("manual reset"); err != nil {
		return fmt.Errorf("resetting breaker: %w", err)
	}
	fmt.Printf("Breaker reset (%d lifetime opens)\n", brk.Record().TotalOpens)

	if sess.Status == session.StatusHalted {
		sess.Status = session.StatusActive
		if err := env.sessions.Save(sess); err != nil {
			return fmt.Errorf("reactivating session: %w", err)
		}
		fmt.Printf("Session reactivated. Next: drydock run %s\n", feature)
	}
	return nil
}
