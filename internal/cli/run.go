// run.go implements "drydock run", which drives agent turns for a
// session until it completes, parks for user input, or halts.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/spf13/cobra"

	"github.com/drydock-dev/drydock/internal/agent"
	"github.com/drydock-dev/drydock/internal/breaker"
	"github.com/drydock-dev/drydock/internal/gitx"
	"github.com/drydock-dev/drydock/internal/locker"
	"github.com/drydock-dev/drydock/internal/log"
	"github.com/drydock-dev/drydock/internal/processor"
	"github.com/drydock-dev/drydock/internal/session"
	"github.com/drydock-dev/drydock/internal/verify"
)

var runCmd = &cobra.Command{
	Use:   "run <feature> [description]",
	Short: "Run agent turns until the session needs input or finishes",
	Long: `Execute turns for the feature's session. Stops when the session
completes, a question or blocker needs an answer, or the circuit
breaker halts execution. Safe to re-run after answering questions.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRun,
}

var maxTurnsFlag int

func init() {
	runCmd.Flags().IntVar(&maxTurnsFlag, "max-turns", processor.DefaultMaxTurns, "Turn budget for this invocation")
}

func runRun(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	feature := args[0]

	sess, err := env.requireSession(feature)
	if err != nil {
		return err
	}
	if sess.Status == session.StatusAwaitingUser {
		fmt.Println("Session is waiting on answers; resuming anyway. Answer questions with: drydock answer")
		sess.Status = session.StatusActive
		if saveErr := env.sessions.Save(sess); saveErr != nil {
			return fmt.Errorf("resuming session: %w", saveErr)
		}
	}

	request := loadRequest(env, feature)
	if len(args) > 1 {
		request = args[1]
	}
	if request == "" && sess.Stage == session.StageDiscovery {
		return fmt.Errorf("discovery needs a change request: drydock run %s \"<description>\"", feature)
	}

	logger, err := log.NewLogger(env.root)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}

	runner := &agent.ClaudeRunner{DefaultModel: env.cfg.Models.Coding}

	pipeline := verify.New(runner)
	pipeline.Model = env.cfg.Models.Verification
	pipeline.WorkDir = env.root
	pipeline.Timeout = time.Duration(env.cfg.Execution.VerificationTimeout) * time.Second
	pipeline.Prefs = verify.Preferences{
		RiskTolerance:    env.cfg.Preferences.RiskTolerance,
		ScopeFlexibility: env.cfg.Preferences.ScopeFlexibility,
		DetailLevel:      env.cfg.Preferences.DetailLevel,
		Autonomy:         env.cfg.Preferences.Autonomy,
		SpeedBias:        env.cfg.Preferences.SpeedVsQuality,
	}

	proc := processor.New(env.sessions, env.docs, pipeline)
	proc.Git = &gitx.CLI{WorkDir: env.root}
	proc.Logger = logger
	proc.RetryCeiling = env.cfg.Execution.RetryCeiling
	proc.Criteria = env.cfg.Project.Criteria
	proc.Thresholds = breaker.Thresholds{
		HalfOpenAfter:       env.cfg.Breaker.HalfOpenAfter,
		OpenAfterNoProgress: env.cfg.Breaker.OpenAfterNoProgress,
		OpenAfterSameError:  env.cfg.Breaker.OpenAfterSameError,
	}

	locks := locker.NewRegistry()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go locks.RunSweeper(ctx, locker.DefaultSweepInterval)

	loop := &processor.Loop{
		Proc:     proc,
		Runner:   runner,
		Locks:    locks,
		Model:    env.cfg.Models.Coding,
		Timeout:  time.Duration(env.cfg.Execution.CodingTimeout) * time.Second,
		WorkDir:  env.root,
		Request:  request,
		MaxTurns: maxTurnsFlag,
	}

	fmt.Printf("Running %s/%s from stage %s\n", env.project(), feature, sess.Stage)

	final, err := loop.Run(ctx, env.project(), feature)
	if errors.Is(err, locker.ErrInFlight) {
		return fmt.Errorf("another run for %q is already in flight; wait for it to finish", feature)
	}
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	printOutcome(env, final)
	return nil
}

// loadRequest reads the change request saved by "drydock start".
func loadRequest(env *env, feature string) string {
	data, err := env.docs.Read(path.Join(session.Dir(env.project(), feature), "request.md"))
	if err != nil {
		return ""
	}
	return string(data)
}

func printOutcome(env *env, sess *session.Session) {
	switch sess.Status {
	case session.StatusCompleted:
		fmt.Printf("Session complete at stage %s\n", sess.Stage)
		if sess.Submission != nil {
			fmt.Printf("Submission: %s (%s -> %s)\n", sess.Submission.Title, sess.Submission.Source, sess.Submission.Target)
		}
	case session.StatusAwaitingUser:
		fmt.Println("Session is waiting for answers:")
		fmt.Printf("  drydock questions %s\n", sess.Feature)
	case session.StatusHalted:
		fmt.Println("Execution halted by the circuit breaker.")
		fmt.Printf("  inspect: drydock status %s\n", sess.Feature)
		fmt.Printf("  resume:  drydock breaker reset %s\n", sess.Feature)
	default:
		fmt.Printf("Session paused at stage %s (status %s); re-run to continue\n", sess.Stage, sess.Status)
	}

	if _, statErr := os.Stat(env.sessionDir(sess.Feature)); statErr == nil {
		fmt.Printf("Documents: %s\n", env.sessionDir(sess.Feature))
	}
}
