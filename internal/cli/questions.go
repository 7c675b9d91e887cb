// questions.go implements "drydock questions" (list open questions)
// and "drydock answer" (record an answer).
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drydock-dev/drydock/internal/session"
)

var questionsCmd = &cobra.Command{
	Use:   "questions <feature>",
	Short: "List open questions for a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuestions,
}

var allQuestionsFlag bool

func init() {
	questionsCmd.Flags().BoolVar(&allQuestionsFlag, "all", false, "Include answered questions")
}

func runQuestions(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	feature := args[0]

	if _, err := env.requireSession(feature); err != nil {
		return err
	}

	questions, err := env.sessions.LoadQuestions(env.project(), feature)
	if err != nil {
		return fmt.Errorf("loading questions: %w", err)
	}

	open := 0
	for _, q := range questions {
		if q.Answered() && !allQuestionsFlag {
			continue
		}
		printQuestion(q)
		if !q.Answered() {
			open++
		}
	}

	if open == 0 && !allQuestionsFlag {
		fmt.Println("No open questions.")
		return nil
	}
	if open > 0 {
		fmt.Printf("\nAnswer with: drydock answer %s <id> <answer>\n", feature)
	}
	return nil
}

func printQuestion(q session.Question) {
	mark := "?"
	if q.Blocker {
		mark = "!"
	}
	fmt.Printf("%s %s  [%s, p%d] %s\n", mark, q.ID, q.Stage, q.Priority, q.Text)
	if len(q.Options) > 0 {
		fmt.Printf("    options: %s\n", strings.Join(q.Options, " | "))
	}
	if q.Answered() {
		fmt.Printf("    answered: %s\n", q.Answer)
	}
}

var answerCmd = &cobra.Command{
	Use:   "answer <feature> <question-id> <answer>",
	Short: "Answer an open question",
	Long: `Record an answer to a question raised during a session. The
question id may be any unambiguous prefix of the full id. Re-run the
session afterwards to continue.`,
	Args: cobra.ExactArgs(3),
	RunE: runAnswer,
}

func runAnswer(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	feature, idArg, answer := args[0], args[1], args[2]

	sess, err := env.requireSession(feature)
	if err != nil {
		return err
	}

	questions, err := env.sessions.LoadQuestions(env.project(), feature)
	if err != nil {
		return fmt.Errorf("loading questions: %w", err)
	}
	id, err := resolveQuestionID(questions, idArg)
	if err != nil {
		return err
	}

	if err := env.sessions.AnswerQuestion(env.project(), feature, id, answer); err != nil {
		return fmt.Errorf("answering question: %w", err)
	}
	fmt.Printf("Answered %s\n", id)

	// A waiting session becomes runnable once an answer lands.
	if sess.Status == session.StatusAwaitingUser {
		sess.Status = session.StatusActive
		if err := env.sessions.Save(sess); err != nil {
			return fmt.Errorf("resuming session: %w", err)
		}
		fmt.Printf("Next: drydock run %s\n", feature)
	}
	return nil
}

// resolveQuestionID matches an id prefix against the stored questions.
func resolveQuestionID(questions []session.Question, prefix string) (string, error) {
	var matches []string
	for _, q := range questions {
		if q.ID == prefix {
			return q.ID, nil
		}
		if strings.HasPrefix(q.ID, prefix) {
			matches = append(matches, q.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no question matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("id %q is ambiguous (%d matches)", prefix, len(matches))
	}
}
