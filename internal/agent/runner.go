// Package agent invokes the external coding/verification agent as a
// subprocess. The same runner serves both the primary coding agent and
// the lighter verification agent; they differ only in capability set,
// model tier, and timeout.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// Capability sets passed to the agent CLI. The verification agent gets
// read-only inspection; the coding agent may edit and run commands.
var (
	ReadOnlyTools = []string{"Read", "Grep", "Glob"}
	CodingTools   = []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob"}
)

// Default wall-clock timeouts per call.
const (
	DefaultCodingTimeout       = 10 * time.Minute
	DefaultVerificationTimeout = 5 * time.Minute
)

// Request describes one agent invocation.
type Request struct {
	Prompt       string
	SystemPrompt string
	AllowedTools []string
	ResumeToken  string // resumable conversation handle, empty for a fresh one
	WorkDir      string
	Model        string
	Timeout      time.Duration
}

// Result is the parsed outcome of one agent invocation.
type Result struct {
	Output      string
	ResumeToken string
	CostUSD     float64
	DurationMS  int64
	IsError     bool
	ErrMessage  string
}

// Runner is the collaborator contract consumed by the verification
// pipeline and the session processor.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// ClaudeRunner shells out to the claude CLI with --output-format json.
type ClaudeRunner struct {
	Binary       string // defaults to "claude"
	DefaultModel string // defaults to "sonnet"
}

// envelope is the JSON document the CLI prints with --output-format json.
type envelope struct {
	Type       string  `json:"type"`
	Subtype    string  `json:"subtype"`
	Result     string  `json:"result"`
	CostUSD    float64 `json:"cost_usd"`
	DurationMS int64   `json:"duration_ms"`
	SessionID  string  `json:"session_id"`
	IsError    bool    `json:"is_error"`
	NumTurns   int     `json:"num_turns"`
}

// Run invokes the agent and waits for completion. The request timeout is a
// hard wall-clock bound: on expiry the subprocess is killed and the call
// returns context.DeadlineExceeded wrapped in the error.
func (r *ClaudeRunner) Run(ctx context.Context, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultCodingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	binary := r.Binary
	if binary == "" {
		binary = "claude"
	}

	cmd := exec.CommandContext(ctx, binary, r.buildArgs(req)...)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("agent timed out after %s: %w", timeout, ctx.Err())
		}
		return nil, fmt.Errorf("agent exited with error: %w\nstderr: %s", err, stderr.String())
	}

	return parseEnvelope(stdout.Bytes())
}

func (r *ClaudeRunner) buildArgs(req Request) []string {
	model := req.Model
	if model == "" {
		model = r.DefaultModel
	}
	if model == "" {
		model = "sonnet"
	}

	args := []string{
		"-p", req.Prompt,
		"--output-format", "json",
		"--dangerously-skip-permissions",
		"--model", model,
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", joinTools(req.AllowedTools))
	}
	if req.ResumeToken != "" {
		args = append(args, "--resume", req.ResumeToken)
	}
	return args
}

func joinTools(tools []string) string {
	out := ""
	for i, tool := range tools {
		if i > 0 {
			out += ","
		}
		out += tool
	}
	return out
}

// parseEnvelope decodes the CLI's JSON result envelope.
func parseEnvelope(raw []byte) (*Result, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty agent output")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parsing agent output: %w", err)
	}
	if env.Type != "result" {
		return nil, fmt.Errorf("unexpected agent output type %q", env.Type)
	}

	return &Result{
		Output:      env.Result,
		ResumeToken: env.SessionID,
		CostUSD:     env.CostUSD,
		DurationMS:  env.DurationMS,
		IsError:     env.IsError,
		ErrMessage:  errMessage(env),
	}, nil
}

func errMessage(env envelope) string {
	if !env.IsError {
		return ""
	}
	return env.Result
}
