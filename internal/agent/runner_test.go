package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	raw := []byte(`{"type":"result","subtype":"success","result":"done","cost_usd":0.12,"duration_ms":4200,"session_id":"abc","is_error":false,"num_turns":3}`)
	result, err := parseEnvelope(raw)
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	if result.Output != "done" || result.ResumeToken != "abc" || result.CostUSD != 0.12 {
		t.Errorf("result = %+v", result)
	}
}

func TestParseEnvelopeRejectsWrongType(t *testing.T) {
	if _, err := parseEnvelope([]byte(`{"type":"message"}`)); err == nil {
		t.Error("wrong type accepted")
	}
	if _, err := parseEnvelope(nil); err == nil {
		t.Error("empty output accepted")
	}
	if _, err := parseEnvelope([]byte("not json")); err == nil {
		t.Error("garbage accepted")
	}
}

func TestBuildArgs(t *testing.T) {
	r := &ClaudeRunner{DefaultModel: "sonnet"}
	args := r.buildArgs(Request{
		Prompt:       "do the thing",
		AllowedTools: ReadOnlyTools,
		ResumeToken:  "tok",
	})
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--allowedTools Read,Grep,Glob") {
		t.Errorf("args = %v", args)
	}
	if !strings.Contains(joined, "--resume tok") {
		t.Errorf("resume token missing: %v", args)
	}
	if !strings.Contains(joined, "--model sonnet") {
		t.Errorf("default model missing: %v", args)
	}
}

// fakeRunner returns a canned result or error.
type fakeRunner struct {
	result *Result
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, req Request) (*Result, error) {
	return f.result, f.err
}

func TestInvokeSuccess(t *testing.T) {
	runner := &fakeRunner{result: &Result{Output: "42"}}
	got, fb := Invoke(context.Background(), runner, Request{}, func(out string) (int, error) {
		return len(out), nil
	}, -1)
	if fb != nil {
		t.Fatalf("unexpected fallback: %+v", fb)
	}
	if got != 2 {
		t.Errorf("got = %d", got)
	}
}

func TestInvokeFallsBackOnError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("spawn failed")}
	got, fb := Invoke(context.Background(), runner, Request{}, func(string) (int, error) {
		return 0, nil
	}, -1)
	if got != -1 || fb == nil {
		t.Fatalf("got = %d, fb = %+v", got, fb)
	}
	if !strings.Contains(fb.Reason, "spawn failed") {
		t.Errorf("reason = %q", fb.Reason)
	}
}

func TestInvokeFallsBackOnAgentError(t *testing.T) {
	runner := &fakeRunner{result: &Result{IsError: true, ErrMessage: "rate limited"}}
	got, fb := Invoke(context.Background(), runner, Request{}, func(string) (int, error) {
		return 7, nil
	}, -1)
	if got != -1 || fb == nil || !strings.Contains(fb.Reason, "rate limited") {
		t.Errorf("got = %d, fb = %+v", got, fb)
	}
}

func TestInvokeFallsBackOnParseFailure(t *testing.T) {
	runner := &fakeRunner{result: &Result{Output: "garbage"}}
	got, fb := Invoke(context.Background(), runner, Request{}, func(string) (int, error) {
		return 0, errors.New("no JSON found")
	}, -1)
	if got != -1 || fb == nil || !strings.Contains(fb.Reason, "unparsable") {
		t.Errorf("got = %d, fb = %+v", got, fb)
	}
}
