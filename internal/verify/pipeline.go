// Package verify triages concerns raised by the coding agent through a
// lighter verification agent. The pipeline's one absolute rule is the
// conservative fallback: an infrastructure failure can never drop a
// concern — only an explicit, successfully parsed filter verdict can.
package verify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/drydock-dev/drydock/internal/agent"
	"github.com/drydock-dev/drydock/internal/marker"
	"github.com/drydock-dev/drydock/internal/plan"
	"github.com/drydock-dev/drydock/prompts"
)

// maxContextSteps caps how many plan steps are embedded in a verification
// prompt.
const maxContextSteps = 8

// Pipeline verifies batches of concerns.
type Pipeline struct {
	Runner  agent.Runner
	Timeout time.Duration // per-call wall clock bound
	WorkDir string
	Model   string
	Prefs   Preferences

	group    singleflight.Group
	tmplOnce sync.Once
	tmpl     *template.Template
	tmplErr  error
}

// New creates a pipeline with the default verification timeout and the
// default preference profile.
func New(runner agent.Runner) *Pipeline {
	return &Pipeline{
		Runner:  runner,
		Timeout: agent.DefaultVerificationTimeout,
		Prefs:   DefaultPreferences(),
	}
}

// ItemResult is the per-concern outcome, index-correlated to the input.
type ItemResult struct {
	Index        int              `json:"index"`
	Concern      marker.Concern   `json:"concern"`
	Action       string           `json:"action"`
	Reason       string           `json:"reason"`
	Replacements []marker.Concern `json:"replacements,omitempty"`
	Fallback     bool             `json:"fallback,omitempty"`
	DurationMS   int64            `json:"duration_ms"`
}

// Log aggregates one batch. A repurpose verdict that carries no
// replacements is counted as filtered.
type Log struct {
	Total      int          `json:"total"`
	Passed     int          `json:"passed"`
	Filtered   int          `json:"filtered"`
	Repurposed int          `json:"repurposed"`
	Results    []ItemResult `json:"results"`
}

// Surviving returns the concerns that remain after verification: passed
// concerns plus replacement concerns from repurpose verdicts, in input
// order.
func (l *Log) Surviving() []marker.Concern {
	var out []marker.Concern
	for _, r := range l.Results {
		switch r.Action {
		case ActionPass:
			out = append(out, r.Concern)
		case ActionRepurpose:
			out = append(out, r.Replacements...)
		}
	}
	return out
}

// VerifyBatch triages every concern concurrently and aggregates the
// results in input order. Identical concern texts within a batch share a
// single agent call.
func (p *Pipeline) VerifyBatch(ctx context.Context, concerns []marker.Concern, currentPlan *plan.Plan) *Log {
	log := &Log{
		Total:   len(concerns),
		Results: make([]ItemResult, len(concerns)),
	}

	// Group duplicates so each distinct concern costs one call.
	indexesByKey := make(map[string][]int)
	var order []string
	for i, c := range concerns {
		k := concernKey(c)
		if _, seen := indexesByKey[k]; !seen {
			order = append(order, k)
		}
		indexesByKey[k] = append(indexesByKey[k], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, k := range order {
		indexes := indexesByKey[k]
		concern := concerns[indexes[0]]
		g.Go(func() error {
			started := time.Now()
			verdict, fellBack := p.verifyOne(gctx, concern, currentPlan)
			elapsed := time.Since(started).Milliseconds()
			for _, i := range indexes {
				log.Results[i] = ItemResult{
					Index:        i,
					Concern:      concerns[i],
					Action:       verdict.Action,
					Reason:       verdict.Reason,
					Replacements: verdict.Replacements,
					Fallback:     fellBack,
					DurationMS:   elapsed,
				}
			}
			return nil
		})
	}
	// Workers never return errors; failures resolve to pass verdicts.
	_ = g.Wait()

	for _, r := range log.Results {
		switch {
		case r.Action == ActionPass:
			log.Passed++
		case r.Action == ActionFilter:
			log.Filtered++
		case r.Action == ActionRepurpose && len(r.Replacements) == 0:
			log.Filtered++
		case r.Action == ActionRepurpose:
			log.Repurposed++
		}
	}
	return log
}

// verifyOne triages a single concern. Duplicate texts are collapsed
// through singleflight so a batch of identical concerns costs one call.
func (p *Pipeline) verifyOne(ctx context.Context, concern marker.Concern, currentPlan *plan.Plan) (Verdict, bool) {
	key := concernKey(concern)
	v, _, _ := p.group.Do(key, func() (interface{}, error) {
		verdict, fellBack := p.invokeVerification(ctx, concern, currentPlan)
		return verdictWithFallback{verdict, fellBack}, nil
	})
	result := v.(verdictWithFallback)
	return result.verdict, result.fellBack
}

type verdictWithFallback struct {
	verdict  Verdict
	fellBack bool
}

func (p *Pipeline) invokeVerification(ctx context.Context, concern marker.Concern, currentPlan *plan.Plan) (Verdict, bool) {
	prompt, err := p.buildPrompt(concern, currentPlan)
	if err != nil {
		// A broken template is an infrastructure failure like any other.
		return Verdict{Action: ActionPass, Reason: fmt.Sprintf("verification skipped: %v", err)}, true
	}

	req := agent.Request{
		Prompt:       prompt,
		AllowedTools: agent.ReadOnlyTools,
		WorkDir:      p.WorkDir,
		Model:        p.Model,
		Timeout:      p.Timeout,
	}

	conservative := Verdict{Action: ActionPass}
	verdict, fb := agent.Invoke(ctx, p.Runner, req, ParseVerdict, conservative)
	if fb != nil {
		verdict.Reason = fmt.Sprintf("passed conservatively: %s", fb.Reason)
		return verdict, true
	}
	return verdict, false
}

// buildPrompt renders the verification request: the concern, its options,
// relevant plan steps, and the preference-derived guidance.
func (p *Pipeline) buildPrompt(concern marker.Concern, currentPlan *plan.Plan) (string, error) {
	p.tmplOnce.Do(func() {
		p.tmpl, p.tmplErr = template.New("verification").Parse(prompts.VerificationTemplate)
	})
	if p.tmplErr != nil {
		return "", fmt.Errorf("parsing verification template: %w", p.tmplErr)
	}

	var options []string
	for _, opt := range concern.Options {
		label := opt.Label
		if opt.Recommended {
			label += " (recommended)"
		}
		options = append(options, label)
	}

	data := struct {
		Concern  string
		Category string
		Priority int
		Options  []string
		Steps    []string
		Guidance []string
	}{
		Concern:  concern.Text,
		Category: concern.Category,
		Priority: concern.Priority,
		Options:  options,
		Steps:    contextSteps(currentPlan),
		Guidance: p.Prefs.Guidance(),
	}

	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing verification template: %w", err)
	}
	return buf.String(), nil
}

// contextSteps summarizes the plan's active steps for prompt context.
func contextSteps(p *plan.Plan) []string {
	if p == nil {
		return nil
	}
	var lines []string
	for _, s := range p.Steps {
		if s.Status == plan.StatusCompleted || s.Status == plan.StatusSkipped {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s [%s] %s", s.ID, s.Status, s.Title))
		if len(lines) >= maxContextSteps {
			break
		}
	}
	return lines
}

func concernKey(c marker.Concern) string {
	var b strings.Builder
	b.WriteString(c.Text)
	for _, opt := range c.Options {
		b.WriteByte('\n')
		b.WriteString(opt.Label)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
