// verdict.go parses the verification agent's response into a typed verdict.
package verify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/drydock-dev/drydock/internal/marker"
)

// Verdict actions.
const (
	ActionPass      = "pass"
	ActionFilter    = "filter"
	ActionRepurpose = "repurpose"
)

// Verdict is the verification agent's decision for one concern.
type Verdict struct {
	Action       string           `json:"action"`
	Reason       string           `json:"reason"`
	Replacements []marker.Concern `json:"replacements,omitempty"`
}

// rawVerdict covers both the current shape and the legacy boolean shape.
type rawVerdict struct {
	Action       string           `json:"action"`
	Reason       string           `json:"reason"`
	Replacements []rawReplacement `json:"replacements"`
	// Legacy shape: {"valid": true/false, "reason": "..."}.
	Valid *bool `json:"valid"`
}

type rawReplacement struct {
	Text     string `json:"text"`
	Priority int    `json:"priority"`
	Category string `json:"category"`
}

// ParseVerdict recovers the verdict JSON from an agent response that may
// surround it with prose. Every balanced JSON candidate in the text is
// tried in order; the first that decodes into a recognizable verdict wins.
// The legacy boolean-valid shape maps valid=true to pass and valid=false
// to filter.
func ParseVerdict(output string) (Verdict, error) {
	for _, candidate := range marker.AllJSONObjects(output) {
		var raw rawVerdict
		if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
			continue
		}

		if raw.Action != "" {
			action := strings.ToLower(strings.TrimSpace(raw.Action))
			switch action {
			case ActionPass, ActionFilter, ActionRepurpose:
				return Verdict{
					Action:       action,
					Reason:       raw.Reason,
					Replacements: convertReplacements(raw.Replacements),
				}, nil
			}
			continue
		}

		if raw.Valid != nil {
			action := ActionFilter
			if *raw.Valid {
				action = ActionPass
			}
			return Verdict{Action: action, Reason: raw.Reason}, nil
		}
	}
	return Verdict{}, fmt.Errorf("no verdict object found in response")
}

func convertReplacements(raw []rawReplacement) []marker.Concern {
	var concerns []marker.Concern
	for _, r := range raw {
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		priority := r.Priority
		if priority < 1 || priority > 3 {
			priority = 2
		}
		concerns = append(concerns, marker.Concern{
			Text:     r.Text,
			Priority: priority,
			Category: r.Category,
		})
	}
	return concerns
}
