// readiness.go is the deterministic completion/readiness oracle. Stage
// advancement is decided here from persisted state, never from the agent's
// own "done" claims.
package plan

// IsApproved reports plan approval: the explicit approval flag, or every
// planning-stage question answered. A plan with no planning questions and
// no explicit approval is not approved.
func IsApproved(p *Plan, planningQuestions, answered int) bool {
	if p.Approved {
		return true
	}
	if planningQuestions == 0 {
		return false
	}
	return answered >= planningQuestions
}

// IsImplementationComplete reports whether every step has reached a
// terminal-success status. An empty step list is never complete. Textual
// "implementation complete" signals from the agent are logged upstream but
// have no bearing here.
func IsImplementationComplete(p *Plan) bool {
	if len(p.Steps) == 0 {
		return false
	}
	for _, s := range p.Steps {
		if s.Status != StatusCompleted && s.Status != StatusSkipped {
			return false
		}
	}
	return true
}

// complexityRank orders complexities for the readiness tie-break. An
// unrated step is treated as medium.
func complexityRank(c string) int {
	switch c {
	case ComplexityLow:
		return 0
	case ComplexityHigh:
		return 2
	default:
		return 1
	}
}

// NextReadyStep picks the next step to work on: pending, and either a root
// or the child of a completed parent. When several qualify, the lowest
// complexity wins, then the lowest order index. Returns nil when nothing
// is ready.
func NextReadyStep(p *Plan) *Step {
	var best *Step
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.Status != StatusPending {
			continue
		}
		if s.ParentID != "" {
			parent := p.FindStep(s.ParentID)
			if parent == nil || parent.Status != StatusCompleted {
				continue
			}
		}
		if best == nil {
			best = s
			continue
		}
		br, sr := complexityRank(best.Complexity), complexityRank(s.Complexity)
		if sr < br || (sr == br && s.OrderIndex < best.OrderIndex) {
			best = s
		}
	}
	return best
}

// CountByStatus tallies steps per status.
func CountByStatus(p *Plan) map[string]int {
	counts := make(map[string]int)
	for _, s := range p.Steps {
		counts[s.Status]++
	}
	return counts
}
