// preferences.go models the user-preference profile as explicit enums with
// a pure per-axis guidance mapping. The profile only ever shapes prompt
// text; control logic never branches on it.
package verify

// Axis values. Each axis has a documented default used when the profile
// is absent.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"

	ScopeStrict   = "strict"
	ScopeFlexible = "flexible"

	DetailMinimal  = "minimal"
	DetailStandard = "standard"
	DetailThorough = "thorough"

	AutonomyGuided = "guided"
	AutonomyHigh   = "high"

	SpeedFast     = "fast"
	SpeedBalanced = "balanced"
	SpeedQuality  = "quality"
)

// Preferences is the five-axis filtering profile.
type Preferences struct {
	RiskTolerance    string `json:"risk_tolerance"`
	ScopeFlexibility string `json:"scope_flexibility"`
	DetailLevel      string `json:"detail_level"`
	Autonomy         string `json:"autonomy"`
	SpeedBias        string `json:"speed_bias"`
}

// DefaultPreferences is the documented default profile: cautious and
// question-preserving.
func DefaultPreferences() Preferences {
	return Preferences{
		RiskTolerance:    RiskMedium,
		ScopeFlexibility: ScopeStrict,
		DetailLevel:      DetailStandard,
		Autonomy:         AutonomyGuided,
		SpeedBias:        SpeedBalanced,
	}
}

// riskGuidance maps risk tolerance to a filtering effect line.
var riskGuidance = map[string]string{
	RiskLow:    "The user is risk-averse: keep any question touching data loss, security, or compatibility.",
	RiskMedium: "Filter questions about remote edge cases; keep questions with plausible user impact.",
	RiskHigh:   "The user accepts risk: filter hedging questions, keep only questions about likely breakage.",
}

var scopeGuidance = map[string]string{
	ScopeStrict:   "Scope is fixed: filter questions proposing scope expansion; repurpose them into in-scope questions when possible.",
	ScopeFlexible: "Scope may grow: keep questions that propose reasonable scope changes.",
}

var detailGuidance = map[string]string{
	DetailMinimal:  "Keep only questions that block progress outright.",
	DetailStandard: "Keep questions a reviewer would plausibly want answered.",
	DetailThorough: "Keep questions about style, naming, and documentation too.",
}

var autonomyGuidance = map[string]string{
	AutonomyGuided: "The user wants to be consulted: prefer pass over filter when uncertain.",
	AutonomyHigh:   "The user wants autonomy: filter questions the agent can reasonably decide itself.",
}

var speedGuidance = map[string]string{
	SpeedFast:     "Speed matters most: filter questions whose answer would not change the immediate work.",
	SpeedBalanced: "Balance speed and quality when judging relevance.",
	SpeedQuality:  "Quality matters most: keep questions about correctness and test coverage even if they slow the work.",
}

// Guidance renders the profile into filtering guidance lines for the
// verification prompt. Unknown axis values fall back to the default axis
// value's guidance.
func (p Preferences) Guidance() []string {
	defaults := DefaultPreferences()
	lookup := func(m map[string]string, val, def string) string {
		if g, ok := m[val]; ok {
			return g
		}
		return m[def]
	}
	return []string{
		lookup(riskGuidance, p.RiskTolerance, defaults.RiskTolerance),
		lookup(scopeGuidance, p.ScopeFlexibility, defaults.ScopeFlexibility),
		lookup(detailGuidance, p.DetailLevel, defaults.DetailLevel),
		lookup(autonomyGuidance, p.Autonomy, defaults.Autonomy),
		lookup(speedGuidance, p.SpeedBias, defaults.SpeedBias),
	}
}
