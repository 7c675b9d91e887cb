// Package session provides JSON-document persistence for drydock sessions:
// the session record, the plan, questions, the turn log, and per-turn
// status summaries, all stored under sessions/<project>/<feature>/.
package session

import "time"

// Stage is one of the five ordered phases a session passes through.
type Stage int

const (
	StageDiscovery Stage = iota + 1
	StagePlanReview
	StageImplementation
	StageChangeSubmission
	StageSubmissionReview
)

// FinalStage is the last stage; completing it completes the session.
const FinalStage = StageSubmissionReview

var stageNames = map[Stage]string{
	StageDiscovery:        "discovery",
	StagePlanReview:       "plan_review",
	StageImplementation:   "implementation",
	StageChangeSubmission: "change_submission",
	StageSubmissionReview: "submission_review",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether s is one of the five defined stages.
func (s Stage) Valid() bool {
	return s >= StageDiscovery && s <= StageSubmissionReview
}

// Session lifecycle statuses.
const (
	StatusActive       = "active"
	StatusAwaitingUser = "awaiting_user"
	StatusHalted       = "halted"
	StatusCompleted    = "completed"
	StatusAbandoned    = "abandoned"
)

// Session identifies one change request and its progress through the
// stages. Mutated only through the processor's update operations.
type Session struct {
	ID          string `json:"id"`
	Project     string `json:"project"`
	Feature     string `json:"feature"`
	Stage       Stage  `json:"stage"`
	Status      string `json:"status"`
	Retries     int    `json:"retries"`
	Replans     int    `json:"replans"`
	ResumeToken string `json:"resume_token,omitempty"`
	// BaselineRev is the revision recorded when the current step began,
	// used to corroborate step completion against new commits.
	BaselineRev string      `json:"baseline_rev,omitempty"`
	Reprompt    *Reprompt   `json:"reprompt,omitempty"`
	Submission  *Submission `json:"submission,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	ClosedAt    *time.Time  `json:"closed_at,omitempty"`
}

// Submission records the change submission created in stage four.
type Submission struct {
	Title  string `json:"title"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Reprompt is the completeness feedback attached to a session while its
// plan review is incomplete, cleared once validation passes.
type Reprompt struct {
	IncompleteSections []string `json:"incomplete_sections"`
	MissingComplexity  []string `json:"missing_complexity,omitempty"`
	ShortDescriptions  []string `json:"short_descriptions,omitempty"`
	UnmappedCriteria   []string `json:"unmapped_criteria,omitempty"`
}

// Question input shapes, inferred from the option count.
const (
	InputYesNo  = "yes_no"
	InputChoice = "choice"
	InputText   = "text"
)

// InferInputShape maps an option count to an answer-input shape: two
// options read as yes/no, more as a choice, fewer as free text.
func InferInputShape(optionCount int) string {
	switch {
	case optionCount == 2:
		return InputYesNo
	case optionCount > 2:
		return InputChoice
	default:
		return InputText
	}
}

// Question is a persisted concern awaiting a user answer.
type Question struct {
	ID         string     `json:"id"`
	Stage      Stage      `json:"stage"`
	Priority   int        `json:"priority"`
	Category   string     `json:"category,omitempty"`
	Text       string     `json:"text"`
	Options    []string   `json:"options,omitempty"`
	InputShape string     `json:"input_shape"`
	Blocker    bool       `json:"blocker,omitempty"`
	Required   bool       `json:"required"`
	AskedAt    time.Time  `json:"asked_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	Answer     string     `json:"answer,omitempty"`
}

// Answered reports whether the question has been answered.
func (q *Question) Answered() bool {
	return q.AnsweredAt != nil
}

// Turn outcomes.
const (
	OutcomeProceed     = "proceed"
	OutcomeNeedInput   = "need_input"
	OutcomeReprompt    = "re_prompt"
	OutcomeHalt        = "halt"
	OutcomeInterrupted = "interrupted"
)

// Turn is one agent invocation within a stage. A turn with no FinishedAt
// was started but never finished; the MarkInterrupted sweep closes it.
type Turn struct {
	ID         string     `json:"id"`
	Stage      Stage      `json:"stage"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
	CostUSD    float64    `json:"cost_usd,omitempty"`
}

// StatusSummary is the at-a-glance view written after every turn, read by
// the status command and the dashboard.
type StatusSummary struct {
	SessionID     string         `json:"session_id"`
	Project       string         `json:"project"`
	Feature       string         `json:"feature"`
	Stage         string         `json:"stage"`
	Status        string         `json:"status"`
	BreakerState  string         `json:"breaker_state"`
	StepCounts    map[string]int `json:"step_counts,omitempty"`
	CurrentStep   string         `json:"current_step,omitempty"`
	OpenQuestions int            `json:"open_questions"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
