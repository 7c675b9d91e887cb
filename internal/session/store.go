package session

import (
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/drydock-dev/drydock/internal/marker"
	"github.com/drydock-dev/drydock/internal/plan"
	"github.com/drydock-dev/drydock/internal/storage"
)

// Document names within a session directory.
const (
	sessionFile   = "session.json"
	questionsFile = "questions.json"
	turnsFile     = "turns.json"
	statusFile    = "status.json"
	legacyPlan    = "plan.json"
	planDir       = "plan"
	validationLog = "validation_log.jsonl"
)

// ErrQuestionNotFound is returned when answering an unknown question id.
var ErrQuestionNotFound = errors.New("question not found")

// Store persists session documents through a storage.Store.
type Store struct {
	docs storage.Store
	now  func() time.Time
}

// NewStore creates a session store over docs.
func NewStore(docs storage.Store) *Store {
	return &Store{docs: docs, now: time.Now}
}

// WithClock replaces the store's clock. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Dir returns the logical directory for one session's documents.
func Dir(project, feature string) string {
	return path.Join("sessions", project, feature)
}

// Create starts a fresh session record for project/feature.
func (s *Store) Create(project, feature string) (*Session, error) {
	dir := Dir(project, feature)
	if err := s.docs.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("ensure session dir: %w", err)
	}

	now := s.now()
	sess := &Session{
		ID:        uuid.New().String(),
		Project:   project,
		Feature:   feature,
		Stage:     StageDiscovery,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := storage.WriteJSON(s.docs, path.Join(dir, sessionFile), sess); err != nil {
		return nil, fmt.Errorf("write session: %w", err)
	}
	return sess, nil
}

// Load retrieves the session record, or nil when none exists.
func (s *Store) Load(project, feature string) (*Session, error) {
	var sess Session
	err := storage.ReadJSON(s.docs, path.Join(Dir(project, feature), sessionFile), &sess)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Save writes the session record back, bumping UpdatedAt.
func (s *Store) Save(sess *Session) error {
	sess.UpdatedAt = s.now()
	docPath := path.Join(Dir(sess.Project, sess.Feature), sessionFile)
	return s.docs.WithLock(docPath, func() error {
		return storage.WriteJSON(s.docs, docPath, sess)
	})
}

// LoadPlan reads the session's plan. A composable plan directory takes
// precedence; a legacy flat plan.json is upgraded on read with empty
// sections and all validity flags false. Returns nil when no plan exists.
func (s *Store) LoadPlan(project, feature string) (*plan.Composable, error) {
	dir := Dir(project, feature)

	metaPath := path.Join(dir, planDir, "metadata.json")
	if ok, err := s.docs.Exists(metaPath); err != nil {
		return nil, err
	} else if ok {
		return s.readComposable(dir)
	}

	legacyPath := path.Join(dir, legacyPlan)
	if ok, err := s.docs.Exists(legacyPath); err != nil {
		return nil, err
	} else if !ok {
		return nil, nil
	}

	var flat plan.Plan
	if err := storage.ReadJSON(s.docs, legacyPath, &flat); err != nil {
		// Corrupt plan document reads as no plan rather than crashing.
		return nil, nil
	}
	return plan.FromLegacy(&flat), nil
}

func (s *Store) readComposable(dir string) (*plan.Composable, error) {
	c := &plan.Composable{Sections: make(map[string]plan.SectionState)}

	read := func(name string, v interface{}) error {
		err := storage.ReadJSON(s.docs, path.Join(dir, planDir, name), v)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	if err := read("metadata.json", &c.Metadata); err != nil {
		return nil, fmt.Errorf("read plan metadata: %w", err)
	}
	if err := read("steps.json", &c.Steps); err != nil {
		return nil, fmt.Errorf("read plan steps: %w", err)
	}
	if err := read("dependencies.json", &c.Dependencies); err != nil {
		return nil, fmt.Errorf("read plan dependencies: %w", err)
	}
	if err := read("coverage.json", &c.Coverage); err != nil {
		return nil, fmt.Errorf("read plan coverage: %w", err)
	}
	if err := read("acceptance.json", &c.Acceptance); err != nil {
		return nil, fmt.Errorf("read plan acceptance: %w", err)
	}
	if err := read("sections.json", &c.Sections); err != nil {
		return nil, fmt.Errorf("read plan sections: %w", err)
	}
	return c, nil
}

// SavePlan writes the composable plan, one document per section.
func (s *Store) SavePlan(project, feature string, c *plan.Composable) error {
	dir := path.Join(Dir(project, feature), planDir)
	if err := s.docs.EnsureDir(dir); err != nil {
		return fmt.Errorf("ensure plan dir: %w", err)
	}

	docs := []struct {
		name string
		v    interface{}
	}{
		{"metadata.json", c.Metadata},
		{"steps.json", c.Steps},
		{"dependencies.json", c.Dependencies},
		{"coverage.json", c.Coverage},
		{"acceptance.json", c.Acceptance},
		{"sections.json", c.Sections},
	}
	for _, d := range docs {
		if err := storage.WriteJSON(s.docs, path.Join(dir, d.name), d.v); err != nil {
			return fmt.Errorf("write plan %s: %w", d.name, err)
		}
	}
	return nil
}

// LoadQuestions returns all questions for the session, oldest first.
func (s *Store) LoadQuestions(project, feature string) ([]Question, error) {
	var qs []Question
	err := storage.ReadJSON(s.docs, path.Join(Dir(project, feature), questionsFile), &qs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return qs, nil
}

// AddQuestions persists surviving concerns as questions and returns the
// created records. Blockers and priority-1 concerns are marked required.
func (s *Store) AddQuestions(project, feature string, stage Stage, concerns []marker.Concern) ([]Question, error) {
	docPath := path.Join(Dir(project, feature), questionsFile)
	var created []Question

	err := s.docs.WithLock(docPath, func() error {
		var qs []Question
		if err := storage.ReadJSON(s.docs, docPath, &qs); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		now := s.now()
		for _, c := range concerns {
			q := Question{
				ID:         uuid.New().String(),
				Stage:      stage,
				Priority:   c.Priority,
				Category:   c.Category,
				Text:       c.Text,
				InputShape: InferInputShape(len(c.Options)),
				Blocker:    c.Blocker,
				Required:   c.Blocker || c.Priority == 1,
				AskedAt:    now,
			}
			for _, opt := range c.Options {
				q.Options = append(q.Options, opt.Label)
			}
			qs = append(qs, q)
			created = append(created, q)
		}
		return storage.WriteJSON(s.docs, docPath, qs)
	})
	if err != nil {
		return nil, fmt.Errorf("add questions: %w", err)
	}
	return created, nil
}

// AnswerQuestion records the user's answer on the question.
func (s *Store) AnswerQuestion(project, feature, id, answer string) error {
	docPath := path.Join(Dir(project, feature), questionsFile)
	return s.docs.WithLock(docPath, func() error {
		var qs []Question
		if err := storage.ReadJSON(s.docs, docPath, &qs); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return ErrQuestionNotFound
			}
			return err
		}
		for i := range qs {
			if qs[i].ID == id {
				now := s.now()
				qs[i].Answer = answer
				qs[i].AnsweredAt = &now
				return storage.WriteJSON(s.docs, docPath, qs)
			}
		}
		return ErrQuestionNotFound
	})
}

// CountQuestions returns (total, answered) for the given stage.
func (s *Store) CountQuestions(project, feature string, stage Stage) (int, int, error) {
	qs, err := s.LoadQuestions(project, feature)
	if err != nil {
		return 0, 0, err
	}
	var total, answered int
	for i := range qs {
		if qs[i].Stage != stage {
			continue
		}
		total++
		if qs[i].Answered() {
			answered++
		}
	}
	return total, answered, nil
}

// LoadTurns returns the full turn log, oldest first.
func (s *Store) LoadTurns(project, feature string) ([]Turn, error) {
	var turns []Turn
	err := storage.ReadJSON(s.docs, path.Join(Dir(project, feature), turnsFile), &turns)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return turns, nil
}

// StartTurn appends an open turn record and returns it.
func (s *Store) StartTurn(project, feature string, stage Stage) (*Turn, error) {
	docPath := path.Join(Dir(project, feature), turnsFile)
	turn := &Turn{
		ID:        uuid.New().String(),
		Stage:     stage,
		StartedAt: s.now(),
	}
	err := s.docs.WithLock(docPath, func() error {
		var turns []Turn
		if err := storage.ReadJSON(s.docs, docPath, &turns); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		turns = append(turns, *turn)
		return storage.WriteJSON(s.docs, docPath, turns)
	})
	if err != nil {
		return nil, fmt.Errorf("start turn: %w", err)
	}
	return turn, nil
}

// FinishTurn closes the turn with its outcome. Finishing an already-closed
// turn is a no-op, so replays never double-book.
func (s *Store) FinishTurn(project, feature, turnID, outcome string, costUSD float64) error {
	docPath := path.Join(Dir(project, feature), turnsFile)
	return s.docs.WithLock(docPath, func() error {
		var turns []Turn
		if err := storage.ReadJSON(s.docs, docPath, &turns); err != nil {
			return err
		}
		for i := range turns {
			if turns[i].ID != turnID {
				continue
			}
			if turns[i].FinishedAt != nil {
				return nil
			}
			now := s.now()
			turns[i].FinishedAt = &now
			turns[i].Outcome = outcome
			turns[i].CostUSD = costUSD
			return storage.WriteJSON(s.docs, docPath, turns)
		}
		return fmt.Errorf("finish turn: unknown turn %s", turnID)
	})
}

// MarkInterrupted closes every dangling turn (started, never finished)
// with the interrupted outcome and returns how many were closed. A log
// with no dangling turns is left untouched: zero changes, zero writes.
func (s *Store) MarkInterrupted(project, feature string) (int, error) {
	docPath := path.Join(Dir(project, feature), turnsFile)
	var closed int
	err := s.docs.WithLock(docPath, func() error {
		var turns []Turn
		if err := storage.ReadJSON(s.docs, docPath, &turns); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		now := s.now()
		for i := range turns {
			if turns[i].FinishedAt == nil {
				turns[i].FinishedAt = &now
				turns[i].Outcome = OutcomeInterrupted
				closed++
			}
		}
		if closed == 0 {
			return nil
		}
		return storage.WriteJSON(s.docs, docPath, turns)
	})
	if err != nil {
		return 0, fmt.Errorf("mark interrupted: %w", err)
	}
	return closed, nil
}

// WriteStatus replaces the session's status summary.
func (s *Store) WriteStatus(summary *StatusSummary) error {
	summary.UpdatedAt = s.now()
	return storage.WriteJSON(s.docs, path.Join(Dir(summary.Project, summary.Feature), statusFile), summary)
}

// ReadStatus returns the status summary, or nil when none exists.
func (s *Store) ReadStatus(project, feature string) (*StatusSummary, error) {
	var summary StatusSummary
	err := storage.ReadJSON(s.docs, path.Join(Dir(project, feature), statusFile), &summary)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// AppendValidation appends one verification batch to the audit log.
func (s *Store) AppendValidation(project, feature string, v interface{}) error {
	return storage.AppendJSONLine(s.docs, path.Join(Dir(project, feature), validationLog), v)
}
