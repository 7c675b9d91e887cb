// Package breaker detects stalled or error-looping sessions. It is a small
// persisted state machine: CLOSED while the loop makes progress, HALF_OPEN
// once progress stalls, OPEN after repeated stalls or errors. OPEN is
// terminal until a human resets it — no automatic self-healing, so repeated
// stalls always get human attention.
package breaker

import (
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/drydock-dev/drydock/internal/storage"
)

// Breaker states.
const (
	StateClosed   = "CLOSED"
	StateHalfOpen = "HALF_OPEN"
	StateOpen     = "OPEN"
)

// Default thresholds, counted in consecutive loops.
const (
	// DefaultHalfOpenAfter is the monitoring threshold: this many loops
	// without progress moves CLOSED to HALF_OPEN.
	DefaultHalfOpenAfter = 2
	// DefaultOpenAfterNoProgress fully opens the breaker.
	DefaultOpenAfterNoProgress = 3
	// DefaultOpenAfterSameError opens the breaker on a long error streak.
	DefaultOpenAfterSameError = 5
)

// Persisted document names, relative to the session directory.
const (
	recordFile  = "breaker.json"
	historyFile = "breaker_history.jsonl"
)

// Thresholds configures the transition rules.
type Thresholds struct {
	HalfOpenAfter       int
	OpenAfterNoProgress int
	OpenAfterSameError  int
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HalfOpenAfter:       DefaultHalfOpenAfter,
		OpenAfterNoProgress: DefaultOpenAfterNoProgress,
		OpenAfterSameError:  DefaultOpenAfterSameError,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.HalfOpenAfter <= 0 {
		t.HalfOpenAfter = d.HalfOpenAfter
	}
	if t.OpenAfterNoProgress <= 0 {
		t.OpenAfterNoProgress = d.OpenAfterNoProgress
	}
	if t.OpenAfterSameError <= 0 {
		t.OpenAfterSameError = d.OpenAfterSameError
	}
	return t
}

// Record is the persisted breaker state for one session.
type Record struct {
	State            string    `json:"state"`
	NoProgressCount  int       `json:"no_progress_count"`
	SameErrorCount   int       `json:"same_error_count"`
	LastProgressLoop int       `json:"last_progress_loop"`
	TotalOpens       int       `json:"total_opens"`
	CurrentLoop      int       `json:"current_loop"`
	LastReason       string    `json:"last_reason,omitempty"`
	LastTransition   time.Time `json:"last_transition,omitempty"`
}

// Transition is one entry in the append-only history log.
type Transition struct {
	Time   time.Time `json:"time"`
	Loop   int       `json:"loop"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
}

// HaltDecision is the answer to "should this session stop unattended work".
type HaltDecision struct {
	ShouldHalt     bool   `json:"should_halt"`
	Reason         string `json:"reason,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

// Breaker wraps the record with persistence and the transition rules.
type Breaker struct {
	store      storage.Store
	dir        string
	thresholds Thresholds
	now        func() time.Time
	record     Record
}

func freshRecord() Record {
	return Record{State: StateClosed, LastProgressLoop: -1}
}

// Load reads the session's breaker record, creating a fresh CLOSED record
// when none exists. A stored record that fails shape validation is
// reinitialized rather than surfaced as an error: a corrupt breaker file
// must never take the session down.
func Load(store storage.Store, sessionDir string, thresholds Thresholds) (*Breaker, error) {
	b := &Breaker{
		store:      store,
		dir:        sessionDir,
		thresholds: thresholds.withDefaults(),
		now:        time.Now,
		record:     freshRecord(),
	}

	data, err := store.Read(b.recordPath())
	if errors.Is(err, os.ErrNotExist) {
		if err := b.persist(); err != nil {
			return nil, err
		}
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load breaker record: %w", err)
	}

	record, ok := decodeRecord(data)
	if !ok {
		// Shape-invalid stored data: reinitialize.
		b.record = freshRecord()
		if err := b.persist(); err != nil {
			return nil, err
		}
		return b, nil
	}

	b.record = record
	return b, nil
}

// Record returns a copy of the current record.
func (b *Breaker) Record() Record {
	return b.record
}

// State returns the current state.
func (b *Breaker) State() string {
	return b.record.State
}

// CanExecute reports whether the session loop may run another turn.
func (b *Breaker) CanExecute() bool {
	return b.record.State != StateOpen
}

// ShouldHaltExecution reports whether unattended work must stop, with the
// reason and the operator recommendation.
func (b *Breaker) ShouldHaltExecution() HaltDecision {
	if b.record.State != StateOpen {
		return HaltDecision{}
	}
	return HaltDecision{
		ShouldHalt:     true,
		Reason:         b.record.LastReason,
		Recommendation: "inspect recent turns, then run 'drydock breaker reset' to resume",
	}
}

// RecordLoopResult applies one loop's outcome and returns the resulting
// state. Progress means at least one file changed.
func (b *Breaker) RecordLoopResult(filesChanged int, hasErrors bool) (string, error) {
	r := &b.record
	r.CurrentLoop++

	progress := filesChanged > 0
	if progress {
		r.NoProgressCount = 0
		r.LastProgressLoop = r.CurrentLoop
	} else {
		r.NoProgressCount++
	}
	if hasErrors {
		r.SameErrorCount++
	} else {
		r.SameErrorCount = 0
	}

	from := r.State
	switch r.State {
	case StateClosed:
		switch {
		case r.NoProgressCount >= b.thresholds.OpenAfterNoProgress:
			b.open(fmt.Sprintf("no progress for %d consecutive loops", r.NoProgressCount))
		case r.SameErrorCount >= b.thresholds.OpenAfterSameError:
			b.open(fmt.Sprintf("same error repeated for %d consecutive loops", r.SameErrorCount))
		case r.NoProgressCount >= b.thresholds.HalfOpenAfter:
			b.transition(StateHalfOpen, fmt.Sprintf("monitoring: %d loops without progress", r.NoProgressCount))
		}
	case StateHalfOpen:
		switch {
		case progress:
			b.transition(StateClosed, "progress resumed")
		case r.NoProgressCount >= b.thresholds.OpenAfterNoProgress:
			b.open(fmt.Sprintf("no progress for %d consecutive loops", r.NoProgressCount))
		case r.SameErrorCount >= b.thresholds.OpenAfterSameError:
			b.open(fmt.Sprintf("same error repeated for %d consecutive loops", r.SameErrorCount))
		}
	case StateOpen:
		// Terminal until reset.
	}

	if err := b.persist(); err != nil {
		return r.State, err
	}
	if from != r.State {
		b.appendHistory(from, r.State, r.LastReason)
	}
	return r.State, nil
}

// Reset returns an OPEN (or any) breaker to CLOSED with zeroed counters.
// TotalOpens is preserved across resets.
func (b *Breaker) Reset(reason string) error {
	from := b.record.State
	b.record.NoProgressCount = 0
	b.record.SameErrorCount = 0
	b.transition(StateClosed, reason)
	if err := b.persist(); err != nil {
		return err
	}
	if from != StateClosed {
		b.appendHistory(from, StateClosed, reason)
	}
	return nil
}

// History reads the transition log.
func (b *Breaker) History() ([]Transition, error) {
	return readHistory(b.store, b.historyPath())
}

func (b *Breaker) open(reason string) {
	b.record.TotalOpens++
	b.transition(StateOpen, reason)
}

func (b *Breaker) transition(to, reason string) {
	b.record.State = to
	b.record.LastReason = reason
	b.record.LastTransition = b.now()
}

func (b *Breaker) persist() error {
	return storage.WriteJSON(b.store, b.recordPath(), b.record)
}

func (b *Breaker) appendHistory(from, to, reason string) {
	entry := Transition{
		Time:   b.now(),
		Loop:   b.record.CurrentLoop,
		From:   from,
		To:     to,
		Reason: reason,
	}
	// History is best-effort observability; a failed append never blocks
	// the loop.
	_ = storage.AppendJSONLine(b.store, b.historyPath(), entry)
}

func (b *Breaker) recordPath() string {
	return path.Join(b.dir, recordFile)
}

func (b *Breaker) historyPath() string {
	return path.Join(b.dir, historyFile)
}
