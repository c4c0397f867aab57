// Package engine implements the quiz session state machine shared by every
// activity type. It is pure in-memory state: validation is delegated to a
// Collector, progression to an explicit error policy, and all I/O (history,
// reporting, audio) stays outside.
package engine

import (
	"errors"
	"time"

	"github.com/mbertin/ardoise/internal/model"
)

var (
	// ErrNotInProgress is returned when submitting to a session that has not
	// started or is already finished.
	ErrNotInProgress = errors.New("session not in progress")
	// ErrNotFinished is returned when finalizing an incomplete session.
	ErrNotFinished = errors.New("session still in progress")
	// ErrRetryUnavailable is returned when a block retry is requested but the
	// error limit has not been reached.
	ErrRetryUnavailable = errors.New("block retry not available")
	// ErrNoItems is returned when a session is created with no content.
	ErrNoItems = errors.New("no items")
)

// Config tunes one session. Zero values mean: default policy for the
// collector kind, the whole session as one block, unlimited errors.
type Config struct {
	Policy    model.ErrorPolicy
	BlockSize int
	MaxErrors int
	Now       func() time.Time
}

// Result describes what one submission did to the session.
type Result struct {
	Correct        bool `json:"correct"`
	ItemComplete   bool `json:"item_complete"`
	Advanced       bool `json:"advanced"`
	Reset          bool `json:"reset"`
	Rejected       bool `json:"rejected"`
	Finished       bool `json:"finished"`
	LivesExhausted bool `json:"lives_exhausted"`
}

// Summary is the immutable outcome of a session, ready for the reporter.
type Summary struct {
	Status         model.SessionStatus `json:"status"`
	Score          int                 `json:"score"`
	Total          int                 `json:"total"`
	ErrorCount     int                 `json:"error_count"`
	ElapsedSeconds int                 `json:"elapsed_seconds"`
	Attempts       []model.Attempt     `json:"attempts"`
}

// Session advances through an ordered item list, accumulating score, errors
// and elapsed time. Not safe for concurrent use; callers serialize access.
type Session struct {
	items     []model.Item
	collector Collector
	cfg       Config

	status      model.SessionStatus
	current     int
	score       int
	errorCount  int
	itemErrors  int
	blockErrors int
	itemScored  []bool
	attempts    []model.Attempt

	startedAt  time.Time
	finishedAt time.Time
}

// New creates a session over items using the given collector.
func New(items []model.Item, c Collector, cfg Config) (*Session, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if cfg.Policy == "" {
		cfg.Policy = model.DefaultPolicy(c.Kind())
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = len(items)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		items:      items,
		collector:  c,
		cfg:        cfg,
		status:     model.StatusNotStarted,
		itemScored: make([]bool, len(items)),
	}, nil
}

// Start transitions NotStarted -> InProgress and begins time accrual.
// Starting twice resets all counters and rewinds to the first item.
func (s *Session) Start() {
	s.status = model.StatusInProgress
	s.current = 0
	s.score = 0
	s.errorCount = 0
	s.itemErrors = 0
	s.blockErrors = 0
	s.itemScored = make([]bool, len(s.items))
	s.attempts = s.attempts[:0]
	s.startedAt = s.cfg.Now()
	s.finishedAt = time.Time{}
	s.collector.Begin(s.items[0])
}

// Submit records one attempt against the current item.
func (s *Session) Submit(value string) (Result, error) {
	if s.status != model.StatusInProgress {
		return Result{}, ErrNotInProgress
	}

	out := s.collector.Evaluate(value)
	s.attempts = append(s.attempts, model.Attempt{
		ItemIndex: s.current,
		Value:     value,
		Correct:   out.Correct,
		At:        s.cfg.Now(),
	})

	res := Result{Correct: out.Correct, ItemComplete: out.ItemComplete}
	if out.Correct {
		if out.ItemComplete {
			// A point requires a clean item: no errors since it was presented.
			if s.itemErrors == 0 {
				s.score++
				s.itemScored[s.current] = true
			}
			res.Advanced = true
			s.advance()
		}
	} else {
		s.errorCount++
		s.itemErrors++
		s.blockErrors++
		switch s.cfg.Policy {
		case model.PolicyAdvanceOnError:
			res.Advanced = true
			s.advance()
		case model.PolicyResetOnError:
			s.collector.Reset()
			res.Reset = true
		case model.PolicyRejectOnError:
			res.Rejected = true
		}
		if s.cfg.MaxErrors > 0 && s.blockErrors >= s.cfg.MaxErrors {
			res.LivesExhausted = true
		}
	}

	res.Finished = s.status == model.StatusFinished
	return res, nil
}

func (s *Session) advance() {
	s.current++
	s.itemErrors = 0
	if s.current == len(s.items) {
		s.status = model.StatusFinished
		s.finishedAt = s.cfg.Now()
		return
	}
	if s.current%s.cfg.BlockSize == 0 {
		s.blockErrors = 0
	}
	s.collector.Begin(s.items[s.current])
}

// RetryBlock rewinds to the start of the current block after the error limit
// is reached. Points earned inside the block are taken back so they can be
// re-earned; the cumulative error count is kept.
func (s *Session) RetryBlock() error {
	if s.status != model.StatusInProgress {
		return ErrNotInProgress
	}
	if s.cfg.MaxErrors <= 0 || s.blockErrors < s.cfg.MaxErrors {
		return ErrRetryUnavailable
	}
	blockStart := s.current - s.current%s.cfg.BlockSize
	for i := blockStart; i < s.current; i++ {
		if s.itemScored[i] {
			s.itemScored[i] = false
			s.score--
		}
	}
	s.current = blockStart
	s.itemErrors = 0
	s.blockErrors = 0
	s.collector.Begin(s.items[s.current])
	return nil
}

// Finish finalizes a completed session. It is idempotent: calling it again
// returns the same summary. Sessions with remaining items cannot be
// finalized; abandoning one simply discards it.
func (s *Session) Finish() (Summary, error) {
	if s.status != model.StatusFinished {
		return Summary{}, ErrNotFinished
	}
	return s.Summary(), nil
}

// Summary snapshots the session counters.
func (s *Session) Summary() Summary {
	attempts := make([]model.Attempt, len(s.attempts))
	copy(attempts, s.attempts)
	return Summary{
		Status:         s.status,
		Score:          s.score,
		Total:          len(s.items),
		ErrorCount:     s.errorCount,
		ElapsedSeconds: s.ElapsedSeconds(),
		Attempts:       attempts,
	}
}

// CurrentItem returns the item awaiting an answer, or false once finished.
func (s *Session) CurrentItem() (model.Item, bool) {
	if s.status != model.StatusInProgress || s.current >= len(s.items) {
		return model.Item{}, false
	}
	return s.items[s.current], true
}

// ElapsedSeconds reports accrued time; frozen once the session finishes.
func (s *Session) ElapsedSeconds() int {
	switch s.status {
	case model.StatusNotStarted:
		return 0
	case model.StatusFinished:
		return int(s.finishedAt.Sub(s.startedAt).Seconds())
	default:
		return int(s.cfg.Now().Sub(s.startedAt).Seconds())
	}
}

// LivesExhausted reports whether the block error limit has been reached.
func (s *Session) LivesExhausted() bool {
	return s.cfg.MaxErrors > 0 && s.blockErrors >= s.cfg.MaxErrors
}

func (s *Session) Status() model.SessionStatus { return s.status }
func (s *Session) CurrentIndex() int           { return s.current }
func (s *Session) Score() int                  { return s.score }
func (s *Session) ErrorCount() int             { return s.errorCount }
func (s *Session) Total() int                  { return len(s.items) }
func (s *Session) Policy() model.ErrorPolicy   { return s.cfg.Policy }

// Collector exposes the session's collector for prompt rendering (option
// pools, assembly progress).
func (s *Session) Collector() Collector { return s.collector }
