// Package registration runs the two-step enrollment dialogue: goal, then
// pledge. Sessions live only in memory and never touch the persisted
// aggregate until the final step succeeds.
package registration

import (
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"streakline/internal/domain"
	"streakline/internal/engine"
)

const DefaultTimeout = 300 * time.Second

type Step string

const (
	AwaitingGoal   Step = "awaiting_goal"
	AwaitingPledge Step = "awaiting_pledge"
	Completed      Step = "completed"
)

var (
	ErrSessionOpen = errors.New("a registration is already in progress")
	ErrNoSession   = errors.New("no registration in progress; start one first")
)

// Timer is the part of *time.Timer the dialogue needs.
type Timer interface {
	Stop() bool
}

// Config wires the dialogue to the rest of the system. Exists and Enroll
// are called synchronously from Start and Submit, so they run under whatever
// lock the caller holds.
type Config struct {
	Timeout   time.Duration
	Exists    func(participantID string) bool
	Enroll    func(engine.Enrollment) (domain.Participant, error)
	OnTimeout func(participantID string, step Step)
	AfterFunc func(d time.Duration, f func()) Timer
	Logger    *zap.Logger
}

type session struct {
	id    string
	name  string
	step  Step
	goal  string
	gen   uint64
	timer Timer
}

// Outcome reports where a session stands after an input.
type Outcome struct {
	Step        Step                `json:"step"`
	Goal        string              `json:"goal,omitempty"`
	Participant *domain.Participant `json:"participant,omitempty"`
}

type Dialogue struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*session
	gen      uint64
}

func New(cfg Config) *Dialogue {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Dialogue{cfg: cfg, sessions: map[string]*session{}}
}

// Start opens a session at AwaitingGoal.
func (d *Dialogue) Start(participantID, name string) (Outcome, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return Outcome{}, domain.ErrInvalidID
	}
	if d.cfg.Exists != nil && d.cfg.Exists(participantID) {
		return Outcome{}, engine.ErrAlreadyRegistered
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[participantID]; ok {
		return Outcome{}, ErrSessionOpen
	}
	s := &session{id: participantID, name: strings.TrimSpace(name), step: AwaitingGoal}
	d.sessions[participantID] = s
	d.arm(s)
	d.cfg.Logger.Info("registration started", zap.String("participant_id", participantID))
	return Outcome{Step: AwaitingGoal}, nil
}

// Submit feeds one input message to the open session. Invalid input destroys
// the session; the participant has to start over.
func (d *Dialogue) Submit(participantID, input string) (Outcome, error) {
	d.mu.Lock()
	s, ok := d.sessions[participantID]
	if !ok {
		d.mu.Unlock()
		return Outcome{}, ErrNoSession
	}
	switch s.step {
	case AwaitingGoal:
		goal, err := domain.ValidateGoal(input)
		if err != nil {
			d.destroy(s)
			d.mu.Unlock()
			d.cfg.Logger.Info("registration aborted", zap.String("participant_id", participantID), zap.Error(err))
			return Outcome{}, err
		}
		s.goal = goal
		s.step = AwaitingPledge
		d.arm(s)
		d.mu.Unlock()
		return Outcome{Step: AwaitingPledge, Goal: goal}, nil
	default:
		pledge, err := domain.ParsePledge(input)
		d.destroy(s)
		d.mu.Unlock()
		if err != nil {
			d.cfg.Logger.Info("registration aborted", zap.String("participant_id", participantID), zap.Error(err))
			return Outcome{}, err
		}
		if d.cfg.Enroll == nil {
			return Outcome{}, errors.New("registration has no enroll hook")
		}
		p, err := d.cfg.Enroll(engine.Enrollment{ID: s.id, Name: s.name, Goal: s.goal, Pledge: pledge})
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Step: Completed, Goal: p.Goal, Participant: &p}, nil
	}
}

// Cancel drops the session if one is open and reports whether it was.
func (d *Dialogue) Cancel(participantID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[participantID]
	if ok {
		d.destroy(s)
	}
	return ok
}

func (d *Dialogue) Active(participantID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.sessions[participantID]
	return ok
}

// Step returns the state of an open session.
func (d *Dialogue) Step(participantID string) (Step, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[participantID]
	if !ok {
		return "", false
	}
	return s.step, true
}

// Close stops every pending timer and drops all sessions.
func (d *Dialogue) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sessions {
		d.destroy(s)
	}
}

// arm replaces the session timer with a fresh single-shot wait. Callers hold d.mu.
func (d *Dialogue) arm(s *session) {
	if s.timer != nil {
		s.timer.Stop()
	}
	d.gen++
	s.gen = d.gen
	gen, id := s.gen, s.id
	s.timer = d.cfg.AfterFunc(d.cfg.Timeout, func() { d.expire(id, gen) })
}

// destroy removes the session. Callers hold d.mu.
func (d *Dialogue) destroy(s *session) {
	if s.timer != nil {
		s.timer.Stop()
	}
	delete(d.sessions, s.id)
}

func (d *Dialogue) expire(participantID string, gen uint64) {
	d.mu.Lock()
	s, ok := d.sessions[participantID]
	if !ok || s.gen != gen {
		d.mu.Unlock()
		return
	}
	step := s.step
	delete(d.sessions, participantID)
	d.mu.Unlock()

	d.cfg.Logger.Info("registration timed out", zap.String("participant_id", participantID), zap.String("step", string(step)))
	if d.cfg.OnTimeout != nil {
		d.cfg.OnTimeout(participantID, step)
	}
}
