package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"streakline/internal/clock"
	"streakline/internal/domain"
	"streakline/internal/engine"
	"streakline/internal/engine/auth"
	"streakline/internal/identity"
	"streakline/internal/notify"
	"streakline/internal/registration"
	"streakline/internal/scheduler"
)

// Store persists full aggregate snapshots.
type Store interface {
	Load(ctx context.Context) (*domain.Aggregate, error)
	Save(ctx context.Context, agg *domain.Aggregate) error
}

type Options struct {
	Store               Store
	Notifier            notify.Notifier
	Clock               clock.Clock
	Policy              engine.Policy
	RegistrationTimeout time.Duration
	// Admins are granted on top of the persisted admin set.
	Admins    []string
	AfterFunc func(d time.Duration, f func()) registration.Timer
	Logger    *zap.Logger
}

// Service serializes every command and scheduled pass against the one
// in-memory aggregate. Each mutating command is followed by a snapshot save;
// a failed save is logged and the in-memory state stays authoritative.
type Service struct {
	mu       sync.Mutex
	engine   engine.Engine
	store    Store
	notifier notify.Notifier
	dialogue *registration.Dialogue
	logger   *zap.Logger
}

// NewService loads the aggregate from the store and wires the dialogue.
func NewService(ctx context.Context, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	agg := domain.NewAggregate()
	if opts.Store != nil {
		loaded, err := opts.Store.Load(ctx)
		if err != nil {
			return nil, err
		}
		agg = loaded
	}
	for _, id := range opts.Admins {
		if id = strings.TrimSpace(id); id != "" {
			agg.GrantAdmin(id)
		}
	}
	s := &Service{
		engine:   engine.New(agg, opts.Clock, opts.Policy, logger),
		store:    opts.Store,
		notifier: opts.Notifier,
		logger:   logger,
	}
	s.dialogue = registration.New(registration.Config{
		Timeout:   opts.RegistrationTimeout,
		Exists:    s.exists,
		Enroll:    s.engine.Enroll,
		OnTimeout: s.registrationTimedOut,
		AfterFunc: opts.AfterFunc,
		Logger:    logger,
	})
	return s, nil
}

// Close abandons open registration sessions.
func (s *Service) Close() {
	s.dialogue.Close()
}

func (s *Service) exists(id string) bool {
	_, ok := s.engine.Agg.Participant(id)
	return ok
}

// save persists the aggregate. Callers hold s.mu.
func (s *Service) save(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, s.engine.Agg); err != nil {
		s.logger.Error("save failed; keeping in-memory state", zap.Error(err))
	}
}

// deliver sends facts outside the lock.
func (s *Service) deliver(ctx context.Context, channelID string, deliveries []notify.Delivery) {
	notify.Deliver(ctx, s.logger, s.notifier, channelID, deliveries)
}

func (s *Service) registrationTimedOut(participantID string, step registration.Step) {
	s.deliver(context.Background(), "", []notify.Delivery{{
		Target: notify.Private(participantID),
		Fact:   domain.RegistrationTimedOut{ParticipantID: participantID, Step: string(step)},
	}})
}

// StartRegistration opens the enrollment dialogue for participantID.
func (s *Service) StartRegistration(_ context.Context, participantID, name string) (registration.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialogue.Start(participantID, name)
}

// SubmitRegistration feeds one answer to the dialogue. On completion the new
// participant is saved and welcomed.
func (s *Service) SubmitRegistration(ctx context.Context, participantID, input string) (registration.Outcome, error) {
	s.mu.Lock()
	out, err := s.dialogue.Submit(participantID, input)
	if err != nil || out.Step != registration.Completed {
		s.mu.Unlock()
		return out, err
	}
	s.save(ctx)
	s.mu.Unlock()

	p := out.Participant
	s.deliver(ctx, "", []notify.Delivery{{
		Target: notify.Private(p.ID),
		Fact: domain.Welcome{
			ParticipantID:  p.ID,
			Name:           p.Name,
			Goal:           p.Goal,
			Pledge:         p.Pledge,
			RegisteredDate: p.RegisteredDate,
		},
	}})
	return out, nil
}

func (s *Service) CancelRegistration(participantID string) bool {
	return s.dialogue.Cancel(participantID)
}

func (s *Service) RegistrationStep(participantID string) (registration.Step, bool) {
	return s.dialogue.Step(participantID)
}

func (s *Service) Log(ctx context.Context, participantID, notes string) (engine.LogResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.engine.RecordDailyLog(participantID, notes)
	if err != nil {
		return res, err
	}
	s.save(ctx)
	return res, nil
}

func (s *Service) Forgot(ctx context.Context, participantID, notes string) (engine.LogResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.engine.RecordBackfillLog(participantID, notes)
	if err != nil {
		return res, err
	}
	s.save(ctx)
	return res, nil
}

func (s *Service) Exempt(ctx context.Context, participantID, reason string) (engine.LogResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.engine.RecordExemption(participantID, reason)
	if err != nil {
		return res, err
	}
	s.save(ctx)
	return res, nil
}

func (s *Service) Streak(participantID string) (engine.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Stats(participantID)
}

func (s *Service) Leave(ctx context.Context, participantID string) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.engine.Pause(participantID)
	if err != nil {
		return p, err
	}
	s.save(ctx)
	return p, nil
}

func (s *Service) Continue(ctx context.Context, participantID string) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.engine.Resume(participantID)
	if err != nil {
		return p, err
	}
	s.save(ctx)
	return p, nil
}

// Exit removes the participant and every log they own.
func (s *Service) Exit(ctx context.Context, participantID string) (engine.ExitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialogue.Cancel(participantID)
	res, err := s.engine.Exit(participantID)
	if err != nil {
		return res, err
	}
	s.save(ctx)
	return res, nil
}

func (s *Service) View() engine.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Board()
}

func (s *Service) Participant(participantID string) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Participant(participantID)
}

// Participants returns copies of every participant, paused ones included.
func (s *Service) Participants() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Participant
	for _, p := range s.engine.Agg.ListParticipants() {
		out = append(out, *p)
	}
	return out
}

// ParseAmount reads a payment amount such as "25" or "$12.50".
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "$")
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, engine.ErrInvalidAmount
	}
	return amount, nil
}

// Paid records a donation for the participant named by mention. Admin only;
// the receipt goes privately to the payer.
func (s *Service) Paid(ctx context.Context, actorID, mention, rawAmount string) (domain.PaymentReceipt, error) {
	s.mu.Lock()
	if err := auth.RequireAdmin(s.engine.Agg, actorID); err != nil {
		s.mu.Unlock()
		return domain.PaymentReceipt{}, err
	}
	amount, err := ParseAmount(rawAmount)
	if err != nil {
		s.mu.Unlock()
		return domain.PaymentReceipt{}, err
	}
	participantID, err := identity.ResolveMention(s.engine.Agg, mention)
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, identity.ErrUnknownMention) {
			return domain.PaymentReceipt{}, engine.ErrNotFound
		}
		return domain.PaymentReceipt{}, err
	}
	receipt, err := s.engine.RecordPayment(actorID, participantID, amount)
	if err != nil {
		s.mu.Unlock()
		return receipt, err
	}
	s.save(ctx)
	s.mu.Unlock()

	s.deliver(ctx, "", []notify.Delivery{{Target: notify.Private(participantID), Fact: receipt}})
	return receipt, nil
}

// Setup points broadcast facts at channelID. Admin only.
func (s *Service) Setup(ctx context.Context, actorID, guildID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := auth.RequireAdmin(s.engine.Agg, actorID); err != nil {
		return err
	}
	if strings.TrimSpace(channelID) == "" {
		return errors.New("channel id is required")
	}
	s.engine.Setup(actorID, strings.TrimSpace(guildID), strings.TrimSpace(channelID))
	s.save(ctx)
	return nil
}

// GrantAdmin and RevokeAdmin are operator commands; they trust the caller.
func (s *Service) GrantAdmin(ctx context.Context, actorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.Agg.GrantAdmin(actorID)
	s.engine.Agg.Record(domain.PendingEvent{Type: "admin.granted", EntityKind: "admin", EntityID: actorID, ActorID: "operator"})
	s.save(ctx)
}

func (s *Service) RevokeAdmin(ctx context.Context, actorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.Agg.RevokeAdmin(actorID)
	s.engine.Agg.Record(domain.PendingEvent{Type: "admin.revoked", EntityKind: "admin", EntityID: actorID, ActorID: "operator"})
	s.save(ctx)
}

func (s *Service) Admins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Agg.AdminIDs()
}

// RunTrigger executes one scheduled pass under the lock, saves, then
// delivers the resulting facts. It returns the deliveries it attempted.
func (s *Service) RunTrigger(ctx context.Context, trigger scheduler.Trigger) ([]notify.Delivery, error) {
	s.mu.Lock()
	deliveries, err := scheduler.Dispatcher{Engine: s.engine}.Dispatch(trigger)
	if len(s.engine.Agg.PendingEvents()) > 0 {
		s.save(ctx)
	}
	channelID := s.engine.Agg.ChannelID
	s.mu.Unlock()

	s.deliver(ctx, channelID, deliveries)
	if err != nil {
		s.logger.Error("scheduled pass failed", zap.String("trigger", string(trigger)), zap.Error(err))
		return deliveries, err
	}
	s.logger.Info("scheduled pass done", zap.String("trigger", string(trigger)), zap.Int("deliveries", len(deliveries)))
	return deliveries, nil
}

// TriggerAs runs a pass on behalf of an admin.
func (s *Service) TriggerAs(ctx context.Context, actorID string, trigger scheduler.Trigger) ([]notify.Delivery, error) {
	s.mu.Lock()
	err := auth.RequireAdmin(s.engine.Agg, actorID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.RunTrigger(ctx, trigger)
}

// Scheduled adapts RunTrigger to the cron runner.
func (s *Service) Scheduled(ctx context.Context, trigger scheduler.Trigger) {
	_, _ = s.RunTrigger(ctx, trigger)
}

func (s *Service) IsAdmin(actorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Agg.IsAdmin(actorID)
}
