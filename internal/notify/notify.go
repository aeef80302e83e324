// Package notify delivers structured facts to participants and to the
// broadcast channel. Rendering facts into human text is left to the sink.
package notify

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"streakline/internal/domain"
)

// Target addresses a fact either privately to one participant or to the
// configured broadcast channel.
type Target struct {
	ParticipantID string `json:"participant_id,omitempty"`
	Broadcast     bool   `json:"broadcast,omitempty"`
	ChannelID     string `json:"channel_id,omitempty"`
}

func Private(participantID string) Target { return Target{ParticipantID: participantID} }

func Channel() Target { return Target{Broadcast: true} }

// Delivery pairs a fact with where it should go.
type Delivery struct {
	Target Target
	Fact   domain.Fact
}

type Notifier interface {
	Notify(ctx context.Context, target Target, fact domain.Fact) error
}

// LogNotifier writes every fact to the logger.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, target Target, fact domain.Fact) error {
	logger := n.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("notification",
		zap.String("fact", fact.FactKind()),
		zap.String("participant_id", target.ParticipantID),
		zap.String("channel_id", target.ChannelID),
		zap.Any("payload", fact))
	return nil
}

// Multi fans a fact out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, target Target, fact domain.Fact) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, target, fact); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deliver sends each delivery and logs failures instead of returning them.
// Broadcasts are skipped while channelID is empty.
func Deliver(ctx context.Context, logger *zap.Logger, n Notifier, channelID string, deliveries []Delivery) {
	if n == nil || len(deliveries) == 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, d := range deliveries {
		target := d.Target
		if target.Broadcast {
			if channelID == "" {
				logger.Warn("no broadcast channel configured; skipping", zap.String("fact", d.Fact.FactKind()))
				continue
			}
			target.ChannelID = channelID
		}
		if err := n.Notify(ctx, target, d.Fact); err != nil {
			logger.Warn("notification failed",
				zap.String("fact", d.Fact.FactKind()),
				zap.String("participant_id", target.ParticipantID),
				zap.Error(err))
		}
	}
}

// Recorder keeps the facts it receives. It backs the in-process inbox of the
// HTTP API and is handy in tests. Limit caps the history; zero keeps all.
type Recorder struct {
	Limit int

	mu         sync.Mutex
	deliveries []Delivery
}

func (r *Recorder) Notify(_ context.Context, target Target, fact domain.Fact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, Delivery{Target: target, Fact: fact})
	if r.Limit > 0 && len(r.deliveries) > r.Limit {
		r.deliveries = append([]Delivery(nil), r.deliveries[len(r.deliveries)-r.Limit:]...)
	}
	return nil
}

// Deliveries returns a copy of everything recorded so far.
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// For returns the facts addressed privately to participantID.
func (r *Recorder) For(participantID string) []domain.Fact {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Fact
	for _, d := range r.deliveries {
		if !d.Target.Broadcast && d.Target.ParticipantID == participantID {
			out = append(out, d.Fact)
		}
	}
	return out
}
