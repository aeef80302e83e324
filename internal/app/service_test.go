package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"streakline/internal/clock"
	"streakline/internal/config"
	"streakline/internal/domain"
	"streakline/internal/engine"
	"streakline/internal/engine/auth"
	"streakline/internal/notify"
	"streakline/internal/registration"
	"streakline/internal/repo"
	"streakline/internal/scheduler"
)

type memStore struct {
	saves int
	err   error
}

func (m *memStore) Load(context.Context) (*domain.Aggregate, error) {
	return domain.NewAggregate(), nil
}

func (m *memStore) Save(_ context.Context, agg *domain.Aggregate) error {
	m.saves++
	if m.err != nil {
		return m.err
	}
	agg.ClearEvents(len(agg.PendingEvents()))
	return nil
}

type manualTimer struct{ fire func() }

func (manualTimer) Stop() bool { return true }

type testService struct {
	*Service
	store  *memStore
	inbox  *notify.Recorder
	now    time.Time
	timers []manualTimer
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	ts := &testService{store: &memStore{}, inbox: &notify.Recorder{}}
	ts.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewService(context.Background(), Options{
		Store:    ts.store,
		Notifier: ts.inbox,
		Clock:    clock.Clock{Location: time.UTC, Now: func() time.Time { return ts.now }},
		Policy:   engine.DefaultPolicy(),
		Admins:   []string{"boss"},
		AfterFunc: func(_ time.Duration, f func()) registration.Timer {
			tm := manualTimer{fire: f}
			ts.timers = append(ts.timers, tm)
			return tm
		},
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	ts.Service = svc
	return ts
}

func (ts *testService) register(t *testing.T, id, name, goal, pledge string) {
	t.Helper()
	ctx := context.Background()
	_, err := ts.StartRegistration(ctx, id, name)
	require.NoError(t, err)
	_, err = ts.SubmitRegistration(ctx, id, goal)
	require.NoError(t, err)
	out, err := ts.SubmitRegistration(ctx, id, pledge)
	require.NoError(t, err)
	require.Equal(t, registration.Completed, out.Step)
}

func TestRegistrationSavesAndWelcomes(t *testing.T) {
	ts := newTestService(t)
	ts.register(t, "u1", "Ada", "Read 1 page daily", "10")

	p, err := ts.Participant("u1")
	require.NoError(t, err)
	assert.True(t, p.Pledge.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 1, ts.store.saves)

	facts := ts.inbox.For("u1")
	require.Len(t, facts, 1)
	assert.Equal(t, domain.FactWelcome, facts[0].FactKind())

	_, err = ts.StartRegistration(context.Background(), "u1", "Ada")
	assert.ErrorIs(t, err, engine.ErrAlreadyRegistered)
}

func TestRegistrationGuardAndTimeout(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()
	_, err := ts.StartRegistration(ctx, "u1", "Ada")
	require.NoError(t, err)
	_, err = ts.StartRegistration(ctx, "u1", "Ada")
	assert.ErrorIs(t, err, registration.ErrSessionOpen)

	ts.timers[len(ts.timers)-1].fire()
	_, open := ts.RegistrationStep("u1")
	assert.False(t, open)
	facts := ts.inbox.For("u1")
	require.Len(t, facts, 1)
	assert.Equal(t, domain.RegistrationTimedOut{ParticipantID: "u1", Step: string(registration.AwaitingGoal)}, facts[0])
	assert.Zero(t, ts.store.saves)
}

func TestCommandsSaveOnlyOnSuccess(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()
	ts.register(t, "u1", "Ada", "Read 1 page daily", "10")
	saves := ts.store.saves

	_, err := ts.Log(ctx, "u1", "page 3")
	require.NoError(t, err)
	_, err = ts.Log(ctx, "u1", "again")
	assert.ErrorIs(t, err, engine.ErrAlreadyLogged)
	assert.Equal(t, saves+1, ts.store.saves)

	_, err = ts.Leave(ctx, "u1")
	require.NoError(t, err)
	_, err = ts.Exempt(ctx, "u1", "sick")
	assert.ErrorIs(t, err, engine.ErrPaused)
	_, err = ts.Continue(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, saves+3, ts.store.saves)

	stats, err := ts.Streak("u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Streak)
}

func TestSaveFailureIsNotFatal(t *testing.T) {
	ts := newTestService(t)
	core, logs := observer.New(zap.ErrorLevel)
	ts.logger = zap.New(core)
	ts.store.err = errors.New("disk full")
	ts.register(t, "u1", "Ada", "Read 1 page daily", "10")

	_, err := ts.Log(context.Background(), "u1", "")
	require.NoError(t, err)
	board := ts.View()
	assert.Equal(t, 1, board.LoggedCount, "in-memory state stays authoritative")
	assert.Equal(t, 2, logs.FilterMessage("save failed; keeping in-memory state").Len())
}

func TestPaidRequiresAdminAndNotifiesPayer(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()
	ts.register(t, "u1", "Ada", "Read 1 page daily", "10")
	ts.now = ts.now.AddDate(0, 0, 3)

	_, err := ts.Paid(ctx, "u1", "<@u1>", "30")
	var forbidden auth.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)

	_, err = ts.Paid(ctx, "boss", "@ada", "abc")
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)
	_, err = ts.Paid(ctx, "boss", "@nobody", "5")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	receipt, err := ts.Paid(ctx, "boss", "@ada", "$30")
	require.NoError(t, err)
	assert.Equal(t, int64(3), receipt.DaysCovered)
	assert.True(t, receipt.Balance.IsZero())

	facts := ts.inbox.For("u1")
	require.Len(t, facts, 2)
	assert.Equal(t, domain.FactPaymentReceipt, facts[1].FactKind())
}

func TestSetupAndBroadcastTriggers(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()
	ts.register(t, "u1", "Ada", "Read 1 page daily", "10")

	deliveries, err := ts.RunTrigger(ctx, scheduler.TriggerDaily)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	for _, d := range ts.inbox.Deliveries() {
		assert.False(t, d.Target.Broadcast, "broadcast skipped without a channel")
	}

	assert.Error(t, ts.Setup(ctx, "u1", "g1", "c1"))
	require.NoError(t, ts.Setup(ctx, "boss", "g1", "c1"))
	_, err = ts.RunTrigger(ctx, scheduler.TriggerDaily)
	require.NoError(t, err)
	all := ts.inbox.Deliveries()
	last := all[len(all)-1]
	assert.True(t, last.Target.Broadcast)
	assert.Equal(t, "c1", last.Target.ChannelID)

	_, err = ts.TriggerAs(ctx, "u1", scheduler.TriggerDaily)
	assert.Error(t, err)
}

func TestNeglectSweepThroughService(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()
	ts.register(t, "u1", "Ada", "Read 1 page daily", "10")
	ts.now = ts.now.AddDate(0, 0, 3)

	deliveries, err := ts.RunTrigger(ctx, scheduler.TriggerNeglectSweep)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	p, _ := ts.Participant("u1")
	assert.True(t, p.Paused)

	deliveries, err = ts.RunTrigger(ctx, scheduler.TriggerNeglectSweep)
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestExitCancelsSessionAndRemovesParticipant(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()
	ts.register(t, "u1", "Ada", "Read 1 page daily", "10")
	_, err := ts.Log(ctx, "u1", "")
	require.NoError(t, err)

	res, err := ts.Exit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemovedLogs)
	_, err = ts.Participant("u1")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	assert.Empty(t, ts.Participants())
}

func TestOpenWorkspace(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Clock.Timezone = "UTC"
	cfg.Admins = []string{"boss"}

	env, err := Open(ctx, dir, cfg, nil)
	require.NoError(t, err)
	_, err = env.Service.StartRegistration(ctx, "u1", "Ada")
	require.NoError(t, err)
	_, err = env.Service.SubmitRegistration(ctx, "u1", "Read 1 page daily")
	require.NoError(t, err)
	_, err = env.Service.SubmitRegistration(ctx, "u1", "5")
	require.NoError(t, err)
	require.NoError(t, env.Close())

	env, err = Open(ctx, dir, cfg, nil)
	require.NoError(t, err)
	defer env.Close()
	p, err := env.Service.Participant("u1")
	require.NoError(t, err)
	assert.Equal(t, "Read 1 page daily", p.Goal)
	assert.Equal(t, []string{"boss"}, env.Service.Admins())
	require.Len(t, env.Inbox.Deliveries(), 0, "inbox is per process")

	evts, err := env.Repo.LatestEvents(ctx, 10, repo.EventFilter{Type: "participant.registered"})
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}
