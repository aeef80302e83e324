package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streakline/internal/clock"
	"streakline/internal/domain"
	"streakline/internal/engine"
)

type testEnv struct {
	Engine engine.Engine
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	clk := clock.Clock{Location: time.UTC, Now: func() time.Time { return env.now }}
	env.Engine = engine.New(domain.NewAggregate(), clk, engine.DefaultPolicy(), nil)
	return env
}

// at moves the clock to the given day and hour.
func (env *testEnv) at(day domain.Date, hour int) {
	d := day.Time()
	env.now = time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, time.UTC)
}

func (env *testEnv) enroll(t *testing.T, id string, pledge int64) domain.Participant {
	t.Helper()
	p, err := env.Engine.Enroll(engine.Enrollment{
		ID:     id,
		Name:   "Name " + id,
		Goal:   "Read 1 page daily",
		Pledge: decimal.NewFromInt(pledge),
	})
	require.NoError(t, err)
	return p
}

func TestEnrollDefaults(t *testing.T) {
	env := newTestEnv(t)
	p := env.enroll(t, "u1", 10)
	assert.True(t, p.Active)
	assert.False(t, p.Paused)
	assert.False(t, p.Warned)
	assert.Nil(t, p.LastLogDate)
	assert.True(t, p.TotalDonations.IsZero())
	assert.Equal(t, domain.Date("2024-03-01"), p.RegisteredDate)

	_, err := env.Engine.Enroll(engine.Enrollment{ID: "u1", Goal: "Read 1 page", Pledge: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, engine.ErrAlreadyRegistered)

	_, err = env.Engine.Enroll(engine.Enrollment{ID: "u2", Goal: "ab", Pledge: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidGoal)
	assert.True(t, engine.IsValidation(err))
}

func TestNeverLoggingAccruesMissedDays(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "u1", 5)
	for i := 0; i < 5; i++ {
		env.at(domain.Date("2024-03-01").AddDays(i), 12)
		streak, err := env.Engine.ComputeStreak("u1")
		require.NoError(t, err)
		assert.Equal(t, 0, streak)
		missed, err := env.Engine.ComputeMissedDays("u1")
		require.NoError(t, err)
		assert.Equal(t, i, missed)
	}
}

func TestDailyLogIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "u1", 5)

	res, err := env.Engine.RecordDailyLog("u1", "page 4")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Streak)
	first, _ := env.Engine.Agg.GetLog("u1", "2024-03-01")

	env.now = env.now.Add(time.Hour)
	_, err = env.Engine.RecordDailyLog("u1", "again")
	assert.ErrorIs(t, err, engine.ErrAlreadyLogged)
	assert.True(t, engine.IsConflict(err))

	second, _ := env.Engine.Agg.GetLog("u1", "2024-03-01")
	assert.Equal(t, first, second)
	assert.Equal(t, domain.LogDaily, second.Type)
}

func TestBackfillWindow(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "u1", 5)

	env.at("2024-03-02", 7)
	_, err := env.Engine.RecordBackfillLog("u1", "")
	assert.ErrorIs(t, err, engine.ErrCutoffPassed)

	env.at("2024-03-02", 6)
	res, err := env.Engine.RecordBackfillLog("u1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.Date("2024-03-01"), res.Date)
	assert.Equal(t, domain.LogForgot, res.Entry.Type)
	assert.True(t, res.Entry.Completed)

	_, err = env.Engine.RecordBackfillLog("u1", "")
	assert.ErrorIs(t, err, engine.ErrYesterdayLogged)

	env.at("2024-03-03", 8)
	_, err = env.Engine.RecordBackfillLog("u1", "")
	assert.ErrorIs(t, err, engine.ErrCutoffPassed, "closed window wins regardless of yesterday's state")
}

func TestBackfillRejectedOnceTodayLogged(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "u1", 5)
	env.at("2024-03-02", 5)
	_, err := env.Engine.RecordDailyLog("u1", "")
	require.NoError(t, err)
	_, err = env.Engine.RecordBackfillLog("u1", "")
	assert.ErrorIs(t, err, engine.ErrTodayLogged)
}

func TestExemptionGuards(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "u1", 5)

	_, err := env.Engine.RecordExemption("u1", "  ")
	assert.ErrorIs(t, err, engine.ErrEmptyReason)

	res, err := env.Engine.RecordExemption("u1", "travelling")
	require.NoError(t, err)
	assert.True(t, res.Entry.Exempt)
	assert.False(t, res.Entry.Completed)
	assert.Equal(t, "travelling", res.Entry.Reason)

	_, err = env.Engine.RecordExemption("u1", "again")
	assert.ErrorIs(t, err, engine.ErrAlreadyExempt)

	env.enroll(t, "u2", 5)
	_, err = env.Engine.RecordDailyLog("u2", "")
	require.NoError(t, err)
	_, err = env.Engine.RecordExemption("u2", "sick")
	assert.ErrorIs(t, err, engine.ErrAlreadyLogged)
}

func TestPausedRejectsRecording(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "u1", 5)
	_, err := env.Engine.Pause("u1")
	require.NoError(t, err)
	_, err = env.Engine.Pause("u1")
	assert.ErrorIs(t, err, engine.ErrAlreadyPaused)

	_, err = env.Engine.RecordDailyLog("u1", "")
	assert.ErrorIs(t, err, engine.ErrPaused)
	env.at("2024-03-02", 6)
	_, err = env.Engine.RecordBackfillLog("u1", "")
	assert.ErrorIs(t, err, engine.ErrPaused)
	_, err = env.Engine.RecordExemption("u1", "sick")
	assert.ErrorIs(t, err, engine.ErrPaused)
}

func TestAutoPauseFiresOncePerEpisode(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "u1", 5)

	env.at("2024-03-03", 8)
	paused, err := env.Engine.AutoPause("u1")
	require.NoError(t, err)
	assert.False(t, paused, "only two days since registration")

	env.at("2024-03-04", 8)
	paused, err = env.Engine.AutoPause("u1")
	require.NoError(t, err)
	assert.True(t, paused)
	p, _ := env.Engine.Participant("u1")
	assert.True(t, p.Paused)
	assert.True(t, p.Warned)

	paused, err = env.Engine.AutoPause("u1")
	require.NoError(t, err)
	assert.False(t, paused, "no re-warning without an intervening log")

	_, err = env.Engine.Resume("u1")
	require.NoError(t, err)
	p, _ = env.Engine.Participant("u1")
	assert.False(t, p.Paused)
	assert.False(t, p.Warned)
	assert.NotNil(t, p.ResumeDate)

	_, err = env.Engine.RecordDailyLog("u1", "")
	require.NoError(t, err, "resume must allow logging immediately")

	_, err = env.Engine.Resume("u1")
	assert.ErrorIs(t, err, engine.ErrNotPaused)
}

func TestLogClearsWarnedLatch(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "u1", 5)
	p, _ := env.Engine.Agg.Participant("u1")
	p.Warned = true
	_, err := env.Engine.RecordDailyLog("u1", "")
	require.NoError(t, err)
	assert.False(t, p.Warned)
	require.NotNil(t, p.LastLogDate)
	assert.Equal(t, domain.Date("2024-03-01"), *p.LastLogDate)
}

func TestHasMissedThreeConsecutiveDays(t *testing.T) {
	env := newTestEnv(t)
	env.at("2024-02-20", 12)
	env.enroll(t, "u1", 5)

	env.at("2024-03-01", 12)
	missed, err := env.Engine.HasMissedThreeConsecutiveDays("u1")
	require.NoError(t, err)
	assert.True(t, missed)

	env.Engine.Agg.SetLog("u1", "2024-02-27", domain.LogEntry{Completed: true, Type: domain.LogDaily}, env.now)
	missed, _ = env.Engine.HasMissedThreeConsecutiveDays("u1")
	assert.False(t, missed, "day-3 completed breaks the run")

	_, err = env.Engine.HasMissedThreeConsecutiveDays("ghost")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestDonationBalanceNeverNegative(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "u1", 10)
	env.at("2024-03-04", 12)

	due, err := env.Engine.DonationBalance("u1")
	require.NoError(t, err)
	assert.True(t, due.Equal(decimal.NewFromInt(30)))

	receipt, err := env.Engine.RecordPayment("admin", "u1", decimal.NewFromInt(45))
	require.NoError(t, err)
	assert.Equal(t, int64(4), receipt.DaysCovered)
	assert.True(t, receipt.Balance.IsZero())
	assert.True(t, receipt.TotalDonations.Equal(decimal.NewFromInt(45)))

	due, _ = env.Engine.DonationBalance("u1")
	assert.True(t, due.IsZero())

	_, err = env.Engine.RecordPayment("admin", "u1", decimal.Zero)
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)
}

func TestDaysCoveredGuardsZeroPledge(t *testing.T) {
	assert.Equal(t, int64(0), engine.DaysCovered(decimal.NewFromInt(50), decimal.Zero))
	assert.Equal(t, int64(2), engine.DaysCovered(decimal.NewFromInt(25), decimal.NewFromInt(10)))
}

func TestExitRemovesAllTrace(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "u1", 5)
	env.enroll(t, "u2", 5)
	_, err := env.Engine.RecordDailyLog("u1", "")
	require.NoError(t, err)
	_, err = env.Engine.RecordDailyLog("u2", "")
	require.NoError(t, err)
	env.at("2024-03-02", 12)
	_, err = env.Engine.RecordExemption("u1", "travel")
	require.NoError(t, err)

	res, err := env.Engine.Exit("u1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.RemovedLogs)

	_, err = env.Engine.ComputeStreak("u1")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.ComputeMissedDays("u1")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	for date, bucket := range env.Engine.Agg.Logs {
		_, ok := bucket["u1"]
		assert.False(t, ok, "bucket %s still holds u1", date)
	}
	_, ok := env.Engine.Agg.GetLog("u2", "2024-03-01")
	assert.True(t, ok)

	var exited bool
	for _, evt := range env.Engine.Agg.PendingEvents() {
		if evt.Type == "participant.exited" && evt.EntityID == "u1" {
			exited = true
		}
	}
	assert.True(t, exited)
}

func TestExemptionPolicy(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "u1", 10)
	_, err := env.Engine.RecordDailyLog("u1", "")
	require.NoError(t, err)
	env.at("2024-03-02", 12)
	_, err = env.Engine.RecordExemption("u1", "sick")
	require.NoError(t, err)
	env.at("2024-03-03", 12)
	_, err = env.Engine.RecordDailyLog("u1", "")
	require.NoError(t, err)

	streak, _ := env.Engine.ComputeStreak("u1")
	assert.Equal(t, 2, streak, "exempt day neither breaks nor extends the streak")
	missed, _ := env.Engine.ComputeMissedDays("u1")
	assert.Equal(t, 0, missed)

	env.Engine.Policy.ExemptionsNeutral = false
	streak, _ = env.Engine.ComputeStreak("u1")
	assert.Equal(t, 1, streak)
	missed, _ = env.Engine.ComputeMissedDays("u1")
	assert.Equal(t, 1, missed)
}

func TestEndToEndMissedSeventhDay(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "u1", 10)
	start := domain.Date("2024-03-01")
	for i := 0; i < 6; i++ {
		env.at(start.AddDays(i), 21)
		_, err := env.Engine.RecordDailyLog("u1", "")
		require.NoError(t, err)
	}
	env.at(start.AddDays(5), 22)
	streak, _ := env.Engine.ComputeStreak("u1")
	assert.Equal(t, 6, streak)

	env.at(start.AddDays(7), 12)
	streak, err := env.Engine.ComputeStreak("u1")
	require.NoError(t, err)
	assert.Equal(t, 0, streak)
	missed, err := env.Engine.ComputeMissedDays("u1")
	require.NoError(t, err)
	assert.Equal(t, 1, missed)
	due, err := env.Engine.DonationBalance("u1")
	require.NoError(t, err)
	assert.Equal(t, "10.00", due.StringFixed(2))
}

func TestStatsAndBoard(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "u1", 10)
	env.enroll(t, "u2", 10)
	_, err := env.Engine.RecordDailyLog("u1", "")
	require.NoError(t, err)
	env.at("2024-03-02", 12)
	_, err = env.Engine.RecordDailyLog("u1", "")
	require.NoError(t, err)

	stats, err := env.Engine.Stats("u1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Streak)
	assert.Equal(t, 2, stats.DaysRegistered)
	assert.Equal(t, "100", stats.CompletionRate.String())
	assert.True(t, stats.LoggedToday)

	stats, err = env.Engine.Stats("u2")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MissedDays)
	assert.Equal(t, "50", stats.CompletionRate.String())

	board := env.Engine.Board()
	assert.Equal(t, 2, board.Total)
	assert.Equal(t, 1, board.LoggedCount)
}

func TestUnknownParticipant(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ComputeStreak("nobody")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.DonationBalance("nobody")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.RecordPayment("admin", "nobody", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, engine.ErrNotFound)
}
