package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"streakline/internal/config"
	"streakline/internal/domain"
)

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, Target, domain.Fact) error {
	return errors.New("sink down")
}

func TestDeliverSkipsBroadcastWithoutChannel(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rec := &Recorder{}
	deliveries := []Delivery{
		{Target: Channel(), Fact: domain.FridayReminder{Date: "2024-03-01", Variant: domain.ReminderMorning}},
		{Target: Private("u1"), Fact: domain.NeglectWarning{ParticipantID: "u1", Date: "2024-03-01"}},
	}
	Deliver(context.Background(), zap.New(core), rec, "", deliveries)
	got := rec.Deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].Target.ParticipantID)
	assert.Equal(t, 1, logs.FilterMessage("no broadcast channel configured; skipping").Len())

	Deliver(context.Background(), zap.New(core), rec, "c1", deliveries[:1])
	got = rec.Deliveries()
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[1].Target.ChannelID)
}

func TestDeliverSwallowsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rec := &Recorder{}
	n := Multi{failingNotifier{}, rec}
	Deliver(context.Background(), zap.New(core), n, "c1", []Delivery{{Target: Private("u1"), Fact: domain.Welcome{ParticipantID: "u1"}}})
	assert.Len(t, rec.Deliveries(), 1, "later sinks still receive the fact")
	assert.Equal(t, 1, logs.FilterMessage("notification failed").Len())
}

func TestRecorderLimitAndFilter(t *testing.T) {
	rec := &Recorder{Limit: 2}
	ctx := context.Background()
	require.NoError(t, rec.Notify(ctx, Private("u1"), domain.Welcome{ParticipantID: "u1"}))
	require.NoError(t, rec.Notify(ctx, Private("u2"), domain.Welcome{ParticipantID: "u2"}))
	require.NoError(t, rec.Notify(ctx, Private("u1"), domain.NeglectWarning{ParticipantID: "u1"}))
	assert.Len(t, rec.Deliveries(), 2)
	facts := rec.For("u1")
	require.Len(t, facts, 1)
	assert.Equal(t, domain.FactNeglectWarning, facts[0].FactKind())
}

func TestWebhookNotifier(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []webhookDelivery
		heads  []http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body webhookDelivery
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies = append(bodies, body)
		heads = append(heads, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier([]config.WebhookConfig{
		{URL: srv.URL, Secret: "s3cret", Facts: []string{domain.FactPaymentReceipt}, Enabled: true},
		{URL: srv.URL + "/disabled", Enabled: false},
	})
	n.Now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, Channel(), domain.FridayReminder{Variant: domain.ReminderEvening}))
	require.NoError(t, n.Notify(ctx, Private("u1"), domain.PaymentReceipt{ParticipantID: "u1", Amount: decimal.NewFromInt(20)}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1, "filtered and disabled hooks receive nothing")
	assert.Equal(t, domain.FactPaymentReceipt, bodies[0].Kind)
	assert.Equal(t, "u1", bodies[0].Target.ParticipantID)
	assert.Equal(t, "2024-03-01T00:00:00Z", bodies[0].TS)
	assert.NotEmpty(t, bodies[0].DeliveryID)
	assert.Equal(t, "s3cret", heads[0].Get("X-Streakline-Secret"))
	assert.Equal(t, domain.FactPaymentReceipt, heads[0].Get("X-Streakline-Fact"))
	assert.Equal(t, bodies[0].DeliveryID, heads[0].Get("X-Streakline-Delivery"))
}

func TestWebhookNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	n := NewWebhookNotifier([]config.WebhookConfig{{URL: srv.URL, Enabled: true}})
	err := n.Notify(context.Background(), Private("u1"), domain.Welcome{ParticipantID: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
