package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streakline/internal/app"
	"streakline/internal/config"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Env    *app.Env
	client *http.Client
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T, authCfg AuthConfig) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Clock.Timezone = "UTC"
	cfg.Admins = []string{"boss"}
	env, err := app.Open(context.Background(), t.TempDir(), cfg, nil)
	require.NoError(t, err)
	handler, err := New(Config{
		Service:  env.Service,
		Repo:     env.Repo,
		Inbox:    env.Inbox,
		BasePath: "/v0",
		Auth:     authCfg,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		env.Close()
	})
	return &testServer{URL: srv.URL + "/v0", Env: env, client: srv.Client()}
}

func defaultAuth() AuthConfig {
	return AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true, DevLogin: true}
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func (s *testServer) register(t *testing.T, actor, name, goal, pledge string) {
	t.Helper()
	c := s.Client()
	res, data := doJSON(t, c, http.MethodPost, s.URL+"/registrations", map[string]any{"name": name}, as(actor))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	res, data = doJSON(t, c, http.MethodPost, s.URL+"/registrations/input", map[string]any{"input": goal}, as(actor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, c, http.MethodPost, s.URL+"/registrations/input", map[string]any{"input": pledge}, as(actor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t, defaultAuth())
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decode[errorEnvelope](t, data).Error.Code)
}

func TestRegistrationAndLogFlow(t *testing.T) {
	srv := newTestServer(t, defaultAuth())
	c := srv.Client()

	res, data := doJSON(t, c, http.MethodPost, srv.URL+"/registrations", map[string]any{"name": "Ada"}, as("u1"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	assert.Equal(t, "awaiting_goal", decode[RegistrationResponse](t, data).Step)

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/registrations", map[string]any{"name": "Ada"}, as("u1"))
	require.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "registration_in_progress", decode[errorEnvelope](t, data).Error.Code)

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/registrations/input", map[string]any{"input": "Read 1 page daily"}, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "awaiting_pledge", decode[RegistrationResponse](t, data).Step)

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/registrations/input", map[string]any{"input": "10"}, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	done := decode[RegistrationResponse](t, data)
	assert.Equal(t, "completed", done.Step)
	require.NotNil(t, done.Participant)
	assert.Equal(t, "10.00", done.Participant.Pledge)

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/me/log", map[string]any{"notes": "page 3"}, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	logged := decode[LogResponse](t, data)
	assert.Equal(t, 1, logged.Streak)
	assert.True(t, logged.Completed)

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/me/log", nil, as("u1"))
	require.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "already_logged", decode[errorEnvelope](t, data).Error.Code)

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/me/streak", nil, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	streak := decode[StreakResponse](t, data)
	assert.Equal(t, 1, streak.Streak)
	assert.Equal(t, "0.00", streak.Balance)
	assert.True(t, streak.LoggedToday)

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/status", nil, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	board := decode[BoardResponse](t, data)
	assert.Equal(t, 1, board.LoggedCount)
	assert.Equal(t, 1, board.Total)

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/me/notifications", nil, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	inbox := decode[NotificationsResponse](t, data)
	require.Len(t, inbox.Items, 1)
	assert.Equal(t, "welcome", inbox.Items[0].Kind)
}

func TestInvalidGoalEndsSession(t *testing.T) {
	srv := newTestServer(t, defaultAuth())
	c := srv.Client()
	res, _ := doJSON(t, c, http.MethodPost, srv.URL+"/registrations", nil, as("u1"))
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res, data := doJSON(t, c, http.MethodPost, srv.URL+"/registrations/input", map[string]any{"input": "ab"}, as("u1"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "invalid_goal", decode[errorEnvelope](t, data).Error.Code)

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/registrations/input", map[string]any{"input": "Read 1 page daily"}, as("u1"))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "no_registration", decode[errorEnvelope](t, data).Error.Code)

	res, _ = doJSON(t, c, http.MethodDelete, srv.URL+"/registrations", nil, as("u1"))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestOutOfRangePledgeEndsSession(t *testing.T) {
	srv := newTestServer(t, defaultAuth())
	c := srv.Client()
	res, data := doJSON(t, c, http.MethodPost, srv.URL+"/registrations", nil, as("u1"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/registrations/input", map[string]any{"input": "Read 1 page daily"}, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/registrations/input", map[string]any{"input": "5000"}, as("u1"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "invalid_pledge", decode[errorEnvelope](t, data).Error.Code)

	res, _ = doJSON(t, c, http.MethodGet, srv.URL+"/registrations", nil, as("u1"))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res, _ = doJSON(t, c, http.MethodGet, srv.URL+"/me/streak", nil, as("u1"))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestLogWithoutBody(t *testing.T) {
	srv := newTestServer(t, defaultAuth())
	c := srv.Client()
	srv.register(t, "u1", "Ada", "Read 1 page daily", "5")

	res, data := doJSON(t, c, http.MethodPost, srv.URL+"/me/log", nil, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	logged := decode[LogResponse](t, data)
	assert.Equal(t, "daily_log", logged.Type)
	assert.Empty(t, logged.Notes)
}

func TestPaymentAmbiguousMention(t *testing.T) {
	srv := newTestServer(t, defaultAuth())
	c := srv.Client()
	srv.register(t, "u1", "Sam", "Read 1 page daily", "5")
	srv.register(t, "u2", "sam", "Walk 5000 steps", "5")

	res, data := doJSON(t, c, http.MethodPost, srv.URL+"/payments", map[string]any{"participant": "@Sam", "amount": "10"}, as("boss"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "ambiguous_mention", decode[errorEnvelope](t, data).Error.Code)

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/payments", map[string]any{"participant": "<@u2>", "amount": "10"}, as("boss"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	assert.Equal(t, "u2", decode[PaymentResponse](t, data).ParticipantID)
}

func TestPauseResumeAndExit(t *testing.T) {
	srv := newTestServer(t, defaultAuth())
	c := srv.Client()
	srv.register(t, "u1", "Ada", "Read 1 page daily", "5")

	res, data := doJSON(t, c, http.MethodPost, srv.URL+"/me/leave", nil, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.True(t, decode[ParticipantResponse](t, data).Paused)

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/me/exempt", map[string]any{"reason": "sick"}, as("u1"))
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "paused", decode[errorEnvelope](t, data).Error.Code)

	res, _ = doJSON(t, c, http.MethodPost, srv.URL+"/me/continue", nil, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = doJSON(t, c, http.MethodPost, srv.URL+"/me/continue", nil, as("u1"))
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res, data = doJSON(t, c, http.MethodDelete, srv.URL+"/me", nil, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "u1", decode[ExitResponse](t, data).ParticipantID)

	res, _ = doJSON(t, c, http.MethodGet, srv.URL+"/me/streak", nil, as("u1"))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestAdminEndpoints(t *testing.T) {
	srv := newTestServer(t, defaultAuth())
	c := srv.Client()
	srv.register(t, "u1", "Ada", "Read 1 page daily", "10")

	res, data := doJSON(t, c, http.MethodPost, srv.URL+"/payments", map[string]any{"participant": "<@u1>", "amount": "30"}, as("u1"))
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	forbidden := decode[errorEnvelope](t, data)
	assert.Equal(t, "forbidden", forbidden.Error.Code)
	assert.Equal(t, "admin", forbidden.Error.Details["permission"])

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/payments", map[string]any{"participant": "@ada", "amount": "abc"}, as("boss"))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "invalid_amount", decode[errorEnvelope](t, data).Error.Code)

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/payments", map[string]any{"participant": "@ada", "amount": "$30"}, as("boss"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	receipt := decode[PaymentResponse](t, data)
	assert.Equal(t, "30.00", receipt.Amount)
	assert.Equal(t, int64(3), receipt.DaysCovered)
	assert.Equal(t, "boss", receipt.RecordedBy)

	res, _ = doJSON(t, c, http.MethodPut, srv.URL+"/setup", map[string]any{"channel_id": "c1"}, as("boss"))
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/triggers/daily", nil, as("boss"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	triggered := decode[TriggerResponse](t, data)
	require.Len(t, triggered.Deliveries, 1)
	assert.Equal(t, "daily_summary", triggered.Deliveries[0].Kind)
	assert.True(t, triggered.Deliveries[0].Broadcast)

	res, _ = doJSON(t, c, http.MethodPost, srv.URL+"/triggers/hourly", nil, as("boss"))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res, _ = doJSON(t, c, http.MethodPost, srv.URL+"/triggers/daily", nil, as("u1"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/events?type=payment.recorded", nil, as("boss"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	events := decode[paginatedEvents](t, data)
	require.Len(t, events.Items, 1)
	assert.Equal(t, "boss", events.Items[0].ActorID)
	assert.Equal(t, "30", events.Items[0].Payload["amount"])

	res, _ = doJSON(t, c, http.MethodGet, srv.URL+"/events", nil, as("u1"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestEventsPagination(t *testing.T) {
	srv := newTestServer(t, defaultAuth())
	c := srv.Client()
	for _, id := range []string{"u1", "u2", "u3"} {
		srv.register(t, id, id, "Read 1 page daily", "5")
	}

	res, data := doJSON(t, c, http.MethodGet, srv.URL+"/events?type=participant.registered&limit=2", nil, as("boss"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	first := decode[paginatedEvents](t, data)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)
	assert.Equal(t, "u3", first.Items[0].EntityID)

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/events?type=participant.registered&limit=2&cursor="+first.NextCursor, nil, as("boss"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	second := decode[paginatedEvents](t, data)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "u1", second.Items[0].EntityID)
	assert.Empty(t, second.NextCursor)

	res, _ = doJSON(t, c, http.MethodGet, srv.URL+"/events?cursor=abc", nil, as("boss"))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestJWTAndAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t, defaultAuth())
	c := srv.Client()

	res, data := doJSON(t, c, http.MethodPost, srv.URL+"/auth/dev/login", map[string]any{"actor_id": "u9"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	token := decode[DevLoginResponse](t, data).Token
	require.NotEmpty(t, token)

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	who := decode[WhoAmIResponse](t, data)
	assert.Equal(t, "u9", who.ActorID)
	assert.Equal(t, "jwt", who.Source)
	assert.False(t, who.Registered)
	assert.False(t, who.Admin)

	forged, err := SignToken("other-secret", "boss", 0)
	require.NoError(t, err)
	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/me", nil, map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decode[errorEnvelope](t, data).Error.Code)

	_, secret, err := srv.Env.Repo.IssueAPIKey(context.Background(), "boss", "bot")
	require.NoError(t, err)
	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/me", nil, map[string]string{"X-Api-Key": secret})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	who = decode[WhoAmIResponse](t, data)
	assert.Equal(t, "api_key", who.Source)
	assert.True(t, who.Admin)

	res, _ = doJSON(t, c, http.MethodGet, srv.URL+"/me", nil, map[string]string{"X-Api-Key": "slk_nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestLegacyHeaderAndDevLoginDisabled(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	c := srv.Client()
	res, _ := doJSON(t, c, http.MethodGet, srv.URL+"/me", nil, as("u1"))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = doJSON(t, c, http.MethodPost, srv.URL+"/auth/dev/login", map[string]any{"actor_id": "u1"}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestOpenAPIDocument(t *testing.T) {
	srv := newTestServer(t, defaultAuth())
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	doc := decode[map[string]any](t, data)
	components := doc["components"].(map[string]any)
	schemes := components["securitySchemes"].(map[string]any)
	assert.Contains(t, schemes, "bearerAuth")
	assert.Contains(t, schemes, "apiKeyAuth")
	assert.Contains(t, doc["paths"].(map[string]any), "/v0/me/log")

	logOp := doc["paths"].(map[string]any)["/v0/me/log"].(map[string]any)["post"].(map[string]any)
	if body, ok := logOp["requestBody"].(map[string]any); ok {
		assert.NotEqual(t, true, body["required"])
	}
}
