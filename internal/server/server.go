package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"streakline/internal/app"
	"streakline/internal/domain"
	"streakline/internal/engine"
	"streakline/internal/engine/auth"
	"streakline/internal/identity"
	"streakline/internal/notify"
	"streakline/internal/registration"
	"streakline/internal/repo"
	"streakline/internal/scheduler"
)

// Config for the HTTP API handler.
type Config struct {
	Service  *app.Service
	Repo     repo.Repo
	Inbox    *notify.Recorder
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_logged"`
	Message string         `json:"message" example:"today is already logged"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"permission\":\"admin\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Streakline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Service == nil {
		return nil, errors.New("service required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Repo))
	hcfg := huma.DefaultConfig("Streakline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	svc := cfg.Service
	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, svc)
	registerRegistrations(group, svc)
	registerLogs(group, svc)
	registerParticipation(group, svc)
	registerAdmin(group, svc)
	registerEvents(group, svc, cfg.Repo)
	registerMe(group, svc, cfg.Inbox)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// errorCodes names the sentinel errors clients commonly branch on.
var errorCodes = map[error]string{
	engine.ErrAlreadyRegistered:  "already_registered",
	engine.ErrPaused:             "paused",
	engine.ErrAlreadyPaused:      "already_paused",
	engine.ErrNotPaused:          "not_paused",
	engine.ErrAlreadyLogged:      "already_logged",
	engine.ErrAlreadyExempt:      "already_exempt",
	engine.ErrCutoffPassed:       "cutoff_passed",
	engine.ErrYesterdayLogged:    "yesterday_logged",
	engine.ErrTodayLogged:        "today_logged",
	engine.ErrInvalidAmount:      "invalid_amount",
	engine.ErrEmptyReason:        "reason_required",
	domain.ErrInvalidGoal:        "invalid_goal",
	domain.ErrInvalidPledge:      "invalid_pledge",
	domain.ErrInvalidID:          "invalid_id",
	identity.ErrAmbiguousMention: "ambiguous_mention",
	registration.ErrSessionOpen:  "registration_in_progress",
	registration.ErrNoSession:    "no_registration",
	scheduler.ErrUnknownTrigger:  "unknown_trigger",
}

func codeFor(err error) string {
	for sentinel, code := range errorCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	msg := err.Error()
	switch {
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, registration.ErrNoSession):
		return newAPIError(http.StatusNotFound, codeFor(err), msg, nil)
	case errors.Is(err, registration.ErrSessionOpen), engine.IsConflict(err):
		return newAPIError(http.StatusConflict, codeFor(err), msg, nil)
	case engine.IsValidation(err), errors.Is(err, scheduler.ErrUnknownTrigger), errors.Is(err, identity.ErrAmbiguousMention):
		return newAPIError(http.StatusBadRequest, codeFor(err), msg, nil)
	}
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requireAdmin(ctx context.Context, svc *app.Service) (string, error) {
	actor, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	if !svc.IsAdmin(actor) {
		return "", auth.ForbiddenError{Permission: auth.PermissionAdmin}
	}
	return actor, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Streakline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, svc *app.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Today's board",
		Description: "Active participants and whether each has logged today.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body BoardResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body BoardResponse `json:"body"`
		}{Body: boardResponse(svc.View())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-participants",
		Method:      http.MethodGet,
		Path:        "/participants",
		Summary:     "List participants",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ParticipantResponse `json:"body"`
	}, error) {
		if _, err := requireAdmin(ctx, svc); err != nil {
			return nil, handleError(err)
		}
		items := svc.Participants()
		out := make([]ParticipantResponse, 0, len(items))
		for _, p := range items {
			out = append(out, participantResponse(p))
		}
		return &struct {
			Body []ParticipantResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerRegistrations(api huma.API, svc *app.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-registration",
		Method:        http.MethodPost,
		Path:          "/registrations",
		Summary:       "Start the registration dialogue",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body *RegistrationStartRequest `json:"body,omitempty"`
	}) (*struct {
		Body RegistrationResponse `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var name string
		if input.Body != nil {
			name = input.Body.Name
		}
		out, err := svc.StartRegistration(ctx, actor, name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RegistrationResponse `json:"body"`
		}{Body: registrationResponse(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-registration",
		Method:      http.MethodPost,
		Path:        "/registrations/input",
		Summary:     "Answer the current registration prompt",
		Description: "Invalid input ends the session; start again to retry.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body RegistrationInputRequest `json:"body"`
	}) (*struct {
		Body RegistrationResponse `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := svc.SubmitRegistration(ctx, actor, input.Body.Input)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RegistrationResponse `json:"body"`
		}{Body: registrationResponse(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "registration-status",
		Method:      http.MethodGet,
		Path:        "/registrations",
		Summary:     "Current registration step",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RegistrationResponse `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		step, ok := svc.RegistrationStep(actor)
		if !ok {
			return nil, handleError(registration.ErrNoSession)
		}
		return &struct {
			Body RegistrationResponse `json:"body"`
		}{Body: RegistrationResponse{Step: string(step)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "cancel-registration",
		Method:        http.MethodDelete,
		Path:          "/registrations",
		Summary:       "Abandon the registration dialogue",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !svc.CancelRegistration(actor) {
			return nil, handleError(registration.ErrNoSession)
		}
		return &struct{}{}, nil
	})
}

func registerLogs(api huma.API, svc *app.Service) {
	type logOutput struct {
		Body LogResponse `json:"body"`
	}
	logErrors := []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict}

	huma.Register(api, huma.Operation{
		OperationID: "log-today",
		Method:      http.MethodPost,
		Path:        "/me/log",
		Summary:     "Mark today completed",
		Errors:      logErrors,
	}, func(ctx context.Context, input *struct {
		Body *LogRequest `json:"body,omitempty"`
	}) (*logOutput, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := svc.Log(ctx, actor, input.Body.notes())
		if err != nil {
			return nil, handleError(err)
		}
		return &logOutput{Body: logResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "log-yesterday",
		Method:      http.MethodPost,
		Path:        "/me/forgot",
		Summary:     "Backfill yesterday before the cutoff",
		Errors:      logErrors,
	}, func(ctx context.Context, input *struct {
		Body *LogRequest `json:"body,omitempty"`
	}) (*logOutput, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := svc.Forgot(ctx, actor, input.Body.notes())
		if err != nil {
			return nil, handleError(err)
		}
		return &logOutput{Body: logResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "exempt-today",
		Method:      http.MethodPost,
		Path:        "/me/exempt",
		Summary:     "Mark today exempt",
		Errors:      logErrors,
	}, func(ctx context.Context, input *struct {
		Body ExemptRequest `json:"body"`
	}) (*logOutput, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := svc.Exempt(ctx, actor, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &logOutput{Body: logResponse(res)}, nil
	})
}

func registerParticipation(api huma.API, svc *app.Service) {
	type participantOutput struct {
		Body ParticipantResponse `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "streak",
		Method:      http.MethodGet,
		Path:        "/me/streak",
		Summary:     "Streak, missed days and balance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StreakResponse `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := svc.Streak(actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StreakResponse `json:"body"`
		}{Body: streakResponse(stats)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pause",
		Method:      http.MethodPost,
		Path:        "/me/leave",
		Summary:     "Pause tracking",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*participantOutput, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := svc.Leave(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &participantOutput{Body: participantResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume",
		Method:      http.MethodPost,
		Path:        "/me/continue",
		Summary:     "Resume tracking",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*participantOutput, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := svc.Continue(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &participantOutput{Body: participantResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "exit",
		Method:      http.MethodDelete,
		Path:        "/me",
		Summary:     "Leave the challenge and delete all logs",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ExitResponse `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := svc.Exit(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExitResponse `json:"body"`
		}{Body: exitResponse(res)}, nil
	})
}

func registerAdmin(api huma.API, svc *app.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-payment",
		Method:        http.MethodPost,
		Path:          "/payments",
		Summary:       "Record a donation",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body PaymentRequest `json:"body"`
	}) (*struct {
		Body PaymentResponse `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		receipt, err := svc.Paid(ctx, actor, input.Body.Participant, input.Body.Amount)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PaymentResponse `json:"body"`
		}{Body: paymentResponse(receipt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "setup",
		Method:        http.MethodPut,
		Path:          "/setup",
		Summary:       "Set the broadcast channel",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body SetupRequest `json:"body"`
	}) (*struct{}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := svc.Setup(ctx, actor, input.Body.GuildID, input.Body.ChannelID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-trigger",
		Method:      http.MethodPost,
		Path:        "/triggers/{trigger}",
		Summary:     "Run a scheduled pass now",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Trigger string `path:"trigger" enum:"daily,weekly,friday-morning,friday-evening,neglect-sweep"`
	}) (*struct {
		Body TriggerResponse `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		trigger, err := scheduler.ParseTrigger(input.Trigger)
		if err != nil {
			return nil, handleError(err)
		}
		deliveries, err := svc.TriggerAs(ctx, actor, trigger)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TriggerResponse `json:"body"`
		}{Body: TriggerResponse{Trigger: string(trigger), Deliveries: deliveryResponses(deliveries)}}, nil
	})
}

func registerEvents(api huma.API, svc *app.Service, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type     string `query:"type"`
		EntityID string `query:"entity_id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor" doc:"Return events with ids below this one"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := requireAdmin(ctx, svc); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := r.LatestEvents(ctx, limit+1, repo.EventFilter{Type: input.Type, EntityID: input.EntityID, BeforeID: cursorID})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API, svc *app.Service, inbox *notify.Recorder) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		_, err := svc.Participant(principal.ActorID)
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:    principal.ActorID,
			Source:     principal.Source,
			Registered: err == nil,
			Admin:      svc.IsAdmin(principal.ActorID),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-notifications",
		Method:      http.MethodGet,
		Path:        "/me/notifications",
		Summary:     "Private notifications delivered to the caller",
		Description: "Served from this process's memory; history resets on restart.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body NotificationsResponse `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var mine []notify.Delivery
		if inbox != nil {
			for _, d := range inbox.Deliveries() {
				if !d.Target.Broadcast && d.Target.ParticipantID == actor {
					mine = append(mine, d)
				}
			}
		}
		return &struct {
			Body NotificationsResponse `json:"body"`
		}{Body: NotificationsResponse{Items: deliveryResponses(mine)}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, actor, devTokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
