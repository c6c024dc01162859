package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stratline/internal/domain"
	"stratline/internal/engine"
	"stratline/internal/engine/auth"
	"stratline/internal/graph"
	"stratline/internal/logging"
	"stratline/internal/metrics"
	"stratline/internal/render"
	"stratline/internal/repo"
	"stratline/internal/wire"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Layout   graph.Layout
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"validation failed: strategy name is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the strategy API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Layout == (graph.Layout{}) {
		cfg.Layout = graph.DefaultLayout()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	log := logging.OrNop(cfg.Logger)

	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
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
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("Stratline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStrategies(group, cfg.Engine, cfg.Layout)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	if cfg.Auth.EnableDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
		})
	}
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
	var verrs wire.ValidationErrors
	if errors.As(err, &verrs) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"errors": verrs})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, wire.ErrInvalidPayload) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
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

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	open := map[string]bool{
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
			if open[route] {
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
    <title>Stratline API Docs</title>
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

type strategyPath struct {
	ID string `path:"id"`
}

type strategyOutput struct {
	Body StrategyResponse `json:"body"`
}

func strategyResult(rec domain.StrategyRecord, err error) (*strategyOutput, error) {
	if err != nil {
		return nil, handleError(err)
	}
	resp, err := strategyResponse(rec)
	if err != nil {
		return nil, handleError(err)
	}
	return &strategyOutput{Body: resp}, nil
}

var strategyErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerStrategies(api huma.API, e engine.Engine, layout graph.Layout) {
	huma.Register(api, huma.Operation{
		OperationID: "list-strategies",
		Method:      http.MethodGet,
		Path:        "/strategies",
		Summary:     "List strategies",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"active,paused"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body StrategyListResponse `json:"body"`
	}, error) {
		if _, err := requireScope(ctx, auth.ScopeRead); err != nil {
			return nil, err
		}
		items, err := e.ListStrategies(ctx, repo.StrategyFilter{Status: input.Status, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		resp := StrategyListResponse{Items: []domain.StrategySummary{}}
		for _, rec := range items {
			resp.Items = append(resp.Items, rec.Summary())
		}
		return &struct {
			Body StrategyListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-strategy",
		Method:        http.MethodPost,
		Path:          "/strategies",
		Summary:       "Create strategy",
		DefaultStatus: http.StatusCreated,
		Errors:        strategyErrors,
	}, func(ctx context.Context, input *struct {
		Body StrategyBody `json:"body"`
	}) (*strategyOutput, error) {
		p, err := requireScope(ctx, auth.ScopeWrite)
		if err != nil {
			return nil, err
		}
		s, err := strategyFromBody(input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return strategyResult(e.CreateStrategy(ctx, s, p.ActorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-strategy",
		Method:      http.MethodPost,
		Path:        "/strategies/validate",
		Summary:     "Report what would block saving a strategy",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body StrategyBody `json:"body"`
	}) (*struct {
		Body ValidateResponse `json:"body"`
	}, error) {
		if _, err := requireScope(ctx, auth.ScopeRead); err != nil {
			return nil, err
		}
		s, err := strategyFromBody(input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		verrs, err := e.Validate(s)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ValidateResponse{Valid: len(verrs) == 0, Errors: []wire.ValidationError{}}
		resp.Errors = append(resp.Errors, verrs...)
		return &struct {
			Body ValidateResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-strategy",
		Method:      http.MethodGet,
		Path:        "/strategies/{id}",
		Summary:     "Get strategy",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *strategyPath) (*strategyOutput, error) {
		if _, err := requireScope(ctx, auth.ScopeRead); err != nil {
			return nil, err
		}
		return strategyResult(e.GetStrategy(ctx, input.ID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-strategy",
		Method:      http.MethodPut,
		Path:        "/strategies/{id}",
		Summary:     "Replace strategy",
		Errors:      strategyErrors,
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body StrategyBody `json:"body"`
	}) (*strategyOutput, error) {
		p, err := requireScope(ctx, auth.ScopeWrite)
		if err != nil {
			return nil, err
		}
		s, err := strategyFromBody(input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return strategyResult(e.UpdateStrategy(ctx, input.ID, s, p.ActorID))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-strategy",
		Method:        http.MethodDelete,
		Path:          "/strategies/{id}",
		Summary:       "Delete strategy",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *strategyPath) (*struct{}, error) {
		p, err := requireScope(ctx, auth.ScopeWrite)
		if err != nil {
			return nil, err
		}
		if err := e.DeleteStrategy(ctx, input.ID, p.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-strategy-status",
		Method:      http.MethodPatch,
		Path:        "/strategies/{id}/status",
		Summary:     "Pause or resume a strategy",
		Errors:      strategyErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body StatusRequest `json:"body"`
	}) (*strategyOutput, error) {
		p, err := requireScope(ctx, auth.ScopeWrite)
		if err != nil {
			return nil, err
		}
		return strategyResult(e.SetStatus(ctx, input.ID, input.Body.Status, p.ActorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-strategy-run",
		Method:      http.MethodPost,
		Path:        "/strategies/{id}/runs",
		Summary:     "Record that the evaluator fired a strategy",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *strategyPath) (*strategyOutput, error) {
		p, err := requireScope(ctx, auth.ScopeWrite)
		if err != nil {
			return nil, err
		}
		return strategyResult(e.RecordRun(ctx, input.ID, p.ActorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "strategy-graph",
		Method:      http.MethodGet,
		Path:        "/strategies/{id}/graph",
		Summary:     "Graph projection of the logic tree",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *strategyPath) (*struct {
		Body GraphResponse `json:"body"`
	}, error) {
		if _, err := requireScope(ctx, auth.ScopeRead); err != nil {
			return nil, err
		}
		rec, err := e.GetStrategy(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		st := wire.Load(rec.Strategy)
		proj := graph.Project(st.Conditions, st.Tree, layout, nil)
		metrics.ProjectionNodes.Observe(float64(len(proj.Nodes)))
		resp, err := graphResponse(proj)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GraphResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "strategy-tree",
		Method:      http.MethodGet,
		Path:        "/strategies/{id}/tree",
		Summary:     "Indented list rendering of the logic tree",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *strategyPath) (*struct {
		Body TreeResponse `json:"body"`
	}, error) {
		if _, err := requireScope(ctx, auth.ScopeRead); err != nil {
			return nil, err
		}
		rec, err := e.GetStrategy(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		st := wire.Load(rec.Strategy)
		resp, err := treeResponse(render.Rows(st.Conditions, st.Tree, nil))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TreeResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"strategy,api_key"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := requireScope(ctx, auth.ScopeRead); err != nil {
			return nil, err
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
		items, err := e.ListEvents(ctx, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		scopes := p.Scopes
		if len(scopes) == 0 {
			scopes = auth.AllScopes
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: p.ActorID, Scopes: scopes, Source: p.Source}}, nil
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
		Body TokenRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := auth.IssueToken(authCfg.JWTSecret, actor, input.Body.Scopes, 12*time.Hour, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: TokenResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
