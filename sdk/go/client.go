// Package stratlinesdk is an HTTP client for the strategy API. It implements the
// editor's Store so sessions can save remotely.
package stratlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stratline/internal/domain"
	"stratline/internal/wire"
)

// Client is a minimal strategy API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no other credential is set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type GraphNode struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Position  Position          `json:"position"`
	Depth     int               `json:"depth"`
	Root      bool              `json:"root"`
	Operator  string            `json:"operator"`
	Summary   string            `json:"summary"`
	Condition *domain.Condition `json:"condition"`
}

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type GraphEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type Graph struct {
	Nodes   []GraphNode `json:"nodes"`
	Edges   []GraphEdge `json:"edges"`
	Mermaid string      `json:"mermaid"`
}

type TreeRow struct {
	Depth     int               `json:"depth"`
	Type      string            `json:"type"`
	ID        string            `json:"id"`
	Path      string            `json:"path"`
	Root      bool              `json:"root"`
	Operator  string            `json:"operator"`
	Summary   string            `json:"summary"`
	Condition *domain.Condition `json:"condition"`
}

type Tree struct {
	Rows []TreeRow `json:"rows"`
	Text string    `json:"text"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
	// Problems is set for validation_failed responses.
	Problems wire.ValidationErrors
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Unwrap exposes validation problems so callers can errors.As into wire.ValidationErrors.
func (e *APIError) Unwrap() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e.Problems
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details struct {
				Errors wire.ValidationErrors `json:"errors"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return apiErr
	}
	apiErr.Code = env.Error.Code
	apiErr.Message = env.Error.Message
	if apiErr.Code == "validation_failed" {
		apiErr.Problems = env.Error.Details.Errors
	}
	return apiErr
}

// requestBody fills nil collections so the server sees empty arrays rather than nulls.
func requestBody(s domain.Strategy) domain.Strategy {
	if s.Conditions == nil {
		s.Conditions = []domain.Condition{}
	}
	if s.Assets == nil {
		s.Assets = []string{}
	}
	if s.LogicTree == nil {
		s.LogicTree = &domain.Group{Operator: domain.OperatorAnd}
	}
	return s
}

// CreateStrategy creates a strategy. It satisfies the editor's Store.
func (c *Client) CreateStrategy(ctx context.Context, s domain.Strategy) (domain.Strategy, error) {
	var rec domain.StrategyRecord
	err := c.do(ctx, http.MethodPost, "strategies", requestBody(s), &rec)
	return rec.Strategy, err
}

// UpdateStrategy replaces strategy id. It satisfies the editor's Store.
func (c *Client) UpdateStrategy(ctx context.Context, id string, s domain.Strategy) (domain.Strategy, error) {
	var rec domain.StrategyRecord
	err := c.do(ctx, http.MethodPut, "strategies/"+url.PathEscape(id), requestBody(s), &rec)
	return rec.Strategy, err
}

func (c *Client) GetStrategy(ctx context.Context, id string) (domain.StrategyRecord, error) {
	var rec domain.StrategyRecord
	err := c.do(ctx, http.MethodGet, "strategies/"+url.PathEscape(id), nil, &rec)
	return rec, err
}

// ListStrategies lists summaries, optionally filtered by status.
func (c *Client) ListStrategies(ctx context.Context, status string, limit int) ([]domain.StrategySummary, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "strategies"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []domain.StrategySummary `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) DeleteStrategy(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "strategies/"+url.PathEscape(id), nil, nil)
}

func (c *Client) SetStatus(ctx context.Context, id, status string) (domain.StrategyRecord, error) {
	var rec domain.StrategyRecord
	err := c.do(ctx, http.MethodPatch, "strategies/"+url.PathEscape(id)+"/status", map[string]string{"status": status}, &rec)
	return rec, err
}

// Validate asks the server what would block saving s.
func (c *Client) Validate(ctx context.Context, s domain.Strategy) (wire.ValidationErrors, error) {
	var resp struct {
		Valid  bool                  `json:"valid"`
		Errors wire.ValidationErrors `json:"errors"`
	}
	if err := c.do(ctx, http.MethodPost, "strategies/validate", requestBody(s), &resp); err != nil {
		return nil, err
	}
	return resp.Errors, nil
}

func (c *Client) Graph(ctx context.Context, id string) (Graph, error) {
	var g Graph
	err := c.do(ctx, http.MethodGet, "strategies/"+url.PathEscape(id)+"/graph", nil, &g)
	return g, err
}

func (c *Client) Tree(ctx context.Context, id string) (Tree, error) {
	var t Tree
	err := c.do(ctx, http.MethodGet, "strategies/"+url.PathEscape(id)+"/tree", nil, &t)
	return t, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return parseAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
