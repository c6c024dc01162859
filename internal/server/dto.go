package server

import (
	"encoding/json"
	"fmt"

	"stratline/internal/domain"
	"stratline/internal/graph"
	"stratline/internal/render"
	"stratline/internal/wire"
)

// Request payloads

type ConditionBody struct {
	_       struct{}       `json:"-" additionalProperties:"true"`
	ID      string         `json:"id"`
	Type    string         `json:"type" example:"technical_indicator"`
	Label   string         `json:"label,omitempty"`
	Enabled *bool          `json:"enabled,omitempty"`
	Payload map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// StrategyBody is the wire strategy. The logic tree is nested {"operator","conditions":[...]}
// groups whose leaves are {"ref": id}.
type StrategyBody struct {
	_                       struct{}        `json:"-" additionalProperties:"true"`
	Name                    string          `json:"name" example:"RSI oversold"`
	Description             string          `json:"description,omitempty"`
	Schedule                string          `json:"schedule,omitempty" example:"5m"`
	Assets                  []string        `json:"assets,omitempty"`
	NotificationPreferences map[string]any  `json:"notification_preferences,omitempty" jsonschema:"type=object,additionalProperties=true"`
	Status                  string          `json:"status,omitempty" example:"paused"`
	Conditions              []ConditionBody `json:"conditions,omitempty"`
	LogicTree               map[string]any  `json:"logic_tree,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type StatusRequest struct {
	Status string `json:"status" enum:"active,paused"`
}

type TokenRequest struct {
	ActorID string   `json:"actor_id"`
	Scopes  []string `json:"scopes,omitempty"`
}

// Responses

// StrategyResponse is rebuilt by huma with reflect.StructOf, which rejects embedded types
// that have methods. Keep StrategyBody method-free.
type StrategyResponse struct {
	StrategyBody
	ID           string  `json:"id"`
	LastRunAt    *string `json:"last_run_at,omitempty" format:"date-time"`
	TriggerCount int     `json:"trigger_count"`
	CreatedBy    string  `json:"created_by,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type StrategyListResponse struct {
	Items []domain.StrategySummary `json:"items"`
}

type ValidateResponse struct {
	Valid  bool                   `json:"valid"`
	Errors []wire.ValidationError `json:"errors"`
}

type GraphNodeResponse struct {
	ID        string         `json:"id"`
	Type      string         `json:"type" enum:"condition,group,missing"`
	Position  graph.Position `json:"position"`
	Depth     int            `json:"depth"`
	Root      bool           `json:"root,omitempty"`
	Operator  string         `json:"operator,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Condition *ConditionBody `json:"condition,omitempty"`
}

type GraphResponse struct {
	Nodes   []GraphNodeResponse `json:"nodes"`
	Edges   []graph.Edge        `json:"edges"`
	Mermaid string              `json:"mermaid"`
}

type TreeRowResponse struct {
	Depth     int            `json:"depth"`
	Type      string         `json:"type" enum:"condition,group,missing"`
	ID        string         `json:"id"`
	Path      string         `json:"path"`
	Root      bool           `json:"root,omitempty"`
	Operator  string         `json:"operator,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Condition *ConditionBody `json:"condition,omitempty"`
}

type TreeResponse struct {
	Rows []TreeRowResponse `json:"rows"`
	Text string            `json:"text"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Scopes  []string `json:"scopes"`
	Source  string   `json:"source"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// convertJSON moves a value between a domain type and its DTO through its JSON form.
func convertJSON(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func strategyFromBody(b StrategyBody) (domain.Strategy, error) {
	var s domain.Strategy
	if err := convertJSON(b, &s); err != nil {
		return s, fmt.Errorf("%w: %w", wire.ErrInvalidPayload, err)
	}
	return s, nil
}

func strategyResponse(rec domain.StrategyRecord) (StrategyResponse, error) {
	var resp StrategyResponse
	err := convertJSON(rec, &resp)
	return resp, err
}

func conditionBody(c *domain.Condition) (*ConditionBody, error) {
	if c == nil {
		return nil, nil
	}
	var body ConditionBody
	if err := convertJSON(c, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

func graphResponse(p graph.Projection) (GraphResponse, error) {
	resp := GraphResponse{Nodes: []GraphNodeResponse{}, Edges: p.Edges, Mermaid: graph.Mermaid(p)}
	if resp.Edges == nil {
		resp.Edges = []graph.Edge{}
	}
	for _, n := range p.Nodes {
		cond, err := conditionBody(n.Condition)
		if err != nil {
			return resp, err
		}
		node := GraphNodeResponse{
			ID:        n.ID,
			Type:      string(n.Kind),
			Position:  n.Position,
			Depth:     n.Depth,
			Root:      n.Root,
			Operator:  string(n.Operator),
			Condition: cond,
		}
		if n.Condition != nil {
			node.Summary = n.Condition.Summary()
		}
		resp.Nodes = append(resp.Nodes, node)
	}
	return resp, nil
}

func treeResponse(rows []render.Row) (TreeResponse, error) {
	resp := TreeResponse{Rows: []TreeRowResponse{}, Text: render.Text(rows)}
	for _, r := range rows {
		cond, err := conditionBody(r.Condition)
		if err != nil {
			return resp, err
		}
		resp.Rows = append(resp.Rows, TreeRowResponse{
			Depth:     r.Depth,
			Type:      string(r.Kind),
			ID:        r.ID,
			Path:      r.Path,
			Root:      r.Root,
			Operator:  string(r.Operator),
			Summary:   r.Summary,
			Condition: cond,
		})
	}
	return resp, nil
}

func eventResponse(e domain.Event) EventResponse {
	resp := EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
	}
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &resp.Payload)
	}
	return resp
}
