package domain

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// StrategyRecord is a stored strategy with its bookkeeping columns.
type StrategyRecord struct {
	Strategy
	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Summary is the listing view of the record.
func (r StrategyRecord) Summary() StrategySummary {
	return StrategySummary{
		ID:             r.ID,
		Name:           r.Name,
		Status:         r.Status,
		Schedule:       r.Schedule,
		Assets:         r.Assets,
		ConditionCount: len(r.Conditions),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}
