package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	StrategyCreated       = "strategy.created"
	StrategyUpdated       = "strategy.updated"
	StrategyDeleted       = "strategy.deleted"
	StrategyStatusChanged = "strategy.status_changed"
	StrategyTriggered     = "strategy.triggered"
	APIKeyCreated         = "api_key.created"
)

// Entity kinds stored alongside each event.
const (
	EntityStrategy = "strategy"
	EntityAPIKey   = "api_key"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx so it commits or rolls back with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if evtType == "" || entityKind == "" {
		return fmt.Errorf("event type and entity kind are required")
	}
	if actorID == "" {
		return fmt.Errorf("event %s: actor_id required", evtType)
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
