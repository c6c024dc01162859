package domain

import "github.com/mitchellh/mapstructure"

const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// StrategyMeta is everything on a strategy except the condition registry and the tree.
type StrategyMeta struct {
	ID                      string                  `json:"id,omitempty"`
	Name                    string                  `json:"name" validate:"notblank"`
	Description             string                  `json:"description,omitempty"`
	Schedule                string                  `json:"schedule"`
	Assets                  []string                `json:"assets"`
	NotificationPreferences NotificationPreferences `json:"notification_preferences,omitempty"`
	Status                  string                  `json:"status,omitempty" validate:"omitempty,oneof=active paused"`
	LastRunAt               *string                 `json:"last_run_at,omitempty" format:"date-time"`
	TriggerCount            *int                    `json:"trigger_count,omitempty"`
}

// Strategy is the load/save payload exchanged with the backend.
type Strategy struct {
	StrategyMeta
	Conditions []Condition `json:"conditions"`
	LogicTree  *Group      `json:"logic_tree"`
}

// StrategySummary is the listing shape.
type StrategySummary struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Status         string   `json:"status"`
	Schedule       string   `json:"schedule"`
	Assets         []string `json:"assets"`
	ConditionCount int      `json:"condition_count"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

// NotificationPreferences is free-form; the cooldown block is the only structured part.
type NotificationPreferences map[string]any

// Cooldown throttles repeated notifications for the same strategy.
type Cooldown struct {
	Enabled       bool   `json:"enabled" mapstructure:"enabled"`
	DurationValue int    `json:"duration_value" mapstructure:"duration_value" validate:"gte=0"`
	DurationUnit  string `json:"duration_unit" mapstructure:"duration_unit" validate:"omitempty,oneof=s m h d"`
}

// DefaultNotificationPreferences mirrors what a new strategy starts with.
func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{
		"cooldown": map[string]any{
			"enabled":        false,
			"duration_value": 1,
			"duration_unit":  "h",
		},
	}
}

// Cooldown decodes the cooldown block; a missing block yields the zero value.
func (n NotificationPreferences) Cooldown() (Cooldown, error) {
	var c Cooldown
	raw, ok := n["cooldown"]
	if !ok || raw == nil {
		return c, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &c, WeaklyTypedInput: true})
	if err != nil {
		return c, err
	}
	return c, dec.Decode(raw)
}

// WithCooldown returns a copy with the cooldown block replaced.
func (n NotificationPreferences) WithCooldown(c Cooldown) NotificationPreferences {
	out := NotificationPreferences{}
	for k, v := range n {
		out[k] = v
	}
	out["cooldown"] = map[string]any{
		"enabled":        c.Enabled,
		"duration_value": c.DurationValue,
		"duration_unit":  c.DurationUnit,
	}
	return out
}
