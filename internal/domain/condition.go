package domain

import (
	"encoding/json"
	"fmt"
)

// ConditionType tags the payload variant carried by a Condition.
type ConditionType string

const (
	TypeTechnicalIndicator ConditionType = "technical_indicator"
	TypePriceAlert         ConditionType = "price_alert"
	TypeVolumeAlert        ConditionType = "volume_alert"
	TypeWalletFlow         ConditionType = "wallet_flow"
	TypeExchangeFlow       ConditionType = "exchange_flow"
	TypeCustom             ConditionType = "custom"
)

// ConditionTypes lists the supported types in display order.
func ConditionTypes() []ConditionType {
	return []ConditionType{
		TypeTechnicalIndicator,
		TypePriceAlert,
		TypeVolumeAlert,
		TypeWalletFlow,
		TypeExchangeFlow,
		TypeCustom,
	}
}

// Known reports whether t has a payload variant.
func (t ConditionType) Known() bool {
	_, ok := variants[t]
	return ok
}

// Condition is a leaf check referenced from the logic tree by id.
type Condition struct {
	ID      string
	Type    ConditionType
	Label   string
	Enabled *bool
	Payload Payload
}

// IsEnabled treats an absent flag as enabled.
func (c Condition) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ConditionPatch carries the fields to change on a Condition. Nil fields are left alone.
// Payload entries are merged into the current payload; a nil value deletes the key.
type ConditionPatch struct {
	Type    *ConditionType `json:"type,omitempty"`
	Label   *string        `json:"label,omitempty"`
	Enabled *bool          `json:"enabled,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type conditionJSON struct {
	ID      string         `json:"id"`
	Type    ConditionType  `json:"type"`
	Label   string         `json:"label,omitempty"`
	Enabled *bool          `json:"enabled,omitempty"`
	Payload map[string]any `json:"payload"`
}

func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(conditionJSON{
		ID:      c.ID,
		Type:    c.Type,
		Label:   c.Label,
		Enabled: c.Enabled,
		Payload: EncodePayload(c.Payload),
	})
}

// UnmarshalJSON decodes the payload into the variant selected by type. Keys the
// variant does not recognize are dropped; custom and unknown types keep everything.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var aux conditionJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p, err := DecodePayload(aux.Type, aux.Payload)
	if err != nil {
		return fmt.Errorf("condition %s: %w", aux.ID, err)
	}
	*c = Condition{
		ID:      aux.ID,
		Type:    aux.Type,
		Label:   aux.Label,
		Enabled: aux.Enabled,
		Payload: p,
	}
	return nil
}

// BoolPtr is a small helper for optional flags.
func BoolPtr(v bool) *bool { return &v }
