package domain

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Payload is the sealed set of per-type condition parameters.
type Payload interface {
	Kind() ConditionType
	sealed()
}

type TechnicalIndicatorPayload struct {
	Indicator string  `json:"indicator" mapstructure:"indicator"`
	Operator  string  `json:"operator" mapstructure:"operator"`
	Value     float64 `json:"value" mapstructure:"value"`
	Timeframe string  `json:"timeframe" mapstructure:"timeframe"`
	Asset     string  `json:"asset" mapstructure:"asset"`
}

type PriceAlertPayload struct {
	Asset       string  `json:"asset" mapstructure:"asset"`
	Direction   string  `json:"direction" mapstructure:"direction"`
	TargetPrice float64 `json:"target_price" mapstructure:"target_price"`
}

type VolumeAlertPayload struct {
	Asset     string  `json:"asset" mapstructure:"asset"`
	Timeframe string  `json:"timeframe" mapstructure:"timeframe"`
	Operator  string  `json:"operator" mapstructure:"operator"`
	Threshold float64 `json:"threshold" mapstructure:"threshold"`
}

// WalletFlowPayload targets either a single address (entity_type=individual)
// or a labelled wallet cohort (entity_type=group).
type WalletFlowPayload struct {
	Direction  string  `json:"direction" mapstructure:"direction"`
	EntityType string  `json:"entity_type" mapstructure:"entity_type"`
	Address    string  `json:"address,omitempty" mapstructure:"address,omitempty"`
	Label      string  `json:"label,omitempty" mapstructure:"label,omitempty"`
	Asset      string  `json:"asset" mapstructure:"asset"`
	Value      float64 `json:"value" mapstructure:"value"`
}

type ExchangeFlowPayload struct {
	Exchange string  `json:"exchange" mapstructure:"exchange"`
	FlowType string  `json:"flow_type" mapstructure:"flow_type"`
	Asset    string  `json:"asset" mapstructure:"asset"`
	Value    float64 `json:"value" mapstructure:"value"`
}

// CustomPayload is passed through untouched.
type CustomPayload map[string]any

func (TechnicalIndicatorPayload) Kind() ConditionType { return TypeTechnicalIndicator }
func (PriceAlertPayload) Kind() ConditionType         { return TypePriceAlert }
func (VolumeAlertPayload) Kind() ConditionType        { return TypeVolumeAlert }
func (WalletFlowPayload) Kind() ConditionType         { return TypeWalletFlow }
func (ExchangeFlowPayload) Kind() ConditionType       { return TypeExchangeFlow }
func (CustomPayload) Kind() ConditionType             { return TypeCustom }

func (TechnicalIndicatorPayload) sealed() {}
func (PriceAlertPayload) sealed()         {}
func (VolumeAlertPayload) sealed()        {}
func (WalletFlowPayload) sealed()         {}
func (ExchangeFlowPayload) sealed()       {}
func (CustomPayload) sealed()             {}

const (
	WalletEntityIndividual = "individual"
	WalletEntityGroup      = "group"
	defaultWalletLabel     = "smart_money"
)

// variant is the single source of defaults and decoding for a condition type.
// Construction and save-time sanitization both go through this table.
type variant struct {
	defaults func(asset string) Payload
	decode   func(raw map[string]any) (Payload, error)
}

var variants = map[ConditionType]variant{
	TypeTechnicalIndicator: {
		defaults: func(asset string) Payload {
			return TechnicalIndicatorPayload{Indicator: "rsi", Operator: "lt", Value: 30, Timeframe: "1h", Asset: asset}
		},
		decode: decodeAs[TechnicalIndicatorPayload],
	},
	TypePriceAlert: {
		defaults: func(asset string) Payload {
			return PriceAlertPayload{Asset: asset, Direction: "above", TargetPrice: 0}
		},
		decode: decodeAs[PriceAlertPayload],
	},
	TypeVolumeAlert: {
		defaults: func(asset string) Payload {
			return VolumeAlertPayload{Asset: asset, Timeframe: "1h", Operator: "gt", Threshold: 0}
		},
		decode: decodeAs[VolumeAlertPayload],
	},
	TypeWalletFlow: {
		defaults: func(asset string) Payload {
			return WalletFlowPayload{Direction: "inflow", EntityType: WalletEntityIndividual, Asset: asset}
		},
		decode: decodeAs[WalletFlowPayload],
	},
	TypeExchangeFlow: {
		defaults: func(asset string) Payload {
			return ExchangeFlowPayload{Exchange: "binance", FlowType: "net_flow", Asset: asset}
		},
		decode: decodeAs[ExchangeFlowPayload],
	},
	TypeCustom: {
		defaults: func(string) Payload { return CustomPayload{} },
		decode:   decodeCustom,
	},
}

// DefaultPayload returns the default parameters for t. Unknown types get an empty custom payload.
func DefaultPayload(t ConditionType, asset string) Payload {
	v, ok := variants[t]
	if !ok {
		return CustomPayload{}
	}
	return v.defaults(asset)
}

// DecodePayload converts a loosely typed wire map into the variant for t.
// Unrecognized keys are dropped for typed variants.
func DecodePayload(t ConditionType, raw map[string]any) (Payload, error) {
	v, ok := variants[t]
	if !ok {
		return decodeCustom(raw)
	}
	p, err := v.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

// EncodePayload flattens a payload to its wire map. A nil payload encodes as an empty map.
func EncodePayload(p Payload) map[string]any {
	out := map[string]any{}
	switch v := p.(type) {
	case nil:
		return out
	case CustomPayload:
		for k, val := range v {
			out[k] = val
		}
		return out
	default:
		if err := mapstructure.Decode(v, &out); err != nil {
			panic(fmt.Sprintf("encode %s payload: %v", v.Kind(), err))
		}
		if w, ok := v.(WalletFlowPayload); ok {
			encodeWalletTarget(w, out)
		}
		return out
	}
}

// encodeWalletTarget keeps the target key of the wallet entity even when empty:
// individual wallets carry address, groups carry label.
func encodeWalletTarget(w WalletFlowPayload, out map[string]any) {
	switch w.EntityType {
	case WalletEntityIndividual:
		out["address"] = w.Address
	case WalletEntityGroup:
		out["label"] = w.Label
	}
}

// SanitizePayload keeps only the keys recognized for t. Custom and unknown types pass through.
func SanitizePayload(t ConditionType, raw map[string]any) (map[string]any, error) {
	p, err := DecodePayload(t, raw)
	if err != nil {
		return nil, err
	}
	return EncodePayload(p), nil
}

// MergePayload overlays patch onto p and re-decodes as t. A nil patch value removes the key.
func MergePayload(t ConditionType, p Payload, patch map[string]any) (Payload, error) {
	merged := EncodePayload(p)
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	if t == TypeWalletFlow {
		if entity, ok := patch["entity_type"].(string); ok {
			switch entity {
			case WalletEntityGroup:
				if _, set := patch["label"]; !set {
					merged["label"] = defaultWalletLabel
				}
				delete(merged, "address")
			case WalletEntityIndividual:
				if _, set := patch["address"]; !set {
					merged["address"] = ""
				}
				delete(merged, "label")
			}
		}
	}
	return DecodePayload(t, merged)
}

func decodeAs[T Payload](raw map[string]any) (Payload, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if raw != nil {
		if err := dec.Decode(raw); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeCustom(raw map[string]any) (Payload, error) {
	out := CustomPayload{}
	for k, v := range raw {
		out[k] = v
	}
	return out, nil
}
