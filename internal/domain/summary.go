package domain

import (
	"strconv"
	"strings"
)

// Summary is a one-line preview of the condition used by the list and graph views.
func (c Condition) Summary() string {
	switch p := c.Payload.(type) {
	case TechnicalIndicatorPayload:
		return strings.TrimSpace(strings.ToUpper(or(p.Indicator, "rsi")) + " " + or(p.Operator, "lt") + " " + num(p.Value))
	case PriceAlertPayload:
		return or(p.Asset, "Asset") + " " + or(p.Direction, "crosses") + " " + num(p.TargetPrice)
	case VolumeAlertPayload:
		return "Volume > " + num(p.Threshold)
	case WalletFlowPayload:
		dir := "Outflow from"
		if p.Direction == "inflow" {
			dir = "Inflow to"
		}
		target := p.Label
		if p.EntityType != WalletEntityGroup {
			target = p.Address
		}
		return strings.TrimSpace(dir + " " + or(target, "Wallet") + " > " + num(p.Value) + " " + p.Asset)
	case ExchangeFlowPayload:
		return strings.TrimSpace(strings.ToUpper(or(p.Exchange, "Exchange")) + " " + or(p.FlowType, "net_flow") + " > " + num(p.Value) + " " + p.Asset)
	default:
		return "Custom Condition"
	}
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
