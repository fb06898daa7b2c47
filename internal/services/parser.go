package services

import (
	"math"
	"strings"

	"github.com/spf13/cast"
)

// Trade actions accepted from webhooks
const (
	ActionBuy   = "BUY"
	ActionSell  = "SELL"
	ActionClose = "CLOSE"
)

// TradeIntent is the canonical form of a webhook payload
type TradeIntent struct {
	Symbol     string   `json:"symbol"`
	Action     string   `json:"action"`
	Price      *float64 `json:"price,omitempty"`
	Volume     *float64 `json:"volume,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`

	// Dropped lists optional fields whose values could not be coerced
	Dropped []string `json:"-"`
}

// ParseWebhook normalizes an inbound payload into a trade intent.
// Unparseable optional numbers are dropped and reported in Dropped.
func ParseWebhook(payload map[string]interface{}) (*TradeIntent, error) {
	symbol := ""
	if raw, ok := payload["symbol"]; ok && raw != nil {
		symbol = strings.ToUpper(strings.TrimSpace(cast.ToString(raw)))
	}
	if symbol == "" {
		return nil, missingField("symbol")
	}

	rawAction, ok := payload["action"]
	if !ok || rawAction == nil {
		return nil, missingField("action")
	}
	actionStr, ok := rawAction.(string)
	if !ok {
		return nil, invalidAction(rawAction)
	}
	action := strings.ToUpper(strings.TrimSpace(actionStr))
	if action == "" {
		return nil, missingField("action")
	}
	switch action {
	case ActionBuy, ActionSell, ActionClose:
	default:
		return nil, invalidAction(actionStr)
	}

	intent := &TradeIntent{Symbol: symbol, Action: action}
	intent.Price = intent.number(payload, "price")
	intent.Volume = intent.number(payload, "volume")
	intent.StopLoss = intent.number(payload, "stop_loss", "sl")
	intent.TakeProfit = intent.number(payload, "take_profit", "tp")
	return intent, nil
}

// number reads the first usable key. An unparseable value is dropped and the
// next alias fills in for it.
func (t *TradeIntent) number(payload map[string]interface{}, keys ...string) *float64 {
	for _, key := range keys {
		raw, ok := payload[key]
		if !ok || raw == nil {
			continue
		}
		if s, isString := raw.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}

		v, ok := toFloat(raw)
		if !ok {
			t.Dropped = append(t.Dropped, key)
			continue
		}
		return &v
	}
	return nil
}

func toFloat(raw interface{}) (float64, bool) {
	if _, isBool := raw.(bool); isBool {
		return 0, false
	}
	if s, isString := raw.(string); isString {
		raw = strings.TrimSpace(s)
	}

	v, err := cast.ToFloat64E(raw)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
