package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

// TraderContext is one entry of the follow list after validation and
// address normalization.
type TraderContext struct {
	Address      string  // lowercase, no 0x prefix
	Label        string
	ScalingRatio float64
	MinShares    float64
	Enabled      bool
}

// traderJSON is the raw on-disk shape of one traders.json entry.
type traderJSON struct {
	Address      string   `json:"address" validate:"required,hexadecimal_address"`
	Label        string   `json:"label"`
	ScalingRatio *float64 `json:"scaling_ratio" validate:"omitempty,gt=0,lte=1"`
	MinShares    *float64 `json:"min_shares" validate:"omitempty,gte=0"`
	Enabled      *bool    `json:"enabled"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// 40 hex chars, optionally 0x-prefixed
	_ = v.RegisterValidation("hexadecimal_address", func(fl validator.FieldLevel) bool {
		s := strings.TrimPrefix(strings.ToLower(fl.Field().String()), "0x")
		if len(s) != 40 {
			return false
		}
		for _, c := range s {
			if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
				return false
			}
		}
		return true
	})
	return v
}

// NormalizeAddress lowercases and strips the 0x prefix. All internal
// lookups key on this form.
func NormalizeAddress(addr string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(addr)), "0x")
}

// AddressTopic returns the address zero-padded to a 32-byte log topic
// hex string, the form the event subscription filters on.
func AddressTopic(normalized string) string {
	return strings.Repeat("0", 64-len(normalized)) + normalized
}

// LoadTraders reads and validates the follow list. Disabled entries
// are dropped. Duplicate addresses are a configuration error.
func LoadTraders(path string) ([]TraderContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.ConfigError{Field: "traders", Err: err}
	}
	return ParseTraders(data)
}

// ParseTraders validates raw traders.json bytes.
func ParseTraders(data []byte) ([]TraderContext, error) {
	var raw []traderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &models.ConfigError{Field: "traders", Err: err}
	}
	if len(raw) == 0 {
		return nil, &models.ConfigError{Field: "traders", Err: fmt.Errorf("follow list is empty")}
	}

	seen := make(map[string]bool, len(raw))
	out := make([]TraderContext, 0, len(raw))
	for i, r := range raw {
		if err := validate.Struct(r); err != nil {
			return nil, &models.ConfigError{Field: fmt.Sprintf("traders[%d]", i), Err: err}
		}
		ctx := TraderContext{
			Address:      NormalizeAddress(r.Address),
			Label:        r.Label,
			ScalingRatio: DefaultScalingRatio,
			MinShares:    MinWhaleSharesToCopy,
			Enabled:      true,
		}
		if ctx.Label == "" {
			ctx.Label = "Trader"
		}
		if r.ScalingRatio != nil {
			ctx.ScalingRatio = *r.ScalingRatio
		}
		if r.MinShares != nil {
			ctx.MinShares = *r.MinShares
		}
		if r.Enabled != nil {
			ctx.Enabled = *r.Enabled
		}
		if seen[ctx.Address] {
			return nil, &models.ConfigError{Field: fmt.Sprintf("traders[%d]", i), Err: fmt.Errorf("duplicate address %s", ctx.Address)}
		}
		seen[ctx.Address] = true
		if !ctx.Enabled {
			continue
		}
		out = append(out, ctx)
	}
	if len(out) == 0 {
		return nil, &models.ConfigError{Field: "traders", Err: fmt.Errorf("no enabled traders")}
	}
	return out, nil
}
