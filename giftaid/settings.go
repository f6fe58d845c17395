package giftaid

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/giftaid/generic"
)

// Setting keys as stored by a SettingsStore.
const (
	SettingGloballyEnabled       = "globally_enabled"
	SettingFinancialTypesEnabled = "financial_types_enabled"
	SettingBasicTaxRate          = "basic_tax_rate"
)

// KnownSettings lists the keys accepted by the settings endpoints.
var KnownSettings = []string{SettingGloballyEnabled, SettingFinancialTypesEnabled, SettingBasicTaxRate}

// Settings is the effective configuration of the calculator.
type Settings struct {
	GloballyEnabled       bool
	FinancialTypesEnabled []FinancialTypeID
	BasicTaxRate          *decimal.Decimal // nil = not configured
}

// DefaultSettings returns the values used when nothing is stored.
// There is deliberately no default basic tax rate.
func DefaultSettings() Settings {
	return Settings{GloballyEnabled: true}
}

// TypeEnabled reports whether line items of type t count towards the
// eligible amount.
func (s Settings) TypeEnabled(t FinancialTypeID) bool {
	return s.GloballyEnabled || containsType(s.FinancialTypesEnabled, t)
}

// TaxRate returns the basic rate or a ConfigurationError.
func (s Settings) TaxRate() (decimal.Decimal, error) {
	if s.BasicTaxRate == nil {
		return decimal.Zero, &generic.ConfigurationError{
			Setting: SettingBasicTaxRate,
			Message: "basic tax rate is not configured",
		}
	}
	if !generic.PercentageValid(*s.BasicTaxRate) {
		return decimal.Zero, &generic.ConfigurationError{
			Setting: SettingBasicTaxRate,
			Message: fmt.Sprintf("basic tax rate %s must be in [0, 100)", s.BasicTaxRate),
		}
	}
	return *s.BasicTaxRate, nil
}

// Snapshot captures the settings for a batch. Requires a tax rate.
func (s Settings) Snapshot(batchID BatchID) (BatchSettings, error) {
	rate, err := s.TaxRate()
	if err != nil {
		return BatchSettings{}, err
	}
	types := append([]FinancialTypeID(nil), s.FinancialTypesEnabled...)
	return BatchSettings{
		BatchID:               batchID,
		GloballyEnabled:       s.GloballyEnabled,
		FinancialTypesEnabled: types,
		BasicTaxRate:          rate,
	}, nil
}

// LoadSettings reads the stored settings over the defaults.
func LoadSettings(ctx context.Context, store SettingsStore) (Settings, error) {
	s := DefaultSettings()

	if raw, ok, err := store.GetSetting(ctx, SettingGloballyEnabled); err != nil {
		return s, err
	} else if ok {
		v, err := ParseBoolSetting(raw)
		if err != nil {
			return s, &generic.ConfigurationError{Setting: SettingGloballyEnabled, Message: err.Error()}
		}
		s.GloballyEnabled = v
	}

	if raw, ok, err := store.GetSetting(ctx, SettingFinancialTypesEnabled); err != nil {
		return s, err
	} else if ok {
		types, err := ParseFinancialTypes(raw)
		if err != nil {
			return s, &generic.ConfigurationError{Setting: SettingFinancialTypesEnabled, Message: err.Error()}
		}
		s.FinancialTypesEnabled = types
	}

	if raw, ok, err := store.GetSetting(ctx, SettingBasicTaxRate); err != nil {
		return s, err
	} else if ok && strings.TrimSpace(raw) != "" {
		rate, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return s, &generic.ConfigurationError{Setting: SettingBasicTaxRate, Message: err.Error()}
		}
		s.BasicTaxRate = &rate
	}
	return s, nil
}

// NormalizeSetting validates a raw value for key and returns the form it
// is stored in.
func NormalizeSetting(key, raw string) (string, error) {
	switch key {
	case SettingGloballyEnabled:
		v, err := ParseBoolSetting(raw)
		if err != nil {
			return "", &generic.ValidationError{Field: key, Message: err.Error()}
		}
		if v {
			return "1", nil
		}
		return "0", nil
	case SettingFinancialTypesEnabled:
		types, err := ParseFinancialTypes(raw)
		if err != nil {
			return "", &generic.ValidationError{Field: key, Message: err.Error()}
		}
		if types == nil {
			types = []FinancialTypeID{}
		}
		b, _ := json.Marshal(types)
		return string(b), nil
	case SettingBasicTaxRate:
		rate, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return "", &generic.ValidationError{Field: key, Message: "must be a number"}
		}
		if !generic.PercentageValid(rate) {
			return "", &generic.ValidationError{Field: key, Message: "must be in [0, 100)"}
		}
		return rate.String(), nil
	}
	return "", &generic.ValidationError{Field: "key", Message: fmt.Sprintf("unknown setting %q", key)}
}

// ParseBoolSetting accepts 1/0, true/false, yes/no.
func ParseBoolSetting(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", raw)
}

// ParseFinancialTypes accepts a JSON array or a comma separated list.
func ParseFinancialTypes(raw string) ([]FinancialTypeID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var types []FinancialTypeID
		if err := json.Unmarshal([]byte(raw), &types); err != nil {
			return nil, fmt.Errorf("invalid financial type list: %w", err)
		}
		return types, nil
	}
	var types []FinancialTypeID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid financial type %q", part)
		}
		types = append(types, FinancialTypeID(n))
	}
	return types, nil
}
