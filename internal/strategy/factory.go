package strategy

import (
	"errors"
	"fmt"
	"sort"
)

// Strategy names accepted by FromName.
const (
	NameMomentum = "momentum"
	NameHold     = "hold"
)

// Factory errors
var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrInvalidParams   = errors.New("invalid strategy parameters")
)

// Params configures the bundled strategies. Zero fields take defaults.
type Params struct {
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
}

// FromName builds a strategy by name.
// Validates parameters and returns clear errors for bad ones.
func FromName(name string, p Params) (Func, error) {
	switch name {
	case NameMomentum:
		cfg := DefaultMomentumConfig()
		if p.RSIPeriod != 0 {
			cfg.RSIPeriod = p.RSIPeriod
		}
		if p.RSIOverbought != 0 {
			cfg.RSIOverbought = p.RSIOverbought
		}
		if p.RSIOversold != 0 {
			cfg.RSIOversold = p.RSIOversold
		}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		return Momentum(cfg), nil
	case NameHold:
		return Hold(), nil
	default:
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownStrategy, name, Names())
	}
}

// Names lists the available strategy names.
func Names() []string {
	names := []string{NameMomentum, NameHold}
	sort.Strings(names)
	return names
}
