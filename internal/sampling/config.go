package sampling

import (
	"fmt"
	"math"
	"strings"
)

// Mode selects the next-token policy.
type Mode int

const (
	Greedy Mode = iota
	TemperatureTopP
)

func (m Mode) String() string {
	switch m {
	case Greedy:
		return "greedy"
	case TemperatureTopP:
		return "temperature_top_p"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts the names printed by Mode.String plus a few aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "greedy", "argmax":
		return Greedy, nil
	case "temperature_top_p", "temperature", "top_p", "nucleus":
		return TemperatureTopP, nil
	default:
		return Greedy, fmt.Errorf("unknown sampler mode %q", s)
	}
}

// Limits applied by Normalize.
const (
	MinTemperature = 1e-3
	HistoryCap     = 1024
)

// Config parameterizes a Sampler. The zero value is greedy.
type Config struct {
	Mode              Mode
	Temperature       float32
	TopP              float32
	RepetitionEnabled bool
	RepetitionPenalty float32
	RepetitionWindow  int
	// Seed of 0 means seeded from the clock.
	Seed int64
}

// DefaultConfig is greedy decoding with sane values for the stochastic
// fields, so switching Mode alone yields a usable configuration.
func DefaultConfig() Config {
	return Config{
		Mode:              Greedy,
		Temperature:       0.8,
		TopP:              0.95,
		RepetitionPenalty: 1.1,
		RepetitionWindow:  64,
	}
}

// Adjustment records one field changed by Normalize.
type Adjustment struct {
	Field string  `json:"field"`
	From  float64 `json:"from"`
	To    float64 `json:"to"`
}

func (a Adjustment) String() string {
	return fmt.Sprintf("%s: %g -> %g", a.Field, a.From, a.To)
}

// Normalize clamps out-of-range values instead of rejecting them and reports
// every change it made.
func (c Config) Normalize() (Config, []Adjustment) {
	var adj []Adjustment
	if c.Temperature <= 0 || isNaN32(c.Temperature) {
		adj = append(adj, Adjustment{Field: "temperature", From: float64(c.Temperature), To: MinTemperature})
		c.Temperature = MinTemperature
	}
	switch {
	case isNaN32(c.TopP) || c.TopP <= 0:
		adj = append(adj, Adjustment{Field: "top_p", From: float64(c.TopP), To: 1})
		c.TopP = 1
	case c.TopP > 1:
		adj = append(adj, Adjustment{Field: "top_p", From: float64(c.TopP), To: 1})
		c.TopP = 1
	}
	if c.RepetitionWindow < 0 {
		adj = append(adj, Adjustment{Field: "repetition_window", From: float64(c.RepetitionWindow), To: 0})
		c.RepetitionWindow = 0
	}
	if c.RepetitionWindow > HistoryCap {
		adj = append(adj, Adjustment{Field: "repetition_window", From: float64(c.RepetitionWindow), To: HistoryCap})
		c.RepetitionWindow = HistoryCap
	}
	return c, adj
}

// penalizes reports whether the repetition penalty step applies at all.
func (c Config) penalizes() bool {
	return c.RepetitionEnabled && c.RepetitionPenalty > 1.0 && c.RepetitionWindow > 0
}

func isNaN32(f float32) bool { return math.IsNaN(float64(f)) }
