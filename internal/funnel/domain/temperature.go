package domain

import "fmt"

// Temperature is the coarse classification derived from a lead's score.
type Temperature string

const (
	TemperatureCold Temperature = "COLD"
	TemperatureWarm Temperature = "WARM"
	TemperatureHot  Temperature = "HOT"
)

// Temperatures lists the tiers from coldest to hottest.
var Temperatures = []Temperature{TemperatureCold, TemperatureWarm, TemperatureHot}

// Thresholds are the lower bounds of the WARM and HOT tiers.
type Thresholds struct {
	WarmAt int `json:"warmAt" yaml:"warmAt"`
	HotAt  int `json:"hotAt" yaml:"hotAt"`
}

// DefaultThresholds are the values seeded for tenants that opt into defaults.
var DefaultThresholds = Thresholds{WarmAt: 20, HotAt: 60}

// Classify maps a score to its tier. A score equal to a threshold belongs to
// the upper tier.
func (t Thresholds) Classify(score int) Temperature {
	switch {
	case score >= t.HotAt:
		return TemperatureHot
	case score >= t.WarmAt:
		return TemperatureWarm
	default:
		return TemperatureCold
	}
}

// Validate checks that the tiers are ordered and positive.
func (t Thresholds) Validate() error {
	if t.WarmAt <= 0 {
		return fmt.Errorf("warmAt must be greater than 0")
	}
	if t.WarmAt >= t.HotAt {
		return fmt.Errorf("warmAt (%d) must be lower than hotAt (%d)", t.WarmAt, t.HotAt)
	}
	return nil
}

// ParseTemperature converts user input to a Temperature.
func ParseTemperature(raw string) (Temperature, bool) {
	for _, t := range Temperatures {
		if string(t) == raw {
			return t, true
		}
	}
	return "", false
}
