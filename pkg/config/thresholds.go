package config

import "fmt"

// Threshold is a pair of percentage limits for one metric category.
// Reliability limits are expressed in percentage points of error rate.
type Threshold struct {
	Warning  float64 `yaml:"warning" mapstructure:"warning" json:"warning"`
	Critical float64 `yaml:"critical" mapstructure:"critical" json:"critical"`
}

// IsZero reports whether neither limit is set.
func (t Threshold) IsZero() bool {
	return t.Warning == 0 && t.Critical == 0
}

// Validate requires 0 < warning < critical.
func (t Threshold) Validate() error {
	if t.Warning <= 0 {
		return fmt.Errorf("warning must be positive, got %v", t.Warning)
	}

	if t.Warning >= t.Critical {
		return fmt.Errorf("warning (%v) must be lower than critical (%v)", t.Warning, t.Critical)
	}

	return nil
}

// Thresholds groups the limits for each metric category.
type Thresholds struct {
	Performance Threshold `yaml:"performance" mapstructure:"performance" json:"performance"`
	Memory      Threshold `yaml:"memory" mapstructure:"memory" json:"memory"`
	Reliability Threshold `yaml:"reliability" mapstructure:"reliability" json:"reliability"`
}

// DefaultThresholds returns the global limits used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Performance: Threshold{Warning: 15, Critical: 30},
		Memory:      Threshold{Warning: 20, Critical: 40},
		Reliability: Threshold{Warning: 1, Critical: 5},
	}
}

// Validate checks every category that has limits set. Unset categories in a
// suite override fall back to the global values and are skipped here.
func (t *Thresholds) Validate() error {
	categories := []struct {
		name string
		th   Threshold
	}{
		{"performance", t.Performance},
		{"memory", t.Memory},
		{"reliability", t.Reliability},
	}

	for _, c := range categories {
		if c.th.IsZero() {
			continue
		}

		if err := c.th.Validate(); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}

	return nil
}

// Resolve returns t with every category that override sets replaced.
func (t Thresholds) Resolve(override *Thresholds) Thresholds {
	if override == nil {
		return t
	}

	if !override.Performance.IsZero() {
		t.Performance = override.Performance
	}

	if !override.Memory.IsZero() {
		t.Memory = override.Memory
	}

	if !override.Reliability.IsZero() {
		t.Reliability = override.Reliability
	}

	return t
}

func (t *Thresholds) applyDefaults(defaults Thresholds) {
	*t = defaults.Resolve(t)
}
