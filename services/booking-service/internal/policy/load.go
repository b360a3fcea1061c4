package policy

import (
	"fmt"
	"os"
	"time"

	"github.com/groombook/groombook/libs/config"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Timezone      string `yaml:"timezone"`
	BusinessHours struct {
		Open  string `yaml:"open"`
		Close string `yaml:"close"`
	} `yaml:"business_hours"`
	SlotStepMinutes int   `yaml:"slot_step_minutes"`
	StrictGroomer   *bool `yaml:"strict_groomer"`
	PreventOverlap  *bool `yaml:"prevent_overlap"`
	Density         struct {
		Low    int `yaml:"low"`
		Medium int `yaml:"medium"`
		High   int `yaml:"high"`
	} `yaml:"density"`
}

// Load reads rules from an optional YAML file and then applies environment
// overrides. ${VAR} references in the file are expanded before parsing.
func Load(path string) (Rules, error) {
	rules := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Rules{}, fmt.Errorf("read policy file: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &fc); err != nil {
			return Rules{}, fmt.Errorf("parse policy file: %w", err)
		}
		if err := fc.apply(&rules); err != nil {
			return Rules{}, fmt.Errorf("policy file: %w", err)
		}
	}
	if err := applyEnv(&rules); err != nil {
		return Rules{}, err
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, fmt.Errorf("validate policy: %w", err)
	}
	return rules, nil
}

func (fc fileConfig) apply(r *Rules) error {
	if fc.Timezone != "" {
		loc, err := time.LoadLocation(fc.Timezone)
		if err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
		r.Location = loc
	}
	if fc.BusinessHours.Open != "" {
		c, err := ParseClock(fc.BusinessHours.Open)
		if err != nil {
			return fmt.Errorf("business_hours.open: %w", err)
		}
		r.Open = c
	}
	if fc.BusinessHours.Close != "" {
		c, err := ParseClock(fc.BusinessHours.Close)
		if err != nil {
			return fmt.Errorf("business_hours.close: %w", err)
		}
		r.Close = c
	}
	if fc.SlotStepMinutes > 0 {
		r.SlotStep = time.Duration(fc.SlotStepMinutes) * time.Minute
	}
	if fc.StrictGroomer != nil {
		r.StrictGroomer = *fc.StrictGroomer
	}
	if fc.PreventOverlap != nil {
		r.PreventOverlap = *fc.PreventOverlap
	}
	if fc.Density.Low > 0 {
		r.Density.Low = fc.Density.Low
	}
	if fc.Density.Medium > 0 {
		r.Density.Medium = fc.Density.Medium
	}
	if fc.Density.High > 0 {
		r.Density.High = fc.Density.High
	}
	return nil
}

func applyEnv(r *Rules) error {
	if tz := config.String("BUSINESS_TIMEZONE", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("BUSINESS_TIMEZONE: %w", err)
		}
		r.Location = loc
	}
	if raw := config.String("BUSINESS_OPEN", ""); raw != "" {
		c, err := ParseClock(raw)
		if err != nil {
			return fmt.Errorf("BUSINESS_OPEN: %w", err)
		}
		r.Open = c
	}
	if raw := config.String("BUSINESS_CLOSE", ""); raw != "" {
		c, err := ParseClock(raw)
		if err != nil {
			return fmt.Errorf("BUSINESS_CLOSE: %w", err)
		}
		r.Close = c
	}
	if mins := config.Int("SLOT_STEP_MINUTES", 0); mins > 0 {
		r.SlotStep = time.Duration(mins) * time.Minute
	}
	r.StrictGroomer = config.Bool("STRICT_GROOMER", r.StrictGroomer)
	r.PreventOverlap = config.Bool("PREVENT_OVERLAP", r.PreventOverlap)
	return nil
}
