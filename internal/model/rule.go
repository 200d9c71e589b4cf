package model

import (
	"strings"
	"time"
)

// Schedule describes when an external scheduler should trigger a rule. Exactly one of
// Cron and Interval is set; the engine itself never interprets the timing.
type Schedule struct {
	Cron     string        `json:"cron,omitempty" yaml:"cron,omitempty"`
	Interval time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
}

// CleanupRule is a persisted, named cleanup configuration.
type CleanupRule struct {
	ID          int64           `json:"id,omitempty" yaml:"-"`
	Name        string          `json:"name" yaml:"name"`
	Enabled     bool            `json:"enabled" yaml:"enabled"`
	Criteria    CleanupCriteria `json:"criteria" yaml:"criteria"`
	Schedule    Schedule        `json:"schedule" yaml:"schedule"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	LastRun     *time.Time      `json:"last_run,omitempty" yaml:"-"`
}

// Validate checks the rule and its criteria.
func (r CleanupRule) Validate() error {
	var errs ConfigErrors
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, &ConfigError{Field: "name", Reason: "empty"})
	}
	hasCron := strings.TrimSpace(r.Schedule.Cron) != ""
	if hasCron == (r.Schedule.Interval > 0) {
		errs = append(errs, &ConfigError{Field: "schedule", Reason: "exactly one of cron or interval must be set"})
	}
	if r.Schedule.Interval < 0 {
		errs = append(errs, &ConfigError{Field: "schedule.interval", Reason: "negative"})
	}
	if err := r.Criteria.Validate(); err != nil {
		if ces, ok := err.(ConfigErrors); ok {
			for _, ce := range ces {
				errs = append(errs, &ConfigError{Field: "criteria." + ce.Field, Reason: ce.Reason})
			}
		}
	}
	return errs.Err()
}
