package config

import (
	"fmt"
	"strings"
)

// ValidationError is one rejected config value.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every rejected value so the user can fix the
// file in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Validate checks the whole Config and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.Link.Mode != LinkModeBLE && c.Link.Mode != LinkModeSim {
		errs = append(errs, ValidationError{
			Field:   "link.mode",
			Value:   c.Link.Mode,
			Message: fmt.Sprintf("must be %q or %q", LinkModeBLE, LinkModeSim),
		})
	}
	if c.Link.SimPort < 0 || c.Link.SimPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "link.sim_port",
			Value:   c.Link.SimPort,
			Message: "must be a port number, 0 disables the panel",
		})
	}

	if c.Session.CountdownSeconds < 0 {
		errs = append(errs, ValidationError{
			Field:   "session.countdown_seconds",
			Value:   c.Session.CountdownSeconds,
			Message: "must be non-negative (0 starts immediately)",
		})
	}
	if c.Session.SettleDelayMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "session.settle_delay_ms",
			Value:   c.Session.SettleDelayMs,
			Message: "must be non-negative",
		})
	}
	const maxSettleMs = 10000
	if c.Session.SettleDelayMs > maxSettleMs {
		errs = append(errs, ValidationError{
			Field:   "session.settle_delay_ms",
			Value:   c.Session.SettleDelayMs,
			Message: fmt.Sprintf("exceeds maximum of %dms", maxSettleMs),
		})
	}

	if c.Storage.DatabasePath == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.database_path",
			Value:   c.Storage.DatabasePath,
			Message: "cannot be empty",
		})
	}
	if c.Storage.PrefsPath == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.prefs_path",
			Value:   c.Storage.PrefsPath,
			Message: "cannot be empty",
		})
	}

	if c.Logging.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "logging.file_path",
			Value:   c.Logging.FilePath,
			Message: "cannot be empty",
		})
	}
	if c.Logging.MaxSizeMB <= 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}
	if c.Logging.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Value:   c.Logging.MaxAgeDays,
			Message: "must be non-negative",
		})
	}

	return errs
}
