package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates the Config using struct tags plus cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateLedgerPath(); err != nil {
		return err
	}
	if err := c.validateDurations(); err != nil {
		return err
	}
	return nil
}

// validateLedgerPath requires a path for the persistent backends.
func (c *Config) validateLedgerPath() error {
	switch c.Ledger.Backend {
	case "file", "sqlite":
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger: backend %q requires a path", c.Ledger.Backend)
		}
	case "memory":
		// No path needed. Certificates are lost on restart.
	}
	return nil
}

func (c *Config) validateDurations() error {
	if c.Approval.Expiry < 0 {
		return errors.New("approval: expiry must not be negative")
	}
	if c.Approval.SweepInterval < 0 {
		return errors.New("approval: sweep_interval must not be negative")
	}
	if c.Ledger.MaxCertificateAge < 0 {
		return errors.New("ledger: max_certificate_age must not be negative")
	}
	if c.Audit.FlushInterval < 0 {
		return errors.New("audit: flush_interval must not be negative")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to readable messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s], got %q", field, e.Param(), e.Value())
	case "min":
		return fmt.Sprintf("%s: must be at least %s, got %v", field, e.Param(), e.Value())
	case "max":
		return fmt.Sprintf("%s: must be at most %s, got %v", field, e.Param(), e.Value())
	default:
		return fmt.Sprintf("%s: failed %q validation", field, e.Tag())
	}
}
