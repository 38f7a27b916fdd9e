package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers the bridge validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	for tag, fn := range map[string]validator.Func{
		"loglevel": validateLogLevel,
		"hostport": validateHostPort,
		"duration": validateDuration,
	} {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateLogLevel accepts debug, info, warn or error in any case.
func validateLogLevel(fl validator.FieldLevel) bool {
	switch strings.ToLower(fl.Field().String()) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// validateHostPort accepts "host:port" with a numeric port. The host may
// be empty (all interfaces).
func validateHostPort(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}

// validateDuration accepts any time.ParseDuration string that is not
// negative.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error with actionable messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if len(c.Upstream.Args) > 0 && c.Upstream.Command == "" {
		return errors.New("upstream.args requires upstream.command")
	}
	if c.Observer.TokenHash != "" && !c.Observer.Enabled {
		return errors.New("observer.token_hash is set but the observer is disabled")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	if strings.HasPrefix(e.Tag(), "startswith") {
		return fmt.Sprintf("%s must be an argon2id or sha256: hash", field)
	}

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must not be negative", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "file":
		return fmt.Sprintf("%s must be an existing file", field)
	case "dir":
		return fmt.Sprintf("%s must be an existing directory", field)
	case "loglevel":
		return fmt.Sprintf("%s must be one of: debug info warn error", field)
	case "hostport":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration such as 500ms or 5s", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
