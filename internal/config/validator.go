package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// minSigningKeyLen is the shortest accepted HS256 signing key, in bytes.
const minSigningKeyLen = 32

// RegisterCustomValidators registers the service's validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// duration: a time.ParseDuration string, not negative
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateProfiles(); err != nil {
		return err
	}
	if err := c.validateRules(); err != nil {
		return err
	}
	if err := c.validateAudit(); err != nil {
		return err
	}
	return nil
}

// validateAudit checks the audit output destination.
func (c *Config) validateAudit() error {
	switch out := c.Audit.Output; {
	case out == "", out == "stdout":
		return nil
	case ParseFileURI(out) != "":
		return nil
	default:
		return fmt.Errorf("audit.output must be empty, \"stdout\" or a file:///path URI, got %q", out)
	}
}

// validateProvider checks the settings the selected provider needs.
func (c *Config) validateProvider() error {
	switch c.Provider.Mode {
	case ProviderRemote:
		if c.Provider.Remote.BaseURL == "" {
			return errors.New("provider.remote.base_url is required in remote mode")
		}
		if len(c.Provider.Remote.SigningKey) < minSigningKeyLen {
			return fmt.Errorf("provider.remote.signing_key must be at least %d bytes in remote mode", minSigningKeyLen)
		}
		if c.Provider.Fixture.LoginEnabled {
			return errors.New("provider.fixture.login_enabled requires fixture mode")
		}
	}
	return nil
}

// validateProfiles checks the settings the selected backend needs.
func (c *Config) validateProfiles() error {
	switch c.Profiles.Backend {
	case BackendFile:
		if c.Profiles.Path == "" {
			return errors.New("profiles.path is required for the file backend")
		}
	case BackendSQLite:
		if c.Profiles.DSN == "" {
			return errors.New("profiles.dsn is required for the sqlite backend")
		}
	}
	return nil
}

// validateRules checks cross-field rule constraints the tags cannot express.
func (c *Config) validateRules() error {
	seen := make(map[string]struct{}, len(c.Authz.Rules))
	for i, r := range c.Authz.Rules {
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("authz.rules[%d]: duplicate rule name %q", i, r.Name)
		}
		seen[r.Name] = struct{}{}

		if r.Access == "roles" && len(r.Roles) == 0 {
			return fmt.Errorf("authz.rules[%d] (%s): roles access requires at least one role", i, r.Name)
		}
		if r.Access != "roles" && len(r.Roles) > 0 {
			return fmt.Errorf("authz.rules[%d] (%s): roles only apply to roles access", i, r.Name)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
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

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "duration":
		return fmt.Sprintf("%s must be a duration such as \"30s\" or \"5m\"", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
