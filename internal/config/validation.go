// validation.go - Fail-fast validation of the parsed configuration.
//
// Everything is checked at startup so a misconfigured deployment exits
// with one readable report instead of failing on the first request.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ValidationError describes one rejected configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validator collects validation errors.
type Validator struct {
	errors []ValidationError
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{errors: make([]ValidationError, 0)}
}

// AddError records a validation error.
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are validation errors.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors.
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// ErrorString returns a formatted string of all errors.
func (v *Validator) ErrorString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n", len(v.errors)))
	for i, err := range v.errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidateRequired records an error when value is empty.
func (v *Validator) ValidateRequired(key, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(key, "required environment variable not set")
	}
}

// ValidatePostgresURL checks the connection string scheme.
func (v *Validator) ValidatePostgresURL(key, value string) {
	if value == "" {
		return
	}
	u, err := url.Parse(value)
	if err != nil {
		v.AddError(key, fmt.Sprintf("invalid URL format: %v", err))
		return
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		v.AddError(key, "must be a valid PostgreSQL connection string")
	}
}

// ValidateAddr validates a listen address of the form "[host]:port".
func (v *Validator) ValidateAddr(key, value string) {
	if value == "" {
		return
	}
	i := strings.LastIndex(value, ":")
	if i < 0 {
		v.AddError(key, "must be of the form [host]:port")
		return
	}
	port, err := strconv.Atoi(value[i+1:])
	if err != nil {
		v.AddError(key, "port must be a number")
		return
	}
	if port < 1 || port > 65535 {
		v.AddError(key, "port must be between 1 and 65535")
	}
}

// ValidateMinLength validates minimum string length.
func (v *Validator) ValidateMinLength(key, value string, minLen int) {
	if value == "" {
		return
	}
	if len(value) < minLen {
		v.AddError(key, fmt.Sprintf("must be at least %d characters long (got %d)", minLen, len(value)))
	}
}

// ValidateEnum validates that a value is one of allowed options.
func (v *Validator) ValidateEnum(key, value string, allowed []string) {
	for _, opt := range allowed {
		if value == opt {
			return
		}
	}
	v.AddError(key, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}

// ValidatePositive validates that a numeric value is greater than zero.
func (v *Validator) ValidatePositive(key string, value float64) {
	if value <= 0 {
		v.AddError(key, "must be a positive number")
	}
}

// ValidateEmailAddress validates basic email format.
func (v *Validator) ValidateEmailAddress(key, value string) {
	if value == "" {
		return
	}
	at := strings.Index(value, "@")
	if at <= 0 || !strings.Contains(value[at:], ".") {
		v.AddError(key, "must be a valid email address")
	}
}

// ValidateTogether requires a group of fields to be all set or all empty.
func (v *Validator) ValidateTogether(fields map[string]string) {
	set := 0
	for _, val := range fields {
		if val != "" {
			set++
		}
	}
	if set == 0 || set == len(fields) {
		return
	}
	for key, val := range fields {
		if val == "" {
			v.AddError(key, "must be set together with the rest of its group")
		}
	}
}
