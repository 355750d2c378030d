// Package validation collects field-level validation failures for the
// admin API's request bodies, without failing fast on the first error.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxTableNameLength = 128
	MaxPhaseNameLength = 64
)

// ValidPhaseNames are the four canonical migration phase strings
// accepted by the admin API and CLI.
var ValidPhaseNames = []string{
	"SOURCE_ONLY",
	"DUAL_WRITE_READ_SOURCE",
	"DUAL_WRITE_READ_TARGET",
	"TARGET_ONLY",
}

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

func (c *Collector) Errors() []ValidationError {
	return c.errors
}

func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{Field: field, Message: "must be valid UTF-8"}
	}
	return nil
}

func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{Field: field, Message: "must not contain null bytes"}
	}
	return nil
}

func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{Field: field, Message: fmt.Sprintf("exceeds maximum length of %d characters", max)}
	}
	return nil
}

func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{Field: field, Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", "))}
}

func validTableNameChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
}

// ValidateTableName validates a table name path parameter.
func ValidateTableName(field, value string) *ValidationError {
	if err := ValidateRequired(field, value); err != nil {
		return err
	}
	if err := ValidateMaxLength(field, value, MaxTableNameLength); err != nil {
		return err
	}
	for _, r := range value {
		if !validTableNameChar(r) {
			return &ValidationError{Field: field, Message: "must contain only letters, digits, underscore, or hyphen"}
		}
	}
	return nil
}

// ValidatePhaseName validates a phase string against the four
// canonical values.
func ValidatePhaseName(field, value string) *ValidationError {
	if err := ValidateRequired(field, value); err != nil {
		return err
	}
	return ValidateEnum(field, value, ValidPhaseNames)
}

// ValidateSetPhaseRequest validates a set-phase admin API request body,
// optionally including the table path parameter.
func ValidateSetPhaseRequest(table, phase string) []ValidationError {
	c := &Collector{}
	if table != "" {
		c.Add(ValidateTableName("table", table))
	}
	c.Add(ValidatePhaseName("phase", phase))
	return c.Errors()
}
