package schema

import (
	"fmt"
	"regexp"
)

// Column describes the rules for one payload field
type Column struct {
	Name        string   `json:"name"`
	Required    bool     `json:"required,omitempty"`
	Description string   `json:"description,omitempty"`
	MinLength   *int     `json:"minLength,omitempty"`
	MaxLength   *int     `json:"maxLength,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
	Format      string   `json:"format,omitempty"`
	Enum        []string `json:"enum,omitempty"`

	pattern *regexp.Regexp
}

// Schema is an ordered set of column rules. Errors are reported in column order
// so validation output is deterministic.
type Schema struct {
	Name    string    `json:"name,omitempty"`
	Columns []*Column `json:"columns"`
}

// FieldError represents a single validation failure
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// String renders the error as "field: message".
func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult holds the result of validation
type ValidationResult struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// Compile precompiles column patterns. A compiled schema is read-only and safe to
// share between goroutines.
func (s *Schema) Compile() error {
	for _, col := range s.Columns {
		if col.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(col.Pattern)
		if err != nil {
			return NewSchemaError(fmt.Sprintf("invalid pattern for %s", col.Name), "INVALID_PATTERN", err)
		}
		col.pattern = re
	}
	return nil
}

// MustCompile is like Compile but panics on error.
func (s *Schema) MustCompile() *Schema {
	if err := s.Compile(); err != nil {
		panic(err)
	}
	return s
}

// IntPtr is a helper for optional length rules.
func IntPtr(v int) *int {
	return &v
}
