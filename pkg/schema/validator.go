package schema

import (
	"fmt"
	"regexp"
	"slices"
)

// Validator validates field values against a schema
type Validator struct {
	formatValidators map[string]FormatValidator
}

// NewValidator creates a new schema validator with the default formats registered.
// Register custom formats before sharing the validator between goroutines.
func NewValidator() *Validator {
	v := &Validator{
		formatValidators: make(map[string]FormatValidator),
	}

	v.RegisterFormat("email", validateEmail)
	v.RegisterFormat("uuid", validateUUID)
	v.RegisterFormat("date", validateDate)
	v.RegisterFormat("yyyymmdd", validateCompactDate)
	v.RegisterFormat("npi", validateNPI)
	v.RegisterFormat("digits", validateDigits)

	return v
}

// RegisterFormat registers a custom format validator
func (v *Validator) RegisterFormat(format string, validator FormatValidator) {
	v.formatValidators[format] = validator
}

// Validate checks values against every column of the schema.
func (v *Validator) Validate(values map[string]string, schema *Schema) *ValidationResult {
	result := &ValidationResult{Valid: true}
	if schema == nil {
		return result
	}

	for _, col := range schema.Columns {
		value := values[col.Name]
		if value == "" {
			if col.Required {
				result.Errors = append(result.Errors, FieldError{
					Field:   col.Name,
					Message: "field is required",
					Code:    "REQUIRED",
				})
			}
			continue
		}
		result.Errors = append(result.Errors, v.validateString(value, col)...)
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// validateString validates string-specific rules
func (v *Validator) validateString(value string, col *Column) []FieldError {
	var errors []FieldError

	if col.MinLength != nil && len(value) < *col.MinLength {
		errors = append(errors, FieldError{
			Field:   col.Name,
			Message: fmt.Sprintf("length %d is less than minimum %d", len(value), *col.MinLength),
			Code:    "MIN_LENGTH",
		})
	}

	if col.MaxLength != nil && len(value) > *col.MaxLength {
		errors = append(errors, FieldError{
			Field:   col.Name,
			Message: fmt.Sprintf("length %d exceeds maximum %d", len(value), *col.MaxLength),
			Code:    "MAX_LENGTH",
		})
	}

	if col.Pattern != "" {
		re := col.pattern
		if re == nil {
			var err error
			if re, err = regexp.Compile(col.Pattern); err != nil {
				errors = append(errors, FieldError{
					Field:   col.Name,
					Message: fmt.Sprintf("invalid regex pattern: %v", err),
					Code:    "INVALID_PATTERN",
				})
			}
		}
		if re != nil && !re.MatchString(value) {
			errors = append(errors, FieldError{
				Field:   col.Name,
				Message: fmt.Sprintf("value does not match pattern '%s'", col.Pattern),
				Code:    "PATTERN_MISMATCH",
			})
		}
	}

	if col.Format != "" {
		if validator, exists := v.formatValidators[col.Format]; exists {
			if !validator(value) {
				errors = append(errors, FieldError{
					Field:   col.Name,
					Message: fmt.Sprintf("value %q does not match format '%s'", value, col.Format),
					Code:    "FORMAT_MISMATCH",
				})
			}
		} else {
			errors = append(errors, FieldError{
				Field:   col.Name,
				Message: fmt.Sprintf("unknown format validator: %s", col.Format),
				Code:    "UNKNOWN_FORMAT",
			})
		}
	}

	if len(col.Enum) > 0 && !slices.Contains(col.Enum, value) {
		errors = append(errors, FieldError{
			Field:   col.Name,
			Message: fmt.Sprintf("value '%s' not in allowed values %v", value, col.Enum),
			Code:    "ENUM_MISMATCH",
		})
	}

	return errors
}
