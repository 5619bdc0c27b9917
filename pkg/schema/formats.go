package schema

import (
	"regexp"
	"strings"
	"time"
)

// FormatValidator is a function that validates a string format
type FormatValidator func(value string) bool

var (
	emailPattern  = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	uuidPattern   = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	digitsPattern = regexp.MustCompile(`^[0-9]+$`)
)

func validateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// validateUUID accepts v1-v5
func validateUUID(uuid string) bool {
	return uuidPattern.MatchString(strings.ToLower(uuid))
}

// validateDate validates ISO 8601 dates (YYYY-MM-DD)
func validateDate(date string) bool {
	_, err := time.Parse(time.DateOnly, date)
	return err == nil
}

// validateCompactDate validates X12-style dates (YYYYMMDD)
func validateCompactDate(date string) bool {
	_, err := time.Parse("20060102", date)
	return err == nil
}

func validateDigits(value string) bool {
	return digitsPattern.MatchString(value)
}

// validateNPI checks a National Provider Identifier: ten digits whose Luhn check
// digit is computed over the number prefixed with 80840.
func validateNPI(npi string) bool {
	if len(npi) != 10 || !validateDigits(npi) {
		return false
	}

	sum := 24 // contribution of the 80840 prefix
	double := true
	for i := 8; i >= 0; i-- {
		d := int(npi[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	check := (10 - sum%10) % 10
	return check == int(npi[9]-'0')
}

// GetFormatValidator returns a default format validator by name
func GetFormatValidator(format string) (FormatValidator, bool) {
	validator, exists := NewValidator().formatValidators[format]
	return validator, exists
}
