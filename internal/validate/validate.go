// Package validate holds the input rules applied before any identity
// provider call: email syntax, the password policy and field-level errors.
package validate

import (
	"sort"
	"strings"
	"unicode"

	"github.com/asaskevich/govalidator"
)

const (
	MinPasswordLength = 12
	// MaxPasswordBytes is the longest password bcrypt-backed providers accept.
	MaxPasswordBytes = 72
	MaxEmailLength   = 255
)

// PasswordSymbols is the punctuation set that satisfies the symbol rule.
const PasswordSymbols = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?`~"

// Errors maps form field names to messages.
type Errors map[string]string

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+e[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records msg for field unless the field already has an error.
func (e Errors) Add(field, msg string) {
	if _, ok := e[field]; !ok {
		e[field] = msg
	}
}

// Email checks presence, length and syntax.
func Email(errs Errors, field, value string) {
	switch {
	case value == "":
		errs.Add(field, "Email is required")
	case len(value) > MaxEmailLength:
		errs.Add(field, "Email must be 255 characters or less")
	case !govalidator.IsEmail(value):
		errs.Add(field, "Please enter a valid email address")
	}
}

// Required checks that value is non-blank.
func Required(errs Errors, field, value, label string) {
	if strings.TrimSpace(value) == "" {
		errs.Add(field, label+" is required")
	}
}

// Password applies the password policy and reports the first rule broken.
func Password(errs Errors, field, value string) {
	if msg := PasswordProblem(value); msg != "" {
		errs.Add(field, msg)
	}
}

// PasswordProblem returns a message for the first policy rule value breaks,
// or "" when it satisfies the policy.
func PasswordProblem(value string) string {
	if value == "" {
		return "Password is required"
	}
	if !govalidator.MinStringLength(value, "12") {
		return "Password must be at least 12 characters"
	}
	if len(value) > MaxPasswordBytes {
		return "Password must be 72 bytes or less"
	}

	var upper, lower, digit, symbol bool
	for _, r := range value {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			symbol = true
		}
	}

	switch {
	case !upper:
		return "Password must contain at least one uppercase letter"
	case !lower:
		return "Password must contain at least one lowercase letter"
	case !digit:
		return "Password must contain at least one number"
	case !symbol:
		return "Password must contain at least one special character"
	}
	return ""
}

// Match checks that a confirmation field repeats the original value.
func Match(errs Errors, field, value, original, msg string) {
	if value != original {
		errs.Add(field, msg)
	}
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
