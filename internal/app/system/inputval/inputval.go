// Package inputval provides struct validation using waffle/pantry/validate.
//
// Accounts and HTTP request bodies declare their rules with struct tags and
// an optional label tag for user-facing field names:
//
//	type CreateAccountInput struct {
//	    Login string `json:"login" validate:"required,min=1,max=32" label:"Login"`
//	    Email string `json:"email" validate:"required,account_email" label:"Email"`
//	}
//
//	if res := inputval.Validate(input); res.HasErrors() {
//	    return res.Err()
//	}
package inputval

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/dalemusser/stratabook/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/validate"
)

// ErrInvalid is wrapped by Result.Err so callers can test for a validation
// failure with errors.Is.
var ErrInvalid = errors.New("validation failed")

// emailPattern is the address shape accepted for account e-mails (lowercase
// local part and domain, dot-separated atoms).
var emailPattern = regexp.MustCompile(
	"^[a-z0-9!#$%&'*+/=?^_`{|}~-]+(?:\\.[a-z0-9!#$%&'*+/=?^_`{|}~-]+)*" +
		"@(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\\.)+[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$")

var passwordHashPattern = regexp.MustCompile("^[0-9a-f]{64}$")

// Result holds validation results with user-friendly messages.
type Result struct {
	Errors []FieldError
}

// FieldError represents a validation error for a single field.
type FieldError struct {
	Field   string
	Label   string
	Message string
}

// HasErrors returns true if there are any validation errors.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// First returns the first error message, or empty string if no errors.
func (r *Result) First() string {
	if len(r.Errors) > 0 {
		return r.Errors[0].Message
	}
	return ""
}

// All returns all error messages joined with "; ".
func (r *Result) All() string {
	if len(r.Errors) == 0 {
		return ""
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

// Err returns nil when the result is clean, otherwise an error wrapping
// ErrInvalid with the first message.
func (r *Result) Err() error {
	if !r.HasErrors() {
		return nil
	}
	return &Error{Result: r}
}

// Error is the error form of a failed Result.
type Error struct {
	Result *Result
}

func (e *Error) Error() string { return ErrInvalid.Error() + ": " + e.Result.All() }

func (e *Error) Unwrap() error { return ErrInvalid }

var (
	customValidator *validate.Validator
	validatorOnce   sync.Once
)

func getValidator() *validate.Validator {
	validatorOnce.Do(func() {
		customValidator = validate.New(validate.WithStopOnFirstError())

		customValidator.RegisterRuleFunc("account_email", func(value any) bool {
			if s, ok := value.(string); ok {
				return IsValidAccountEmail(s)
			}
			return false
		}, "account_email")

		customValidator.RegisterRuleFunc("password_hash", func(value any) bool {
			if s, ok := value.(string); ok {
				return IsValidPasswordHash(s)
			}
			return false
		}, "password_hash")
	})
	return customValidator
}

// Validate validates a struct and returns a Result with user-friendly errors.
//
// Rules from pantry/validate: required, email, oneof, min, max.
// Rules registered here:
//   - account_email: lowercase address matching the account e-mail pattern
//   - password_hash: exactly 64 lowercase hex characters
func Validate(s any) *Result {
	result := &Result{}

	err := getValidator().Struct(s)
	if err == nil {
		return result
	}

	labels := getFieldLabels(s)

	if errs, ok := err.(validate.Errors); ok {
		for _, e := range errs {
			label := labels[e.Field]
			if label == "" {
				label = e.Field
			}
			result.Errors = append(result.Errors, FieldError{
				Field:   e.Field,
				Label:   label,
				Message: formatMessage(label, e.Rule, e.Param),
			})
		}
	}

	return result
}

// Account validates a persisted account shape.
func Account(a models.Account) error {
	return Validate(a).Err()
}

// getFieldLabels extracts the "label" tag from struct fields, keyed the way
// the validator names fields (json name when present, Go name otherwise).
func getFieldLabels(s any) map[string]string {
	labels := make(map[string]string)

	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return labels
	}

	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		label := field.Tag.Get("label")
		if label == "" {
			continue
		}
		labels[field.Name] = label
		if jsonTag := field.Tag.Get("json"); jsonTag != "" {
			name := strings.Split(jsonTag, ",")[0]
			if name != "" && name != "-" {
				labels[name] = label
			}
		}
	}

	return labels
}

func formatMessage(label, rule, param string) string {
	switch rule {
	case "required":
		return label + " is required."
	case "email", "account_email":
		return "A valid email address is required."
	case "oneof", "enum":
		return label + " must be one of: " + strings.ReplaceAll(param, " ", ", ") + "."
	case "min":
		return label + " must be at least " + param + " characters."
	case "max":
		return label + " must be at most " + param + " characters."
	case "password_hash":
		return label + " must be a 64-character hex digest."
	default:
		return label + " is invalid."
	}
}

// IsValidAccountEmail reports whether email matches the account e-mail pattern.
func IsValidAccountEmail(email string) bool {
	if email == "" || len(email) > models.EmailMaxLen {
		return false
	}
	return emailPattern.MatchString(email)
}

// IsValidPasswordHash reports whether s is a 64-character lowercase hex digest.
func IsValidPasswordHash(s string) bool {
	return passwordHashPattern.MatchString(s)
}
