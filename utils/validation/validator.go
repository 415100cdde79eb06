package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// Validator wraps the go-playground validator
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ValidateStruct validates a struct using struct tags
func (v *Validator) ValidateStruct(s interface{}) error {
	return v.validate.Struct(s)
}

// BindJSON parses the request body into dst and validates it. The returned
// map is non-nil when validation (not parsing) failed.
func (v *Validator) BindJSON(c *fiber.Ctx, dst interface{}) (map[string]string, error) {
	if err := c.BodyParser(dst); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if err := v.ValidateStruct(dst); err != nil {
		return FormatValidationErrors(err), err
	}
	return nil, nil
}

// FormatValidationErrors converts validation errors to a user-friendly format
func FormatValidationErrors(err error) map[string]string {
	errors := make(map[string]string)

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			field := strings.ToLower(e.Field())
			switch e.Tag() {
			case "required":
				errors[field] = fmt.Sprintf("%s is required", e.Field())
			case "uuid", "uuid4":
				errors[field] = fmt.Sprintf("%s must be a valid UUID", e.Field())
			case "url":
				errors[field] = fmt.Sprintf("%s must be a valid URL", e.Field())
			case "min":
				errors[field] = fmt.Sprintf("%s must be at least %s", e.Field(), e.Param())
			case "max":
				errors[field] = fmt.Sprintf("%s must be at most %s", e.Field(), e.Param())
			case "gte":
				errors[field] = fmt.Sprintf("%s must be greater than or equal to %s", e.Field(), e.Param())
			case "lte":
				errors[field] = fmt.Sprintf("%s must be less than or equal to %s", e.Field(), e.Param())
			default:
				errors[field] = fmt.Sprintf("%s is invalid", e.Field())
			}
		}
	}

	return errors
}

// Summary flattens field errors into one stable, sorted message
func Summary(fieldErrors map[string]string) string {
	if len(fieldErrors) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(fieldErrors))
	for _, msg := range fieldErrors {
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}

// SanitizeString removes potentially dangerous characters
func SanitizeString(s string) string {
	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")
	// Trim whitespace
	s = strings.TrimSpace(s)
	return s
}
