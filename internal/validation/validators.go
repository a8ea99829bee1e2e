package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/benvon/community-portal/internal/authz"
	"github.com/go-playground/validator/v10"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	if err := Validate.RegisterValidation("permission", validatePermission); err != nil {
		panic(fmt.Sprintf("failed to register permission validator: %v", err))
	}
	if err := Validate.RegisterValidation("role_name", validateRoleName); err != nil {
		panic(fmt.Sprintf("failed to register role_name validator: %v", err))
	}
}

// validatePermission accepts the permission levels of the route hierarchy.
func validatePermission(fl validator.FieldLevel) bool {
	return authz.Permission(fl.Field().String()).Valid()
}

// validateRoleName accepts role names that map onto a permission level.
func validateRoleName(fl validator.FieldLevel) bool {
	return authz.IsRole(fl.Field().String())
}

// Struct validates s and flattens validator errors into a single readable message.
func Struct(s any) error {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "email":
		return field + " must be a valid email address"
	case "role_name":
		return fmt.Sprintf("%s contains unknown role %q", field, fe.Value())
	case "permission":
		return fmt.Sprintf("%s has unknown permission %q", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	// Trim whitespace
	text = strings.TrimSpace(text)

	// Remove control characters except newline and tab
	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}
