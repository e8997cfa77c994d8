package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/wakaruku/station-auth/internal/models"
)

const maxBodyBytes = 1 << 16

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,50}$`)

// Global validator instance (reused across all handlers)
var validate = mustNewValidator()

func mustNewValidator() *validator.Validate {
	v, err := newValidator()
	if err != nil {
		panic(fmt.Sprintf("handlers: building validator: %v", err))
	}
	return v
}

func newValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report the json name so errors point at the field the client sent
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	}); err != nil {
		return nil, fmt.Errorf("register username rule: %w", err)
	}
	if err := v.RegisterValidation("backupcode", func(fl validator.FieldLevel) bool {
		code := strings.ReplaceAll(strings.TrimSpace(fl.Field().String()), "-", "")
		if len(code) != 8 {
			return false
		}
		for _, c := range code {
			if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
				return false
			}
		}
		return true
	}); err != nil {
		return nil, fmt.Errorf("register backupcode rule: %w", err)
	}
	return v, nil
}

// ValidateRequest validates a request struct and returns a *models.ValidationError
// naming the first offending field
func ValidateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return &models.ValidationError{Field: fe.Field(), Reason: formatValidationError(fe)}
	}
	return &models.ValidationError{Field: "body", Reason: err.Error()}
}

// decodeJSON reads a bounded JSON body into dst and validates it
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return &models.ValidationError{Field: "body", Reason: "invalid JSON body"}
	}
	return ValidateRequest(dst)
}

// formatValidationError converts a validator FieldError to a user-friendly message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "username":
		return "must be 3 to 50 letters, digits or underscores"
	case "numeric":
		return "must contain only digits"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "backupcode":
		return "must be 8 letters or digits"
	case "min":
		return fmt.Sprintf("must have a minimum of %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "excluded_with":
		return fmt.Sprintf("cannot be combined with %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
