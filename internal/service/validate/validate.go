// Package validate checks user input before it reaches the backend.
// Failures come back as apperrors.FieldErrors keyed by json field names.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/partsearch/internal/apperrors"
)

const InvalidPlateMessage = `Only letters and numbers are allowed (no "-" or special characters).`

var validate = validator.New()

func init() {
	_ = validate.RegisterValidation("plate", validatePlate)
	validate.RegisterTagNameFunc(useJSONTagNames)
}

// Struct validates v using its struct tags
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("failed to validate: %w", err)
	}
	return toFieldErrors(errs)
}

// Email checks a single address the same way struct fields are checked
func Email(field string, value string) error {
	err := validate.Var(value, "required,email")
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("failed to validate: %w", err)
	}

	fe := apperrors.FieldErrors{}
	for _, e := range errs {
		fe[field] = append(fe[field], message(e))
	}
	return fe
}

func toFieldErrors(errs validator.ValidationErrors) apperrors.FieldErrors {
	fe := make(apperrors.FieldErrors, len(errs))
	for _, e := range errs {
		fe[e.Field()] = append(fe[e.Field()], message(e))
	}
	return fe
}

// Messages follow the wording of the backend so both sources look the same to the user
func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		return fmt.Sprintf("Ensure this field has at least %s characters.", e.Param())
	case "eqfield":
		return "Passwords do not match"
	case "plate":
		return InvalidPlateMessage
	default:
		return "Invalid value"
	}
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

// plate accepts ASCII letters and digits only
func validatePlate(fl validator.FieldLevel) bool {
	for _, r := range fl.Field().String() {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
