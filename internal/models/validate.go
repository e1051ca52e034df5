package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs tag validation and converts the first failure into a
// *ValidationError keyed by the json field name.
func validateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return ErrInvalidInput(err.Error())
	}

	fe := fieldErrs[0]
	field := toSnake(fe.Field())
	switch fe.Tag() {
	case "required":
		return ErrInvalidField(field, "is required")
	case "email":
		return ErrInvalidField(field, "must be a valid email address")
	case "min":
		return ErrInvalidField(field, fmt.Sprintf("must be at least %s", fe.Param()))
	case "max":
		return ErrInvalidField(field, fmt.Sprintf("must be at most %s", fe.Param()))
	case "gte":
		return ErrInvalidField(field, fmt.Sprintf("must be greater than or equal to %s", fe.Param()))
	case "lte":
		return ErrInvalidField(field, fmt.Sprintf("must be less than or equal to %s", fe.Param()))
	case "oneof":
		return ErrInvalidField(field, fmt.Sprintf("must be one of [%s]", fe.Param()))
	case "unique":
		return ErrInvalidField(field, "must not contain duplicates")
	case "len":
		return ErrInvalidField(field, fmt.Sprintf("must be exactly %s characters", fe.Param()))
	default:
		return ErrInvalidField(field, fmt.Sprintf("failed %s validation", fe.Tag()))
	}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && (s[i-1] < 'A' || s[i-1] > 'Z') {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
