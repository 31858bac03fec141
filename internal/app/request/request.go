// Package request decodes and validates JSON request bodies.
package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ValidationError carries a client-facing message for a rejected body.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		validate.RegisterValidation("letter", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return len(s) == 1 && strings.ToUpper(s) >= "A" && strings.ToUpper(s) <= "Z"
		})
		validate.RegisterCustomTypeFunc(func(v reflect.Value) interface{} {
			id, ok := v.Interface().(uuid.UUID)
			if !ok || id == uuid.Nil {
				return ""
			}
			return id.String()
		}, uuid.UUID{})
	})
	return validate
}

// DecodeJSON reads the body into dst and runs struct validation.
// Any failure is returned as *ValidationError.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &ValidationError{Message: "request body is required"}
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &ValidationError{Message: "request body too large"}
		}
		return &ValidationError{Message: "invalid request body"}
	}
	return Validate(dst)
}

// Validate runs struct validation on an already decoded value.
func Validate(v any) error {
	if err := validatorInstance().Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ValidationError{Message: fieldMessage(verrs[0])}
		}
		return &ValidationError{Message: "invalid request body"}
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s item(s) or characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must have at most %s item(s) or characters", field, fe.Param())
	case "gte", "gt", "lte", "lt":
		return fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param())
	case "letter":
		return fmt.Sprintf("%s must be a single letter", field)
	case "url":
		return fmt.Sprintf("%s must be a valid url", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
