package utilities

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate

	pinPattern = regexp.MustCompile(`^[0-9]{4}$`)
)

// IsPIN reports whether s is exactly four ASCII digits.
func IsPIN(s string) bool {
	return pinPattern.MatchString(s)
}

// Validator returns the shared struct validator. Field names in errors use
// the json tag, and the "pin" tag checks for a four digit PIN.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("pin", func(fl validator.FieldLevel) bool {
			return IsPIN(fl.Field().String())
		})
		validate = v
	})
	return validate
}

// ValidateStruct runs the shared validator and flattens the first failure
// into a readable message.
func ValidateStruct(s any) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	return errors.New(describe(verrs[0]))
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "pin":
		return "PIN must be exactly 4 digits"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "numeric":
		return fmt.Sprintf("%s must be numeric", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
