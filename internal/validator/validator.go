package validator

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// New returns a validator with the custom rules registered. Both binaries
// and the handler tests build their validator through this constructor.
func New() *validator.Validate {
	v := validator.New()

	// "notblank" rejects whitespace-only strings; coupon names must carry
	// actual content, not just pass "required".
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return true // Not a string, left to other validators
		}
		return strings.TrimSpace(str) != ""
	})

	return v
}
