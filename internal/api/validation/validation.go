// Package validation registers custom binding rules on gin's validator.
package validation

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// nuban matches a Nigerian bank account number: exactly ten digits.
func nuban(fl validator.FieldLevel) bool {
	account := fl.Field().String()
	if len(account) != 10 {
		return false
	}
	for _, r := range account {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Register installs the custom rules. Call once before routes are mounted.
func Register() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("nuban", nuban)
}
