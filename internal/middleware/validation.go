package middleware

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/veldt/imagegate/internal/services"
)

// RegisterValidators installs the custom identity rule on gin's binding
// validator so URI-bound request structs can declare `binding:"identity"`.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}

	return v.RegisterValidation("identity", func(fl validator.FieldLevel) bool {
		return services.IsValidIdentity(fl.Field().String())
	})
}
