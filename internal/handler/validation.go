package handler

import (
	"errors"

	"lipa/pkg/payment"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators adds the msisdn binding rule. Call once before serving.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("msisdn", func(fl validator.FieldLevel) bool {
		return payment.ValidPhone(fl.Field().String())
	})
}

func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "msisdn":
			return "Invalid phone number. Use 07XXXXXXXX or 2547XXXXXXXX"
		case "required":
			return "phoneNumber, amount, orderId and userId are required"
		}
		return "Invalid " + fe.Field()
	}
	return "Invalid request body"
}
