package handler

import (
	"funnel_backend/internal/funnel/domain"
	"funnel_backend/platform/validator"

	playground "github.com/go-playground/validator/v10"
)

const maxSignalTypeLength = 64

// RegisterValidations adds the funnel request tags to val.
func RegisterValidations(val *validator.Validator) error {
	if err := val.RegisterValidation("funnel_stage", validStage); err != nil {
		return err
	}
	return val.RegisterValidation("signal_type", validSignalType)
}

func validStage(fl playground.FieldLevel) bool {
	_, ok := domain.ParseStage(fl.Field().String())
	return ok
}

// Signal types are snake_case identifiers such as masterclass_attended.
func validSignalType(fl playground.FieldLevel) bool {
	v := fl.Field().String()
	if v == "" || len(v) > maxSignalTypeLength {
		return false
	}
	for _, r := range v {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}
