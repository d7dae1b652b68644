package service

import (
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/academy-crm-api/internal/models"
)

// NewLeadValidator returns a validator that understands the lead_stage and lead_source tags.
func NewLeadValidator() *validator.Validate {
	v := validator.New()
	RegisterLeadValidations(v)
	return v
}

// RegisterLeadValidations adds the lead tags to an existing validator.
func RegisterLeadValidations(v *validator.Validate) {
	_ = v.RegisterValidation("lead_stage", func(fl validator.FieldLevel) bool {
		_, err := models.ParseLeadStage(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("lead_source", func(fl validator.FieldLevel) bool {
		_, err := models.ParseLeadSource(fl.Field().String())
		return err == nil
	})
}
