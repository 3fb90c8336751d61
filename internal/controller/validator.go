package controller

import (
	"exam_proctor_backend/internal/model"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators 注册请求体校验标签：proctor_event、severity
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	if err := v.RegisterValidation("proctor_event", func(fl validator.FieldLevel) bool {
		return model.ProctorEventType(fl.Field().String()).Valid()
	}); err != nil {
		return err
	}
	return v.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		return model.Severity(fl.Field().String()).Valid()
	})
}
