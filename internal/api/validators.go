package api

import (
	"sync"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/internal/models"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// registerValidators adds the order field tags used in binding structs
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("service_type", func(fl validator.FieldLevel) bool {
			return models.ServiceType(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("frequency", func(fl validator.FieldLevel) bool {
			return models.Frequency(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("requested_at", func(fl validator.FieldLevel) bool {
			return validRequestedAt(fl.Field().String())
		})
	})
}

func validRequestedAt(s string) bool {
	if s == models.RequestedAtASAP {
		return true
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}
