package handlers

import (
	"sync"

	"github.com/Cyvadra/tv-bridge/broker"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterValidators adds the custom binding tags used by admin requests
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("brokertype", validateBrokerType)
		_ = v.RegisterValidation("symbol", validateSymbol)
	})
}

func validateBrokerType(fl validator.FieldLevel) bool {
	return broker.IsRegistered(fl.Field().String())
}

// a normalized symbol is 1-32 characters of A-Z, 0-9 and '.'
func validateSymbol(fl validator.FieldLevel) bool {
	symbol := broker.NormalizeSymbol(fl.Field().String())
	if symbol == "" || len(symbol) > 32 {
		return false
	}
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.':
		default:
			return false
		}
	}
	return true
}
