package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// formatValidationErrors maps each failing field namespace to the violated tag
func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errs := make(map[string]string)
		for _, e := range validationErrors {
			errs[e.Namespace()] = e.Tag()
		}
		return errs
	}
	return nil
}
