package config

import (
	"github.com/go-playground/validator/v10"

	apperrors "github.com/edgard/liveinbox/internal/errors"
)

// Validate checks the struct tags of the whole configuration tree.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return apperrors.NewConfigError("invalid configuration", err)
	}
	return nil
}
