package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("koanf"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks every section and returns all problems found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return NewValidationError("config", "is nil")
	}

	var errs []error
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("config validation: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, fieldError(fe))
		}
	}

	if err := cfg.Observability.Validate(); err != nil {
		errs = append(errs, NewValidationError("observability", err.Error()))
	}

	return errors.Join(errs...)
}

// NewValidationError creates a general validation error with custom message.
func NewValidationError(field, message string) *ConfigError {
	return &ConfigError{
		Category: "invalid",
		Field:    field,
		Message:  message,
	}
}

// fieldError maps a validator failure onto a ConfigError keyed by the dotted config path.
func fieldError(fe validator.FieldError) *ConfigError {
	key := fe.Namespace()
	if _, rest, ok := strings.Cut(key, "."); ok {
		key = rest
	}

	switch fe.Tag() {
	case "required", "required_with":
		return NewMissingFieldError(key, EnvVar(key), key)
	case "oneof":
		return NewInvalidFieldError(key, fmt.Sprintf("invalid value %q", fmt.Sprint(fe.Value())), strings.Fields(fe.Param()))
	case "gt":
		return NewInvalidFieldError(key, fmt.Sprintf("must be greater than %s", fe.Param()), nil)
	case "gte":
		return NewInvalidFieldError(key, fmt.Sprintf("must be at least %s", fe.Param()), nil)
	case "gtefield":
		return NewInvalidFieldError(key, fmt.Sprintf("must not be less than %s", strings.ToLower(fe.Param())), nil)
	case "url":
		return NewInvalidFieldError(key, "must be a valid URL", nil)
	default:
		return NewValidationError(key, fmt.Sprintf("failed %s validation", fe.Tag()))
	}
}
