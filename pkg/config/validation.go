package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the configuration against its struct tags and the
// rules that tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			messages := make([]string, 0, len(errs))
			for _, fieldErr := range errs {
				messages = append(messages, describeFieldError(fieldErr))
			}
			return fmt.Errorf("%s", strings.Join(messages, "; "))
		}
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	return nil
}

// describeFieldError renders one validation failure in a form usable in
// an error message shown to an operator.
func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	// Strip the leading "Config." for readability.
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation rule %q", field, fe.Tag())
	}
}
