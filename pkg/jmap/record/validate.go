package record

import (
	"fmt"
	"regexp"
)

// Validator combinators for common property constraints. They run on
// the wire value after its shape already matched the declared type.

// NonEmpty rejects the empty string.
func NonEmpty() Validator {
	return func(v any) error {
		if s, ok := v.(string); ok && s == "" {
			return fmt.Errorf("must not be empty")
		}
		return nil
	}
}

// MaxLength bounds a string's length in bytes.
func MaxLength(n int) Validator {
	return func(v any) error {
		if s, ok := v.(string); ok && len(s) > n {
			return fmt.Errorf("must be at most %d bytes", n)
		}
		return nil
	}
}

// OneOf restricts a string to an allowed set.
func OneOf(allowed ...string) Validator {
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	return func(v any) error {
		s, ok := v.(string)
		if !ok {
			return nil
		}
		if !set[s] {
			return fmt.Errorf("must be one of %v", allowed)
		}
		return nil
	}
}

// Matches restricts a string to a pattern.
func Matches(re *regexp.Regexp) Validator {
	return func(v any) error {
		if s, ok := v.(string); ok && !re.MatchString(s) {
			return fmt.Errorf("must match %s", re)
		}
		return nil
	}
}

// IntRange bounds an integer value inclusively.
func IntRange(min, max int64) Validator {
	return func(v any) error {
		var n int64
		switch x := v.(type) {
		case float64:
			n = int64(x)
		case int64:
			n = x
		case int:
			n = int64(x)
		default:
			return nil
		}
		if n < min || n > max {
			return fmt.Errorf("must be between %d and %d", min, max)
		}
		return nil
	}
}

// All chains validators; the first failure wins.
func All(vs ...Validator) Validator {
	return func(v any) error {
		for _, fn := range vs {
			if err := fn(v); err != nil {
				return err
			}
		}
		return nil
	}
}
