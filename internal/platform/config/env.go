// Package config loads service configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Validator is implemented by configs that check their own invariants after
// environment values are applied.
type Validator interface {
	Validate() error
}

// ParseEnv loads configuration from environment variables.
//
// When target implements Validator, Validate runs after parsing so a bad
// combination of values fails at startup instead of on first use.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if v, ok := target.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate env: %w", err)
		}
	}
	return nil
}
