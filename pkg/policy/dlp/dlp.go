// Package dlp implements the trusted pattern detector: ordered regular
// expressions compiled once at policy load and applied to request text.
package dlp

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/polisai/polis-dlp/pkg/domain"
)

// Compile validates and compiles the supplied specs in order. Any malformed
// pattern fails the whole set so a policy is never half-loaded.
func Compile(specs []PatternSpec, registry *Registry) ([]Pattern, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	if registry == nil {
		registry = BuiltinRegistry()
	}

	compiled := make([]Pattern, 0, len(specs))
	for i, spec := range specs {
		entityType := strings.TrimSpace(spec.Type)
		if entityType == "" {
			return nil, fmt.Errorf("%w: pattern %d: type is required", domain.ErrInvalidPattern, i)
		}

		source := spec.Regex
		if strings.TrimSpace(source) == "" {
			builtin, ok := registry.Resolve(entityType)
			if !ok {
				return nil, fmt.Errorf("%w: pattern %d: %w %q", domain.ErrInvalidPattern, i, ErrUnknownBuiltin, entityType)
			}
			source = builtin.Regex
		}

		expr, err := regexp.Compile(source)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %d (%s): %w", domain.ErrInvalidPattern, i, entityType, err)
		}
		if expr.MatchString("") {
			return nil, fmt.Errorf("%w: pattern %d (%s): %w", domain.ErrInvalidPattern, i, entityType, ErrEmptyMatch)
		}

		compiled = append(compiled, Pattern{
			Type:   entityType,
			Source: source,
			expr:   expr,
		})
	}

	return compiled, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// static tables.
func MustCompile(specs ...PatternSpec) []Pattern {
	patterns, err := Compile(specs, nil)
	if err != nil {
		panic(err)
	}
	return patterns
}
