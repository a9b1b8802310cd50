package server

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation constants.
const (
	maxNameLength = 100
	maxSlugLength = 50
	slugPattern   = `^[a-z0-9]+(?:-[a-z0-9]+)*$`

	// Size limits for the launch config document to prevent memory
	// exhaustion through oversized payloads.
	maxLaunchConfigKeys = 50
	maxStringValueLen   = 1024
	maxNestingDepth     = 10

	maxPort = 65535
)

var slugRegex = regexp.MustCompile(slugPattern)

var validGameTypes map[GameType]struct{}

func init() {
	validGameTypes = make(map[GameType]struct{}, len(AllGameTypes()))
	for _, gt := range AllGameTypes() {
		validGameTypes[gt] = struct{}{}
	}
}

// Validate performs comprehensive validation on a server record.
// Returns an error describing the first validation failure found.
func Validate(s *Server) error {
	if s == nil {
		return ErrInvalidServer
	}

	if err := ValidateName(s.Name); err != nil {
		return err
	}

	// Empty slug will be generated from the name
	if s.Slug != "" {
		if err := ValidateSlug(s.Slug); err != nil {
			return err
		}
	}

	if err := ValidateGameType(s.GameType); err != nil {
		return err
	}

	if strings.TrimSpace(s.WorkingDir) == "" {
		return fmt.Errorf("%w: working_dir is required", ErrInvalidServer)
	}

	if s.Port != 0 && (s.Port < 1 || s.Port > maxPort) {
		return fmt.Errorf("%w: %d", ErrInvalidPort, s.Port)
	}

	if len(s.LaunchConfig) > maxLaunchConfigKeys {
		return fmt.Errorf("%w: launch_config exceeds max keys (%d)", ErrInvalidServer, maxLaunchConfigKeys)
	}
	return validateMapSize(s.LaunchConfig, "launch_config", 0)
}

// ValidateName checks if a server name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateSlug checks if a slug format is valid.
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("%w: slug cannot be empty", ErrInvalidSlug)
	}
	if len(slug) > maxSlugLength {
		return fmt.Errorf("%w: slug exceeds %d characters", ErrInvalidSlug, maxSlugLength)
	}
	if !slugRegex.MatchString(slug) {
		return fmt.Errorf("%w: slug must be lowercase alphanumeric with hyphens", ErrInvalidSlug)
	}
	return nil
}

// ValidateGameType checks if a game type is supported.
func ValidateGameType(gt GameType) error {
	if _, ok := validGameTypes[gt]; ok {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidGameType, gt)
}

// validateMapSize recursively validates map values with depth tracking.
func validateMapSize(m map[string]any, fieldName string, depth int) error {
	if depth > maxNestingDepth {
		return fmt.Errorf("%w: %s exceeds maximum nesting depth", ErrInvalidServer, fieldName)
	}

	for k, v := range m {
		if len(k) > maxStringValueLen {
			return fmt.Errorf("%w: %s key too long", ErrInvalidServer, fieldName)
		}
		if err := validateValueSize(v, fieldName, depth); err != nil {
			return err
		}
	}
	return nil
}

// validateValueSize recursively validates a value's size.
func validateValueSize(v any, fieldName string, depth int) error {
	switch val := v.(type) {
	case string:
		if len(val) > maxStringValueLen {
			return fmt.Errorf("%w: %s string value too long", ErrInvalidServer, fieldName)
		}
	case map[string]any:
		if len(val) > maxLaunchConfigKeys {
			return fmt.Errorf("%w: %s nested map too large", ErrInvalidServer, fieldName)
		}
		return validateMapSize(val, fieldName, depth+1)
	case []any:
		if len(val) > maxLaunchConfigKeys {
			return fmt.Errorf("%w: %s array too large", ErrInvalidServer, fieldName)
		}
		for _, elem := range val {
			if err := validateValueSize(elem, fieldName, depth+1); err != nil {
				return err
			}
		}
	}
	// Primitives (bool, int, float64, nil) are safe
	return nil
}

// GenerateSlug creates a URL-safe slug from a name.
func GenerateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "_", "-")

	var result strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	slug = result.String()

	slug = strings.Trim(slug, "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}

	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
		slug = strings.TrimRight(slug, "-")
	}

	return slug
}
