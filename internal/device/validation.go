package device

import "fmt"

// Validation constants.
const (
	maxNameLength = 100
	maxIDLength   = 64

	minPosition = 0
	maxPosition = 100
)

// ValidateShade performs validation on a shade state.
// Returns an error describing the first validation failure found.
func ValidateShade(s *ShadeState) error {
	if s == nil {
		return ErrInvalidShade
	}

	if err := validateID(ErrInvalidShade, s.ID); err != nil {
		return err
	}

	if err := ValidateName(s.Name); err != nil {
		return err
	}

	if err := validateOptionalPosition("primary", s.Primary); err != nil {
		return err
	}
	if err := validateOptionalPosition("secondary", s.Secondary); err != nil {
		return err
	}
	if err := validateOptionalPosition("tilt", s.Tilt); err != nil {
		return err
	}

	if s.Battery != "" && !s.Battery.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidBattery, s.Battery)
	}

	return nil
}

// ValidateScene performs validation on a scene state.
func ValidateScene(s *SceneState) error {
	if s == nil {
		return ErrInvalidScene
	}

	if err := validateID(ErrInvalidScene, s.ID); err != nil {
		return err
	}

	return ValidateName(s.Name)
}

// ValidateName checks that a name is non-empty and within length limits.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidatePosition checks that a position percentage is within 0-100.
func ValidatePosition(pct int) error {
	if pct < minPosition || pct > maxPosition {
		return fmt.Errorf("%w: %d not in %d-%d", ErrInvalidPosition, pct, minPosition, maxPosition)
	}
	return nil
}

func validateOptionalPosition(field string, pct *int) error {
	if pct == nil {
		return nil
	}
	if err := ValidatePosition(*pct); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

func validateID(sentinel error, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", sentinel)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", sentinel, maxIDLength)
	}
	return nil
}
