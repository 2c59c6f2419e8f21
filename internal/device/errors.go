package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrShadeNotFound) {
//	    // handle not found case
//	}
var (
	// ErrShadeNotFound is returned when a shade ID does not exist.
	ErrShadeNotFound = errors.New("device: shade not found")

	// ErrSceneNotFound is returned when a scene ID does not exist.
	ErrSceneNotFound = errors.New("device: scene not found")

	// ErrInvalidShade is returned when shade validation fails.
	ErrInvalidShade = errors.New("device: invalid shade")

	// ErrInvalidScene is returned when scene validation fails.
	ErrInvalidScene = errors.New("device: invalid scene")

	// ErrInvalidName is returned when a name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidPosition is returned when a position is outside 0-100.
	ErrInvalidPosition = errors.New("device: invalid position")

	// ErrInvalidBattery is returned when a battery level is not recognised.
	ErrInvalidBattery = errors.New("device: invalid battery level")

	// ErrUnsupportedCommand is returned when a command is not meaningful
	// for a shade's capability variant.
	ErrUnsupportedCommand = errors.New("device: command not supported by capability")
)
