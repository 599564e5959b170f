package bridge

import "errors"

// Bridge orchestration errors.
var (
	// ErrInvalidSetpoint indicates a setpoint outside the safe range.
	// The command is rejected locally and never sent upstream.
	ErrInvalidSetpoint = errors.New("setpoint outside safe range")

	// ErrUnknownDevice indicates a command or refresh referenced a
	// device the registry is not tracking.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrInvalidInterval indicates a poll interval outside 1-60 minutes.
	ErrInvalidInterval = errors.New("poll interval outside 1-60 minutes")

	// ErrInvalidCommand indicates an inbound command payload that could
	// not be understood.
	ErrInvalidCommand = errors.New("invalid command payload")
)
