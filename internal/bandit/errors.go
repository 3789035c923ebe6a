package bandit

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFitted is returned by Predict before the model has seen any example.
	ErrNotFitted = errors.New("model not fitted")
	// ErrDimensionMismatch means a vector was produced by a different encoder generation.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")
	// ErrUnknownAction is returned for an action outside the configured set.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidReward is returned for NaN or infinite rewards.
	ErrInvalidReward = errors.New("reward must be a finite number")
	// ErrNoSnapshot is returned by a PolicyStore that holds no snapshot yet.
	ErrNoSnapshot = errors.New("no policy snapshot")
	// ErrInvalidSnapshot marks a snapshot that decoded but is internally inconsistent.
	ErrInvalidSnapshot = errors.New("invalid policy snapshot")
)

func errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidSnapshot, fmt.Sprintf(format, args...))
}
