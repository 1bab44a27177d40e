package pipeline

import "errors"

var (
	// ErrNoData indicates a building has no valid readings to anchor on.
	ErrNoData = errors.New("pipeline: no valid sensor readings")
	// ErrNoActiveModel indicates the model registry has no active artifact.
	ErrNoActiveModel = errors.New("pipeline: no active model")
	// ErrFeatureMismatch indicates an artifact was trained on a different feature layout.
	ErrFeatureMismatch = errors.New("pipeline: feature layout mismatch")
	// ErrRunInProgress indicates another run holds the building cursor.
	ErrRunInProgress = errors.New("pipeline: run already in progress")
	// ErrInvalidAnchor indicates a zero or otherwise unusable anchor.
	ErrInvalidAnchor = errors.New("pipeline: invalid anchor")
)
