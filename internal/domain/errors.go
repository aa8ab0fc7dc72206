package domain

import "errors"

// Pipeline errors.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrScoringUnavailable     = errors.New("scoring unavailable")
	ErrExplanationUnavailable = errors.New("explanation unavailable")
	ErrPersistFailed          = errors.New("failed to persist decision")
)

// Prediction store and feedback errors.
var (
	ErrNotFound     = errors.New("record not found")
	ErrNotEligible  = errors.New("decision is not eligible for feedback")
	ErrInvalidLabel = errors.New("label must be 0 or 1")
)

// Retraining errors. Any of these aborts the run without promoting a model.
var (
	ErrExportFailed         = errors.New("export failed")
	ErrTrainingFailed       = errors.New("training failed")
	ErrModelCreationFailed  = errors.New("model creation failed")
	ErrEndpointUpdateFailed = errors.New("endpoint update failed")
	ErrRunInProgress        = errors.New("retraining run already in progress")
)
