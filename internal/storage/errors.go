package storage

import "errors"

var (
	// ErrInteractionNotFound is returned when an interaction does not exist for the owner
	ErrInteractionNotFound = errors.New("interaction not found")

	// ErrSettingsNotFound is returned when a user never saved settings
	ErrSettingsNotFound = errors.New("user settings not found")

	// ErrInvalidTurn is returned when appending would break conversation alternation
	ErrInvalidTurn = errors.New("invalid conversation turn")
)
