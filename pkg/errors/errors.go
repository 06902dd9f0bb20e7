package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrEmptyKey     = errors.New("empty key")
	ErrInvalidData  = errors.New("invalid data type")
	ErrEntityExists = errors.New("entity already exists")

	// ErrRunActive rejects mutations of a federation run while its round
	// pipeline is executing.
	ErrRunActive = errors.New("federation run is active")

	// ErrRunFinished rejects starting a run that already reached Terminal.
	ErrRunFinished = errors.New("federation run already finished")
)
