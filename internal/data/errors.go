package data

import "errors"

var (
	// ErrExecutionNotFound is returned when an execution row does not exist.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrExecutionRunning is returned when creating a running execution
	// would violate the single-running-execution guard.
	ErrExecutionRunning = errors.New("another execution is already running")
	// ErrImageNotFound is returned when a generated image does not exist.
	ErrImageNotFound = errors.New("generated image not found")
	// ErrConfigurationNotFound is returned when a configuration does not exist.
	ErrConfigurationNotFound = errors.New("configuration not found")
	// ErrConfigurationNameExists is returned when saving a configuration
	// under a name that is already taken.
	ErrConfigurationNameExists = errors.New("configuration name already exists")
	// ErrCredentialNotFound is returned when no credential is stored for a service.
	ErrCredentialNotFound = errors.New("credential not found")
)
