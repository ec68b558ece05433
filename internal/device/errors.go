package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrModuleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrModuleNotFound is returned when a module ID does not exist.
	ErrModuleNotFound = errors.New("device: module not found")

	// ErrModuleExists is returned when provisioning an ID that already exists.
	ErrModuleExists = errors.New("device: module already exists")

	// ErrInvalidModuleID is returned when an ID does not match MC-XXXX-TYPE.
	ErrInvalidModuleID = errors.New("device: invalid module id")

	// ErrInvalidType is returned when a module type is unknown or disagrees with the ID.
	ErrInvalidType = errors.New("device: invalid module type")

	// ErrInvalidSecret is returned when a provisioning secret is too short.
	ErrInvalidSecret = errors.New("device: invalid secret")

	// ErrInvalidName is returned when a module name is too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidStatus is returned for a status outside online/offline/unknown.
	ErrInvalidStatus = errors.New("device: invalid status")

	// ErrInvalidCredentials covers both an unknown ID and a wrong secret.
	ErrInvalidCredentials = errors.New("device: invalid credentials")

	// ErrNoOwner is returned when a module has not been claimed.
	ErrNoOwner = errors.New("device: module has no owner")

	// ErrAlreadyClaimed is returned when another user owns the module.
	ErrAlreadyClaimed = errors.New("device: module already claimed")

	// ErrNotOwner is returned when a user acts on a module they do not own.
	ErrNotOwner = errors.New("device: not the module owner")
)
