// Package domain contains domain models and business logic errors.
package domain

import "errors"

// Common domain errors
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when trying to create a resource that already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidArgument is returned when an invalid argument is provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResourceExhausted is returned when resources are not available.
	ErrResourceExhausted = errors.New("resources exhausted")

	// ErrConflict is returned when there's a conflict with current state.
	ErrConflict = errors.New("conflict with current state")

	// ErrUnavailable is returned when a service or resource is unavailable.
	ErrUnavailable = errors.New("service unavailable")
)

// Placement errors
var (
	// ErrInvalidConfig is returned for configuration errors detected at construction time.
	// These are never retried.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoResourcePools is returned when none of a group's cluster/pool references resolve.
	ErrNoResourcePools = errors.New("cannot get any resource pools for vm group")

	// ErrNoMatchingHosts is returned when a resource service filters out every candidate host.
	ErrNoMatchingHosts = errors.New("no hosts match resources requirement")

	// ErrNoSuitableHost is returned when the engine cannot select a host or every
	// selected host failed to commit.
	ErrNoSuitableHost = errors.New("no suitable host")
)
