package observation

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Validation limits
const (
	MaxNameLength          = 256   // Maximum entity/resource name length
	MaxObservationsRequest = 10000 // Maximum observations in a single ingest request
)

var (
	// ErrEntityEmpty is returned when an observation has no entity
	ErrEntityEmpty = errors.New("entity name cannot be empty")

	// ErrResourceEmpty is returned when an observation has no resource
	ErrResourceEmpty = errors.New("resource name cannot be empty")

	// ErrNameTooLong is returned when an entity or resource name is too long
	ErrNameTooLong = fmt.Errorf("name too long (max %d chars)", MaxNameLength)

	// ErrInvalidName is returned when a name contains a NUL byte
	ErrInvalidName = errors.New("name contains a NUL byte")

	// ErrCostNotFinite is returned for NaN or infinite costs
	ErrCostNotFinite = errors.New("cost must be a finite number")

	// ErrNegativeCost is returned for negative costs under strict validation
	ErrNegativeCost = errors.New("cost cannot be negative")

	// ErrNegativeDay is returned when the day index is negative
	ErrNegativeDay = errors.New("day cannot be negative")

	// ErrTooManyObservations is returned when a request carries too many observations
	ErrTooManyObservations = fmt.Errorf("too many observations in request (max %d)", MaxObservationsRequest)
)

// Validate checks an observation. With strict set, negative costs are rejected.
func Validate(o Observation, strict bool) error {
	if err := validateName(o.Entity, ErrEntityEmpty); err != nil {
		return fmt.Errorf("entity: %w", err)
	}
	if err := validateName(o.Resource, ErrResourceEmpty); err != nil {
		return fmt.Errorf("resource: %w", err)
	}
	if math.IsNaN(o.Cost) || math.IsInf(o.Cost, 0) {
		return fmt.Errorf("%w: %v", ErrCostNotFinite, o.Cost)
	}
	if strict && o.Cost < 0 {
		return fmt.Errorf("%w: %v", ErrNegativeCost, o.Cost)
	}
	if o.Day < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeDay, o.Day)
	}
	return nil
}

func validateName(name string, emptyErr error) error {
	if name == "" {
		return emptyErr
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %q has %d chars", ErrNameTooLong, name[:32], len(name))
	}
	if strings.ContainsRune(name, 0) {
		return ErrInvalidName
	}
	return nil
}
