package ingest

import (
	"errors"
	"fmt"
)

// Cardinality limits. The cost matrix is dense, so the number of distinct
// entities and resources bounds the memory of every run.
const (
	MaxEntities  = 10000 // Maximum distinct entities (matrix rows)
	MaxResources = 1000  // Maximum distinct resources (matrix columns)
)

var (
	// ErrEntityLimit is returned when a batch would exceed MaxEntities
	ErrEntityLimit = fmt.Errorf("entity limit exceeded (max %d distinct entities)", MaxEntities)

	// ErrResourceLimit is returned when a batch would exceed MaxResources
	ErrResourceLimit = fmt.Errorf("resource limit exceeded (max %d distinct resources)", MaxResources)

	// ErrStorageFull is returned when the data directory has reached its limit
	ErrStorageFull = errors.New("storage limit reached")
)
