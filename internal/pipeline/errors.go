package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPersister is reported when persistence is requested without a store.
	ErrNoPersister = errors.New("pipeline: persistence is not configured")
	// ErrMissingTenant is reported when persistence is requested without a tenant.
	ErrMissingTenant = errors.New("pipeline: tenant id is required to persist")
)

// PersistError aggregates per-transaction persistence failures in strict
// mode.
type PersistError struct {
	Failed int
	Total  int
	First  string
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("Persist failed for %d/%d transactions. First error: %s", e.Failed, e.Total, e.First)
}
