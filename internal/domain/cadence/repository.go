// internal/domain/cadence/repository.go
package cadence

import "context"

// Repository defines read access to the cadence definition store. The engine
// only ever reads definitions; authoring lives in the surrounding admin layer.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Definition, error)
	// ListByTriggerType returns every definition whose trigger is of the given
	// type, used to resolve which cadences a CRM trigger event fans out to.
	ListByTriggerType(ctx context.Context, triggerType TriggerType) ([]*Definition, error)
}
