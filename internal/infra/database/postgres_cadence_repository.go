// internal/infra/database/postgres_cadence_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"outreach_cadence_engine/internal/domain/cadence"
)

// Custom errors specific to the cadence definition store
var ErrDefinitionNotFound = fmt.Errorf("cadence definition not found")

// PostgresCadenceRepository reads immutable cadence definition snapshots. The
// definition tree (trigger, days, business hours, stop conditions) lives in a
// single JSONB payload column; authoring writes it, the engine only reads it.
type PostgresCadenceRepository struct {
	db *sql.DB
}

func NewPostgresCadenceRepository(db *sql.DB) *PostgresCadenceRepository {
	return &PostgresCadenceRepository{db: db}
}

func (r *PostgresCadenceRepository) GetByID(ctx context.Context, id int64) (*cadence.Definition, error) {
	query := `SELECT id, version, name, payload, created_at
               FROM cadence_definitions WHERE id = $1`
	var payload []byte
	def := cadence.Definition{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&def.ID, &def.Version, &def.Name, &payload, &def.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("error getting cadence definition by ID: %w", err)
	}
	if err := unmarshalDefinition(payload, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *PostgresCadenceRepository) ListByTriggerType(ctx context.Context, triggerType cadence.TriggerType) ([]*cadence.Definition, error) {
	query := `SELECT id, version, name, payload, created_at
               FROM cadence_definitions
               WHERE payload->'trigger'->>'type' = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, string(triggerType))
	if err != nil {
		return nil, fmt.Errorf("error listing cadence definitions by trigger type: %w", err)
	}
	defer rows.Close()

	defs := make([]*cadence.Definition, 0)
	for rows.Next() {
		var payload []byte
		def := cadence.Definition{}
		if err := rows.Scan(&def.ID, &def.Version, &def.Name, &payload, &def.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning cadence definition row: %w", err)
		}
		if err := unmarshalDefinition(payload, &def); err != nil {
			return nil, err
		}
		defs = append(defs, &def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cadence definition rows: %w", err)
	}
	return defs, nil
}

// unmarshalDefinition overlays the JSONB payload onto a definition whose
// identity columns were already scanned. The scanned columns win: the payload
// duplicates them but the table is the source of truth for id and version.
func unmarshalDefinition(payload []byte, def *cadence.Definition) error {
	id, version, name, createdAt := def.ID, def.Version, def.Name, def.CreatedAt
	if err := json.Unmarshal(payload, def); err != nil {
		return fmt.Errorf("error decoding cadence definition payload (ID %d): %w", id, err)
	}
	def.ID, def.Version, def.Name, def.CreatedAt = id, version, name, createdAt
	return nil
}
