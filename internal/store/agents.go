package store

import (
	"context"
	"fmt"

	"github.com/nidhogg/nuka-arena/internal/agent"
)

// SaveAgent upserts an agent's roster entry for a run.
func (s *Store) SaveAgent(ctx context.Context, runID string, a agent.Info) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO agents (run_id, name, role_description, provider_id, model, status, steps, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, name) DO UPDATE SET
			role_description = EXCLUDED.role_description,
			provider_id = EXCLUDED.provider_id,
			model = EXCLUDED.model,
			status = EXCLUDED.status,
			steps = EXCLUDED.steps,
			updated_at = EXCLUDED.updated_at`,
		runID, a.Persona.Name, a.Persona.RoleDescription,
		a.ProviderID, a.Model, string(a.Status), a.Steps, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.Persona.Name, err)
	}
	return nil
}

// ListAgents returns the roster of a run in name order.
func (s *Store) ListAgents(ctx context.Context, runID string) ([]agent.Info, error) {
	rows, err := s.db.Query(ctx, `
		SELECT name, role_description, COALESCE(provider_id,''), COALESCE(model,''), status, steps, updated_at
		FROM agents WHERE run_id = $1
		ORDER BY name`, runID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Info
	for rows.Next() {
		var a agent.Info
		if err := rows.Scan(
			&a.Persona.Name, &a.Persona.RoleDescription,
			&a.ProviderID, &a.Model, &a.Status, &a.Steps, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
