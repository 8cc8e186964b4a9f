package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-arena/internal/events"
)

// Run is one recorded simulation.
type Run struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Environment string     `json:"environment"`
	MaxTurns    int        `json:"max_turns"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// CreateRun inserts a new run in the running state.
func (s *Store) CreateRun(ctx context.Context, r *Run) error {
	if r.Status == "" {
		r.Status = "running"
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO runs (id, name, environment, max_turns, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.Name, r.Environment, r.MaxTurns, r.Status, r.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun marks a run finished with the given status.
func (s *Store) FinishRun(ctx context.Context, id, status string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE runs SET status = $2, finished_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var r Run
	err := s.db.QueryRow(ctx, `
		SELECT id, name, environment, max_turns, status, started_at, finished_at
		FROM runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.Name, &r.Environment, &r.MaxTurns, &r.Status, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &r, nil
}

// LatestRun returns the most recently started run of a scenario.
func (s *Store) LatestRun(ctx context.Context, name string) (*Run, error) {
	var r Run
	err := s.db.QueryRow(ctx, `
		SELECT id, name, environment, max_turns, status, started_at, finished_at
		FROM runs WHERE name = $1 ORDER BY started_at DESC LIMIT 1`, name,
	).Scan(&r.ID, &r.Name, &r.Environment, &r.MaxTurns, &r.Status, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("latest run %s: %w", name, err)
	}
	return &r, nil
}

// AppendTurn records a completed turn. Replaying a turn overwrites it.
func (s *Store) AppendTurn(ctx context.Context, ev *events.TurnEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO turns (run_id, turn, world_time, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, turn) DO UPDATE SET
			world_time = EXCLUDED.world_time,
			payload = EXCLUDED.payload`,
		ev.RunID, ev.Turn, ev.WorldTime, payload,
	)
	if err != nil {
		return fmt.Errorf("append turn %d of %s: %w", ev.Turn, ev.RunID, err)
	}
	return nil
}

// ListTurns returns a run's turns in order.
func (s *Store) ListTurns(ctx context.Context, runID string) ([]*events.TurnEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT payload FROM turns WHERE run_id = $1 ORDER BY turn`, runID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var out []*events.TurnEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		var ev events.TurnEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
