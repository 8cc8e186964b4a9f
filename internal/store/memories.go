package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/nuka-arena/internal/memory"
)

// SaveMemories replaces the stored snapshot of one agent's memory.
func (s *Store) SaveMemories(ctx context.Context, runID, agentName string, els []memory.Element) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM memories WHERE run_id = $1 AND agent = $2`, runID, agentName); err != nil {
		return fmt.Errorf("clear memories of %s: %w", agentName, err)
	}

	batch := &pgx.Batch{}
	for i, el := range els {
		evidence := el.Evidence
		if evidence == nil {
			evidence = []string{}
		}
		batch.Queue(`
			INSERT INTO memories (id, run_id, agent, seq, kind, content, embedding,
				importance, immediacy, created_at, last_access_at, evidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			el.ID, runID, agentName, i, string(el.Kind), el.Content, el.Embedding,
			el.Importance, el.Immediacy, el.CreateTime, el.LastAccessTime, evidence,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert memories of %s: %w", agentName, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit memories of %s: %w", agentName, err)
	}
	s.logger.Debug("memory snapshot saved")
	return nil
}

// LoadMemories returns an agent's saved memory in insertion order.
func (s *Store) LoadMemories(ctx context.Context, runID, agentName string) ([]memory.Element, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, kind, content, embedding, importance, immediacy, created_at, last_access_at, evidence
		FROM memories WHERE run_id = $1 AND agent = $2
		ORDER BY seq`, runID, agentName)
	if err != nil {
		return nil, fmt.Errorf("load memories of %s: %w", agentName, err)
	}
	defer rows.Close()

	var out []memory.Element
	for rows.Next() {
		el := memory.Element{Subject: agentName}
		var kind string
		if err := rows.Scan(&el.ID, &kind, &el.Content, &el.Embedding,
			&el.Importance, &el.Immediacy, &el.CreateTime, &el.LastAccessTime, &el.Evidence); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		el.Kind = memory.Kind(kind)
		if len(el.Evidence) == 0 {
			el.Evidence = nil
		}
		out = append(out, el)
	}
	return out, rows.Err()
}
