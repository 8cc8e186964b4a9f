package lineage

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Interaction is a directed hostile act between two entities, such as an
// attack or a hunt, accumulated over a run.
type Interaction struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Kind    string    `json:"kind"`
	Count   int64     `json:"count"`
	History []string  `json:"history"`
	LastAt  time.Time `json:"last_at"`
}

// RecordInteraction counts one more act of kind from one entity against
// another and appends its summary.
func (g *Graph) RecordInteraction(ctx context.Context, runID, from, to, kind, summary string, at time.Time) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (a:Entity {run: $run, name: $from})
		 MERGE (b:Entity {run: $run, name: $to})
		 MERGE (a)-[r:ACTED_ON {kind: $kind}]->(b)
		 ON CREATE SET r.count = 1, r.history = [$summary], r.last_at = $at
		 ON MATCH SET r.count = r.count + 1, r.history = r.history + $summary, r.last_at = $at`,
		map[string]interface{}{
			"run":     runID,
			"from":    from,
			"to":      to,
			"kind":    kind,
			"summary": summary,
			"at":      at,
		})
	if err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

// Interactions returns every act an entity performed during a run.
func (g *Graph) Interactions(ctx context.Context, runID, name string) ([]*Interaction, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Entity {run: $run, name: $name})-[r:ACTED_ON]->(b:Entity)
		 RETURN b.name, r.kind, r.count, r.history, r.last_at
		 ORDER BY b.name, r.kind`,
		map[string]interface{}{"run": runID, "name": name})
	if err != nil {
		return nil, fmt.Errorf("get interactions: %w", err)
	}

	var out []*Interaction
	for result.Next(ctx) {
		rec := result.Record()
		to, _ := rec.Get("b.name")
		kind, _ := rec.Get("r.kind")
		count, _ := rec.Get("r.count")
		history, _ := rec.Get("r.history")
		lastAt, _ := rec.Get("r.last_at")

		var hist []string
		if h, ok := history.([]interface{}); ok {
			for _, v := range h {
				if s, ok := v.(string); ok {
					hist = append(hist, s)
				}
			}
		}
		in := &Interaction{
			From:    name,
			To:      to.(string),
			Kind:    kind.(string),
			History: hist,
		}
		if n, ok := count.(int64); ok {
			in.Count = n
		}
		if t, ok := lastAt.(time.Time); ok {
			in.LastAt = t
		}
		out = append(out, in)
	}
	return out, result.Err()
}
