// Package lineage mirrors agent memories into Neo4j so every reflection can
// be traced back to the statements it was derived from.
package lineage

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/nuka-arena/internal/memory"
	"go.uber.org/zap"
)

// ErrNotFound is returned when an element has never been recorded.
var ErrNotFound = errors.New("element not found")

// maxDepth bounds how far a lineage query follows DERIVED_FROM edges.
const maxDepth = 5

// Node is a memory element as stored in the graph.
type Node struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Content string `json:"content"`
}

// Lineage is a reflection and every element it transitively derives from.
type Lineage struct {
	Root    Node   `json:"root"`
	Sources []Node `json:"sources"`
}

// Graph records memory elements and their provenance in Neo4j.
type Graph struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// Connect opens a driver and verifies the server is reachable.
func Connect(ctx context.Context, uri, user, password string, logger *zap.Logger) (*Graph, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connect %s: %w", uri, err)
	}
	return NewGraph(driver, logger), nil
}

// NewGraph wraps an existing driver.
func NewGraph(driver neo4j.DriverWithContext, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{driver: driver, logger: logger}
}

// EnsureSchema creates the uniqueness constraint on element IDs.
func (g *Graph) EnsureSchema(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`CREATE CONSTRAINT memory_id IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE`, nil)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// MemoryAdded implements memory.Hook. Reflections are linked to their
// evidence with DERIVED_FROM edges.
func (g *Graph) MemoryAdded(ctx context.Context, el memory.Element) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (m:Memory {id: $id})
		 SET m.kind = $kind, m.subject = $subject, m.content = $content,
		     m.importance = $importance, m.created_at = $created`,
		map[string]interface{}{
			"id":         el.ID,
			"kind":       string(el.Kind),
			"subject":    el.Subject,
			"content":    el.Content,
			"importance": el.Importance,
			"created":    el.CreateTime,
		})
	if err != nil {
		return fmt.Errorf("record element %s: %w", el.ID, err)
	}
	if !el.IsReflection() || len(el.Evidence) == 0 {
		return nil
	}

	_, err = session.Run(ctx,
		`MATCH (r:Memory {id: $id})
		 UNWIND $evidence AS eid
		 MERGE (e:Memory {id: eid})
		 MERGE (r)-[:DERIVED_FROM]->(e)`,
		map[string]interface{}{
			"id":       el.ID,
			"evidence": el.Evidence,
		})
	if err != nil {
		return fmt.Errorf("link evidence of %s: %w", el.ID, err)
	}
	g.logger.Debug("linked reflection",
		zap.String("id", el.ID), zap.Int("evidence", len(el.Evidence)))
	return nil
}

// Lineage returns the element id and everything it derives from.
func (g *Graph) Lineage(ctx context.Context, id string) (*Lineage, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (r:Memory {id: $id}) RETURN r.id, r.kind, r.subject, r.content`,
		map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("lineage root: %w", err)
	}
	if !result.Next(ctx) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := &Lineage{Root: nodeFrom(result.Record(), "r")}

	result, err = session.Run(ctx,
		fmt.Sprintf(`MATCH (r:Memory {id: $id})-[:DERIVED_FROM*1..%d]->(m:Memory)
		 RETURN DISTINCT m.id, m.kind, m.subject, m.content
		 ORDER BY m.id`, maxDepth),
		map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("lineage sources: %w", err)
	}
	for result.Next(ctx) {
		out.Sources = append(out.Sources, nodeFrom(result.Record(), "m"))
	}
	return out, result.Err()
}

// Close releases the driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func nodeFrom(rec *neo4j.Record, alias string) Node {
	str := func(key string) string {
		v, _ := rec.Get(alias + "." + key)
		s, _ := v.(string)
		return s
	}
	return Node{ID: str("id"), Kind: str("kind"), Subject: str("subject"), Content: str("content")}
}
