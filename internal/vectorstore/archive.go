package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-arena/internal/memory"
	"go.uber.org/zap"
)

// Archive keeps every memory element of a run in a Qdrant collection so it
// stays searchable after the run's in-process stores are gone.
type Archive struct {
	client     *Client
	collection string
	runID      string
	embedder   memory.Embedder
	logger     *zap.Logger
}

// NewArchive binds a collection to one run. embedder turns search text into
// vectors and must match the dimension the elements were embedded with.
func NewArchive(client *Client, collection, runID string, embedder memory.Embedder, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{
		client:     client,
		collection: collection,
		runID:      runID,
		embedder:   embedder,
		logger:     logger,
	}
}

// Init creates the collection for vectors of the given dimension.
func (a *Archive) Init(ctx context.Context, dimension int) error {
	return a.client.EnsureCollection(ctx, a.collection, uint64(dimension), "run", "agent", "kind")
}

// MemoryAdded implements memory.Hook.
func (a *Archive) MemoryAdded(ctx context.Context, el memory.Element) error {
	return a.client.Upsert(ctx, a.collection, Point{
		ID:     el.ID,
		Vector: el.Embedding,
		Payload: map[string]interface{}{
			"run":        a.runID,
			"agent":      el.Subject,
			"kind":       string(el.Kind),
			"content":    el.Content,
			"importance": el.Importance,
			"immediacy":  el.Immediacy,
			"created_at": el.CreateTime.Format(time.RFC3339),
		},
	})
}

// Hit is an archived element matching a search.
type Hit struct {
	ID         string  `json:"id"`
	Agent      string  `json:"agent"`
	Kind       string  `json:"kind"`
	Content    string  `json:"content"`
	Importance int     `json:"importance"`
	Score      float32 `json:"score"`
}

// Search finds the k archived elements of agent closest to text.
func (a *Archive) Search(ctx context.Context, agent, text string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}
	vecs, err := a.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed archive query: %w", err)
	}
	filter := map[string]string{"run": a.runID}
	if agent != "" {
		filter["agent"] = agent
	}
	res, err := a.client.Search(ctx, a.collection, vecs[0], uint64(k), filter)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(res))
	for i, r := range res {
		hits[i] = Hit{
			ID:         r.ID,
			Agent:      r.String("agent"),
			Kind:       r.String("kind"),
			Content:    r.String("content"),
			Importance: r.Int("importance"),
			Score:      r.Score,
		}
	}
	a.logger.Debug("archive search", zap.String("agent", agent), zap.Int("hits", len(hits)))
	return hits, nil
}
