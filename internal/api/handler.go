package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/nuka-arena/internal/agent"
	"github.com/nidhogg/nuka-arena/internal/events"
	"github.com/nidhogg/nuka-arena/internal/feed"
	"github.com/nidhogg/nuka-arena/internal/lineage"
	"github.com/nidhogg/nuka-arena/internal/memory"
	"github.com/nidhogg/nuka-arena/internal/provider"
	"github.com/nidhogg/nuka-arena/internal/simulation"
	"github.com/nidhogg/nuka-arena/internal/vectorstore"
	"github.com/nidhogg/nuka-arena/internal/world"
	"go.uber.org/zap"
)

// LineageReader answers provenance questions about memories.
type LineageReader interface {
	Lineage(ctx context.Context, id string) (*lineage.Lineage, error)
	Interactions(ctx context.Context, runID, name string) ([]*lineage.Interaction, error)
}

// ArchiveSearcher searches the long-term vector archive.
type ArchiveSearcher interface {
	Search(ctx context.Context, agent, text string, k int) ([]vectorstore.Hit, error)
}

// TurnReader lists persisted turns of a run.
type TurnReader interface {
	ListTurns(ctx context.Context, runID string) ([]*events.TurnEvent, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	runner      *simulation.Runner
	router      *provider.Router
	broadcaster *feed.Broadcaster
	feed        *feed.Feed
	heartbeat   *world.Heartbeat
	lineage     LineageReader
	archive     ArchiveSearcher
	turns       TurnReader
	logger      *zap.Logger
}

// NewHandler creates a new API handler. feed and heartbeat may be nil.
func NewHandler(
	runner *simulation.Runner,
	router *provider.Router,
	broadcaster *feed.Broadcaster,
	f *feed.Feed,
	heartbeat *world.Heartbeat,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		runner:      runner,
		router:      router,
		broadcaster: broadcaster,
		feed:        f,
		heartbeat:   heartbeat,
		logger:      logger,
	}
}

// SetLineage enables the lineage and interaction routes.
func (h *Handler) SetLineage(l LineageReader) { h.lineage = l }

// SetArchive enables archive search.
func (h *Handler) SetArchive(a ArchiveSearcher) { h.archive = a }

// SetTurnReader serves turn history from persistent storage instead of
// the runner's in-memory window.
func (h *Handler) SetTurnReader(t TurnReader) { h.turns = t }

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/agents", h.listAgents)
		r.Get("/agents/{id}", h.getAgent)
		r.Get("/agents/{id}/memories", h.listMemories)
		r.Post("/agents/{id}/query", h.queryMemories)
		r.Post("/agents/{id}/explain", h.explainMemories)
		r.Post("/agents/{id}/reflect", h.reflect)
		r.Get("/agents/{id}/archive", h.searchArchive)
		r.Get("/agents/{id}/interactions", h.listInteractions)
		r.Get("/memories/{elementID}/lineage", h.getLineage)

		// World routes
		r.Get("/world/status", h.worldStatus)
		r.Post("/world/step", h.stepWorld)
		r.Post("/world/reset", h.resetWorld)
		r.Get("/world/turns", h.listTurns)
		r.Post("/checkpoint", h.checkpoint)

		r.Get("/providers", h.listProviders)

		// Feed routes
		r.Get("/feed", h.feedHistory)
		r.Get("/feed/status", h.feedStatus)
		r.Post("/broadcast", h.sendBroadcast)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"world":  h.runner.Env().Name(),
		"run_id": h.runner.RunID(),
	})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.runner.Engine().List()
	infos := make([]agent.Info, 0, len(agents))
	for _, a := range agents {
		infos = append(infos, a.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handler) agent(w http.ResponseWriter, r *http.Request) (*agent.Agent, bool) {
	id := chi.URLParam(r, "id")
	a, ok := h.runner.Engine().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, agent.ErrAgentNotFound.Error())
	}
	return a, ok
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.agent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.Info())
}

// listMemories returns an agent's memory stream, oldest first. Embeddings
// are omitted unless ?embeddings=true; ?kind= filters by element kind.
func (h *Handler) listMemories(w http.ResponseWriter, r *http.Request) {
	a, ok := h.agent(w, r)
	if !ok {
		return
	}
	kind := memory.Kind(r.URL.Query().Get("kind"))
	withEmbeddings := r.URL.Query().Get("embeddings") == "true"

	els := make([]memory.Element, 0)
	for _, el := range a.Memories() {
		if kind != "" && el.Kind != kind {
			continue
		}
		if !withEmbeddings {
			el.Embedding = nil
		}
		els = append(els, el)
	}
	writeJSON(w, http.StatusOK, els)
}

type queryRequest struct {
	Texts []string `json:"texts"`
	K     int      `json:"k"`
	// NMSThreshold is optional; 0 is a valid threshold.
	NMSThreshold *float64 `json:"nms_threshold"`
}

func (h *Handler) queryMemories(w http.ResponseWriter, r *http.Request) {
	a, ok := h.agent(w, r)
	if !ok {
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.K <= 0 {
		req.K = 5
	}
	nms := memory.DefaultNMSThreshold
	if req.NMSThreshold != nil {
		nms = *req.NMSThreshold
	}

	got, err := a.Query(r.Context(), req.Texts, req.K, h.runner.Clock().WorldTime(), nms)
	if err != nil {
		writeError(w, memoryErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"memories": got})
}

type explainRequest struct {
	Text string `json:"text"`
}

func (h *Handler) explainMemories(w http.ResponseWriter, r *http.Request) {
	a, ok := h.agent(w, r)
	if !ok {
		return
	}
	var req explainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	scores, err := a.Explain(r.Context(), req.Text, h.runner.Clock().WorldTime())
	if err != nil {
		writeError(w, memoryErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

func (h *Handler) reflect(w http.ResponseWriter, r *http.Request) {
	a, ok := h.agent(w, r)
	if !ok {
		return
	}
	res, err := a.Reflect(r.Context(), h.runner.Clock().WorldTime())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) searchArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	a, ok := h.agent(w, r)
	if !ok {
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k, _ := strconv.Atoi(r.URL.Query().Get("k"))

	hits, err := h.archive.Search(r.Context(), a.Name(), q, k)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (h *Handler) listInteractions(w http.ResponseWriter, r *http.Request) {
	if h.lineage == nil {
		writeError(w, http.StatusServiceUnavailable, "lineage graph not configured")
		return
	}
	a, ok := h.agent(w, r)
	if !ok {
		return
	}
	list, err := h.lineage.Interactions(r.Context(), h.runner.RunID(), a.Name())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) getLineage(w http.ResponseWriter, r *http.Request) {
	if h.lineage == nil {
		writeError(w, http.StatusServiceUnavailable, "lineage graph not configured")
		return
	}
	l, err := h.lineage.Lineage(r.Context(), chi.URLParam(r, "elementID"))
	if errors.Is(err, lineage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *Handler) worldStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runner.Status())
}

func (h *Handler) stepWorld(w http.ResponseWriter, r *http.Request) {
	ev, err := h.runner.StepOnce(r.Context())
	if errors.Is(err, simulation.ErrDone) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handler) resetWorld(w http.ResponseWriter, r *http.Request) {
	err := h.runner.Reset(r.Context())
	if errors.Is(err, simulation.ErrRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.runner.Status())
}

func (h *Handler) listTurns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if h.turns == nil {
		writeJSON(w, http.StatusOK, h.runner.History(limit))
		return
	}
	turns, err := h.turns.ListTurns(r.Context(), h.runner.RunID())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	writeJSON(w, http.StatusOK, turns)
}

func (h *Handler) checkpoint(w http.ResponseWriter, r *http.Request) {
	if h.heartbeat == nil {
		writeError(w, http.StatusServiceUnavailable, "checkpointing not configured")
		return
	}
	saved := h.heartbeat.FireNow(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "checkpoint written",
		"agents_saved": saved,
		"world_time":   h.runner.Clock().WorldTime().Format(time.RFC3339),
	})
}

type providerInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	list := make([]providerInfo, 0)
	if h.router != nil {
		def := h.router.DefaultID()
		for _, p := range h.router.ListProviders() {
			list = append(list, providerInfo{ID: p.ID(), Name: p.Name(), Default: p.ID() == def})
		}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) feedHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.broadcaster.History(limit))
}

func (h *Handler) feedStatus(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		writeJSON(w, http.StatusOK, []feed.Status{})
		return
	}
	writeJSON(w, http.StatusOK, h.feed.Statuses())
}

func (h *Handler) sendBroadcast(w http.ResponseWriter, r *http.Request) {
	var post feed.Post
	if err := json.NewDecoder(r.Body).Decode(&post); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if post.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}
	if post.RunID == "" {
		post.RunID = h.runner.RunID()
	}
	if err := h.broadcaster.Send(r.Context(), &post); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "broadcast sent"})
}

func memoryErrorStatus(err error) int {
	switch {
	case errors.Is(err, memory.ErrEmptyQuery), errors.Is(err, memory.ErrInvalidNMSThreshold):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
