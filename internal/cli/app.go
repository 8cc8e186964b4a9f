package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-arena/internal/agent"
	"github.com/nidhogg/nuka-arena/internal/config"
	"github.com/nidhogg/nuka-arena/internal/embedding"
	"github.com/nidhogg/nuka-arena/internal/events"
	"github.com/nidhogg/nuka-arena/internal/feed"
	"github.com/nidhogg/nuka-arena/internal/lineage"
	"github.com/nidhogg/nuka-arena/internal/memory"
	"github.com/nidhogg/nuka-arena/internal/provider"
	"github.com/nidhogg/nuka-arena/internal/simulation"
	pgstore "github.com/nidhogg/nuka-arena/internal/store"
	"github.com/nidhogg/nuka-arena/internal/vectorstore"
	"github.com/nidhogg/nuka-arena/internal/world"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app is a fully wired simulation. Optional backends are nil when not
// configured or unreachable.
type app struct {
	cfg      *config.Config
	scenario *config.Scenario

	router      *provider.Router
	embedder    embedding.Provider
	runner      *simulation.Runner
	broadcaster *feed.Broadcaster
	feed        *feed.Feed
	heartbeat   *world.Heartbeat

	rdb     *redis.Client
	bus     *events.Bus
	pg      *pgstore.Store
	graph   *lineage.Graph
	qdrant  *vectorstore.Client
	archive *vectorstore.Archive

	logger *zap.Logger
}

// buildOptions selects how a run starts.
type buildOptions struct {
	// Resume restores every agent's memory from the latest run of the same
	// scenario.
	Resume bool
}

func buildApp(ctx context.Context, cfg *config.Config, sc *config.Scenario, opts buildOptions, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, scenario: sc, logger: logger}
	runID := uuid.New().String()

	// Initialize provider router
	a.router = provider.NewRouter(logger)
	for _, pc := range cfg.LLM.Providers {
		p, err := provider.New(provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey, Models: pc.Models,
			ProxyURL: cfg.LLM.ProxyURL, Timeout: cfg.LLM.Timeout(),
		}, logger)
		if err != nil {
			logger.Warn("skipping provider", zap.String("id", pc.ID), zap.Error(err))
			continue
		}
		a.router.Register(p)
	}
	if _, ok := a.router.GetProvider(cfg.LLM.Default); !ok {
		return nil, fmt.Errorf("default provider %q is not available", cfg.LLM.Default)
	}
	a.router.SetDefault(cfg.LLM.Default)
	a.router.SetFallbacks("", cfg.LLM.Fallbacks)

	a.connectRedis(ctx)

	emb, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
		ProxyURL:  cfg.Embedding.ProxyURL,
		Timeout:   cfg.Embedding.TimeoutSec,
		CacheTTL:  cfg.Embedding.CacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	if a.rdb != nil && cfg.Embedding.Provider != "hash" {
		ttl := time.Duration(cfg.Embedding.CacheTTL) * time.Second
		emb = embedding.NewCachedProvider(emb, a.rdb, cfg.Embedding.Model, ttl, logger)
	}
	a.embedder = emb

	a.connectPostgres(ctx)
	a.connectNeo4j(ctx)
	a.connectQdrant(ctx, runID)

	env, err := world.New(sc.Environment, sc.MaxTurns)
	if err != nil {
		return nil, err
	}
	clock := world.NewClock(sc.StartTime, sc.Step, logger)

	engine := agent.NewEngine(logger)
	for _, name := range env.Agents() {
		engine.Register(a.newAgent(name))
	}

	a.runner = simulation.NewRunner(env, engine, clock, simulation.Config{
		RunID:       runID,
		MaxParallel: cfg.Simulation.MaxParallel,
		TurnTimeout: time.Duration(cfg.Simulation.TurnTimeoutSec) * time.Second,
	}, logger)
	if err := a.runner.Init(ctx); err != nil {
		return nil, err
	}

	if a.pg != nil {
		a.runner.SetTurnLog(a.pg)
		a.runner.SetSnapshotter(a.pg)
		if opts.Resume {
			a.restore(ctx, engine)
		}
		err := a.pg.CreateRun(ctx, &pgstore.Run{
			ID:          runID,
			Name:        sc.Name,
			Environment: sc.Environment,
			MaxTurns:    sc.MaxTurns,
		})
		if err != nil {
			logger.Warn("failed to record run", zap.Error(err))
		}

		a.heartbeat = world.NewHeartbeat(
			time.Duration(cfg.Simulation.CheckpointMinutes)*time.Minute,
			a.runner.SaveSnapshot,
			env.Agents,
			logger,
		)
		clock.AddListener(a.heartbeat)
	}
	if a.graph != nil {
		a.runner.SetInteractions(a.graph)
	}
	if a.rdb != nil {
		a.bus = events.NewBusWithClient(a.rdb, logger)
		a.runner.AddPublisher(a.bus)
	}

	a.feed = feed.New(logger)
	if cfg.Feed.Slack.Enabled && cfg.Feed.Slack.BotToken != "" {
		a.feed.Register(feed.NewSlackPublisher(cfg.Feed.Slack.BotToken, cfg.Feed.Slack.Channel, logger))
	}
	if cfg.Feed.Discord.Enabled && cfg.Feed.Discord.BotToken != "" {
		a.feed.Register(feed.NewDiscordPublisher(cfg.Feed.Discord.BotToken, cfg.Feed.Discord.ChannelID, logger))
	}
	if err := a.feed.ConnectAll(ctx); err != nil {
		logger.Warn("some feed publishers failed to connect", zap.Error(err))
	}
	a.broadcaster = feed.NewBroadcaster(a.feed, logger)
	a.runner.AddPublisher(a.broadcaster)

	logger.Info("arena ready",
		zap.String("run", runID),
		zap.String("scenario", sc.Name),
		zap.String("env", sc.Environment),
		zap.Int("agents", len(env.Agents())),
		zap.Bool("postgres", a.pg != nil),
		zap.Bool("neo4j", a.graph != nil),
		zap.Bool("qdrant", a.archive != nil),
		zap.Bool("redis", a.rdb != nil),
		zap.Strings("feeds", a.feed.Platforms()),
	)
	return a, nil
}

// newAgent wires one agent: its model binding, memory and memory hooks.
func (a *app) newAgent(name string) *agent.Agent {
	cfg, sc := a.cfg, a.scenario
	as, _ := sc.Agent(name)

	persona := agent.LoadProfile(sc.ProfileDir, agent.Persona{
		Name:            name,
		RoleDescription: as.RoleDescription,
		PromptTemplate:  as.PromptTemplate,
		DayPlan:         as.DayPlan,
	})
	if persona.PromptTemplate == "" {
		persona.PromptTemplate = agent.DefaultTemplate(sc.Environment)
	}

	providerID := as.Provider
	if _, ok := a.router.GetProvider(providerID); !ok {
		providerID = cfg.LLM.Default
	}
	a.router.Bind(name, providerID)
	model := as.Model
	if model == "" {
		model = cfg.LLM.Model
	}

	llm := provider.NewCompleter(a.router, name, model,
		provider.WithTemperature(cfg.LLM.Temperature),
		provider.WithMaxTokens(cfg.LLM.MaxTokens))

	mem := memory.NewStore(memory.Deps{
		Embedder:   a.embedder,
		Importance: memory.NewImportanceJudge(llm, a.logger),
		Immediacy:  memory.NewImmediacyJudge(llm, a.logger),
		LLM:        llm,
	}, memory.Options{
		Subject:             name,
		ImportanceThreshold: cfg.Memory.ImportanceThreshold,
		NMSThreshold:        cfg.Memory.NMSThreshold,
		Score: memory.ScoreConfig{
			RecencyBase:  cfg.Memory.RecencyBase,
			InstancyBase: cfg.Memory.InstancyBase,
		},
		ResetAccumulator: cfg.Memory.ResetAccumulator,
	}, a.logger)
	if a.graph != nil {
		mem.AddHook(a.graph)
	}
	if a.archive != nil {
		mem.AddHook(a.archive)
	}

	ag := agent.New(persona, mem, llm, agent.Options{
		ReflectionInterval: cfg.Memory.ReflectionInterval,
		MaxRetry:           cfg.Simulation.MaxRetry,
		ContextSize:        cfg.Memory.ContextSize,
		NMSThreshold:       cfg.Memory.NMSThreshold,
		EnvDescription:     sc.EnvDesc,
	}, a.logger)
	ag.Bind(providerID, model)
	return ag
}

func (a *app) connectRedis(ctx context.Context) {
	if a.cfg.Database.Redis.URL == "" {
		return
	}
	opts, err := redis.ParseURL(a.cfg.Database.Redis.URL)
	if err != nil {
		a.logger.Warn("invalid redis url, running without cache and event stream", zap.Error(err))
		return
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		a.logger.Warn("Redis unavailable, running without cache and event stream", zap.Error(err))
		rdb.Close()
		return
	}
	a.rdb = rdb
}

func (a *app) connectPostgres(ctx context.Context) {
	if a.cfg.Database.Postgres.DSN == "" {
		return
	}
	ps, err := pgstore.New(a.cfg.Database.Postgres.DSN, a.logger)
	if err != nil {
		a.logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(err))
		return
	}
	if err := ps.Migrate(ctx, a.cfg.Simulation.MigrationsDir); err != nil {
		a.logger.Warn("migration failed, running without persistence", zap.Error(err))
		ps.Close()
		return
	}
	a.pg = ps
}

func (a *app) connectNeo4j(ctx context.Context) {
	n := a.cfg.Database.Neo4j
	if n.URI == "" {
		return
	}
	g, err := lineage.Connect(ctx, n.URI, n.User, n.Password, a.logger)
	if err != nil {
		a.logger.Warn("Neo4j unavailable, running without lineage", zap.Error(err))
		return
	}
	if err := g.EnsureSchema(ctx); err != nil {
		a.logger.Warn("failed to create lineage schema", zap.Error(err))
	}
	a.graph = g
}

func (a *app) connectQdrant(ctx context.Context, runID string) {
	q := a.cfg.Database.Qdrant
	if q.Host == "" {
		return
	}
	client, err := vectorstore.NewClient(vectorstore.QdrantConfig{Host: q.Host, Port: q.Port})
	if err != nil {
		a.logger.Warn("Qdrant unavailable, running without archive", zap.Error(err))
		return
	}
	dim := a.embedder.Dimension()
	if dim <= 0 {
		dim = a.cfg.Embedding.Dimension
	}
	archive := vectorstore.NewArchive(client, q.Collection, runID, a.embedder, a.logger)
	if err := archive.Init(ctx, dim); err != nil {
		a.logger.Warn("failed to prepare archive collection, running without archive", zap.Error(err))
		client.Close()
		return
	}
	a.qdrant, a.archive = client, archive
}

// restore loads each agent's memories from the latest earlier run of the
// scenario.
func (a *app) restore(ctx context.Context, engine *agent.Engine) {
	prev, err := a.pg.LatestRun(ctx, a.scenario.Name)
	if err != nil {
		a.logger.Warn("no earlier run to resume", zap.String("scenario", a.scenario.Name), zap.Error(err))
		return
	}
	for _, ag := range engine.List() {
		els, err := a.pg.LoadMemories(ctx, prev.ID, ag.Name())
		if err != nil {
			a.logger.Warn("failed to load memories", zap.String("agent", ag.Name()), zap.Error(err))
			continue
		}
		if len(els) == 0 {
			continue
		}
		ag.Restore(els)
		a.logger.Info("restored memories",
			zap.String("agent", ag.Name()),
			zap.String("from_run", prev.ID),
			zap.Int("count", len(els)))
	}
}

// announce posts a run-level update to the feed.
func (a *app) announce(ctx context.Context, kind feed.Kind, title, content string) {
	err := a.broadcaster.Send(ctx, &feed.Post{
		Kind:    kind,
		RunID:   a.runner.RunID(),
		Turn:    a.runner.Env().Turn(),
		Title:   title,
		Content: content,
	})
	if err != nil {
		a.logger.Warn("failed to announce", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// finish records the final status of the run.
func (a *app) finish(ctx context.Context, status string) {
	if a.pg != nil {
		if err := a.pg.FinishRun(ctx, a.runner.RunID(), status); err != nil {
			a.logger.Warn("failed to finish run", zap.Error(err))
		}
	}
	st := a.runner.Status()
	a.announce(ctx, feed.KindRunFinished,
		fmt.Sprintf("%s %s after %d turns", a.scenario.Name, status, st.Turn),
		st.World.Board)
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.feed != nil {
		a.feed.Close()
	}
	if a.graph != nil {
		a.graph.Close(ctx)
	}
	if a.qdrant != nil {
		a.qdrant.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}
