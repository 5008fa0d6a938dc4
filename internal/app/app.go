// Package app wires the application together: configuration, logging,
// database pool, model runner, tool registry, generation engine, and the
// live stream manager.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenchat/lumen/db"
	"github.com/lumenchat/lumen/internal/config"
	"github.com/lumenchat/lumen/internal/engine"
	"github.com/lumenchat/lumen/internal/googleai"
	"github.com/lumenchat/lumen/internal/knowledge"
	"github.com/lumenchat/lumen/internal/live"
	"github.com/lumenchat/lumen/internal/log"
	"github.com/lumenchat/lumen/internal/memory"
	"github.com/lumenchat/lumen/internal/store"
	"github.com/lumenchat/lumen/internal/tools"
)

const systemPrompt = `You are a helpful assistant. Answer directly and concisely.
Use the available tools when they genuinely help: search the web for current
information, read pages the user links, look things up in the knowledge base,
and save lasting facts about the user as memories.`

// App is the application container. Every field is ready to use after
// Setup returns.
type App struct {
	Config *config.Config
	Logger log.Logger

	Pool      *pgxpool.Pool
	Store     *store.Store
	Knowledge *knowledge.Store
	Memory    *memory.Store

	Runner   *googleai.Runner
	Embedder *googleai.Embedder
	Registry *tools.Registry
	Engine   *engine.Engine
	Streams  *live.Manager

	// ToolNames lists the registered executors exposed to the model.
	ToolNames []string
}

// Setup initializes all application components. Migrations run before the
// pool opens so every component sees the current schema.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	runner, err := googleai.NewRunner(ctx, cfg.GeminiAPIKey, cfg.Model, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating model runner: %w", err)
	}
	embedder := googleai.NewEmbedder(runner, cfg.EmbedderModel, config.EmbeddingDimensions)

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Pool:      pool,
		Store:     store.New(pool, logger),
		Knowledge: knowledge.New(pool, embedder, logger),
		Memory:    memory.New(pool, embedder, logger),
		Runner:    runner,
		Embedder:  embedder,
	}

	a.Registry, a.ToolNames, err = buildRegistry(a, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	a.Engine = engine.New(runner, a.Registry, logger, engine.Options{
		MaxTurns:          cfg.MaxTurns,
		Budget:            cfg.GenerationBudget,
		RequestsPerSecond: cfg.ModelRPS,
	})
	a.Streams = live.NewManager(a.Store, logger)

	logger.Info("application initialized",
		"model", cfg.Model,
		"embedder", cfg.EmbedderModel,
		"tools", a.ToolNames,
	)
	return a, nil
}

// buildRegistry registers every tool the configuration enables.
func buildRegistry(a *App, cfg *config.Config, logger log.Logger) (*tools.Registry, []string, error) {
	registry := tools.NewRegistry()

	executors := []tools.Executor{
		tools.NewReadPage(logger),
		tools.NewKnowledgeSearch(a.Knowledge, ""),
		tools.NewMemorySave(a.Memory, cfg.Owner),
	}
	if cfg.SearchEndpoint != "" {
		executors = append(executors, tools.NewWebSearch(tools.NewSearchClient(cfg.SearchEndpoint, logger)))
	}
	if cfg.ScholarEndpoint != "" {
		executors = append(executors, tools.NewScholarSearch(tools.NewSearchClient(cfg.ScholarEndpoint, logger)))
	}

	names := make([]string, 0, len(executors))
	for _, e := range executors {
		if err := registry.Register(e); err != nil {
			return nil, nil, fmt.Errorf("registering tool: %w", err)
		}
		names = append(names, e.Declaration().Name)
	}
	return registry, names, nil
}

// SystemPrompt returns the system prompt for generations.
func (a *App) SystemPrompt() string {
	return systemPrompt
}

// Close releases all resources.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
	a.Logger.Info("application shut down")
}
