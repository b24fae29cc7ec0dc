package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/fabfab/aiact-explorer/chat"
	"github.com/fabfab/aiact-explorer/config"
	"github.com/fabfab/aiact-explorer/corpus"
	"github.com/fabfab/aiact-explorer/database"
	"github.com/fabfab/aiact-explorer/embeddings"
	"github.com/fabfab/aiact-explorer/ingestion"
	"github.com/fabfab/aiact-explorer/knowledge"
	"github.com/fabfab/aiact-explorer/llm"
	"github.com/fabfab/aiact-explorer/logging"
)

const embeddingCacheTTL = 30 * 24 * time.Hour

type documentStore interface {
	corpus.Store
	corpus.Indexer
}

// app owns the long-lived clients shared by every command.
type app struct {
	cfg      config.Config
	logger   *zap.SugaredLogger
	store    documentStore
	embedder embeddings.Embedder
	llm      llm.Client
	tokens   chat.TokenCounter

	pgPool *pgxpool.Pool
	sqlite *corpus.SQLiteStore
	neo4j  neo4j.DriverWithContext
	redis  *redis.Client
}

// newApp loads the configuration and connects the backing services. Neo4j
// and Redis are optional: when unset or unreachable the app runs without
// related articles or the embedding cache.
func newApp(ctx context.Context, withLLM bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.connect(ctx, withLLM); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) connect(ctx context.Context, withLLM bool) error {
	cfg := a.cfg

	switch cfg.Store.Provider {
	case config.StoreSQLite:
		store, err := corpus.NewSQLiteStore(cfg.Store.SQLitePath, cfg.Embeddings.Dimension)
		if err != nil {
			return fmt.Errorf("sqlite store: %w", err)
		}
		a.sqlite = store
		a.store = store
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		a.pgPool = pool
		if err := database.EnsureSchema(ctx, pool, cfg.Embeddings.Dimension); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
		a.store = corpus.NewPostgresStore(pool, cfg.Embeddings.Dimension)
	}
	a.logger.Debugw("document store ready", "provider", cfg.Store.Provider)

	if cfg.Neo4jURI != "" {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			a.logger.Warnw("neo4j unavailable, related articles disabled", "error", err)
		} else {
			a.neo4j = driver
		}
	}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("embedder setup: %w", err)
	}
	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.logger.Warnw("redis unavailable, embedding cache disabled", "error", err)
		} else {
			a.redis = client
			embedder = embeddings.NewCachedEmbedder(embedder, embeddings.NewRedisCache(client, embeddingCacheTTL), cfg.Embeddings.Model, a.logger)
		}
	}
	a.embedder = embedder

	if !withLLM {
		return nil
	}

	client, err := llm.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("llm setup: %w", err)
	}
	a.llm = client

	tokens, err := chat.NewTiktokenCounter(cfg.LLM.Model)
	if err != nil {
		a.logger.Warnw("prompt token counting disabled", "error", err)
	} else {
		a.tokens = tokens
	}
	return nil
}

func (a *app) chat() *chat.Service {
	var graph chat.GraphStore
	if a.neo4j != nil {
		graph = chat.NewNeo4jGraphStore(a.neo4j)
	}
	threshold := a.cfg.Retrieval.Threshold
	return chat.NewService(a.store, graph, a.embedder, a.llm, a.logger, chat.Config{
		Threshold:  &threshold,
		MaxResults: a.cfg.Retrieval.MaxResults,
		Tokens:     a.tokens,
	})
}

func (a *app) ingestion(sourceType corpus.SourceType) *ingestion.Service {
	var graph ingestion.Graph
	if a.neo4j != nil {
		graph = knowledge.NewGraph(a.neo4j)
	}
	return ingestion.NewService(a.store, graph, a.embedder, a.logger, ingestion.Options{
		SourceType: sourceType,
		Dimension:  a.cfg.Embeddings.Dimension,
	})
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.neo4j != nil {
		if err := a.neo4j.Close(ctx); err != nil {
			a.logger.Warnw("close neo4j driver", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warnw("close redis client", "error", err)
		}
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.logger.Warnw("close sqlite store", "error", err)
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	_ = a.logger.Sync()
}
