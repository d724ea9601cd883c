// Package app builds the stores, clients and services shared by the API
// server and the task workers from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/podforge/api/internal/client"
	"github.com/podforge/api/internal/config"
	"github.com/podforge/api/internal/generator"
	"github.com/podforge/api/internal/model"
	"github.com/podforge/api/internal/provider"
	"github.com/podforge/api/internal/service"
	"github.com/podforge/api/internal/store"
	"github.com/podforge/api/internal/voice"
)

// App holds the long-lived dependencies of one process.
type App struct {
	Config      *config.Config
	Redis       *redis.Client
	Storage     client.StorageClient
	Audio       *client.AudioClient
	Groq        *client.GroqClient
	Generator   generator.Generator
	Registry    *provider.Registry
	Resolver    *voice.Resolver
	Researches  store.Store[*model.ResearchJob]
	Productions store.Store[*model.ProductionJob]

	r2          *client.R2Storage
	sqlite      *store.SQLiteDB
	asynqClient *asynq.Client
}

func New(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	if err := a.openStorage(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openStores(); err != nil {
		a.Close()
		return nil, err
	}

	a.Audio = client.NewAudioClient(&cfg.Audio)
	a.Groq = client.NewGroqClient(&cfg.Groq)
	a.Generator = generator.New(a.Groq, provider.PolicyFromConfig(&cfg.Providers), cfg.Server.IsDevelopment())
	if !a.Groq.IsConfigured() {
		log.Println("Info: Groq not configured, script generation uses the mock generator in development")
	}

	a.Registry = provider.NewRegistryFromConfig(cfg)
	a.Resolver = voice.NewResolver(a.Registry)

	a.asynqClient = asynq.NewClient(a.redisOpt())
	return a, nil
}

func (a *App) openStorage() error {
	cfg := a.Config
	switch strings.ToLower(cfg.Storage.Backend) {
	case "r2":
		r2, err := client.NewR2Storage(&cfg.R2)
		if err != nil {
			return fmt.Errorf("failed to initialize R2 storage: %w", err)
		}
		a.r2 = r2
		a.Storage = r2
		log.Printf("Info: artifact storage: R2 bucket %s", cfg.R2.BucketName)
	case "", "local":
		baseURL := ""
		if cfg.Server.ApiDomain != "" {
			baseURL = "https://" + cfg.Server.ApiDomain + "/files"
		}
		local, err := client.NewLocalStorage(cfg.Storage.LocalDir, baseURL)
		if err != nil {
			return err
		}
		a.Storage = local
		log.Printf("Info: artifact storage: local directory %s", cfg.Storage.LocalDir)
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	return nil
}

func (a *App) openStores() error {
	cfg := a.Config
	switch strings.ToLower(cfg.Store.Backend) {
	case "memory":
		if !cfg.Worker.Embedded {
			log.Println("Warning: memory job store is not shared with standalone workers")
		}
		a.Researches = store.NewMemoryStore[*model.ResearchJob](model.JobKindResearch)
		a.Productions = store.NewMemoryStore[*model.ProductionJob](model.JobKindProduction)
	case "", "redis":
		ttl := time.Duration(cfg.Store.TTLHours) * time.Hour
		a.Researches = store.NewRedisStore[*model.ResearchJob](a.Redis, model.JobKindResearch, ttl)
		a.Productions = store.NewRedisStore[*model.ProductionJob](a.Redis, model.JobKindProduction, ttl)
	case "sqlite":
		db, err := store.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open job database: %w", err)
		}
		a.sqlite = db
		a.Researches = store.NewSQLiteStore[*model.ResearchJob](db, model.JobKindResearch)
		a.Productions = store.NewSQLiteStore[*model.ProductionJob](db, model.JobKindProduction)
	default:
		return fmt.Errorf("unknown job store backend %q", cfg.Store.Backend)
	}
	log.Printf("Info: job store: %s", cfg.Store.Backend)
	return nil
}

func (a *App) redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	}
}

// Enqueuer schedules pipeline stages on the task queue.
func (a *App) Enqueuer() service.Enqueuer {
	return service.NewAsynqEnqueuer(a.asynqClient)
}

func (a *App) ResearchService() *service.ResearchService {
	return service.NewResearchService(a.Researches, a.Enqueuer(), a.Storage, a.Config.Pipeline).
		WithLimits(service.LimitsFromConfig(a.Config))
}

func (a *App) ProductionService() *service.ProductionService {
	return service.NewProductionService(a.Productions, a.Researches, a.Registry, a.Resolver, a.Enqueuer(), a.Storage, a.Config.Pipeline).
		WithLimits(service.LimitsFromConfig(a.Config))
}

// Close releases every connection opened by New.
func (a *App) Close() error {
	var errs []error
	if a.asynqClient != nil {
		errs = append(errs, a.asynqClient.Close())
	}
	if a.sqlite != nil {
		errs = append(errs, a.sqlite.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}
