// Package app wires the service from configuration
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/memstore"
	"github.com/Ramsey-B/clover/internal/repositories/alias"
	"github.com/Ramsey-B/clover/internal/repositories/candidate"
	"github.com/Ramsey-B/clover/internal/repositories/canonical"
	"github.com/Ramsey-B/clover/internal/repositories/mergedentity"
	"github.com/Ramsey-B/clover/internal/repositories/rule"
	"github.com/Ramsey-B/clover/internal/repositories/source"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/graph"
	"github.com/Ramsey-B/clover/pkg/identity"
	"github.com/Ramsey-B/clover/pkg/inject"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/lock"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/review"
	"github.com/Ramsey-B/clover/pkg/routes/deduplication"
	"github.com/Ramsey-B/clover/pkg/routes/health"
	identityroutes "github.com/Ramsey-B/clover/pkg/routes/identity"
	ruleroutes "github.com/Ramsey-B/clover/pkg/routes/rules"
	"github.com/Ramsey-B/clover/pkg/rules"
	"github.com/Ramsey-B/clover/pkg/scanning"
	"github.com/Ramsey-B/clover/pkg/server"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Version is reported by the health endpoint
var Version = "dev"

// Stores groups the persistence implementations of one backend
type Stores struct {
	Tx         store.Transactor
	Rules      store.RuleStore
	Candidates store.CandidateStore
	Sources    store.SourceStore
	Audits     store.AuditStore
	Canonical  store.CanonicalStore
	Aliases    store.AliasStore
}

func memoryStores(s *memstore.Store) Stores {
	return Stores{
		Tx:         s,
		Rules:      s.Rules(),
		Candidates: s.Candidates(),
		Sources:    s.Sources(),
		Audits:     s.Audits(),
		Canonical:  s.Canonical(),
		Aliases:    s.Aliases(),
	}
}

func postgresStores(db *database.DatabaseInstance, catalog *models.Catalog, logger ectologger.Logger) Stores {
	return Stores{
		Tx:         db,
		Rules:      rule.NewRepository(db, logger),
		Candidates: candidate.NewRepository(db, logger),
		Sources:    source.NewRepository(db, catalog, logger),
		Audits:     mergedentity.NewRepository(db, logger),
		Canonical:  canonical.NewRepository(db, logger),
		Aliases:    alias.NewRepository(db, logger),
	}
}

// App holds the wired services. Fields are set once Start returns.
type App struct {
	Config  *config.Config
	Logger  ectologger.Logger
	Catalog *models.Catalog
	Stores  Stores

	Engine   *matching.Engine
	Merger   *merging.Engine
	Scanner  *scanning.Scanner
	Reviews  *review.Service
	Rules    *rules.Service
	Resolver *identity.Resolver
	Health   *health.Checker

	startup   *startup.Startup
	container ectocontainer.DIContainer
	db        *database.DatabaseInstance
	memory    *memstore.Store
	redis     *redis.Client
	producer  *kafka.Producer
	graph     *graph.Client
	observers []merging.Observer
}

// New loads the source catalog and registers the startup dependencies
func New(cfg *config.Config, logger ectologger.Logger) (*App, error) {
	catalog, err := config.LoadCatalog(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Catalog: catalog,
		Health:  health.NewChecker(Version),
		startup: startup.New(logger, cfg.StartupMaxAttempts),
	}
	a.register()
	return a, nil
}

// NewMemory builds an app on an existing in-memory store, for tests and demos
func NewMemory(cfg *config.Config, logger ectologger.Logger, catalog *models.Catalog, s *memstore.Store) *App {
	cfg.StoreBackend = "memory"
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Catalog: catalog,
		Health:  health.NewChecker(Version),
		startup: startup.New(logger, 1),
		memory:  s,
	}
	a.register()
	return a
}

func (a *App) register() {
	cfg := a.Config

	if cfg.OTLPEnabled {
		var shutdown func(context.Context) error
		a.startup.Add(&startup.Func{
			Name: "tracing",
			OnStart: func(ctx context.Context) (err error) {
				shutdown, err = tracing.Setup(ctx, tracing.OTLPConfig{
					ServiceName: cfg.AppName,
					Endpoint:    cfg.OTLPEndpoint,
					Protocol:    cfg.OTLPProtocol,
					Insecure:    cfg.OTLPInsecure,
					Timeout:     cfg.OTLPTimeout,
				})
				return err
			},
			OnStop: func(ctx context.Context) error {
				if shutdown == nil {
					return nil
				}
				return shutdown(ctx)
			},
		})
	}

	a.startup.Add(&startup.Func{
		Name: "database",
		OnStart: func(ctx context.Context) error {
			if cfg.StoreBackend == "memory" {
				if a.memory == nil {
					a.memory = memstore.New()
				}
				a.Stores = memoryStores(a.memory)
				return nil
			}
			db, err := database.Open(ctx, a.databaseConfig(), a.Logger)
			if err != nil {
				return err
			}
			a.db = db
			a.Stores = postgresStores(db, a.Catalog, a.Logger)
			a.Health.AddCheck("database", db.PingContext)
			return nil
		},
		OnStop: func(context.Context) error {
			if a.db == nil {
				return nil
			}
			return a.db.Close()
		},
	})

	if cfg.LockBackend == "redis" {
		a.startup.Add(&startup.Func{
			Name: "redis",
			OnStart: func(ctx context.Context) error {
				client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
				if err := client.Ping(ctx).Err(); err != nil {
					_ = client.Close()
					return fmt.Errorf("failed to ping redis: %w", err)
				}
				a.redis = client
				a.Health.AddCheck("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })
				return nil
			},
			OnStop: func(context.Context) error {
				if a.redis == nil {
					return nil
				}
				return a.redis.Close()
			},
		})
	}

	if cfg.KafkaEnabled {
		a.startup.Add(&startup.Func{
			Name: "kafka",
			OnStart: func(context.Context) error {
				producer, err := kafka.NewProducer(kafka.ProducerConfig{
					Brokers:      cfg.KafkaBrokers,
					Topic:        cfg.KafkaOutputTopic,
					BatchSize:    cfg.KafkaBatchSize,
					BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
					RequiredAcks: cfg.KafkaRequiredAcks,
					Compression:  cfg.KafkaCompression,
				}, a.Logger)
				if err != nil {
					return err
				}
				a.producer = producer
				a.observers = append(a.observers, events.NewEmitter(producer, a.Logger))
				return nil
			},
			OnStop: func(context.Context) error {
				if a.producer == nil {
					return nil
				}
				return a.producer.Close()
			},
		})
	}

	if cfg.GraphEnabled {
		a.startup.Add(&startup.Func{
			Name: "graph",
			OnStart: func(ctx context.Context) error {
				client, err := graph.NewClient(graph.Config{
					URI:      cfg.GraphDBURI,
					Username: cfg.GraphDBUser,
					Password: cfg.GraphDBPassword,
					Database: cfg.GraphDBName,
				}, a.Logger)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return fmt.Errorf("failed to reach graph database: %w", err)
				}
				a.graph = client
				a.observers = append(a.observers, graph.NewProjector(client, a.Logger))
				a.Health.AddCheck("graph", client.VerifyConnectivity)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				if a.graph == nil {
					return nil
				}
				return a.graph.Close(ctx)
			},
		})
	}

	requires := []string{"database"}
	for _, optional := range []struct {
		enabled bool
		name    string
	}{{cfg.LockBackend == "redis", "redis"}, {cfg.KafkaEnabled, "kafka"}, {cfg.GraphEnabled, "graph"}, {cfg.OTLPEnabled, "tracing"}} {
		if optional.enabled {
			requires = append(requires, optional.name)
		}
	}
	a.startup.Add(&startup.Func{
		Name:     "services",
		Requires: requires,
		OnStart:  a.wire,
	})
}

func (a *App) databaseConfig() database.Config {
	cfg := a.Config
	return database.Config{
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}
}

func (a *App) locker() lock.Locker {
	cfg := a.Config
	opts := lock.Options{Mode: lock.Mode(cfg.MergeLockMode), Timeout: cfg.MergeLockWait, TTL: cfg.MergeLockTTL}
	if a.redis != nil {
		return lock.NewRedisLocker(a.redis, cfg.RedisLockPrefix, opts, a.Logger)
	}
	return lock.NewMemoryLocker(opts)
}

// wire builds the services once storage and transports are up
func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	engine, err := matching.NewEngine(a.Logger)
	if err != nil {
		return err
	}
	a.Engine = engine

	s := a.Stores
	a.Merger = merging.NewEngine(merging.Stores{
		Tx:         s.Tx,
		Candidates: s.Candidates,
		Sources:    s.Sources,
		Audits:     s.Audits,
		Canonical:  s.Canonical,
		Aliases:    s.Aliases,
	}, a.Catalog, a.locker(), a.Logger, a.observers...)

	a.Scanner = scanning.NewScanner(s.Rules, s.Candidates, s.Sources, a.Catalog, engine, a.Merger, scanning.Config{
		PageSize:       cfg.ScanPageSize,
		Workers:        cfg.ScanWorkers,
		MaxBlockSize:   cfg.ScanMaxBlockSize,
		MaxResults:     cfg.ScanMaxResults,
		Timeout:        cfg.ScanTimeout,
		MaterialChange: cfg.ScanMaterialChange,
		AutoMerge:      cfg.AutoMergeEnabled,
	}, a.Logger)

	a.Reviews = review.NewService(s.Candidates, s.Sources, a.Catalog, a.Merger, a.Logger)
	a.Rules = rules.NewService(s.Rules, engine, a.Catalog, a.Logger)
	a.Resolver = identity.NewResolver(s.Aliases, s.Canonical, s.Sources, cfg.AliasMaxDepth, a.Logger)

	if err := a.registerServices(); err != nil {
		return err
	}

	if cfg.RulesFile != "" {
		seed, err := rules.LoadFile(cfg.RulesFile)
		if err != nil {
			return err
		}
		if _, err := a.Rules.Import(ctx, seed); err != nil {
			return err
		}
	}
	a.Health.SetReady(true)
	return nil
}

// registerServices puts the wired services in the container the route
// handlers resolve from
func (a *App) registerServices() error {
	container, err := inject.NewContainer(a.Config.AppName, a.Logger)
	if err != nil {
		return err
	}
	for _, register := range []func() error{
		func() error { return ectoinject.RegisterInstance[ectologger.Logger](container, a.Logger) },
		func() error { return ectoinject.RegisterInstance[*review.Service](container, a.Reviews) },
		func() error { return ectoinject.RegisterInstance[deduplication.Scanner](container, a.Scanner) },
		func() error { return ectoinject.RegisterInstance[*rules.Service](container, a.Rules) },
		func() error { return ectoinject.RegisterInstance[*identity.Resolver](container, a.Resolver) },
		func() error { return ectoinject.RegisterInstance[store.AuditStore](container, a.Stores.Audits) },
	} {
		if err := register(); err != nil {
			return fmt.Errorf("failed to register services: %w", err)
		}
	}
	a.container = container
	return nil
}

// Start brings up every dependency and wires the services
func (a *App) Start(ctx context.Context) error {
	return a.startup.Start(ctx)
}

// Stop releases connections in reverse start order
func (a *App) Stop(ctx context.Context) error {
	a.Health.SetReady(false)
	return a.startup.Stop(ctx)
}

// Server builds the HTTP server over the wired services. Call it after Start.
func (a *App) Server() *server.Server {
	cfg := server.Config{
		ServiceName:     a.Config.AppName,
		Addr:            a.Config.Addr(),
		ShutdownTimeout: a.Config.ShutdownTimeout,
	}
	if a.container != nil {
		cfg.ContainerID = a.container.GetContainerID()
	}
	return server.New(cfg, a.Logger,
		a.Health.Register,
		deduplication.Register,
		ruleroutes.Register,
		identityroutes.Register,
	)
}

// Migrate opens the database and applies the schema migrations
func Migrate(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	a := &App{Config: cfg, Logger: logger}
	db, err := database.Open(ctx, a.databaseConfig(), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	return database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	}).Migrate(db.DB.DB)
}
