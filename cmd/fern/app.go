package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/archive"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/expressions"
	"github.com/Ramsey-B/fern/pkg/fetcher"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/indexer"
	"github.com/Ramsey-B/fern/pkg/jobs"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/locking"
	"github.com/Ramsey-B/fern/pkg/mapper"
	"github.com/Ramsey-B/fern/pkg/notifications"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/startup"
)

// app holds everything a command needs. Storage is always built; the import
// pipeline only when a command runs imports.
type app struct {
	cfg     *config.Config
	logger  ectologger.Logger
	startup *startup.Startup
	checker *health.Checker

	db      database.DB
	configs repositories.ConfigurationStore
	history repositories.HistoryStore

	locker   locking.RunLocker
	redis    *locking.RedisLocker
	events   kafka.Publisher
	archiver *archive.S3Archiver

	scheduler *scheduler.Scheduler
	executor  *importer.Executor
	driver    *jobs.Driver
}

const webhookTimeout = 10 * time.Second

type appOptions struct {
	// pipeline brings up locks, events, archive and the import driver
	pipeline bool
	// migrate applies database migrations during startup
	migrate bool
}

func newApp(ctx context.Context, cfg *config.Config, logger ectologger.Logger, opts appOptions) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
		checker: health.NewChecker(cfg.Version),
		events:  kafka.NoopPublisher{},
	}

	if cfg.UseDatabase() {
		a.addDatabase(opts.migrate)
	}
	if opts.pipeline {
		a.addPipelineDependencies()
	}

	if err := a.startup.Start(ctx); err != nil {
		_ = a.startup.Stop(context.WithoutCancel(ctx))
		return nil, err
	}

	if a.db != nil {
		a.configs = repositories.NewConfigurationRepository(a.db, logger)
		a.history = repositories.NewHistoryRepository(a.db, logger)
	} else {
		logger.Warn("DB_HOST is empty, import configurations are kept in memory")
		a.configs = repositories.NewMemoryConfigurationStore()
		a.history = repositories.NewMemoryHistoryStore()
	}
	a.scheduler = scheduler.NewScheduler(a.configs, a.history, logger)

	if opts.pipeline {
		a.buildPipeline()
	}
	return a, nil
}

func (a *app) addDatabase(migrate bool) {
	cfg := a.cfg
	a.startup.AddDependency(&startup.Dependency{
		Name: "database",
		StartFn: func(ctx context.Context) error {
			db, err := database.Connect(ctx, database.Config{
				Host:            cfg.DatabaseHost,
				Port:            cfg.DatabasePort,
				User:            cfg.DatabaseUserName,
				Password:        cfg.DatabasePassword,
				Name:            cfg.DatabaseName,
				SSLMode:         cfg.DatabaseSSLMode,
				MaxOpenConns:    cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			}, a.logger)
			if err != nil {
				return err
			}
			a.db = db
			return nil
		},
		StopFn: func(context.Context) error {
			return a.db.Close()
		},
	})
	a.checker.AddCheck("database", func(ctx context.Context) error {
		return a.db.PingContext(ctx)
	})

	if migrate {
		a.startup.AddDependency(&startup.Dependency{
			Name:    "migrations",
			Needs:   []string{"database"},
			StartFn: func(context.Context) error { return a.migrate() },
		})
	}
}

func (a *app) migrate() error {
	instance, ok := a.db.(*database.DatabaseInstance)
	if !ok {
		return fmt.Errorf("migrations need a *database.DatabaseInstance, got %T", a.db)
	}
	svc := database.NewMigrationService(a.logger, database.MigrationConfig{
		FolderPath:   a.cfg.DatabaseMigrationFolderPath,
		Version:      uint(max(a.cfg.DatabaseMigrationVersion, 0)),
		Force:        a.cfg.DatabaseMigrationForce,
		AutoRollback: a.cfg.DatabaseMigrationAutoRollback,
	})
	return svc.MigratePostgres(instance.DB.DB, a.cfg.DatabaseName)
}

func (a *app) addPipelineDependencies() {
	cfg := a.cfg

	switch cfg.LockBackend {
	case "redis":
		a.startup.AddDependency(&startup.Dependency{
			Name: "redis",
			StartFn: func(ctx context.Context) error {
				locker, err := locking.NewRedisLocker(ctx, locking.RedisConfig{
					Host:      cfg.RedisHost,
					Port:      cfg.RedisPort,
					Password:  cfg.RedisPassword,
					DB:        cfg.RedisDB,
					KeyPrefix: cfg.RedisKeyPrefix,
				}, a.logger)
				if err != nil {
					return err
				}
				a.redis = locker
				a.locker = locker
				return nil
			},
			StopFn: func(context.Context) error { return a.redis.Close() },
		})
		// a lost redis stops imports, not the admin API
		a.checker.AddOptionalCheck("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx)
		})
	case "file":
		a.startup.AddDependency(&startup.Dependency{
			Name: "file-locks",
			StartFn: func(context.Context) error {
				locker, err := locking.NewFileLocker(cfg.LockDir)
				if err != nil {
					return err
				}
				a.locker = locker
				return nil
			},
		})
	default:
		a.locker = locking.NewMemoryLocker()
	}

	if cfg.KafkaBrokers != "" {
		var producer *kafka.Producer
		a.startup.AddDependency(&startup.Dependency{
			Name: "kafka",
			StartFn: func(context.Context) error {
				producer = kafka.NewProducer(kafka.ParseConfig(cfg.KafkaBrokers, cfg.KafkaImportTopic), a.logger)
				a.events = producer
				return nil
			},
			StopFn: func(context.Context) error { return producer.Close() },
		})
	}

	if cfg.ArchiveBucket != "" {
		a.startup.AddDependency(&startup.Dependency{
			Name: "archive",
			StartFn: func(ctx context.Context) error {
				archiver, err := archive.NewS3Archiver(ctx, archive.Config{
					Endpoint:  cfg.ArchiveEndpoint,
					Region:    cfg.ArchiveRegion,
					Bucket:    cfg.ArchiveBucket,
					Prefix:    cfg.ArchivePrefix,
					AccessKey: cfg.ArchiveAccessKey,
					SecretKey: cfg.ArchiveSecretKey,
					PathStyle: cfg.ArchivePathStyle,
				}, a.logger)
				if err != nil {
					return err
				}
				a.archiver = archiver
				return nil
			},
		})
	}
}

func (a *app) buildPipeline() {
	cfg := a.cfg

	client := fetcher.NewClient(fetcher.DefaultClientConfig(), a.logger)
	index := indexer.NewHTTPClient(indexer.Config{
		BaseURL: cfg.IndexBaseURL,
		APIKey:  cfg.IndexAPIKey,
		Timeout: cfg.IndexTimeout,
	}, client, a.logger)
	var schemas indexer.SchemaProvider
	if cfg.IndexSchemaLookup {
		schemas = index
	}

	f := fetcher.NewFetcher(
		client,
		expressions.NewEvaluator(cfg.ExpressionCacheSize),
		a.logger,
	)
	a.executor = importer.NewExecutor(f, mapper.NewFieldMapper(a.logger), index, schemas, importer.Timeouts{
		Test:  cfg.ImportTestTimeout,
		Fetch: cfg.ImportFetchTimeout,
		Sync:  cfg.ImportSyncTimeout,
	}, a.logger)
	if a.archiver != nil {
		a.executor.SetArchiver(a.archiver)
	}

	a.driver = jobs.NewDriver(a.configs, a.scheduler, a.executor,
		notifications.NewDispatcher(a.notifier(), a.logger),
		a.locker, a.events, jobs.Config{LockTTL: cfg.LockTTL}, a.logger)
}

// notifier always logs alerts and adds the webhook and email channels that are configured
func (a *app) notifier() notifications.Notifier {
	cfg := a.cfg
	multi := notifications.Multi{notifications.NewLogNotifier(a.logger)}

	if cfg.NotifyWebhookURL != "" {
		multi = append(multi, notifications.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret, webhookTimeout))
	}
	if cfg.SMTPHost != "" && len(cfg.SMTPTo) > 0 {
		multi = append(multi, notifications.NewEmailNotifier(notifications.MailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			To:       cfg.SMTPTo,
		}))
	}

	a.logger.WithField("channels", len(multi)).Info("Configured alert channels")
	return multi
}

func (a *app) close(ctx context.Context) error {
	return a.startup.Stop(ctx)
}
