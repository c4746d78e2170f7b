package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"basegraph.app/postprocess/common/id"
	"basegraph.app/postprocess/common/logger"
	"basegraph.app/postprocess/common/otel"
	"basegraph.app/postprocess/core/config"
	"basegraph.app/postprocess/core/db"
	"basegraph.app/postprocess/internal/cache"
	"basegraph.app/postprocess/internal/features"
	"basegraph.app/postprocess/internal/http/handler"
	"basegraph.app/postprocess/internal/http/middleware"
	"basegraph.app/postprocess/internal/http/router"
	"basegraph.app/postprocess/internal/metrics"
	"basegraph.app/postprocess/internal/options"
	"basegraph.app/postprocess/internal/plugin"
	"basegraph.app/postprocess/internal/postprocess"
	"basegraph.app/postprocess/internal/queue"
	"basegraph.app/postprocess/internal/rules"
	"basegraph.app/postprocess/internal/store"
	"basegraph.app/postprocess/internal/store/cassandra"
	"basegraph.app/postprocess/internal/worker"
)

const pluginMirrorMaxLen = 10000

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Queue.Consumer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to setup telemetry", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg)

	slog.InfoContext(ctx, "postprocess worker starting",
		"env", cfg.Env,
		"stream", cfg.Queue.Stream,
		"consumer_group", cfg.Queue.Group,
		"consumer_name", cfg.Queue.Consumer,
		"concurrency", cfg.Worker.Concurrency)

	if err := id.Init(cfg.Worker.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisClient, err := connectRedis(ctx, cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected")

	dedupPolicy, err := cache.ParseFailurePolicy(cfg.Cache.DedupFailurePolicy)
	if err != nil {
		slog.ErrorContext(ctx, "invalid dedup failure policy", "error", err)
		os.Exit(1)
	}
	hookPolicy, err := cache.ParseFailurePolicy(cfg.Cache.HookFailurePolicy)
	if err != nil {
		slog.ErrorContext(ctx, "invalid hook cache failure policy", "error", err)
		os.Exit(1)
	}

	var hookCache cache.Cache = cache.NewRedisCache(redisClient)
	if cfg.Cache.Backend == "memory" {
		hookCache = cache.NewMemory()
	}

	var lockCache cache.Cache
	if cfg.Redis.DedupEnabled() {
		lockClient, err := connectRedis(ctx, cfg.Redis.LockURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to lock redis", "error", err)
			os.Exit(1)
		}
		defer lockClient.Close()
		lockCache = cache.NewRedisCache(lockClient)
	} else {
		slog.WarnContext(ctx, "POSTPROCESS_LOCK_REDIS_URL not set, dedup disabled")
	}

	stores := store.NewStores(database.Conn())

	checks := []handler.Check{
		{Name: "postgres", Ping: database.Ping},
		{Name: "redis", Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
	}

	var tagStore store.TagStore = stores.Tags()
	if cfg.TagStore.Backend == "cassandra" {
		cassandraTags, err := cassandra.New(cfg.TagStore.Cassandra)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to cassandra", "error", err)
			os.Exit(1)
		}
		defer cassandraTags.Close()
		tagStore = cassandraTags
		checks = append(checks, handler.Check{Name: "cassandra", Ping: cassandraTags.Ping})
		slog.InfoContext(ctx, "cassandra tag store connected", "keyspace", cfg.TagStore.Cassandra.Keyspace)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheus(registry, cfg.Metrics.Namespace)

	producer := queue.NewRedisProducer(redisClient, queue.ProducerStreams{
		ServiceHook:    cfg.Queue.ServiceHookStream,
		ResourceChange: cfg.Queue.ResourceChangeStream,
		EventProcessed: cfg.Queue.EventProcessedStream,
	}, slog.Default())

	plugins := plugin.NewRegistry(stores.Plugins())
	if cfg.Queue.PluginMirrorEnabled() {
		if err := plugins.Register(plugin.NewStreamMirror(redisClient, cfg.Queue.PluginMirrorStream, pluginMirrorMaxLen)); err != nil {
			slog.ErrorContext(ctx, "failed to register plugin", "error", err)
			os.Exit(1)
		}
	}
	slog.InfoContext(ctx, "plugins registered", "slugs", plugins.Slugs())

	featureChecker := features.NewChecker(stores.Features(), cfg.Features.EnabledByDefault)
	hooks := postprocess.NewHookRegistry(postprocess.HookRegistryDeps{
		Cache:    hookCache,
		Policy:   hookPolicy,
		Hooks:    stores.ServiceHooks(),
		Features: featureChecker,
		Options:  options.NewManager(stores.Options(), cfg.Options),
	})

	processed := postprocess.NewPublisher[postprocess.EventProcessed]("event_processed")
	processed.Subscribe("stream", func(ctx context.Context, e postprocess.EventProcessed) error {
		return producer.EnqueueEventProcessed(ctx, queue.EventProcessedTask{
			Event:       e.Event.Ref(),
			PrimaryHash: e.PrimaryHash,
		})
	})

	txRunner := &txRunnerAdapter{runner: store.NewTxRunner(database)}
	processor := postprocess.NewProcessor(postprocess.Deps{
		Dedup:          postprocess.NewDedupGuard(lockCache, dedupPolicy),
		Events:         stores.Events(),
		Groups:         stores.Groups(),
		Projects:       stores.Projects(),
		Stats:          postprocess.NewMetricsRecorder(recorder),
		Snoozes:        postprocess.NewSnoozeEvaluator(stores.Snoozes(), stores.Events(), txRunner, time.Now),
		Ownership:      postprocess.NewOwnershipAssigner(stores.Ownership(), stores.Groups()),
		Rules:          postprocess.NewRuleEngineAdapter(rules.NopEvaluator{}),
		Fanout:         postprocess.NewFanoutDispatcher(featureChecker, hooks, producer),
		Plugins:        postprocess.NewPluginFanout(plugins, recorder),
		ResourceChange: postprocess.NewResourceChangeNotifier(hooks, producer),
		Tags:           postprocess.NewTagIndexer(tagStore, recorder),
		Processed:      processed,
	})

	workers := make([]*worker.Worker, 0, cfg.Worker.Concurrency)
	var reclaimConsumer *queue.RedisConsumer
	for i := range cfg.Worker.Concurrency {
		consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
			Stream:       cfg.Queue.Stream,
			Group:        cfg.Queue.Group,
			Consumer:     fmt.Sprintf("%s-%d", cfg.Queue.Consumer, i),
			DLQStream:    cfg.Queue.DLQStream,
			BatchSize:    cfg.Worker.BatchSize,
			Block:        cfg.Worker.Block,
			MaxAttempts:  cfg.Worker.MaxAttempts,
			RequeueDelay: cfg.Worker.RequeueDelay,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create consumer", "error", err)
			os.Exit(1)
		}
		if reclaimConsumer == nil {
			reclaimConsumer = consumer
		}
		workers = append(workers, worker.New(consumer, processor, recorder, worker.Config{
			MaxAttempts: cfg.Worker.MaxAttempts,
		}))
	}

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Queue.Stream,
		Group:     cfg.Queue.Group,
		Consumer:  cfg.Queue.Consumer + "-reclaimer",
		MinIdle:   cfg.Worker.ReclaimMinIdle,
		Interval:  cfg.Worker.ReclaimInterval,
		BatchSize: cfg.Worker.BatchSize,
	}, reclaimConsumer, workers[0].HandleMessage)

	opsServer := newOpsServer(cfg, registry, checks)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	for _, w := range workers {
		g.Go(func() error {
			if err := w.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		reclaimer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.InfoContext(ctx, "ops server listening", "port", cfg.Metrics.Port)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.InfoContext(ctx, "shutting down worker...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(ctx, "ops server shutdown failed", "error", err)
		}
		return nil
	})

	slog.InfoContext(ctx, "worker initialized and running")

	if err := g.Wait(); err != nil {
		slog.ErrorContext(ctx, "worker exited with error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.WarnContext(ctx, "telemetry shutdown failed", "error", err)
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

func newOpsServer(cfg config.Config, gatherer prometheus.Gatherer, checks []handler.Check) *http.Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())
	if cfg.OTel.Enabled() {
		engine.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	engine.Use(middleware.Logger())

	router.SetupRoutes(engine, router.RouterConfig{
		Checks:   checks,
		Gatherer: gatherer,
	})

	return &http.Server{
		Addr:              ":" + cfg.Metrics.Port,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// txRunnerAdapter bridges store.TxRunner to postprocess.TxRunner.
type txRunnerAdapter struct {
	runner *store.TxRunner
}

func (a *txRunnerAdapter) WithTx(ctx context.Context, fn func(stores postprocess.StoreProvider) error) error {
	return a.runner.WithTx(ctx, func(stores *store.Stores) error {
		return fn(stores)
	})
}

const banner = `
██████╗  ██████╗ ███████╗████████╗    ██████╗ ██████╗  ██████╗  ██████╗███████╗███████╗███████╗
██╔══██╗██╔═══██╗██╔════╝╚══██╔══╝    ██╔══██╗██╔══██╗██╔═══██╗██╔════╝██╔════╝██╔════╝██╔════╝
██████╔╝██║   ██║███████╗   ██║       ██████╔╝██████╔╝██║   ██║██║     █████╗  ███████╗███████╗
██╔═══╝ ██║   ██║╚════██║   ██║       ██╔═══╝ ██╔══██╗██║   ██║██║     ██╔══╝  ╚════██║╚════██║
██║     ╚██████╔╝███████║   ██║       ██║     ██║  ██║╚██████╔╝╚██████╗███████╗███████║███████║
╚═╝      ╚═════╝ ╚══════╝   ╚═╝       ╚═╝     ╚═╝  ╚═╝ ╚═════╝  ╚═════╝╚══════╝╚══════╝╚══════╝
`
