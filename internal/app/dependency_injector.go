package app

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/avinash-eye/image-processor/internal/analysis"
	"github.com/avinash-eye/image-processor/internal/extract"
	"github.com/avinash-eye/image-processor/internal/infra/config"
	"github.com/avinash-eye/image-processor/internal/infra/events"
	filestore "github.com/avinash-eye/image-processor/internal/infra/store/file"
	statusstore "github.com/avinash-eye/image-processor/internal/infra/store/status"
	mio "github.com/avinash-eye/image-processor/internal/libs/minio"
	natsq "github.com/avinash-eye/image-processor/internal/libs/nats"
	rediscli "github.com/avinash-eye/image-processor/internal/libs/redis"
	"github.com/avinash-eye/image-processor/internal/processor"
	"github.com/avinash-eye/image-processor/internal/queue"
	"github.com/avinash-eye/image-processor/internal/transport"
	"github.com/avinash-eye/image-processor/internal/usecase"
)

const cfgPath = "./configs/local.yaml"

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	redis       *redis.Client
	statusStore statusstore.Store

	natsConn  *nats.Conn
	js        nats.JetStreamContext
	publisher events.Publisher

	fileStore filestore.FileStore
	asyncFS   asyncCloser

	extractor      *extract.Extractor
	analysisClient *analysis.Client

	taskQueue *queue.Queue
	processor *processor.Processor

	usecase transport.Usecase
	handler transport.Handler
	router  Router
}

type asyncCloser interface {
	Close(ctx context.Context) error
}

func newDI() *dependencyInjector {
	return &dependencyInjector{}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		path := os.Getenv("PROCESSOR_CONFIG")
		if path == "" {
			path = cfgPath
		}
		di.cfg = config.MustLoad(path)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		di.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Status.Redis
		client, err := rediscli.NewClient(rediscli.Config{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			log.Fatalf("Redis connect: %+v", err)
		}

		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

func (di *dependencyInjector) StatusStore(ctx context.Context) statusstore.Store {
	if di.statusStore == nil {
		if !di.Config().Status.Enabled {
			di.statusStore = statusstore.Noop{}
			return di.statusStore
		}
		di.statusStore = statusstore.NewRedisStore(di.RedisClient(ctx))
	}
	return di.statusStore
}

func (di *dependencyInjector) NATSConn(ctx context.Context) *nats.Conn {
	if di.natsConn == nil {
		cfg := di.Config().Events.NATS
		nc, err := natsq.NewConnect(cfg.URL, natsq.Config{
			Name:          "image-processor",
			MaxReconnects: cfg.MaxReconnects,
		})
		if err != nil {
			log.Fatalf("NATS connect: %+v", err)
		}
		di.natsConn = nc
	}
	return di.natsConn
}

func (di *dependencyInjector) JetStream(ctx context.Context) nats.JetStreamContext {
	if di.js == nil {
		cfg := di.Config().Events.NATS
		js, err := natsq.NewJetStream(di.NATSConn(ctx), natsq.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.Subject},
		})
		if err != nil {
			log.Fatalf("DI JetStream: %+v", err)
		}

		di.js = js
	}
	return di.js
}

func (di *dependencyInjector) Publisher(ctx context.Context) events.Publisher {
	if di.publisher == nil {
		if !di.Config().Events.Enabled {
			di.publisher = events.Noop{}
			return di.publisher
		}
		di.publisher = events.NewJetStreamPublisher(di.JetStream(ctx), di.Config().Events.NATS.Subject)
	}
	return di.publisher
}

func (di *dependencyInjector) FileStore(ctx context.Context) filestore.FileStore {
	if di.fileStore == nil {
		cfg := di.Config()

		local, err := filestore.NewLocalStore(cfg.SharedDir)
		if err != nil {
			log.Fatalf("FileStore local: %+v", err)
		}
		di.Logger().Info("initialized local file store", slog.String("shared_dir", cfg.SharedDir))

		if !cfg.Storage.Replicate {
			di.fileStore = local
			return di.fileStore
		}

		remote, err := filestore.NewMinIOStore(ctx, mio.Config{
			Endpoint:        cfg.Storage.MinIO.Endpoint,
			AccessKeyID:     cfg.Storage.MinIO.AccessKeyID,
			SecretAccessKey: cfg.Storage.MinIO.SecretAccessKey,
			UseSSL:          cfg.Storage.MinIO.UseSSL,
			Bucket:          cfg.Storage.MinIO.Bucket,
		})
		if err != nil {
			log.Fatalf("FileStore minio: %+v", err)
		}
		di.Logger().Info(
			"initialized MinIO file store",
			slog.String("endpoint", cfg.Storage.MinIO.Endpoint),
			slog.String("bucket", cfg.Storage.MinIO.Bucket),
		)

		async := filestore.NewAsyncStore(
			ctx, local, remote,
			cfg.Storage.ReplicaQueueSize,
			cfg.Storage.ReplicaWorkers,
			cfg.Storage.ReplicaMaxRetries,
		)
		di.asyncFS = async
		di.fileStore = async
		di.Logger().Info(
			"using async file store (local + MinIO)",
			slog.Int("queue_size", cfg.Storage.ReplicaQueueSize),
			slog.Int("worker_num", cfg.Storage.ReplicaWorkers),
			slog.Int("max_retries", cfg.Storage.ReplicaMaxRetries),
		)
	}

	return di.fileStore
}

func (di *dependencyInjector) Extractor() *extract.Extractor {
	if di.extractor == nil {
		di.extractor = extract.New()
	}
	return di.extractor
}

func (di *dependencyInjector) AnalysisClient() *analysis.Client {
	if di.analysisClient == nil {
		cfg := di.Config().Analysis
		di.analysisClient = analysis.NewClient(cfg.BaseURL, cfg.Timeout)
		di.Logger().Info("analysis client configured",
			slog.String("base_url", cfg.BaseURL),
			slog.String("timeout", cfg.Timeout.String()),
		)
	}
	return di.analysisClient
}

func (di *dependencyInjector) Queue(ctx context.Context) *queue.Queue {
	if di.taskQueue == nil {
		cfg := di.Config()
		di.taskQueue = queue.New(cfg.MaxConcurrent, cfg.QueueCapacity)
		di.taskQueue.Start(ctx)
		di.Logger().Info("processing queue started",
			slog.Int("concurrency", cfg.MaxConcurrent),
			slog.Int("capacity", cfg.QueueCapacity),
		)
	}
	return di.taskQueue
}

func (di *dependencyInjector) Processor(ctx context.Context) *processor.Processor {
	if di.processor == nil {
		cfg := di.Config()
		di.processor = processor.New(
			cfg.AcceptedTypes,
			di.Extractor(),
			di.AnalysisClient(),
			di.FileStore(ctx),
			cfg.AnalysisRequired(),
		)
	}
	return di.processor
}

func (di *dependencyInjector) Usecase(ctx context.Context) transport.Usecase {
	if di.usecase == nil {
		di.usecase = usecase.New(
			di.Queue(ctx),
			di.Processor(ctx),
			di.StatusStore(ctx),
			di.Publisher(ctx),
		)
	}

	return di.usecase
}

func (di *dependencyInjector) Handler(ctx context.Context) transport.Handler {
	if di.handler == nil {
		cfg := di.Config()
		di.handler = transport.NewHandler(
			cfg.MaxUploadBytesMb,
			cfg.AcceptedTypes,
			di.FileStore(ctx),
			di.Usecase(ctx),
		)
	}

	return di.handler
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		di.router = transport.NewRouter(di.Handler(ctx))
	}

	return di.router
}

// shutdown releases background resources in dependency order: no new
// work after the queue stops, replicas flushed before MinIO goes away,
// connections last.
func (di *dependencyInjector) shutdown(ctx context.Context) {
	if di.taskQueue != nil {
		if err := di.taskQueue.Stop(ctx); err != nil {
			slog.Error("queue stop", slog.String("error", err.Error()))
		}
	}
	if di.asyncFS != nil {
		if err := di.asyncFS.Close(ctx); err != nil {
			slog.Error("file store close", slog.String("error", err.Error()))
		}
	}
	if di.natsConn != nil {
		di.natsConn.Close()
	}
	if di.redis != nil {
		if err := di.redis.Close(); err != nil {
			slog.Error("redis close", slog.String("error", err.Error()))
		}
	}
}
