// cmd/order-service/main.go
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"go.opentelemetry.io/otel"

	"storefront/internal/pkg/bootstrap"
	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/metrics"
	"storefront/internal/pkg/mq"
	"storefront/internal/pkg/redis"
	"storefront/internal/pkg/tracing"
	"storefront/internal/service/order/application"
	"storefront/internal/service/order/domain/port"
	"storefront/internal/service/order/infrastructure"
	"storefront/internal/service/order/infrastructure/adapter"
	"storefront/internal/service/order/infrastructure/memory"
	"storefront/internal/service/order/interfaces"
)

const serviceName = "order-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := bootstrap.Init(*configPath)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.App.LogLevel)

	if err := run(cfg); err != nil {
		logger.L().Error().Err(err).Msg("order service exited with error")
		os.Exit(1)
	}
}

func run(cfg *bootstrap.Config) error {
	var shutdown []func(ctx context.Context) error

	// 1. 初始化核心技术组件
	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
	if err != nil {
		return err
	}
	shutdown = append(shutdown, tp.Shutdown)
	tracer := otel.Tracer(serviceName)

	orderMetrics := metrics.NewOrderMetrics(nil)

	// 2. 存储：mysql 或进程内存
	uow, closeStore, err := openStorage(cfg)
	if err != nil {
		return err
	}
	shutdown = append(shutdown, closeStore)

	// 3. 出站适配器
	policy, err := adapter.NewCELTransitionPolicy(cfg.Order.AdminTransitionRule)
	if err != nil {
		return err
	}

	var idempotency port.IdempotencyStore
	if cfg.Infra.Redis.Addrs != "" {
		redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
		if err != nil {
			return err
		}
		shutdown = append(shutdown, func(context.Context) error { return redisClient.Close() })
		ttl := time.Duration(cfg.Order.IdempotencyTTLSeconds) * time.Second
		if idempotency, err = adapter.NewIdempotencyRedisAdapter(redisClient, ttl); err != nil {
			return err
		}
	} else {
		logger.L().Warn().Msg("redis not configured, Idempotency-Key header will be ignored")
	}

	kafkaEnabled := len(cfg.Infra.Kafka.Brokers) > 0
	var publisher port.EventPublisher
	if kafkaEnabled {
		events := adapter.NewEventKafkaAdapter(mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.EventsTopic))
		shutdown = append(shutdown, func(context.Context) error { return events.Close() })
		publisher = events
	} else {
		logger.L().Warn().Msg("kafka not configured, order events will not be published")
	}

	// 4. 应用服务
	appSvc := application.NewOrderApplicationService(uow, policy, publisher, idempotency, orderMetrics, tracer, cfg.Order)

	// 5. 驱动适配器
	var workers []bootstrap.Worker
	if kafkaEnabled {
		k := cfg.Infra.Kafka
		dltTopic := mq.DeadLetterTopic(k.FulfillmentTopic)
		dltWriter := mq.NewKafkaWriter(k.Brokers, dltTopic)
		shutdown = append(shutdown, func(context.Context) error { return dltWriter.Close() })

		workers = append(workers,
			interfaces.NewFulfillmentConsumerAdapter(mq.NewKafkaReader(k.Brokers, k.FulfillmentTopic, k.GroupID), appSvc, dltWriter),
			interfaces.NewDltConsumerAdapter(mq.NewKafkaReader(k.Brokers, dltTopic, k.GroupID+"-dlt")),
		)
	}
	handler := interfaces.NewOrderHandler(appSvc)

	return bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		Workers:    workers,
		OnShutdown: shutdown,
	})
}

// openStorage 根据配置创建 UnitOfWork，并在需要时建表和写入演示商品
func openStorage(cfg *bootstrap.Config) (port.UnitOfWork, func(context.Context) error, error) {
	ctx := context.Background()

	if cfg.Infra.Storage == "memory" {
		store := memory.NewStore()
		if cfg.Seed.Enabled {
			for _, p := range cfg.Seed.Products {
				store.AddProduct(p.Name, p.Price, p.StockQuantity)
			}
			logger.L().Info().Int("count", len(cfg.Seed.Products)).Msg("Seeded demo products into memory store")
		}
		return store, func(context.Context) error { return nil }, nil
	}

	db, err := infrastructure.OpenMySQL(cfg.Infra.MySQL)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	closeDB := func(context.Context) error { return sqlDB.Close() }

	if cfg.Infra.MySQL.AutoMigrate {
		if err := infrastructure.AutoMigrate(db); err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
	}
	if cfg.Seed.Enabled {
		if _, err := infrastructure.SeedProducts(ctx, db, cfg.Seed.Products); err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
	}
	return infrastructure.NewGormUnitOfWork(db), closeDB, nil
}
