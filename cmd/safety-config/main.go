package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/NjCayao/safetySystem-sub000/internal/config"
	"github.com/NjCayao/safetySystem-sub000/internal/database"
	"github.com/NjCayao/safetySystem-sub000/internal/domain"
	httpapi "github.com/NjCayao/safetySystem-sub000/internal/http"
	"github.com/NjCayao/safetySystem-sub000/internal/logger"
	"github.com/NjCayao/safetySystem-sub000/internal/mqtt"
	"github.com/NjCayao/safetySystem-sub000/internal/repository"
	"github.com/NjCayao/safetySystem-sub000/internal/schema"
	"github.com/NjCayao/safetySystem-sub000/internal/service"
	"github.com/NjCayao/safetySystem-sub000/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "safety-config")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// 校验规则：内置规则 + 可选 YAML 覆盖
	rules := schema.Default()
	if cfg.Schema.File != "" {
		overlay, err := schema.LoadFile(cfg.Schema.File)
		if err != nil {
			log.Fatal("Failed to load schema file",
				zap.String("file", cfg.Schema.File),
				zap.Error(err),
			)
		}
		rules = rules.Merge(overlay)
		log.Info("Schema overlay loaded", zap.String("file", cfg.Schema.File))
	}

	// Redis 期望配置缓存（不可用时退化为进程内缓存）
	var kv store.KV
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warn("Redis unavailable, using in-memory cache", zap.Error(err))
		kv = store.NewMemoryKV()
	} else {
		kv = store.NewRedisKV(redisClient)
	}
	cache := service.NewDesiredCache(kv, log)

	// Repository：DB 可用走 Postgres，否则内存实现支持联测
	var (
		db           *sql.DB
		devicesRepo  repository.DevicesRepository
		profilesRepo repository.ProfilesRepository
		historyRepo  repository.HistoryRepository
	)
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(&cfg.Database); err == nil {
			db = d
			log.Info("DB enabled for safety-config")
		} else {
			log.Warn("DB enabled but connection failed, falling back to memory repositories", zap.Error(err))
		}
	}
	if db != nil {
		devicesRepo = repository.NewPostgresDevicesRepository(db)
		profilesRepo = repository.NewPostgresProfilesRepository(db)
		historyRepo = repository.NewPostgresHistoryRepository(db)
	} else {
		memDevices := repository.NewMemoryDevicesRepository()
		devicesRepo = memDevices
		profilesRepo = repository.NewMemoryProfilesRepository()
		historyRepo = repository.NewMemoryHistoryRepository(memDevices)
		seedDemoDevices(memDevices, log)
	}

	// 出站通知（MQTT 提示、gateway 事件；均为可选）
	var notifiers []service.Notifier
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		if c, err := mqtt.NewClient(&cfg.MQTT); err == nil {
			mqttClient = c
			notifiers = append(notifiers, mqtt.NewPendingPublisher(c, cfg.MQTT.PendingTopic, log))
			log.Info("MQTT connected", zap.String("broker", cfg.MQTT.Broker))
		} else {
			log.Warn("MQTT enabled but connection failed", zap.Error(err))
		}
	}
	if cfg.Gateway.Enabled && cfg.Gateway.BaseURL != "" {
		notifiers = append(notifiers, service.NewGatewayClient(&cfg.Gateway, log))
	}

	// Services
	configSvc := service.NewConfigService(devicesRepo, historyRepo, rules, cache, notifiers, log)
	profileSvc := service.NewProfileService(profilesRepo, devicesRepo, rules, log)
	rolloutSvc := service.NewRolloutService(devicesRepo, profilesRepo, historyRepo, rules, cache, notifiers, cfg.Rollout.BulkWorkers, log)
	reconcileSvc := service.NewReconcileService(devicesRepo, historyRepo, cache, notifiers, log)

	// MQTT 回执通道（HTTP 回调之外的另一条路）
	if mqttClient != nil {
		broker := mqtt.NewOutcomeBroker(mqttClient, cfg.MQTT.OutcomeTopic, reconcileSvc, log)
		if err := broker.Start(); err != nil {
			log.Warn("Failed to start outcome broker", zap.Error(err))
		}
	}

	// HTTP
	router := httpapi.NewRouter(log)
	router.RegisterConfigRoutes(
		httpapi.NewDeviceConfigHandler(configSvc, rolloutSvc, reconcileSvc, log),
		httpapi.NewProfileHandler(profileSvc, rolloutSvc, log),
	)
	router.RegisterAgentRoutes(httpapi.NewAgentHandler(configSvc, reconcileSvc, cache, log))
	router.RegisterHealthRoute()

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case <-errCh:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	_ = redisClient.Close()
	if db != nil {
		_ = db.Close()
	}
}

// seedDemoDevices 内存模式下预置两台演示设备（出厂默认配置）
func seedDemoDevices(repo *repository.MemoryDevicesRepository, log *zap.Logger) {
	defaults, err := schema.DefaultDocument().ToJSON()
	if err != nil {
		return
	}
	for _, d := range []struct{ id, typ string }{
		{"CAM-DEMO-001", "dashcam"},
		{"CAM-DEMO-002", "cabin_monitor"},
	} {
		if err := repo.CreateDevice(context.Background(), &domain.Device{
			DeviceID:   d.id,
			DeviceType: d.typ,
			ConfigJSON: defaults,
		}); err == nil {
			log.Info("Seeded demo device", zap.String("device_id", d.id), zap.String("device_type", d.typ))
		}
	}
}
