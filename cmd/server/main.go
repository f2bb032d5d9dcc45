package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dcabot/internal/api"
	"dcabot/internal/bot"
	"dcabot/internal/config"
	"dcabot/internal/repository"
	"dcabot/internal/service"
	"dcabot/internal/websocket"
	"dcabot/pkg/utils"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Логирование
	logger, err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database",
			zap.String("dsn", cfg.Database.DSNWithoutPassword()), zap.Error(err))
	}
	defer db.Close()

	logger.Info("connected to database",
		zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Инициализация репозиториев
	pairRepo := repository.NewPairRepository(db)
	userRepo := repository.NewUserRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// WebSocket hub для real-time обновлений UI
	hub := websocket.NewHub(logger.Named("ws"))
	go hub.Run()

	// Журнал уведомлений + broadcast в hub
	notificationService := service.NewNotificationService(
		notificationRepo, 0, logger.Named("notify"))
	notificationService.SetHub(hub)

	// Торговое ядро. API ключи расшифровываются только внутри
	// фабрики биржевых клиентов.
	encryptionKey := []byte(cfg.Security.EncryptionKey)
	engine := bot.NewEngine(
		&cfg.Bot,
		pairRepo,
		userRepo,
		notificationService,
		bot.NewBinanceFactory(encryptionKey),
		bot.NewBinanceStreamFactory(&cfg.Bot, logger.Named("stream")),
		logger.Named("bot"),
	)

	notificationService.SetBotStatusSource(engine)

	// Стартовое восстановление: сверка и запуск активных пользователей.
	// Таймаут ограничивает только восстановление - запущенные циклы
	// живут со временем движка.
	startCtx, startCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := engine.Start(startCtx); err != nil {
		startCancel()
		logger.Fatal("failed to start trading engine", zap.Error(err))
	}
	startCancel()

	// Сервисный слой для API
	userService := service.NewUserService(userRepo, engine, encryptionKey, logger.Named("users"))
	pairService := service.NewPairService(pairRepo, engine, logger.Named("pairs"))
	pairService.SetReporter(notificationService)

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		UserService:         userService,
		PairService:         pairService,
		NotificationService: notificationService,
		Bot:                 engine,
		Hub:                 hub,
		Security:            cfg.Security,
		Log:                 logger.Named("http"),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr))
		if cfg.Server.UseHTTPS {
			if err := server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				logger.Fatal("server failed", zap.Error(err))
			}
		} else {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("server failed", zap.Error(err))
			}
		}
	}()

	// Периодическая чистка старых уведомлений
	cleanupDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if deleted, err := notificationService.CleanupOld(); err != nil {
					logger.Warn("notification cleanup failed", zap.Error(err))
				} else if deleted > 0 {
					logger.Info("old notifications deleted", zap.Int64("count", deleted))
				}
			case <-cleanupDone:
				return
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	close(cleanupDone)

	// Сначала останавливаем торговлю - ордера не должны
	// размещаться после начала shutdown
	engine.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
