package main

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/pccr10001/jinglegw/internal/api"
	"github.com/pccr10001/jinglegw/internal/auth"
	"github.com/pccr10001/jinglegw/internal/calling"
	"github.com/pccr10001/jinglegw/internal/candidate"
	"github.com/pccr10001/jinglegw/internal/channel"
	"github.com/pccr10001/jinglegw/internal/codec"
	"github.com/pccr10001/jinglegw/internal/config"
	"github.com/pccr10001/jinglegw/internal/logic"
	"github.com/pccr10001/jinglegw/internal/media"
	"github.com/pccr10001/jinglegw/internal/metrics"
	"github.com/pccr10001/jinglegw/internal/model"
	"github.com/pccr10001/jinglegw/internal/repository"
	"github.com/pccr10001/jinglegw/internal/worker"
	"github.com/pccr10001/jinglegw/pkg/logger"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	// 1. Load Config
	config.LoadConfig()
	cfg := &config.AppConfig

	// 2. Init Logger
	level := cfg.Log.Level
	if cfg.Settings.Debug {
		level = "debug"
	}
	logger.InitLogger(level, &logger.FileSink{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logger.Sync()
	logger.Log.Info("Starting Jingle gateway...")

	auth.Init(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	// 3. Init Database
	db := initDB(cfg)
	calls := repository.NewCallRepository(db)
	if n, err := calls.MarkAbandoned(); err != nil {
		logger.Log.Warnf("Failed to close abandoned call records: %v", err)
	} else if n > 0 {
		logger.Log.Warnf("Closed %d call records left open by a previous run", n)
	}

	// 4. Call endpoint and profile workers
	m := metrics.New()
	wm := worker.NewManager(cfg.Profiles, m)

	webhooks := logic.NewWebhookService(repository.NewWebhookRepository(db))
	endpoint := calling.NewEndpoint(calling.Options{
		Catalog:  codec.NewCatalog(codec.DefaultRegistry(), cfg.Settings.CodecPreferences()),
		Resolver: candidate.NewResolver(&candidate.StunBinder{Timeout: cfg.Media.STUNTimeout}),
		Bootstrapper: media.NewBootstrapper(
			media.UDPFactory(cfg.Media.ReadTimeout, cfg.Media.ICEKeepalive),
		),
		Ports:    media.NewPortAllocator(cfg.Media.RTPPortMin, cfg.Media.RTPPortMax),
		Profiles: wm,
		Channels: channel.Factory{},
		Timing: calling.Timing{
			Tick:          cfg.Negotiation.Tick,
			OutboundDelay: cfg.Negotiation.OutboundDelay,
			InboundDelay:  cfg.Negotiation.InboundDelay,
			RetryInterval: cfg.Negotiation.RetryInterval,
			Timeout:       cfg.Negotiation.Timeout,
		},
		DTMFDuration:  cfg.Settings.DTMFDuration,
		DTMFQueueSize: cfg.Settings.DTMFQueueSize,
		Recorder:      logic.NewCallRecordService(calls, webhooks),
		Metrics:       m,
	})
	wm.Start(endpoint)

	// 5. Start Server
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := api.NewRouter(api.Deps{
		DB:       db,
		Calls:    endpoint,
		Profiles: wm,
		Metrics:  m,

		AccessLog: cfg.Server.Mode != "release",
	})

	srv := &http.Server{Addr: cfg.Server.Port, Handler: r}
	go func() {
		logger.Log.Infof("Server listening on %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Warnf("HTTP shutdown: %v", err)
	}
	endpoint.Close()
	wm.Stop()
	webhooks.Wait()
}

func initDB(cfg *config.Config) *gorm.DB {
	var db *gorm.DB
	var err error

	driver := cfg.Database.Driver
	dsn := cfg.Database.DSN

	switch driver {
	case "mysql":
		db, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	default:
		// Default to SQLite (pure Go)
		if dsn == "" {
			dsn = "jinglegw.db"
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	}

	if err != nil {
		logger.Log.Fatalf("Failed to connect database (%s): %v", driver, err)
	}

	if err := db.AutoMigrate(&model.User{}, &model.CallRecord{}, &model.Webhook{}); err != nil {
		logger.Log.Fatalf("Failed to migrate database: %v", err)
	}

	// Init Admin
	var count int64
	db.Model(&model.User{}).Count(&count)
	if count == 0 {
		pw := cfg.Users.DefaultAdminPassword
		generated := pw == ""
		if generated {
			pw = randomPassword(12)
		}

		hash, err := api.HashPassword(pw)
		if err != nil {
			logger.Log.Fatalf("Failed to hash password: %v", err)
		}

		admin := model.User{
			Username:     "admin",
			PasswordHash: hash,
			Role:         "admin",
		}
		db.Create(&admin)
		if generated {
			logger.Log.Warnf("INITIAL ADMIN CREATED. Username: admin, Password: %s", pw)
		} else {
			logger.Log.Warn("INITIAL ADMIN CREATED with the configured password")
		}
	}

	return db
}

func randomPassword(n int) string {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	ret := make([]byte, n)
	for i := range ret {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			logger.Log.Fatalf("Failed to generate random password: %v", err)
		}
		ret[i] = chars[num.Int64()]
	}
	return string(ret)
}
