package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/config"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/eventbus"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/models"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/remotestore"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/session"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/syncengine"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/utils"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := config.GetLogger()

	settings, err := config.LoadSyncSettings()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "settings"}).Fatal(err)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	db, err := config.ConnectDatabase(settings.Database)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "database"}).Fatal(err)
	}
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !utils.EnvBool(os.Getenv("SKIP_MIGRATIONS"), false) {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	var remote remotestore.Store
	switch settings.RemoteBackend {
	case "memory":
		logger.WithFields(logrus.Fields{"field": "remote"}).Warn("using in-memory remote store; data is not shared")
		remote = remotestore.NewMemory()
	default:
		fs, err := config.GetFirestoreClient(sigCtx)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "remote"}).Fatal(err)
		}
		defer config.CloseFirestoreClient()
		remote = remotestore.NewFirestore(fs)
	}

	var manager *session.Manager
	bus := eventbus.Default()
	if settings.SignalTopic != "" {
		if forwarder := newSignalForwarder(sigCtx, settings.SignalTopic, func() string { return manager.Tenant() }, logger); forwarder != nil {
			bus.AddSink(forwarder)
			defer forwarder.Close()
		}
	}

	var lock syncengine.CycleLock
	if settings.UseRedisLock {
		rdb, lockClient, err := config.ConnectRedis(sigCtx, settings.RedisAddress, 5)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "redis"}).Warn("redis unavailable; cycles are serialized in-process only: " + err.Error())
		} else {
			defer rdb.Close()
			lock = syncengine.NewRedisCycleLock(lockClient, 2*time.Minute)
		}
	}

	var connectivity syncengine.Connectivity = syncengine.NewStaticConnectivity(true)
	if settings.ConnectivityProbe != "" {
		probe := syncengine.NewProbeMonitor(settings.ConnectivityProbe, settings.ConnectivityInterval)
		probe.Start(sigCtx)
		defer probe.Stop()
		connectivity = probe
	}

	manager = session.NewManager(syncengine.Config{
		Store:        models.NewStore(db),
		Remote:       remote,
		Bus:          bus,
		Connectivity: connectivity,
		Interval:     settings.Interval,
		Lock:         lock,
		Logger:       logger,
	})
	defer manager.Logout()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length")

	r.Use(cors.New(corsConfig))
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	session.Register(r, manager, connectivity.Online)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + settings.HTTPPort,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()
	logger.WithFields(logrus.Fields{"field": "server", "port": settings.HTTPPort}).Info("ledger sync service listening")

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

func newSignalForwarder(ctx context.Context, topicName string, tenant func() string, logger *logrus.Logger) *eventbus.PubSubForwarder {
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Warn("signal forwarding disabled: " + err.Error())
		return nil
	}
	topic, err := config.CreateTopicIfNotExists(ctx, client, topicName)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Warn("signal forwarding disabled: " + err.Error())
		return nil
	}
	return eventbus.NewPubSubForwarder(topic, tenant)
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		}).Info("request")
	}
}
