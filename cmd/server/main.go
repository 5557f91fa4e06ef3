package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AnshRaj112/medconsult-backend/internal/chat"
	"github.com/AnshRaj112/medconsult-backend/internal/config"
	"github.com/AnshRaj112/medconsult-backend/internal/database"
	"github.com/AnshRaj112/medconsult-backend/internal/directory"
	"github.com/AnshRaj112/medconsult-backend/internal/handlers"
	"github.com/AnshRaj112/medconsult-backend/internal/middleware"
	"github.com/AnshRaj112/medconsult-backend/internal/routes"
	"github.com/AnshRaj112/medconsult-backend/internal/services"
	"github.com/AnshRaj112/medconsult-backend/pkg/logger"
)

func main() {
	// Load env
	envErr := godotenv.Load()

	cfg, err := config.Load()
	logger.Init(envOr(cfg))
	log := logger.Get()
	if envErr != nil {
		log.Info().Msg("no .env file found")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Connect to PostgreSQL (actors)
	if err := database.ConnectPostgres(cfg.PostgresURI); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
	}
	defer database.DisconnectPostgres()

	// Connect to Redis (sessions, presence, cache, change notifications)
	if err := database.ConnectRedis(cfg.RedisURI); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer database.DisconnectRedis()

	dir := openDirectory(cfg)
	defer database.Disconnect()

	var blobs chat.BlobStore = services.UnconfiguredBlobStore{}
	if cfg.CloudinaryConfigured() {
		store, err := services.NewCloudinaryBlobStore(cfg.CloudinaryName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize Cloudinary, attachments disabled")
		} else {
			blobs = store
			log.Info().Msg("cloudinary blob store initialized")
		}
	} else {
		log.Warn().Msg("cloudinary credentials not found, attachments disabled")
	}

	cache := services.NewCacheService(database.RedisClient)
	presence := services.NewPresence(database.RedisClient, cfg.Policy.PresenceTTL)
	sessions := services.NewSessionStore(database.RedisClient)
	actors := services.NewActorService(database.PostgresDB, cache)
	identity := services.NewIdentity(sessions, actors, presence)

	channel := chat.NewChannel(dir, blobs, presence, chat.Options{
		UnapprovedLimit:    cfg.Policy.UnapprovedMessageLimit,
		MaxAttachmentBytes: cfg.Policy.MaxAttachmentBytes,
		HistoryPageSize:    int(cfg.Policy.HistoryPageSize),
		HistoryMaxPageSize: int(cfg.Policy.HistoryMaxPageSize),
		UploadFolder:       cfg.UploadFolder,
		Logger:             logger.Component("chat"),
		Recorder:           services.NewChatMetrics(prometheus.DefaultRegisterer),
	})

	h := handlers.New(handlers.Deps{
		Channel:            channel,
		Accounts:           actors,
		Sessions:           sessions,
		Peers:              identity,
		Presence:           presence,
		SendLimiter:        middleware.NewSendLimiter(cfg.Policy.SendRatePerMinute, cfg.Policy.SendBurst),
		MaxAttachmentBytes: cfg.Policy.MaxAttachmentBytes,
		Logger:             logger.Component("http"),
	})

	// Setup router
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger.Component("http")))
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Production: SecurityHeaders → HostCheck → GlobalRateLimit → LoginRateLimit
	if cfg.IsProduction() {
		for _, mw := range middleware.ProductionSecurity(cfg.AllowedHost) {
			r.Use(mw)
		}
		log.Info().Msg("production security enabled")
	} else {
		r.Use(middleware.LoginRateLimit())
	}

	routes.SetupRoutes(r, h, identity)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Int("unapproved_limit", channel.Limit()).Msg("medconsult backend running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// openDirectory picks the conversation store. "memory" keeps everything in
// process and is meant for local runs with a single instance.
func openDirectory(cfg *config.Config) directory.Directory {
	log := logger.Component("directory")

	if cfg.DirectoryBackend == "memory" {
		log.Warn().Msg("using in-memory directory, conversations are lost on restart")
		return directory.NewMemory()
	}

	if err := database.Connect(cfg.MongoURI, cfg.MongoDatabase); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}

	dir := directory.NewMongo(database.DB, directory.NewRedisNotifier(database.RedisClient))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := dir.EnsureIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to ensure MongoDB indexes")
	} else {
		log.Info().Msg("MongoDB indexes ensured")
	}
	return dir
}

func envOr(cfg *config.Config) string {
	if cfg == nil {
		return os.Getenv("ENV")
	}
	return cfg.Environment
}
