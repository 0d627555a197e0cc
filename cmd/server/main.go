package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	echoapi "github.com/bookmirror/bookmirror/api/echo"
	"github.com/bookmirror/bookmirror/cache/redis"
	"github.com/bookmirror/bookmirror/config"
	"github.com/bookmirror/bookmirror/googlebooks"
	"github.com/bookmirror/bookmirror/mongodb"
	"github.com/bookmirror/bookmirror/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	if cfg.LogPretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = logger

	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("mongo_db", cfg.MongoDBName).
		Msg("starting bookmirror server")

	ctx := context.Background()

	db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	defer func() {
		if err := db.Client().Disconnect(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to disconnect MongoDB client")
		}
	}()

	userRepo, err := mongodb.NewUserRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize user repository")
	}
	bookRepo, err := mongodb.NewBookRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize book repository")
	}

	redisOpts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	redisClient := goredis.NewClient(redisOpts)
	defer redisClient.Close()
	kv := redis.NewSessionStore(redisClient, "bookmirror")

	oauth := googlebooks.NewOAuth(cfg.GoogleClientID, cfg.GoogleClientSecret, nil)
	booksClient := googlebooks.NewClient(cfg.GoogleBooksAPIKey, nil)

	dispatcher := services.NewDispatcher(cfg.SyncTimeout())
	refresher := services.NewRefresher(oauth, userRepo)
	opener := services.NewSessionOpener(refresher, booksClient)
	synchronizer := services.NewSynchronizer(opener, oauth, userRepo, bookRepo)
	tokens := services.NewTokenService([]byte(cfg.JWTSecret), cfg.SessionTTL(), kv, userRepo)
	auth := services.NewAuthService(oauth, userRepo, tokens, synchronizer, dispatcher)
	defer auth.Stop()
	books := services.NewBookService(booksClient, bookRepo, kv, synchronizer, dispatcher, cfg.SearchCacheTTL())

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	api := echoapi.NewAPI(auth, tokens, books, opener, synchronizer, dispatcher, cfg.OAuthRedirectURL)
	api.RegisterRoutes(e)

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	// In-flight sync tasks are not cancellable; give them the rest of the
	// shutdown window and accept partial reconciliation beyond it.
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("background sync tasks still running at shutdown")
	}
}
