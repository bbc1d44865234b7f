package main

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/alihussnain1122/mail-back/internal/config"
	"github.com/alihussnain1122/mail-back/internal/controller"
	"github.com/alihussnain1122/mail-back/internal/db"
	"github.com/alihussnain1122/mail-back/internal/engine"
	"github.com/alihussnain1122/mail-back/internal/handler"
	"github.com/alihussnain1122/mail-back/internal/lease"
	"github.com/alihussnain1122/mail-back/internal/limiter"
	"github.com/alihussnain1122/mail-back/internal/queue"
	"github.com/alihussnain1122/mail-back/internal/relay"
	"github.com/alihussnain1122/mail-back/internal/repository"
	"github.com/alihussnain1122/mail-back/internal/secrets"
	"github.com/alihussnain1122/mail-back/internal/store"
	"github.com/alihussnain1122/mail-back/internal/token"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "server").Logger()

	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	conn, err := db.Open(cfg.DSN())
	if err != nil {
		logger.Fatal().Err(err).Msg("could not connect to database")
	}
	defer conn.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	campaignRepo := &repository.CampaignRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	bounceRepo := &repository.BounceRepository{DB: conn}
	trackingRepo := &repository.TrackingRepository{DB: conn}

	codec := token.NewCodec([]byte(cfg.TokenSecret))

	eng := &engine.Engine{
		Campaigns:  campaignRepo,
		Recipients: recipientRepo,
		Bounces:    bounceRepo,
		Tracking:   trackingRepo,
		Leases:     lease.NewRedisStore(rdb),
		Governor:   limiter.NewRedisGovernor(rdb, cfg.MaxCampaignSlots),
		Secrets:    secrets.NewStore(store.NewRedis(rdb), campaignRepo, logger),
		NewRelay:   relayFactory(logger),
		Tokens:     codec,
		Cfg: engine.Config{
			BatchSize:        cfg.BatchSize,
			Budget:           cfg.BatchBudget,
			LeaseTTL:         cfg.LeaseTTL,
			StatusCheckEvery: cfg.StatusCheckEvery,
			SendRateLimit:    cfg.SendRateLimit,
			SendRateWindow:   cfg.SendRateWindow,
			TrackingBaseURL:  cfg.TrackingBaseURL,
			VerifyTimeout:    cfg.VerifyTimeout,
		},
		Logger: logger,
	}

	campaignController := &controller.CampaignController{
		Service:   eng,
		Campaigns: campaignRepo,
		Logger:    logger,
	}

	// Tick publishing is optional for the API process: without it the
	// worker's periodic sweep still advances running campaigns.
	if mq, err := amqp.Dial(cfg.AMQPURL); err != nil {
		logger.Warn().Err(err).Msg("rabbitmq unreachable, relying on worker sweep for scheduling")
	} else {
		defer mq.Close()
		pub, err := queue.NewPublisher(mq)
		if err != nil {
			logger.Fatal().Err(err).Msg("could not set up tick publisher")
		}
		defer pub.Close()
		campaignController.Ticks = pub
	}

	trackingHandler := &handler.TrackingHandler{
		Tokens:   codec,
		Tracking: trackingRepo,
		Bounces:  bounceRepo,
		Logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Post("/campaigns/launch", campaignController.LaunchCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaign)
	r.Post("/campaigns/{id}/start", campaignController.StartCampaign)
	r.Post("/campaigns/{id}/pause", campaignController.PauseCampaign)
	r.Post("/campaigns/{id}/resume", campaignController.ResumeCampaign)
	r.Post("/campaigns/{id}/stop", campaignController.StopCampaign)
	r.Post("/campaigns/{id}/advance", campaignController.AdvanceCampaign)

	r.Get("/t/o/{token}", trackingHandler.Open)
	r.Get("/t/c/{token}", trackingHandler.Click)
	r.Get("/t/u/{token}", trackingHandler.Unsubscribe)

	logger.Info().Str("addr", cfg.HTTPAddr).Msg("server listening")
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

// relayFactory builds the delivery relay for a campaign's credentials,
// wrapped in the circuit breaker so a relay-wide outage faults fast
// instead of burning the batch budget per recipient.
func relayFactory(logger zerolog.Logger) relay.Factory {
	return func(creds relay.Credentials) relay.Relay {
		return relay.WithBreaker(relay.NewLogRelay(logger), creds.Host)
	}
}
