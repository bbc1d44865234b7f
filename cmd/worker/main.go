package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/alihussnain1122/mail-back/internal/config"
	"github.com/alihussnain1122/mail-back/internal/db"
	"github.com/alihussnain1122/mail-back/internal/engine"
	appErrors "github.com/alihussnain1122/mail-back/internal/errors"
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
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "worker").Logger()

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

	eng := &engine.Engine{
		Campaigns:  campaignRepo,
		Recipients: recipientRepo,
		Bounces:    bounceRepo,
		Tracking:   trackingRepo,
		Leases:     lease.NewRedisStore(rdb),
		Governor:   limiter.NewRedisGovernor(rdb, cfg.MaxCampaignSlots),
		Secrets:    secrets.NewStore(store.NewRedis(rdb), campaignRepo, logger),
		NewRelay: func(creds relay.Credentials) relay.Relay {
			return relay.WithBreaker(relay.NewLogRelay(logger), creds.Host)
		},
		Tokens: token.NewCodec([]byte(cfg.TokenSecret)),
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

	mq, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not connect to rabbitmq")
	}
	defer mq.Close()

	pub, err := queue.NewPublisher(mq)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not set up tick publisher")
	}
	defer pub.Close()

	consumer, err := queue.NewConsumer(mq, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not set up tick consumer")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Safety net: a tick can get lost (dropped after retries, rabbitmq
	// blip between a batch and its follow-up). The sweep re-ticks every
	// running campaign so none stalls forever.
	sweep := cron.New()
	_, err = sweep.AddFunc("@every 1m", func() {
		ids, err := campaignRepo.ListRunningIDs()
		if err != nil {
			logger.Error().Err(err).Msg("sweep could not list running campaigns")
			return
		}
		for _, id := range ids {
			if err := pub.PublishTick(id); err != nil {
				logger.Warn().Err(err).Int("campaign_id", id).Msg("sweep could not publish tick")
			}
		}
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("could not schedule sweep")
	}
	sweep.Start()
	defer sweep.Stop()

	logger.Info().Msg("worker running, waiting for ticks")

	err = consumer.Consume(ctx, func(ctx context.Context, campaignID int) error {
		res, err := eng.Advance(ctx, campaignID)
		switch {
		case errors.Is(err, appErrors.ErrLeaseHeld):
			// Another run owns the campaign; it will publish the next
			// tick itself.
			return nil
		case err != nil:
			return err
		}

		if !res.Completed && (res.Sent > 0 || res.Failed > 0) {
			// Follow-up after the inter-message delay, off the consumer
			// goroutine so other campaigns' ticks keep flowing.
			delay := res.NextDelay
			if delay <= 0 {
				delay = time.Second
			}
			time.AfterFunc(delay, func() {
				if err := pub.PublishTick(campaignID); err != nil {
					logger.Warn().Err(err).Int("campaign_id", campaignID).Msg("could not publish follow-up tick")
				}
			})
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("consumer stopped")
	}
	logger.Info().Msg("worker shutting down")
}
