// Package queue carries campaign advance ticks over RabbitMQ. A tick
// means "run one batch for this campaign now"; the worker consumes ticks,
// calls the engine, and publishes a follow-up tick while the campaign has
// work left. Ticks are cheap and safe to duplicate: the engine's lease and
// status checks make a redundant tick a no-op.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

const tickQueue = "campaign_ticks"

const maxRetries = 3

// Tick asks the worker to advance one campaign.
type Tick struct {
	CampaignID int `json:"campaign_id"`
}

// Publisher emits ticks onto the shared queue.
type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := declareTickQueue(ch); err != nil {
		ch.Close()
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) PublishTick(campaignID int) error {
	return publish(p.ch, Tick{CampaignID: campaignID}, 0)
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

// Consumer drains ticks and hands them to the engine. Handler errors are
// retried a bounded number of times by republishing with an incremented
// retry header; after that the tick is dropped and the periodic sweep
// picks the campaign up again.
type Consumer struct {
	ch     *amqp.Channel
	logger zerolog.Logger
}

func NewConsumer(conn *amqp.Connection, logger zerolog.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := declareTickQueue(ch); err != nil {
		ch.Close()
		return nil, err
	}
	// One tick in flight per worker: a tick can hold the process for a
	// whole batch budget.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &Consumer{ch: ch, logger: logger.With().Str("component", "queue").Logger()}, nil
}

// Consume blocks processing ticks until the context is cancelled or the
// channel closes.
func (c *Consumer) Consume(ctx context.Context, handle func(ctx context.Context, campaignID int) error) error {
	deliveries, err := c.ch.Consume(tickQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("tick channel closed")
			}
			c.handleDelivery(ctx, d, handle)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery, handle func(ctx context.Context, campaignID int) error) {
	var tick Tick
	if err := json.Unmarshal(d.Body, &tick); err != nil {
		c.logger.Warn().Err(err).Msg("discarding malformed tick")
		d.Ack(false)
		return
	}

	if err := handle(ctx, tick.CampaignID); err != nil {
		retries := retryCount(d.Headers)
		if retries < maxRetries {
			// Nack-requeue would not let us bump the retry header, so
			// republish a fresh copy and ack the original.
			if perr := publish(c.ch, tick, retries+1); perr != nil {
				c.logger.Error().Err(perr).Int("campaign_id", tick.CampaignID).Msg("could not requeue tick")
			}
		} else {
			c.logger.Warn().Err(err).
				Int("campaign_id", tick.CampaignID).
				Int("retries", retries).
				Msg("dropping tick after repeated failures")
		}
	}
	d.Ack(false)
}

func declareTickQueue(ch *amqp.Channel) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(tickQueue, true, false, false, false, nil)
	if err != nil {
		return q, fmt.Errorf("declare queue %s: %w", tickQueue, err)
	}
	return q, nil
}

func publish(ch *amqp.Channel, tick Tick, retries int) error {
	body, err := json.Marshal(tick)
	if err != nil {
		return err
	}
	return ch.Publish("", tickQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{"x-retry-count": int32(retries)},
		Body:         body,
	})
}

func retryCount(headers amqp.Table) int {
	switch v := headers["x-retry-count"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
