package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"sc_archive/internal/config"
	"sc_archive/internal/domain"
	"sc_archive/internal/publisher"
)

// Poster delivers a rendered payload to a webhook url.
type Poster interface {
	Post(ctx context.Context, url string, payload WebhookPayload) error
}

// Handler turns archive events into webhook posts.
type Handler struct {
	webhooks config.WebhooksConfig
	poster   Poster
	logger   *slog.Logger
}

func NewHandler(webhooks config.WebhooksConfig, poster Poster, logger *slog.Logger) *Handler {
	return &Handler{
		webhooks: webhooks,
		poster:   poster,
		logger:   logger,
	}
}

func (h *Handler) HandleArtist(ctx context.Context, body []byte) error {
	var msg publisher.ArtistMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode artist message: %w", err)
	}

	payload, ok := RenderArtist(msg)
	if !ok {
		return nil
	}

	url := h.webhooks.ArtistUpdated
	if msg.Event == domain.EventDeleted {
		url = h.webhooks.ArtistDeleted
	}
	return h.poster.Post(ctx, url, payload)
}

func (h *Handler) HandleTrack(ctx context.Context, body []byte) error {
	var msg publisher.TrackMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode track message: %w", err)
	}

	payload, ok := RenderTrack(msg)
	if !ok {
		return nil
	}

	var url string
	switch msg.Event {
	case domain.EventCreated:
		url = h.webhooks.TrackCreated
	case domain.EventUpdated:
		url = h.webhooks.TrackUpdated
	case domain.EventDeleted:
		url = h.webhooks.TrackDeleted
	}
	return h.poster.Post(ctx, url, payload)
}

func (h *Handler) HandleError(ctx context.Context, body []byte) error {
	return h.poster.Post(ctx, h.webhooks.Error, RenderError(string(body)))
}

// Consumer reads the artists, tracks and errors exchanges through queues of
// the same name and hands every delivery to a Handler.
type Consumer struct {
	url     string
	handler *Handler
	logger  *slog.Logger
}

func NewConsumer(url string, handler *Handler, logger *slog.Logger) *Consumer {
	return &Consumer{
		url:     url,
		handler: handler,
		logger:  logger.With("component", "watcher"),
	}
}

var errDeliveriesClosed = errors.New("delivery channel closed")

// Run consumes until ctx is done or the connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	conn, ch, err := publisher.Dial(c.url)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer ch.Close()

	artists, err := c.consume(ch, publisher.ExchangeArtists)
	if err != nil {
		return err
	}
	tracks, err := c.consume(ch, publisher.ExchangeTracks)
	if err != nil {
		return err
	}
	errs, err := c.consume(ch, publisher.ExchangeErrors)
	if err != nil {
		return err
	}

	c.logger.Info("watcher started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("watcher stopped")
			return ctx.Err()
		case d, ok := <-artists:
			if !ok {
				return errDeliveriesClosed
			}
			c.dispatch(ctx, publisher.ExchangeArtists, d, c.handler.HandleArtist)
		case d, ok := <-tracks:
			if !ok {
				return errDeliveriesClosed
			}
			c.dispatch(ctx, publisher.ExchangeTracks, d, c.handler.HandleTrack)
		case d, ok := <-errs:
			if !ok {
				return errDeliveriesClosed
			}
			c.dispatch(ctx, publisher.ExchangeErrors, d, c.handler.HandleError)
		}
	}
}

func (c *Consumer) consume(ch *amqp.Channel, name string) (<-chan amqp.Delivery, error) {
	q, err := ch.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}
	if err := ch.QueueBind(q.Name, "#", name, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue %s: %w", name, err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", name, err)
	}
	return deliveries, nil
}

// dispatch logs handler failures; deliveries are auto-acked and not retried.
func (c *Consumer) dispatch(ctx context.Context, queue string, d amqp.Delivery, handle func(context.Context, []byte) error) {
	if err := handle(ctx, d.Body); err != nil {
		c.logger.Error("could not send webhook", "queue", queue, "message_id", d.MessageId, "error", err)
	}
}
