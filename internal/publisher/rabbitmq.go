package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"sc_archive/internal/domain"
)

// RabbitMQ publishes events on the artists, tracks and errors exchanges. A
// publish that finds the connection gone dials again once before failing.
type RabbitMQ struct {
	url     string
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

type Config struct {
	URL string
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	r := &RabbitMQ{
		url:    cfg.URL,
		logger: logger,
	}

	if err := r.connect(); err != nil {
		return nil, err
	}

	logger.Info("connected to rabbitmq", "exchanges", Exchanges)

	return r, nil
}

// Dial opens a connection and a channel with all exchanges declared.
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	for _, name := range Exchanges {
		err = ch.ExchangeDeclare(
			name,
			"topic",
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			ch.Close()
			conn.Close()
			return nil, nil, fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}

	return conn, ch, nil
}

func (r *RabbitMQ) connect() error {
	conn, ch, err := Dial(r.url)
	if err != nil {
		return err
	}
	r.conn = conn
	r.channel = ch
	return nil
}

func (r *RabbitMQ) reconnect() error {
	r.closeLocked()
	return r.connect()
}

func (r *RabbitMQ) PublishArtist(ctx context.Context, event domain.EventType, changes domain.Changes, artist *domain.Artist) error {
	msg := ArtistMessage{
		Event:   event,
		Changes: changes,
		Artist:  NewArtistPayload(artist),
	}
	if err := r.publishJSON(ctx, ExchangeArtists, msg); err != nil {
		return err
	}

	r.logger.Debug("published artist event", "artist_id", artist.ID, "event", event)
	return nil
}

func (r *RabbitMQ) PublishTrack(ctx context.Context, event domain.EventType, changes domain.Changes, artist *domain.Artist, track *domain.Track) error {
	msg := TrackMessage{
		Event:   event,
		Changes: changes,
		Artist:  NewArtistPayload(artist),
		Track:   NewTrackPayload(track),
	}
	if err := r.publishJSON(ctx, ExchangeTracks, msg); err != nil {
		return err
	}

	r.logger.Debug("published track event", "track_id", track.ID, "event", event)
	return nil
}

// PublishError sends a plain text message on the errors exchange.
func (r *RabbitMQ) PublishError(ctx context.Context, message string) error {
	return r.publish(ctx, ExchangeErrors, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "text/plain",
		Body:         []byte(message),
	})
}

func (r *RabbitMQ) publishJSON(ctx context.Context, exchange string, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return r.publish(ctx, exchange, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
	})
}

func (r *RabbitMQ) publish(ctx context.Context, exchange string, msg amqp.Publishing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg.MessageId = uuid.NewString()
	msg.Timestamp = time.Now()

	if r.channel == nil || r.channel.IsClosed() {
		if err := r.reconnect(); err != nil {
			return fmt.Errorf("publish to %s: %w", exchange, err)
		}
	}

	err := r.channel.PublishWithContext(ctx, exchange, "", false, false, msg)
	if err == nil {
		return nil
	}
	if !r.connectionLost(err) {
		return fmt.Errorf("publish to %s: %w", exchange, err)
	}

	r.logger.Warn("rabbitmq connection lost, reconnecting", "exchange", exchange, "error", err)

	if err := r.reconnect(); err != nil {
		return fmt.Errorf("publish to %s: %w", exchange, err)
	}
	if err := r.channel.PublishWithContext(ctx, exchange, "", false, false, msg); err != nil {
		return fmt.Errorf("publish to %s after reconnect: %w", exchange, err)
	}
	return nil
}

func (r *RabbitMQ) connectionLost(err error) bool {
	if errors.Is(err, amqp.ErrClosed) {
		return true
	}
	return r.channel.IsClosed() || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *RabbitMQ) closeLocked() error {
	if r.channel != nil {
		r.channel.Close()
		r.channel = nil
	}
	if r.conn != nil {
		err := r.conn.Close()
		r.conn = nil
		if err != nil && !errors.Is(err, amqp.ErrClosed) {
			return err
		}
	}
	return nil
}
