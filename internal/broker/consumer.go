package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/paulmach/orb"
	amqp "github.com/rabbitmq/amqp091-go"

	"medbin-backend/internal/models"
)

const handlerTimeout = 30 * time.Second

// ErrPoison marks a delivery that can never succeed; it is dropped instead of requeued.
var ErrPoison = errors.New("poison message")

func (client *Client) newConsumerChannel(prefetch int) (*amqp.Channel, error) {
	client.mu.RLock()
	conn := client.conn
	client.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, errors.New("rabbitmq: connection is not ready")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	if prefetch < 0 {
		prefetch = 1
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("rabbitmq: set QoS (prefetch=%d): %w", prefetch, err)
		}
	}
	return ch, nil
}

// Consume delivers messages from queue to handler with manual acks until ctx
// ends or the channel closes. Messages the handler fails on are dropped.
func (client *Client) Consume(ctx context.Context, queue, consumerTag string, prefetch int, handler func(context.Context, amqp.Delivery) error) error {
	ch, err := client.newConsumerChannel(prefetch)
	if err != nil {
		return err
	}
	defer ch.Close()

	deliveries, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume(%s): %w", queue, err)
	}

	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			if consumerTag != "" {
				_ = ch.Cancel(consumerTag, false)
			}
			return nil

		case cerr := <-chClosed:
			if cerr != nil {
				return fmt.Errorf("rabbitmq: channel closed while consuming %s: %w", queue, cerr)
			}
			return nil

		case d, ok := <-deliveries:
			if !ok {
				return nil
			}

			hCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
			err := handler(hCtx, d)
			cancel()
			settle(queue, d, err)
		}
	}
}

// settle acks a handled delivery. A failed one is rejected without requeue:
// ingest failures are logged here and never retried.
func settle(queue string, d amqp.Delivery, err error) {
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, ErrPoison):
		log.Printf("⚠️  Dropping malformed message from %s: %v", queue, err)
		_ = d.Nack(false, false)
	default:
		log.Printf("❌ Failed to handle message from %s: %v", queue, err)
		_ = d.Nack(false, false)
	}
}

// ConsumeForever keeps a consumer running across reconnects until ctx ends.
func (client *Client) ConsumeForever(ctx context.Context, queue, consumerTag string, prefetch int, handler func(context.Context, amqp.Delivery) error) {
	backoff := time.Second
	for {
		err := client.Consume(ctx, queue, consumerTag, prefetch, handler)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("⚠️  Consumer %s stopped: %v (restart in %s)", queue, err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

// LocationMessage is a location report queued by a gateway.
type LocationMessage struct {
	DeviceID     string    `json:"deviceId"`
	Coordinates  []float64 `json:"coordinates"`
	Timestamp    time.Time `json:"timestamp"`
	Battery      int       `json:"battery"`
	Speed        float64   `json:"speed"`
	IsCollecting bool      `json:"isCollecting"`
	Altitude     *float64  `json:"altitude"`
}

// DecodeLocation turns a queued message into a report. Malformed bodies are poison.
func DecodeLocation(body []byte) (models.DeviceLocationReport, error) {
	var msg LocationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return models.DeviceLocationReport{}, fmt.Errorf("%w: %v", ErrPoison, err)
	}
	if len(msg.Coordinates) != 2 {
		return models.DeviceLocationReport{}, fmt.Errorf("%w: coordinates must be [longitude, latitude]", ErrPoison)
	}
	return models.DeviceLocationReport{
		DeviceID:     msg.DeviceID,
		Coordinates:  orb.Point{msg.Coordinates[0], msg.Coordinates[1]},
		Timestamp:    msg.Timestamp,
		Battery:      msg.Battery,
		Speed:        msg.Speed,
		IsCollecting: msg.IsCollecting,
		Altitude:     msg.Altitude,
	}, nil
}

// Ingester is the engine entry point queued reports are fed into.
type Ingester interface {
	Ingest(ctx context.Context, report models.DeviceLocationReport) (models.DeviceState, error)
}

// LocationHandler returns the delivery handler for QueueLocationIngest.
// Reports the engine rejects as invalid are poison; storage failures are retried.
func LocationHandler(ing Ingester) func(context.Context, amqp.Delivery) error {
	return func(ctx context.Context, d amqp.Delivery) error {
		report, err := DecodeLocation(d.Body)
		if err != nil {
			return err
		}
		if _, err := ing.Ingest(ctx, report); err != nil {
			if errors.Is(err, models.ErrValidation) {
				return fmt.Errorf("%w: %v", ErrPoison, err)
			}
			return err
		}
		return nil
	}
}
