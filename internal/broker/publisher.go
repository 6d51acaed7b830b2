package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"medbin-backend/internal/models"
	"medbin-backend/internal/tracking"
)

const publishTimeout = 5 * time.Second

// PublishMessage publishes a persistent JSON message and waits for the broker confirm.
func (client *Client) PublishMessage(ctx context.Context, exchange, routingKey string, body []byte) error {
	client.mu.RLock()
	ch := client.pubChan
	conn := client.conn
	client.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq: connection is not open")
	}
	if ch == nil || ch.IsClosed() {
		return errors.New("rabbitmq: publish channel is not open")
	}

	client.pubMu.Lock()
	defer client.pubMu.Unlock()
	confirms := client.pubConfirms

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := ch.PublishWithContext(ctx, exchange, routingKey, true, false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	); err != nil {
		return err
	}

	select {
	case c, ok := <-confirms:
		if !ok {
			return errors.New("rabbitmq: confirm stream closed")
		}
		if !c.Ack {
			return fmt.Errorf("rabbitmq: publish not acknowledged")
		}
	case <-ctx.Done():
		// drain one confirm so the stream stays aligned with publishes
		select {
		case <-confirms:
		case <-time.After(2 * time.Second):
		}
		return ctx.Err()
	}
	return nil
}

// Publisher is the slice of Client the event notifier needs.
type Publisher interface {
	PublishMessage(ctx context.Context, exchange, routingKey string, body []byte) error
}

// EventEnvelope is the body of every message on ExchangeEvents.
type EventEnvelope struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurredAt"`
	Data       interface{} `json:"data"`
}

// DefaultEventBuffer is how many events may wait for the broker before new ones are dropped.
const DefaultEventBuffer = 1024

type outboundEvent struct {
	eventType  string
	routingKey string
	body       []byte
}

// EventPublisher mirrors engine events onto ExchangeEvents. Events are queued
// and published by Run, so a slow broker never holds up ingest.
type EventPublisher struct {
	pub    Publisher
	now    func() time.Time
	events chan outboundEvent
}

var _ tracking.Notifier = (*EventPublisher)(nil)

func NewEventPublisher(pub Publisher) *EventPublisher {
	return NewEventPublisherSize(pub, DefaultEventBuffer)
}

func NewEventPublisherSize(pub Publisher, size int) *EventPublisher {
	if size < 1 {
		size = 1
	}
	return &EventPublisher{pub: pub, now: time.Now, events: make(chan outboundEvent, size)}
}

// Run publishes queued events until ctx ends.
func (p *EventPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if n := len(p.events); n > 0 {
				log.Printf("⚠️  Discarding %d unpublished events on shutdown", n)
			}
			return
		case ev := <-p.events:
			if err := p.pub.PublishMessage(ctx, ExchangeEvents, ev.routingKey, ev.body); err != nil {
				log.Printf("⚠️  Failed to publish %s event: %v", ev.eventType, err)
			}
		}
	}
}

func (p *EventPublisher) LocationIngested(ctx context.Context, state models.DeviceState) {
	p.publish(RouteLocationPrefix+state.DeviceID, "device_location_update", state)
}

func (p *EventPublisher) CollectionPointCreated(ctx context.Context, cp models.CollectionPoint) {
	p.publish(RouteCollectionPointPrefix+cp.DriverID, "collection_point_created", cp)
}

func (p *EventPublisher) CollectingModeChanged(ctx context.Context, deviceID string, isCollecting bool) {
	p.publish(RouteCollectingModePrefix+deviceID, "collecting_mode_changed", map[string]interface{}{
		"deviceId":     deviceID,
		"isCollecting": isCollecting,
	})
}

func (p *EventPublisher) publish(routingKey, eventType string, data interface{}) {
	body, err := json.Marshal(EventEnvelope{Type: eventType, OccurredAt: p.now().UTC(), Data: data})
	if err != nil {
		log.Printf("❌ Failed to marshal %s event: %v", eventType, err)
		return
	}
	select {
	case p.events <- outboundEvent{eventType: eventType, routingKey: routingKey, body: body}:
	default:
		log.Printf("⚠️  Event queue full, dropping %s event for %s", eventType, routingKey)
	}
}
