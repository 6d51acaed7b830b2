package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeEvents carries engine events for downstream consumers
	// (billing, route planning). Routing keys are listed below.
	ExchangeEvents = "tracking.events"

	// ExchangeIngest receives location reports from gateways that cannot
	// reach the HTTP API directly.
	ExchangeIngest = "tracking.ingest"

	QueueLocationIngest = "device_locations"

	RouteLocationPrefix        = "device.location."
	RouteCollectionPointPrefix = "collection_point.created."
	RouteCollectingModePrefix  = "device.collecting_mode."
	RouteIngestLocation        = "location"
)

func declareTopology(ch *amqp.Channel) error {
	exchanges := []struct {
		name string
		kind string
	}{
		{ExchangeEvents, "topic"},
		{ExchangeIngest, "direct"},
	}
	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	if _, err := ch.QueueDeclare(QueueLocationIngest, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", QueueLocationIngest, err)
	}
	if err := ch.QueueBind(QueueLocationIngest, RouteIngestLocation, ExchangeIngest, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", QueueLocationIngest, ExchangeIngest, err)
	}
	return nil
}
