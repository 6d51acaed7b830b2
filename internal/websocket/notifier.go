package websocket

import (
	"context"
	"time"

	"medbin-backend/internal/models"
	"medbin-backend/internal/tracking"
)

var dashboardRoles = []string{models.RoleOperator, models.RoleAdmin}

// Notifier pushes engine events to connected dashboards and devices.
type Notifier struct {
	hub      *Hub
	throttle *Throttle
	now      func() time.Time
}

var _ tracking.Notifier = (*Notifier)(nil)

func NewNotifier(hub *Hub, throttle *Throttle) *Notifier {
	return &Notifier{hub: hub, throttle: throttle, now: time.Now}
}

func (n *Notifier) LocationIngested(_ context.Context, state models.DeviceState) {
	if n.throttle != nil && !n.throttle.Allow(state.DeviceID, state.Coordinates, state.Timestamp) {
		return
	}
	n.hub.BroadcastToRoles(Event{
		Type: EventDeviceLocationUpdate,
		Data: tracking.DeviceStatus(state, n.now()),
	}, dashboardRoles...)
}

func (n *Notifier) CollectionPointCreated(_ context.Context, cp models.CollectionPoint) {
	n.hub.BroadcastToRoles(Event{Type: EventCollectionPointCreated, Data: cp}, dashboardRoles...)
}

// CollectingModeChanged tells dashboards and, when it is connected, the device itself.
func (n *Notifier) CollectingModeChanged(_ context.Context, deviceID string, isCollecting bool) {
	payload := map[string]interface{}{
		"deviceId":     deviceID,
		"isCollecting": isCollecting,
	}
	n.hub.BroadcastToRoles(Event{Type: EventCollectingModeChanged, Data: payload}, dashboardRoles...)

	if n.hub.IsUserConnected(deviceID) {
		n.hub.BroadcastToUser(deviceID, Event{Type: EventCommand, Data: map[string]interface{}{
			"command":      "setCollectingMode",
			"isCollecting": isCollecting,
		}})
	}
	if n.throttle != nil {
		n.throttle.Forget(deviceID)
	}
}
