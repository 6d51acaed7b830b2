package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"medbin-backend/internal/models"
	"medbin-backend/internal/tracking"
)

const pushTimeout = 5 * time.Second

// MulticastSender is the part of the FCM client used here.
type MulticastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// TokenSource looks up the registration tokens of a device.
type TokenSource interface {
	Tokens(ctx context.Context, deviceID string) ([]string, error)
}

// FCMService handles Firebase Cloud Messaging
type FCMService struct {
	client MulticastSender
	tokens TokenSource
}

var _ tracking.Notifier = (*FCMService)(nil)

// NewFCMService creates a new FCM service instance from a credentials file
func NewFCMService(credentialsFile string, tokens TokenSource) (*FCMService, error) {
	return newFCMService(option.WithCredentialsFile(credentialsFile), tokens)
}

// NewFCMServiceFromBase64 creates a new FCM service instance from base64-encoded credentials
// This is useful for cloud deployments where you can't upload files easily
func NewFCMServiceFromBase64(credentialsBase64 string, tokens TokenSource) (*FCMService, error) {
	credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsBase64)
	if err != nil {
		return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
	}
	return newFCMService(option.WithCredentialsJSON(credentialsJSON), tokens)
}

func newFCMService(opt option.ClientOption, tokens TokenSource) (*FCMService, error) {
	ctx := context.Background()

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return NewFCMServiceWithClient(client, tokens), nil
}

func NewFCMServiceWithClient(client MulticastSender, tokens TokenSource) *FCMService {
	return &FCMService{client: client, tokens: tokens}
}

// SendToDevice sends a data message to every token registered for the device.
// A device without tokens is not an error.
func (s *FCMService) SendToDevice(ctx context.Context, deviceID string, notification *messaging.Notification, data map[string]string) error {
	tokens, err := s.tokens.Tokens(ctx, deviceID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	message := &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: notification,
		Data:         data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
				},
			},
		},
	}

	response, err := s.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending multicast message: %w", err)
	}

	log.Printf("✅ FCM push to %s: %d success, %d failures", deviceID, response.SuccessCount, response.FailureCount)
	return nil
}

// LocationIngested is not pushed; devices are the source of locations.
func (s *FCMService) LocationIngested(context.Context, models.DeviceState) {}

// CollectionPointCreated tells the driver app about stops found in its trace.
func (s *FCMService) CollectionPointCreated(ctx context.Context, cp models.CollectionPoint) {
	if cp.Source != models.SourceInferred {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()

	err := s.SendToDevice(ctx, cp.DriverID, nil, map[string]string{
		"type":                "collection_point_created",
		"collection_point_id": cp.ID,
		"timestamp":           strconv.FormatInt(cp.Timestamp.UnixMilli(), 10),
	})
	if err != nil {
		log.Printf("⚠️  FCM collection point push to %s failed: %v", cp.DriverID, err)
	}
}

// CollectingModeChanged delivers the setCollectingMode command to the device.
func (s *FCMService) CollectingModeChanged(ctx context.Context, deviceID string, isCollecting bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()

	err := s.SendToDevice(ctx, deviceID, nil, map[string]string{
		"type":         "command",
		"command":      "setCollectingMode",
		"isCollecting": strconv.FormatBool(isCollecting),
	})
	if err != nil {
		log.Printf("⚠️  FCM command push to %s failed: %v", deviceID, err)
	}
}
