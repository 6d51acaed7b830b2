package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medbin-backend/internal/models"
)

type fakeSender struct {
	sent []*messaging.MulticastMessage
	err  error
}

func (f *fakeSender) SendEachForMulticast(_ context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, m)
	return &messaging.BatchResponse{SuccessCount: len(m.Tokens)}, nil
}

type fakeTokens map[string][]string

func (f fakeTokens) Tokens(_ context.Context, deviceID string) ([]string, error) {
	return f[deviceID], nil
}

func TestCollectingModeChanged_PushesCommand(t *testing.T) {
	sender := &fakeSender{}
	svc := NewFCMServiceWithClient(sender, fakeTokens{"DEV-1": {"tok-a", "tok-b"}})

	svc.CollectingModeChanged(context.Background(), "DEV-1", true)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.ElementsMatch(t, []string{"tok-a", "tok-b"}, msg.Tokens)
	assert.Equal(t, "setCollectingMode", msg.Data["command"])
	assert.Equal(t, "true", msg.Data["isCollecting"])
	assert.Equal(t, "high", msg.Android.Priority)
}

func TestCollectingModeChanged_NoTokens(t *testing.T) {
	sender := &fakeSender{}
	svc := NewFCMServiceWithClient(sender, fakeTokens{})

	svc.CollectingModeChanged(context.Background(), "DEV-404", false)
	assert.Empty(t, sender.sent)
}

func TestCollectionPointCreated_OnlyInferred(t *testing.T) {
	sender := &fakeSender{}
	svc := NewFCMServiceWithClient(sender, fakeTokens{"DRV-1": {"tok"}})
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	svc.CollectionPointCreated(context.Background(), models.CollectionPoint{ID: "cp-1", DriverID: "DRV-1", Source: models.SourceExplicit, Timestamp: at})
	assert.Empty(t, sender.sent)

	svc.CollectionPointCreated(context.Background(), models.CollectionPoint{ID: "cp-2", DriverID: "DRV-1", Source: models.SourceInferred, Timestamp: at})
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "cp-2", sender.sent[0].Data["collection_point_id"])
	assert.Equal(t, "1709280000000", sender.sent[0].Data["timestamp"])
}

func TestSendToDevice_Error(t *testing.T) {
	svc := NewFCMServiceWithClient(&fakeSender{err: errors.New("quota")}, fakeTokens{"DEV-1": {"tok"}})
	err := svc.SendToDevice(context.Background(), "DEV-1", nil, map[string]string{"type": "x"})
	assert.ErrorContains(t, err, "quota")
}
