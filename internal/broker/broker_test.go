package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medbin-backend/internal/models"
	"medbin-backend/internal/tracking"
)

func TestDecodeLocation(t *testing.T) {
	r, err := DecodeLocation([]byte(`{"deviceId":"DEV-1","coordinates":[76.9457,43.2364],"timestamp":"2024-03-01T08:00:00Z","battery":90,"speed":3.5,"isCollecting":true}`))
	require.NoError(t, err)
	assert.Equal(t, "DEV-1", r.DeviceID)
	assert.Equal(t, 76.9457, r.Coordinates.Lon())
	assert.Equal(t, 43.2364, r.Coordinates.Lat())
	assert.True(t, r.IsCollecting)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), r.Timestamp.UTC())

	for _, body := range []string{`not json`, `{"deviceId":"DEV-1","coordinates":[1]}`, `{"deviceId":"DEV-1"}`} {
		_, err := DecodeLocation([]byte(body))
		assert.ErrorIs(t, err, ErrPoison, body)
	}
}

func TestLocationHandler(t *testing.T) {
	svc := tracking.NewService(tracking.NewMemoryStore(), tracking.DefaultOptions())
	handle := LocationHandler(svc)
	ctx := context.Background()

	err := handle(ctx, amqp.Delivery{Body: []byte(`{"deviceId":"DEV-7","coordinates":[10,20],"battery":50}`)})
	require.NoError(t, err)
	st, err := svc.DeviceStatus(ctx, "DEV-7")
	require.NoError(t, err)
	assert.Equal(t, 50, st.Battery)

	err = handle(ctx, amqp.Delivery{Body: []byte(`{"deviceId":"DEV-7","coordinates":[10,95],"battery":50}`)})
	assert.ErrorIs(t, err, ErrPoison, "invalid reports are never retried")
}

type fakePublisher struct {
	mu     sync.Mutex
	delay  time.Duration
	keys   []string
	bodies [][]byte
	err    error
}

func (f *fakePublisher) PublishMessage(_ context.Context, exchange, key string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	time.Sleep(f.delay)
	if f.err != nil {
		return f.err
	}
	if exchange != ExchangeEvents {
		return errors.New("unexpected exchange " + exchange)
	}
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, body)
	return nil
}

func (f *fakePublisher) published() ([]string, [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...), append([][]byte(nil), f.bodies...)
}

func TestEventPublisher(t *testing.T) {
	fp := &fakePublisher{}
	p := NewEventPublisher(fp)
	p.now = func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.LocationIngested(ctx, models.DeviceState{DeviceID: "DEV-1", Battery: 40})
	p.CollectionPointCreated(ctx, models.CollectionPoint{ID: "cp-1", DriverID: "DRV-1"})
	p.CollectingModeChanged(ctx, "DEV-1", true)

	require.Eventually(t, func() bool {
		keys, _ := fp.published()
		return len(keys) == 3
	}, 2*time.Second, 10*time.Millisecond)

	keys, bodies := fp.published()
	assert.Equal(t, []string{
		"device.location.DEV-1",
		"collection_point.created.DRV-1",
		"device.collecting_mode.DEV-1",
	}, keys)

	var env struct {
		Type       string          `json:"type"`
		OccurredAt time.Time       `json:"occurredAt"`
		Data       json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(bodies[2], &env))
	assert.Equal(t, "collecting_mode_changed", env.Type)
	assert.JSONEq(t, `{"deviceId":"DEV-1","isCollecting":true}`, string(env.Data))
}

func TestEventPublisher_ErrorsAreSwallowed(t *testing.T) {
	p := NewEventPublisher(&fakePublisher{err: errors.New("connection is not open")})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	assert.NotPanics(t, func() {
		p.CollectingModeChanged(ctx, "DEV-1", false)
	})
}

func TestEventPublisher_SlowBrokerDoesNotStallIngest(t *testing.T) {
	fp := &fakePublisher{delay: 500 * time.Millisecond}
	events := NewEventPublisher(fp)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go events.Run(ctx)

	svc := tracking.NewService(tracking.NewMemoryStore(), tracking.DefaultOptions(), tracking.WithNotifier(events))

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Ingest(ctx, models.DeviceLocationReport{
				DeviceID:    fmt.Sprintf("DEV-%d", i),
				Coordinates: orb.Point{76.9457, 43.2364},
				Battery:     80,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestEventPublisher_FullQueueDropsEvents(t *testing.T) {
	fp := &fakePublisher{}
	p := NewEventPublisherSize(fp, 1)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			p.CollectingModeChanged(ctx, "DEV-1", i%2 == 0)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notifier blocked on a full queue")
	}
	assert.Len(t, p.events, 1)
}

type fakeAcknowledger struct {
	acked, nacked, requeued bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked, f.requeued = true, requeue
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.nacked, f.requeued = true, requeue
	return nil
}

func TestSettle(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		acked  bool
		nacked bool
	}{
		{"handled", nil, true, false},
		{"poison", fmt.Errorf("%w: bad body", ErrPoison), false, true},
		{"storage failure", errors.New("failed to append report: connection refused"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAcknowledger{}
			settle(QueueLocationIngest, amqp.Delivery{Acknowledger: ack, DeliveryTag: 1}, tt.err)
			assert.Equal(t, tt.acked, ack.acked)
			assert.Equal(t, tt.nacked, ack.nacked)
			assert.False(t, ack.requeued, "failed ingests are never retried")
		})
	}
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(20*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(30*time.Second))
}
