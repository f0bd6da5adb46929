package event

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgkafka "github.com/aloauto/marketplace/pkg/kafka"
	"github.com/aloauto/marketplace/pkg/logger"
	"github.com/aloauto/marketplace/services/accounts/internal/domain"
)

type published struct {
	topic string
	event *pkgkafka.Event
	ctx   context.Context
}

type recordingPublisher struct {
	got []published
	err error
}

func (r *recordingPublisher) Publish(ctx context.Context, topic string, event *pkgkafka.Event) error {
	r.got = append(r.got, published{topic: topic, event: event, ctx: ctx})
	return r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func sampleAddress() *domain.Address {
	return &domain.Address{
		ID:                "addr-1",
		UserID:            "user-1",
		Street:            "1 Main St",
		City:              "Porto",
		PostalCode:        "4000-001",
		Country:           "PT",
		IsDefaultShipping: true,
		CreatedAt:         time.Now().UTC(),
	}
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "marketplace.address.created", TopicAddressCreated)
	assert.Equal(t, "marketplace.address.default_changed", TopicAddressDefaultChanged)
	assert.Equal(t, "marketplace.user.registered", TopicUserRegistered)
}

func TestPublishAddressCreated_EnvelopeAndKey(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProducer(pub, testLogger())

	ctx := logger.WithCorrelationID(context.Background(), "corr-1")
	ctx = logger.WithActor(ctx, "admin-1", domain.RoleAdmin)
	a := sampleAddress()

	require.NoError(t, p.PublishAddressCreated(ctx, a))
	require.Len(t, pub.got, 1)

	msg := pub.got[0]
	assert.Equal(t, TopicAddressCreated, msg.topic)
	assert.Equal(t, TypeAddressCreated, msg.event.EventType)
	assert.Equal(t, "addr-1", msg.event.AggregateID)
	assert.Equal(t, "corr-1", msg.event.CorrelationID)
	assert.Equal(t, []byte("user-1"), msg.event.PartitionKey())

	var data struct {
		ID                string `json:"id"`
		UserID            string `json:"user_id"`
		IsDefaultShipping bool   `json:"is_default_shipping"`
		ActorID           string `json:"actor_id"`
	}
	require.NoError(t, msg.event.UnmarshalData(&data))
	assert.Equal(t, "addr-1", data.ID)
	assert.Equal(t, "user-1", data.UserID)
	assert.True(t, data.IsDefaultShipping)
	assert.Equal(t, "admin-1", data.ActorID)
}

func TestPublishDefaultChanged(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProducer(pub, testLogger())

	require.NoError(t, p.PublishDefaultChanged(context.Background(), sampleAddress(), []domain.DefaultKind{domain.DefaultBilling}))

	var data DefaultChangedData
	require.NoError(t, pub.got[0].event.UnmarshalData(&data))
	assert.Equal(t, []domain.DefaultKind{domain.DefaultBilling}, data.Kinds)
	assert.Equal(t, "user-1", data.UserID)
}

func TestPublish_DetachedFromRequestCancel(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProducer(pub, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.PublishAddressDeleted(ctx, sampleAddress()))
	assert.NoError(t, pub.got[0].ctx.Err())
	_, hasDeadline := pub.got[0].ctx.Deadline()
	assert.True(t, hasDeadline)
}

func TestPublish_ErrorWrapped(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	p := NewProducer(pub, testLogger())

	err := p.PublishAddressUpdated(context.Background(), sampleAddress())
	assert.ErrorContains(t, err, "publish address.updated event")
	assert.ErrorContains(t, err, "broker down")
}

func TestPublish_NopPublisher(t *testing.T) {
	p := NewProducer(pkgkafka.NopPublisher{}, testLogger())
	assert.NoError(t, p.PublishUserRegistered(context.Background(), &domain.User{ID: "u"}))
}

func TestPublishUserDeleted_KeyedByUser(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProducer(pub, testLogger())

	ctx := logger.WithActor(context.Background(), "admin-1", domain.RoleAdmin)
	require.NoError(t, p.PublishUserDeleted(ctx, &domain.User{ID: "user-1", Username: "ana"}))
	require.Len(t, pub.got, 1)

	msg := pub.got[0]
	assert.Equal(t, "marketplace.user.deleted", msg.topic)
	assert.Equal(t, TypeUserDeleted, msg.event.EventType)
	assert.Equal(t, []byte("user-1"), msg.event.PartitionKey())

	var data UserDeletedData
	require.NoError(t, msg.event.UnmarshalData(&data))
	assert.Equal(t, UserDeletedData{ID: "user-1", ActorID: "admin-1"}, data)
}
