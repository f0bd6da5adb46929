package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pkgkafka "github.com/aloauto/marketplace/pkg/kafka"
	"github.com/aloauto/marketplace/pkg/logger"
	"github.com/aloauto/marketplace/services/accounts/internal/domain"
)

// Kafka topics for account and address events.
var (
	TopicUserRegistered        = pkgkafka.Topic("user", "registered")
	TopicUserDeleted           = pkgkafka.Topic("user", "deleted")
	TopicAddressCreated        = pkgkafka.Topic("address", "created")
	TopicAddressUpdated        = pkgkafka.Topic("address", "updated")
	TopicAddressDefaultChanged = pkgkafka.Topic("address", "default_changed")
	TopicAddressDeleted        = pkgkafka.Topic("address", "deleted")
)

// Event types carried in the envelope.
const (
	TypeUserRegistered        = "user.registered"
	TypeUserDeleted           = "user.deleted"
	TypeAddressCreated        = "address.created"
	TypeAddressUpdated        = "address.updated"
	TypeAddressDefaultChanged = "address.default_changed"
	TypeAddressDeleted        = "address.deleted"
)

const (
	AggregateTypeUser    = "user"
	AggregateTypeAddress = "address"
	SourceAccounts       = "accounts-service"
)

// publishTimeout bounds a single publish. Publishing happens after commit,
// so it must not hold the request much longer than the write itself.
const publishTimeout = 2 * time.Second

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// UserDeletedData is the payload for user.deleted. Consumers drop the
// user's addresses along with it.
type UserDeletedData struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id,omitempty"`
}

// AddressData is the payload for address.created, address.updated and address.deleted.
type AddressData struct {
	*domain.Address
	ActorID string `json:"actor_id,omitempty"`
}

// DefaultChangedData is the payload for address.default_changed.
type DefaultChangedData struct {
	UserID    string               `json:"user_id"`
	AddressID string               `json:"address_id"`
	Kinds     []domain.DefaultKind `json:"kinds"`
}

// Producer publishes account domain events.
type Producer struct {
	publisher pkgkafka.Publisher
	logger    *slog.Logger
}

// NewProducer creates a new event producer for the accounts service.
func NewProducer(publisher pkgkafka.Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
	}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicUserRegistered, TypeUserRegistered, user.ID, AggregateTypeUser, user.ID, UserRegisteredData{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
	})
}

// PublishUserDeleted publishes a user.deleted event.
func (p *Producer) PublishUserDeleted(ctx context.Context, user *domain.User) error {
	actorID, _ := logger.ActorFromContext(ctx)
	return p.publish(ctx, TopicUserDeleted, TypeUserDeleted, user.ID, AggregateTypeUser, user.ID, UserDeletedData{
		ID:      user.ID,
		ActorID: actorID,
	})
}

// PublishAddressCreated publishes an address.created event.
func (p *Producer) PublishAddressCreated(ctx context.Context, a *domain.Address) error {
	return p.publishAddress(ctx, TopicAddressCreated, TypeAddressCreated, a)
}

// PublishAddressUpdated publishes an address.updated event.
func (p *Producer) PublishAddressUpdated(ctx context.Context, a *domain.Address) error {
	return p.publishAddress(ctx, TopicAddressUpdated, TypeAddressUpdated, a)
}

// PublishAddressDeleted publishes an address.deleted event.
func (p *Producer) PublishAddressDeleted(ctx context.Context, a *domain.Address) error {
	return p.publishAddress(ctx, TopicAddressDeleted, TypeAddressDeleted, a)
}

// PublishDefaultChanged publishes address.default_changed for the slots a
// became the default for.
func (p *Producer) PublishDefaultChanged(ctx context.Context, a *domain.Address, kinds []domain.DefaultKind) error {
	return p.publish(ctx, TopicAddressDefaultChanged, TypeAddressDefaultChanged, a.ID, AggregateTypeAddress, a.UserID, DefaultChangedData{
		UserID:    a.UserID,
		AddressID: a.ID,
		Kinds:     kinds,
	})
}

func (p *Producer) publishAddress(ctx context.Context, topic, eventType string, a *domain.Address) error {
	actorID, _ := logger.ActorFromContext(ctx)
	return p.publish(ctx, topic, eventType, a.ID, AggregateTypeAddress, a.UserID, AddressData{Address: a, ActorID: actorID})
}

// publish keys every event by the owning user so one user's address events
// stay ordered on a single partition.
func (p *Producer) publish(ctx context.Context, topic, eventType, aggregateID, aggregateType, ownerID string, data any) error {
	evt, err := pkgkafka.NewEvent(eventType, aggregateID, aggregateType, SourceAccounts, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", eventType, err)
	}
	evt.WithCorrelationID(logger.CorrelationIDFromContext(ctx)).WithMetadata("partition_key", ownerID)

	// Detach from request cancellation: the write already committed.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.publisher.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("event_type", eventType),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}
