package eventbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/domain"
)

const (
	StreamName     = "SOCIAL"
	SubjectPattern = "social.>"

	SubjectPostCreated       = "social.post.created"
	SubjectPostUpdated       = "social.post.updated"
	SubjectPostDeleted       = "social.post.deleted"
	SubjectFriendshipChanged = "social.friendship.changed"
)

// --- Payloads (Contrat implicite avec les consumers) ---

type PostEvent struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PostDeletedEvent struct {
	ID       string `json:"id"`
	AuthorID string `json:"author_id"`
}

type FriendshipChangedEvent struct {
	InitiatorID string `json:"initiator_id"`
	OtherID     string `json:"other_id"`
	Outcome     string `json:"outcome"`
}

type NatsPublisher struct {
	js jetstream.JetStream
}

// NewNatsPublisher s'assure que le Stream existe (Idempotent)
func NewNatsPublisher(ctx context.Context, nc *nats.Conn) (*NatsPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectPattern},
		Storage:  jetstream.FileStorage,
		Replicas: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}

	return &NatsPublisher{js: js}, nil
}

func (p *NatsPublisher) PublishPostCreated(ctx context.Context, post *domain.Post) error {
	return p.publish(ctx, SubjectPostCreated, toPostEvent(post))
}

func (p *NatsPublisher) PublishPostUpdated(ctx context.Context, post *domain.Post) error {
	return p.publish(ctx, SubjectPostUpdated, toPostEvent(post))
}

func (p *NatsPublisher) PublishPostDeleted(ctx context.Context, authorID, postID string) error {
	return p.publish(ctx, SubjectPostDeleted, PostDeletedEvent{ID: postID, AuthorID: authorID})
}

func (p *NatsPublisher) PublishFriendshipChanged(ctx context.Context, initiatorID, otherID, outcome string) error {
	return p.publish(ctx, SubjectFriendshipChanged, FriendshipChangedEvent{
		InitiatorID: initiatorID,
		OtherID:     otherID,
		Outcome:     outcome,
	})
}

func (p *NatsPublisher) publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	// Injection du trace ID dans les headers NATS
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	ack, err := p.js.PublishMsg(ctx, msg)
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	slog.Debug("📢 Event published", "subject", subject, "seq", ack.Sequence)
	return nil
}

func toPostEvent(post *domain.Post) PostEvent {
	return PostEvent{
		ID:        post.ID,
		AuthorID:  post.AuthorID,
		Text:      post.Text,
		CreatedAt: post.CreatedAt,
		UpdatedAt: post.UpdatedAt,
	}
}

// NoopPublisher est utilisé quand NATS n'est pas configuré
type NoopPublisher struct{}

func (NoopPublisher) PublishPostCreated(context.Context, *domain.Post) error { return nil }

func (NoopPublisher) PublishPostUpdated(context.Context, *domain.Post) error { return nil }

func (NoopPublisher) PublishPostDeleted(context.Context, string, string) error { return nil }

func (NoopPublisher) PublishFriendshipChanged(context.Context, string, string, string) error {
	return nil
}
