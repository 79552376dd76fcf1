package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/ports"
)

// FanoutQueue : un seul membre du groupe traite chaque post
const FanoutQueue = "social-fanout"

// FanoutTimeout borne chaque fan-out lancé depuis un événement
const FanoutTimeout = 30 * time.Second

type EventHandler struct {
	service ports.FeedService
	wg      sync.WaitGroup
}

func NewEventHandler(service ports.FeedService) *EventHandler {
	return &EventHandler{service: service}
}

// Subscribe branche le handler sur le subject post.created (queue group)
func (h *EventHandler) Subscribe(nc *nats.Conn, subject string) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, FanoutQueue, h.HandlePostCreated)
}

// postCreatedEvent : même forme que le payload publié par le NatsPublisher
type postCreatedEvent struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *EventHandler) HandlePostCreated(msg *nats.Msg) {
	// Extraction du contexte de trace posé par le publisher
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))

	tracer := otel.Tracer("social-service")
	ctx, span := tracer.Start(ctx, "process_post_created", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var event postCreatedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		span.RecordError(err)
		slog.Error("❌ Invalid event format", "error", err)
		return
	}
	if event.ID == "" || event.AuthorID == "" {
		slog.Error("❌ Incomplete post event", "post_id", event.ID, "author_id", event.AuthorID)
		return
	}

	slog.Info("📨 Social service received event", "post_id", event.ID, "subject", msg.Subject)

	post := &domain.Post{
		ID:        event.ID,
		AuthorID:  event.AuthorID,
		Text:      event.Text,
		CreatedAt: event.CreatedAt,
		UpdatedAt: event.UpdatedAt,
	}

	// Fan-out en background, le ctx garde le TraceID
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		childCtx, cancel := context.WithTimeout(ctx, FanoutTimeout)
		defer cancel()

		if err := h.service.DistributePost(childCtx, post); err != nil {
			slog.Error("❌ Fan-out failed", "post_id", post.ID, "error", err)
		} else {
			slog.Debug("✅ Fan-out success", "post_id", post.ID)
		}
	}()
}

// Wait bloque jusqu'à la fin des fan-out en cours (graceful shutdown)
func (h *EventHandler) Wait() {
	h.wg.Wait()
}
