package rabbitmq

import (
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"docsense/internal/model"
)

// Event kinds carried on the event exchange.
const (
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventAlert     = "alert"
)

// CompletedEvent is the terminal success payload.
type CompletedEvent struct {
	DocumentID   string                    `json:"document_id"`
	Consensus    *model.ConsensusResult    `json:"consensus"`
	Verification *model.VerificationResult `json:"verification,omitempty"`
	Timestamp    time.Time                 `json:"timestamp"`
}

// FailedEvent is the terminal failure payload.
type FailedEvent struct {
	DocumentID string              `json:"document_id"`
	ErrorKind  model.TaskErrorKind `json:"error_kind"`
	Message    string              `json:"message"`
	Timestamp  time.Time           `json:"timestamp"`
}

// AlertEvent reports a tripped circuit breaker.
type AlertEvent struct {
	Kind      model.TaskKind `json:"kind"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier publishes pipeline events to a fanout exchange. Delivery is
// fire-and-forget: publish errors are logged and dropped so the pipeline
// never blocks on the notification channel.
type Notifier struct {
	client   Client
	exchange string
}

// NewNotifier declares the event exchange and returns a notifier.
func NewNotifier(client Client, exchange string) (*Notifier, error) {
	if err := client.DeclareExchange(exchange, "fanout"); err != nil {
		return nil, err
	}
	return &Notifier{client: client, exchange: exchange}, nil
}

// PublishProgress emits one progress-stream event.
func (n *Notifier) PublishProgress(event model.ProgressEvent) {
	n.publish(EventProgress, event)
}

// PublishCompleted emits the terminal completed event.
func (n *Notifier) PublishCompleted(documentID string, consensus *model.ConsensusResult, verification *model.VerificationResult) {
	n.publish(EventCompleted, CompletedEvent{
		DocumentID:   documentID,
		Consensus:    consensus,
		Verification: verification,
		Timestamp:    time.Now(),
	})
}

// PublishFailed emits the terminal failure event.
func (n *Notifier) PublishFailed(documentID string, errorKind model.TaskErrorKind, message string) {
	n.publish(EventFailed, FailedEvent{
		DocumentID: documentID,
		ErrorKind:  errorKind,
		Message:    message,
		Timestamp:  time.Now(),
	})
}

// PublishBreakerAlert emits an alert when a task kind's breaker opens.
func (n *Notifier) PublishBreakerAlert(kind model.TaskKind) {
	n.publish(EventAlert, AlertEvent{
		Kind:      kind,
		Message:   "circuit breaker opened for task kind " + string(kind),
		Timestamp: time.Now(),
	})
}

func (n *Notifier) publish(eventType string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("Failed to encode event")
		return
	}

	headers := amqp.Table{"event_type": eventType}
	if err := n.client.Publish(n.exchange, "", body, headers); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event, dropping")
	}
}
