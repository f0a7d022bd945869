package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"docsense/internal/config"
	"docsense/internal/database"
	"docsense/internal/model"
	"docsense/internal/rabbitmq"
)

// Runner processes one document end to end.
type Runner interface {
	Process(ctx context.Context, documentID string) error
}

// DocumentController handles document intake and queue consumption
type DocumentController interface {
	// CreateDocument registers a new document and enqueues it for processing
	CreateDocument(ctx context.Context, sourcePath, mimeType, profile, userID string) (*model.Document, error)

	// Enqueue publishes an existing document for processing. Idempotent:
	// documents already queued, processing or terminal are left alone.
	Enqueue(ctx context.Context, documentID string) error

	// StartConsuming begins pulling documents off the processing queue
	StartConsuming(ctx context.Context) error

	// StopConsuming drains in-flight work and stops the consumer
	StopConsuming()

	GetDocument(ctx context.Context, documentID string) (*model.Document, error)
	ListDocuments(ctx context.Context) ([]model.Document, error)
}

type documentController struct {
	db           database.Database
	rabbitClient rabbitmq.Client
	rabbitConfig config.RabbitMQConfig
	runner       Runner
	consumerTag  string
	shutdown     chan struct{}
	wg           sync.WaitGroup
}

// NewDocumentController creates a document controller.
func NewDocumentController(db database.Database, rabbitClient rabbitmq.Client, rabbitConfig config.RabbitMQConfig, runner Runner) DocumentController {
	return &documentController{
		db:           db,
		rabbitClient: rabbitClient,
		rabbitConfig: rabbitConfig,
		runner:       runner,
		shutdown:     make(chan struct{}),
	}
}

// CreateDocument registers and enqueues a new document.
func (c *documentController) CreateDocument(ctx context.Context, sourcePath, mimeType, profile, userID string) (*model.Document, error) {
	doc := &model.Document{
		ID:          primitive.NewObjectID(),
		SourcePath:  sourcePath,
		MimeType:    mimeType,
		Profile:     profile,
		UserID:      userID,
		Status:      model.StatusQueued,
		Progress:    0,
		LastMessage: "Queued for processing",
	}

	if err := c.db.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	if err := c.publish(doc.ID.Hex()); err != nil {
		c.db.UpdateStatus(ctx, doc.ID.Hex(), model.StatusError, 0, "failed to enqueue for processing")
		return doc, fmt.Errorf("failed to enqueue document: %w", err)
	}

	log.Info().
		Str("documentId", doc.ID.Hex()).
		Str("profile", profile).
		Msg("Document created and enqueued")

	return doc, nil
}

// Enqueue re-publishes an existing document. Repeat calls while the document
// is queued or in flight are no-ops.
func (c *documentController) Enqueue(ctx context.Context, documentID string) error {
	doc, err := c.db.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	// Only error documents may be re-published. Queued documents already
	// have a message in flight, and in-flight or completed documents must
	// not be disturbed.
	if doc.Status != model.StatusError {
		log.Info().
			Str("documentId", documentID).
			Str("status", string(doc.Status)).
			Msg("Enqueue is a no-op for this document state")
		return nil
	}

	if err := c.db.UpdateStatus(ctx, documentID, model.StatusQueued, 0, "Re-queued for processing"); err != nil {
		return err
	}

	return c.publish(documentID)
}

// publish pushes a document id onto the processing queue.
func (c *documentController) publish(documentID string) error {
	headers := amqp.Table{"document_id": documentID}

	message, err := json.Marshal(map[string]string{"document_id": documentID})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := c.rabbitClient.Publish(c.rabbitConfig.ExchangeName, c.rabbitConfig.QueueName, message, headers); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

// StartConsuming declares the processing queue and starts the consumer.
func (c *documentController) StartConsuming(ctx context.Context) error {
	if err := c.rabbitClient.DeclareExchange(c.rabbitConfig.ExchangeName, "direct"); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue, err := c.rabbitClient.DeclareQueue(c.rabbitConfig.QueueName)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.rabbitConfig.QueueName, err)
	}

	if err := c.rabbitClient.BindQueue(c.rabbitConfig.QueueName, c.rabbitConfig.ExchangeName, c.rabbitConfig.QueueName); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", c.rabbitConfig.QueueName, err)
	}

	c.consumerTag = fmt.Sprintf("documents-consumer-%s", primitive.NewObjectID().Hex())
	c.startConsumer(ctx, queue.Name, c.consumerTag)

	log.Info().Str("queue", queue.Name).Msg("Document processing started")
	return nil
}

// StopConsuming stops the consumer and waits for in-flight documents.
func (c *documentController) StopConsuming() {
	close(c.shutdown)
	c.wg.Wait()
	log.Info().Msg("Document processing stopped")
}

func (c *documentController) startConsumer(ctx context.Context, queueName, consumerTag string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		log.Info().
			Str("queue", queueName).
			Str("consumerTag", consumerTag).
			Msg("Starting document consumer")

		for {
			select {
			case <-ctx.Done():
				log.Info().Str("consumerTag", consumerTag).Msg("Context cancelled, stopping consumer")
				return
			case <-c.shutdown:
				log.Info().Str("consumerTag", consumerTag).Msg("Shutdown signal received, stopping consumer")
				return
			default:
			}

			deliveries, err := c.rabbitClient.Consume(queueName, consumerTag)
			if err != nil {
				log.Error().
					Err(err).
					Str("queue", queueName).
					Msg("Failed to consume from queue")

				time.Sleep(5 * time.Second)
				continue
			}

			for delivery := range deliveries {
				c.processDelivery(ctx, delivery)
			}

			log.Warn().
				Str("queue", queueName).
				Msg("Consumer channel closed, reconnecting...")

			time.Sleep(5 * time.Second)
		}
	}()
}

// processDelivery runs the pipeline for one delivered document. Pipelines
// for different documents run concurrently; the delivery is acked once its
// pipeline finishes either way, since terminal state lives in the database.
func (c *documentController) processDelivery(ctx context.Context, delivery amqp.Delivery) {
	documentID, ok := delivery.Headers["document_id"].(string)
	if !ok {
		log.Error().Msg("Message missing document_id header, rejecting")
		delivery.Nack(false, false)
		return
	}

	logger := log.With().Str("documentId", documentID).Logger()
	logger.Info().Msg("Processing document message")

	// Redeliveries are normal under at-least-once delivery. A document that
	// is already terminal or in flight keeps its state; the duplicate is
	// acked away without touching it.
	doc, err := c.db.GetDocument(ctx, documentID)
	if err != nil {
		logger.Error().Err(err).Msg("Document not found, rejecting message")
		delivery.Nack(false, false)
		return
	}
	if doc.Status.Terminal() || doc.Status == model.StatusProcessing {
		logger.Info().
			Str("status", string(doc.Status)).
			Msg("Document not in a runnable state, acking duplicate delivery")
		delivery.Ack(false)
		return
	}

	if err := c.db.UpdateStatus(ctx, documentID, model.StatusProcessing, 0, "Processing started"); err != nil {
		logger.Error().Err(err).Msg("Failed to mark document processing")
		delivery.Nack(false, false)
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if err := c.runner.Process(ctx, documentID); err != nil {
			logger.Error().Err(err).Msg("Document processing failed")
		} else {
			logger.Info().Msg("Document processed successfully")
		}

		delivery.Ack(false)
	}()
}

// GetDocument fetches one document.
func (c *documentController) GetDocument(ctx context.Context, documentID string) (*model.Document, error) {
	return c.db.GetDocument(ctx, documentID)
}

// ListDocuments lists all documents.
func (c *documentController) ListDocuments(ctx context.Context) ([]model.Document, error) {
	return c.db.ListDocuments(ctx)
}
