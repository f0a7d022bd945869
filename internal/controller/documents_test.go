package controller

import (
	"context"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"docsense/internal/config"
	"docsense/internal/model"
)

// fakeDB is an in-memory Database holding a single document.
type fakeDB struct {
	mu       sync.Mutex
	doc      *model.Document
	statuses []model.DocumentStatus
	progress []int
}

func (d *fakeDB) Health() error { return nil }

func (d *fakeDB) CreateDocument(_ context.Context, doc *model.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doc = doc
	return nil
}

func (d *fakeDB) GetDocument(_ context.Context, _ string) (*model.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return nil, errors.New("not found")
	}
	return d.doc, nil
}

func (d *fakeDB) ListDocuments(_ context.Context) ([]model.Document, error) {
	return nil, nil
}

func (d *fakeDB) UpdateStatus(_ context.Context, _ string, status model.DocumentStatus, progress int, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses = append(d.statuses, status)
	d.progress = append(d.progress, progress)
	d.doc.Status = status
	d.doc.Progress = progress
	return nil
}

func (d *fakeDB) SaveResult(_ context.Context, _, _ string, _ *model.ConsensusResult, _ *model.VerificationResult) error {
	return nil
}

func (d *fakeDB) AppendEntities(_ context.Context, _ string, _ []model.Entity) error {
	return nil
}

func (d *fakeDB) AppendDecisionLog(_ context.Context, _ model.DecisionLogRecord) error {
	return nil
}

func (d *fakeDB) GetDecisionLog(_ context.Context, _ string) ([]model.DecisionLogRecord, error) {
	return nil, nil
}

// fakeRabbit counts publishes.
type fakeRabbit struct {
	mu        sync.Mutex
	published int
}

func (r *fakeRabbit) Close() error { return nil }

func (r *fakeRabbit) DeclareExchange(_, _ string) error { return nil }

func (r *fakeRabbit) DeclareQueue(name string) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, nil
}

func (r *fakeRabbit) BindQueue(_, _, _ string) error { return nil }

func (r *fakeRabbit) Publish(_, _ string, _ []byte, _ amqp.Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published++
	return nil
}

func (r *fakeRabbit) Consume(_, _ string) (<-chan amqp.Delivery, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeRabbit) Health() error { return nil }

func (r *fakeRabbit) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.published
}

// fakeRunner counts pipeline invocations.
type fakeRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeRunner) Process(_ context.Context, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeAck records delivery acknowledgements.
type fakeAck struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	rejects int
}

func (a *fakeAck) Ack(_ uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	return nil
}

func (a *fakeAck) Reject(_ uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejects++
	return nil
}

func queuedDocument(status model.DocumentStatus) *model.Document {
	return &model.Document{
		ID:         primitive.NewObjectID(),
		SourcePath: "uploads/report.pdf",
		MimeType:   "application/pdf",
		Profile:    "general",
		Status:     status,
	}
}

func newTestController(db *fakeDB, rabbit *fakeRabbit, runner *fakeRunner) *documentController {
	cfg := config.RabbitMQConfig{QueueName: "documents", ExchangeName: "docsense"}
	return NewDocumentController(db, rabbit, cfg, runner).(*documentController)
}

func delivery(ack *fakeAck, documentID string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		Headers:      amqp.Table{"document_id": documentID},
	}
}

func TestProcessDeliverySkipsTerminalDocument(t *testing.T) {
	for _, status := range []model.DocumentStatus{model.StatusCompleted, model.StatusError} {
		t.Run(string(status), func(t *testing.T) {
			doc := queuedDocument(status)
			doc.Progress = 100
			db := &fakeDB{doc: doc}
			runner := &fakeRunner{}
			c := newTestController(db, &fakeRabbit{}, runner)
			ack := &fakeAck{}

			c.processDelivery(context.Background(), delivery(ack, doc.ID.Hex()))
			c.wg.Wait()

			// A redelivered message for a terminal document is acked away
			// without touching its state or re-running the pipeline.
			assert.Equal(t, 0, runner.count())
			assert.Empty(t, db.statuses)
			assert.Equal(t, status, db.doc.Status)
			assert.Equal(t, 100, db.doc.Progress)
			assert.Equal(t, 1, ack.acks)
		})
	}
}

func TestProcessDeliverySkipsInFlightDocument(t *testing.T) {
	db := &fakeDB{doc: queuedDocument(model.StatusProcessing)}
	runner := &fakeRunner{}
	c := newTestController(db, &fakeRabbit{}, runner)
	ack := &fakeAck{}

	c.processDelivery(context.Background(), delivery(ack, db.doc.ID.Hex()))
	c.wg.Wait()

	assert.Equal(t, 0, runner.count())
	assert.Empty(t, db.statuses)
	assert.Equal(t, 1, ack.acks)
}

func TestProcessDeliveryRunsQueuedDocument(t *testing.T) {
	db := &fakeDB{doc: queuedDocument(model.StatusQueued)}
	runner := &fakeRunner{}
	c := newTestController(db, &fakeRabbit{}, runner)
	ack := &fakeAck{}

	c.processDelivery(context.Background(), delivery(ack, db.doc.ID.Hex()))
	c.wg.Wait()

	assert.Equal(t, 1, runner.count())
	require.NotEmpty(t, db.statuses)
	assert.Equal(t, model.StatusProcessing, db.statuses[0])
	assert.Equal(t, 1, ack.acks)
}

func TestProcessDeliveryRejectsUnknownDocument(t *testing.T) {
	db := &fakeDB{}
	runner := &fakeRunner{}
	c := newTestController(db, &fakeRabbit{}, runner)
	ack := &fakeAck{}

	c.processDelivery(context.Background(), delivery(ack, primitive.NewObjectID().Hex()))
	c.wg.Wait()

	assert.Equal(t, 0, runner.count())
	assert.Equal(t, 1, ack.nacks)
}

func TestProcessDeliveryRejectsMissingHeader(t *testing.T) {
	c := newTestController(&fakeDB{doc: queuedDocument(model.StatusQueued)}, &fakeRabbit{}, &fakeRunner{})
	ack := &fakeAck{}

	c.processDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Headers: amqp.Table{}})
	c.wg.Wait()

	assert.Equal(t, 1, ack.nacks)
}

func TestEnqueueIsIdempotentPerStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    model.DocumentStatus
		publishes int
		requeued  bool
	}{
		{name: "queued is a no-op", status: model.StatusQueued, publishes: 0},
		{name: "processing is a no-op", status: model.StatusProcessing, publishes: 0},
		{name: "completed is a no-op", status: model.StatusCompleted, publishes: 0},
		{name: "error is re-published", status: model.StatusError, publishes: 1, requeued: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDB{doc: queuedDocument(tt.status)}
			rabbit := &fakeRabbit{}
			c := newTestController(db, rabbit, &fakeRunner{})

			require.NoError(t, c.Enqueue(context.Background(), db.doc.ID.Hex()))

			assert.Equal(t, tt.publishes, rabbit.count())
			if tt.requeued {
				require.NotEmpty(t, db.statuses)
				assert.Equal(t, model.StatusQueued, db.statuses[0])
			} else {
				assert.Empty(t, db.statuses)
			}
		})
	}
}

func TestEnqueueDoubleCallPublishesOnce(t *testing.T) {
	db := &fakeDB{doc: queuedDocument(model.StatusError)}
	rabbit := &fakeRabbit{}
	c := newTestController(db, rabbit, &fakeRunner{})
	id := db.doc.ID.Hex()

	// First call re-queues and publishes; the second sees queued and backs off.
	require.NoError(t, c.Enqueue(context.Background(), id))
	require.NoError(t, c.Enqueue(context.Background(), id))

	assert.Equal(t, 1, rabbit.count())
}

func TestCreateDocumentPublishesOnce(t *testing.T) {
	db := &fakeDB{}
	rabbit := &fakeRabbit{}
	c := newTestController(db, rabbit, &fakeRunner{})

	doc, err := c.CreateDocument(context.Background(), "uploads/a.pdf", "application/pdf", "legal", "user-1")
	require.NoError(t, err)

	assert.Equal(t, model.StatusQueued, doc.Status)
	assert.Equal(t, 1, rabbit.count())
}
