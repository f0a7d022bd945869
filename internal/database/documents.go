package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docsense/internal/model"
)

// DocumentDatabase covers the document lifecycle operations the pipeline and
// API need.
type DocumentDatabase interface {
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	ListDocuments(ctx context.Context) ([]model.Document, error)
	UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, progress int, message string) error
	SaveResult(ctx context.Context, id, extractedText string, consensus *model.ConsensusResult, verification *model.VerificationResult) error
	AppendEntities(ctx context.Context, id string, entities []model.Entity) error
}

// CreateDocument inserts a new document record.
func (m *mongoDB) CreateDocument(ctx context.Context, doc *model.Document) error {
	if doc.ID.IsZero() {
		doc.ID = primitive.NewObjectID()
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err := m.documentsCol.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetDocument fetches a document by its hex id.
func (m *mongoDB) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid document id %q: %w", id, err)
	}

	var doc model.Document
	err = m.documentsCol.FindOne(ctx, bson.M{"_id": objectID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("document %s not found", id)
	} else if err != nil {
		return nil, err
	}

	return &doc, nil
}

// ListDocuments returns all documents, newest first.
func (m *mongoDB) ListDocuments(ctx context.Context) ([]model.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := m.documentsCol.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []model.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// UpdateStatus writes a status/progress/message transition. Completed and
// error states also record the completion time.
func (m *mongoDB) UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, progress int, message string) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid document id %q: %w", id, err)
	}

	set := bson.M{
		"status":       status,
		"progress":     progress,
		"last_message": message,
		"updated_at":   time.Now(),
	}
	if status.Terminal() {
		set["completed_at"] = time.Now()
	}

	result, err := m.documentsCol.UpdateOne(ctx, bson.M{"_id": objectID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("document %s not found", id)
	}
	return nil
}

// SaveResult persists the extraction text plus the consensus and optional
// verification results on the document record.
func (m *mongoDB) SaveResult(ctx context.Context, id, extractedText string, consensus *model.ConsensusResult, verification *model.VerificationResult) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid document id %q: %w", id, err)
	}

	set := bson.M{
		"extracted_text": extractedText,
		"consensus":      consensus,
		"updated_at":     time.Now(),
	}
	if verification != nil {
		set["verification"] = verification
	}

	_, err = m.documentsCol.UpdateOne(ctx, bson.M{"_id": objectID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// AppendEntities stores extracted entities linked to the document.
func (m *mongoDB) AppendEntities(ctx context.Context, id string, entities []model.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	records := make([]interface{}, 0, len(entities))
	for _, entity := range entities {
		records = append(records, bson.M{
			"document_id": id,
			"type":        entity.Type,
			"value":       entity.Value,
			"confidence":  entity.Confidence,
			"created_at":  time.Now(),
		})
	}

	_, err := m.entitiesCol.InsertMany(ctx, records)
	if err != nil {
		return fmt.Errorf("failed to append entities: %w", err)
	}
	return nil
}
