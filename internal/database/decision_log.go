package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docsense/internal/model"
)

// DecisionLogDatabase is the append-only audit log written by the
// verification pass. Records are inserted, never updated or deleted.
type DecisionLogDatabase interface {
	AppendDecisionLog(ctx context.Context, record model.DecisionLogRecord) error
	GetDecisionLog(ctx context.Context, documentID string) ([]model.DecisionLogRecord, error)
}

// AppendDecisionLog inserts one audit record.
func (m *mongoDB) AppendDecisionLog(ctx context.Context, record model.DecisionLogRecord) error {
	_, err := m.decisionLogCol.InsertOne(ctx, record)
	if err != nil {
		return fmt.Errorf("failed to append decision log: %w", err)
	}
	return nil
}

// GetDecisionLog returns the audit records for a document in append order.
func (m *mongoDB) GetDecisionLog(ctx context.Context, documentID string) ([]model.DecisionLogRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := m.decisionLogCol.Find(ctx, bson.M{"document_id": documentID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []model.DecisionLogRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}
