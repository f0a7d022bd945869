package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DocumentStatus represents the current state of a document
type DocumentStatus string

const (
	StatusQueued     DocumentStatus = "queued"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusError      DocumentStatus = "error"
)

// Terminal reports whether the status can no longer change.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Stage identifies one step of the document pipeline
type Stage string

const (
	StageQueued           Stage = "queued"
	StageClassifying      Stage = "classifying"
	StageCacheCheck       Stage = "cache-check"
	StageExtracting       Stage = "extracting"
	StageAnalyzing        Stage = "analyzing"
	StageEntityExtraction Stage = "entity-extraction"
	StageVerifying        Stage = "verifying"
	StagePersisting       Stage = "persisting"
	StageCompleted        Stage = "completed"
	StageError            Stage = "error"
)

// Document represents one unit of processing work
type Document struct {
	ID           primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	SourcePath   string              `bson:"source_path" json:"source_path"`
	MimeType     string              `bson:"mime_type" json:"mime_type"`
	Profile      string              `bson:"profile" json:"profile"`
	UserID       string              `bson:"user_id" json:"user_id"`
	Status       DocumentStatus      `bson:"status" json:"status"`
	Progress     int                 `bson:"progress" json:"progress"`
	LastMessage  string              `bson:"last_message" json:"last_message"`
	ContentHash  string              `bson:"content_hash,omitempty" json:"content_hash,omitempty"`
	Consensus    *ConsensusResult    `bson:"consensus,omitempty" json:"consensus,omitempty"`
	Verification *VerificationResult `bson:"verification,omitempty" json:"verification,omitempty"`
	CreatedAt    time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time           `bson:"updated_at" json:"updated_at"`
	CompletedAt  *time.Time          `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// CacheEntry is one content-addressed extraction result. Entries are created
// on first successful extraction of a content hash and never mutated after
// that, except for age-based expiry.
type CacheEntry struct {
	ContentHash          string            `json:"content_hash"`
	ExtractedText        string            `json:"extracted_text"`
	ExtractionConfidence float64           `json:"extraction_confidence"`
	PageCount            int               `json:"page_count"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	CachedAt             time.Time         `json:"cached_at"`
}

// ProgressEvent is one entry in the progress stream consumed by callers.
type ProgressEvent struct {
	DocumentID string    `json:"document_id"`
	Stage      Stage     `json:"stage"`
	Progress   int       `json:"progress"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// DecisionLogRecord is one append-only audit record written by the
// verification pass. Corrections produce a new record, never an update.
type DecisionLogRecord struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DocumentID string             `bson:"document_id" json:"document_id"`
	Stage      string             `bson:"stage" json:"stage"`
	Input      string             `bson:"input" json:"input"`
	Output     string             `bson:"output" json:"output"`
	Confidence float64            `bson:"confidence" json:"confidence"`
	ElapsedMs  int64              `bson:"elapsed_ms" json:"elapsed_ms"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
}
