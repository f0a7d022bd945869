// Package pipeline drives a document through its processing stages: classify,
// cache check, extraction, analysis, entity extraction, verification and
// persistence. Stages for one document always run strictly in order; separate
// documents run independently and concurrently.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"docsense/internal/analyzer"
	"docsense/internal/cache"
	"docsense/internal/consensus"
	"docsense/internal/executor"
	"docsense/internal/model"
	"docsense/internal/profile"
)

// Progress checkpoints per stage. Extraction reports incrementally inside
// its band as tasks complete.
const (
	progressClassify     = 5
	progressCacheCheck   = 25
	progressExtractStart = 30
	progressExtractEnd   = 60
	progressAnalyzeEnd   = 75
	progressEntitiesEnd  = 85
	progressVerifyEnd    = 95
	progressComplete     = 100
)

// extractionUnitSize is the byte span handed to one OCR task. Multi-unit
// sources fan out to one task per unit.
const extractionUnitSize = 64 * 1024

// RecordStore is the durable record store collaborator.
type RecordStore interface {
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, progress int, message string) error
	SaveResult(ctx context.Context, id, extractedText string, consensus *model.ConsensusResult, verification *model.VerificationResult) error
	AppendEntities(ctx context.Context, id string, entities []model.Entity) error
}

// ByteSource fetches a document's raw bytes by source path.
type ByteSource interface {
	Fetch(ctx context.Context, sourcePath string) ([]byte, error)
}

// Notifier publishes progress and terminal events. Implementations never
// block the pipeline on delivery.
type Notifier interface {
	PublishProgress(event model.ProgressEvent)
	PublishCompleted(documentID string, consensus *model.ConsensusResult, verification *model.VerificationResult)
	PublishFailed(documentID string, errorKind model.TaskErrorKind, message string)
}

// Verifier runs the independent verification pass.
type Verifier interface {
	Verify(ctx context.Context, documentID string, consensus *model.ConsensusResult, sourceText string, prof profile.Profile) (*model.VerificationResult, error)
}

// Pipeline orchestrates document processing.
type Pipeline struct {
	store     RecordStore
	source    ByteSource
	cache     *cache.ContentCache
	exec      *executor.Executor
	analyzers *analyzer.Registry
	engine    *consensus.Engine
	verifier  Verifier
	notifier  Notifier
	extractor analyzer.Analyzer
	retries   int
}

// New creates a pipeline. extractor is the OCR/vision-capable backend used
// for extraction tasks; verifier may be nil when no backend can verify.
func New(store RecordStore, source ByteSource, contentCache *cache.ContentCache, exec *executor.Executor,
	analyzers *analyzer.Registry, engine *consensus.Engine, verifier Verifier, notifier Notifier,
	extractor analyzer.Analyzer, maxRetries int) *Pipeline {
	return &Pipeline{
		store:     store,
		source:    source,
		cache:     contentCache,
		exec:      exec,
		analyzers: analyzers,
		engine:    engine,
		verifier:  verifier,
		notifier:  notifier,
		extractor: extractor,
		retries:   maxRetries,
	}
}

// run tracks per-document progress. Progress never decreases even when a
// stage reports a lower checkpoint than one already emitted.
type run struct {
	pipeline   *Pipeline
	documentID string
	progress   int
	mu         sync.Mutex
}

// transition moves the run to a stage checkpoint, persists the status and
// emits a progress event.
func (r *run) transition(ctx context.Context, stage model.Stage, progress int, message string) {
	// The lock is held across persist and publish so concurrent unit
	// completions emit a non-decreasing progress stream.
	r.mu.Lock()
	defer r.mu.Unlock()

	if progress > r.progress {
		r.progress = progress
	}
	progress = r.progress

	if err := r.pipeline.store.UpdateStatus(ctx, r.documentID, model.StatusProcessing, progress, message); err != nil {
		log.Warn().Err(err).Str("documentId", r.documentID).Msg("Failed to persist progress update")
	}

	r.pipeline.notifier.PublishProgress(model.ProgressEvent{
		DocumentID: r.documentID,
		Stage:      stage,
		Progress:   progress,
		Message:    message,
		Timestamp:  time.Now(),
	})

	log.Debug().
		Str("documentId", r.documentID).
		Str("stage", string(stage)).
		Int("progress", progress).
		Msg(message)
}

// fail moves the document to its terminal error state.
func (r *run) fail(ctx context.Context, kind model.TaskErrorKind, message string) error {
	if err := r.pipeline.store.UpdateStatus(ctx, r.documentID, model.StatusError, r.progress, message); err != nil {
		log.Error().Err(err).Str("documentId", r.documentID).Msg("Failed to persist error state")
	}

	r.pipeline.notifier.PublishFailed(r.documentID, kind, message)

	log.Error().
		Str("documentId", r.documentID).
		Str("errorKind", string(kind)).
		Msg(message)

	return fmt.Errorf("%s: %s", kind, message)
}

// Process runs the full pipeline for one document. Terminal completed always
// carries a consensus result; terminal error always carries a readable cause.
func (p *Pipeline) Process(ctx context.Context, documentID string) error {
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to load document %s: %w", documentID, err)
	}
	if doc.Status.Terminal() {
		log.Info().
			Str("documentId", documentID).
			Str("status", string(doc.Status)).
			Msg("Document already terminal, skipping")
		return nil
	}

	r := &run{pipeline: p, documentID: documentID}

	// Classifying
	r.transition(ctx, model.StageClassifying, progressClassify, "Classifying document")
	prof, known := profile.Parse(doc.Profile)
	if !known {
		log.Warn().
			Str("documentId", documentID).
			Str("profile", doc.Profile).
			Msg("Unknown domain profile, falling back to general")
	}
	spec := prof.Spec()
	visionSource := strings.HasPrefix(doc.MimeType, "image/")

	data, err := p.source.Fetch(ctx, doc.SourcePath)
	if err != nil {
		return r.fail(ctx, model.ErrExtractionFailed, fmt.Sprintf("source unreadable: %v", err))
	}

	// Cache check: hashing the raw bytes keys repeat uploads of identical
	// content to the same entry regardless of filename.
	hash := cache.ContentHash(data)
	r.transition(ctx, model.StageCacheCheck, progressCacheCheck, "Checking extraction cache")

	var text string
	var ocrConfidence float64
	var pageCount int

	entry, err := p.cache.Lookup(ctx, hash)
	if err == nil {
		text = entry.ExtractedText
		ocrConfidence = entry.ExtractionConfidence
		pageCount = entry.PageCount
		// Cache hit skips the whole extraction stage.
		r.transition(ctx, model.StageExtracting, progressExtractEnd, "Extraction cache hit")
	} else {
		text, ocrConfidence, pageCount, err = p.extract(ctx, r, doc, data, visionSource)
		if err != nil {
			return r.fail(ctx, model.ErrExtractionFailed, err.Error())
		}

		if err := p.cache.Store(ctx, hash, text, ocrConfidence, pageCount, map[string]string{
			"mime_type": doc.MimeType,
			"source":    doc.SourcePath,
		}); err != nil {
			log.Warn().Err(err).Str("documentId", documentID).Msg("Failed to cache extraction result")
		}
	}

	if err := ctx.Err(); err != nil {
		return r.fail(ctx, model.ErrCancelled, "processing cancelled")
	}

	// Analyzing
	r.transition(ctx, model.StageAnalyzing, progressExtractEnd, "Running analysis backends")
	outputs, err := p.analyze(ctx, doc, spec, text)
	if err != nil {
		return r.fail(ctx, model.ErrAllAnalyzersFailed, err.Error())
	}
	r.transition(ctx, model.StageAnalyzing, progressAnalyzeEnd, fmt.Sprintf("Analysis complete: %d of %d backends succeeded", len(outputs), len(p.analyzers.All())))

	// Entity extraction
	r.transition(ctx, model.StageEntityExtraction, progressAnalyzeEnd, "Extracting entities")
	entities := p.extractEntities(ctx, doc, spec, text, outputs)
	r.transition(ctx, model.StageEntityExtraction, progressEntitiesEnd, fmt.Sprintf("Extracted %d entities", len(entities)))

	consensusResult, err := p.engine.Consense(outputs, spec.Weights, consensus.Signals{
		OCRConfidence:        ocrConfidence,
		StructuredExtraction: len(entities) > 0,
		StructuralComplexity: pageCount > 3,
		VisionRegionUsed:     visionSource,
	})
	if err != nil {
		return r.fail(ctx, model.ErrAllAnalyzersFailed, err.Error())
	}

	// Verifying: a quality enhancement, never a blocking dependency.
	r.transition(ctx, model.StageVerifying, progressEntitiesEnd, "Verifying consensus result")
	var verification *model.VerificationResult
	if p.verifier != nil {
		verification, err = p.verifier.Verify(ctx, documentID, consensusResult, text, prof)
		if err != nil {
			log.Warn().
				Err(err).
				Str("documentId", documentID).
				Str("errorKind", string(model.ErrVerificationFailed)).
				Msg("Verification failed, keeping unverified consensus")
			verification = nil
		}
	}
	r.transition(ctx, model.StageVerifying, progressVerifyEnd, "Verification complete")

	// Persisting
	r.transition(ctx, model.StagePersisting, progressVerifyEnd, "Persisting results")
	if err := p.store.SaveResult(ctx, documentID, text, consensusResult, verification); err != nil {
		return r.fail(ctx, model.ErrPersistenceFailed, fmt.Sprintf("failed to persist results: %v", err))
	}
	if len(entities) > 0 {
		if err := p.store.AppendEntities(ctx, documentID, entities); err != nil {
			return r.fail(ctx, model.ErrPersistenceFailed, fmt.Sprintf("failed to persist entities: %v", err))
		}
	}

	message := fmt.Sprintf("Processing complete, accuracy score %.2f", consensusResult.AccuracyScore)
	if verification != nil && verification.NeedsManualReview {
		message = fmt.Sprintf("Processing complete, flagged for manual review: %s", verification.ReviewReason)
	}
	if err := p.store.UpdateStatus(ctx, documentID, model.StatusCompleted, progressComplete, message); err != nil {
		return r.fail(ctx, model.ErrPersistenceFailed, fmt.Sprintf("failed to persist completion: %v", err))
	}

	r.pipeline.notifier.PublishProgress(model.ProgressEvent{
		DocumentID: documentID,
		Stage:      model.StageCompleted,
		Progress:   progressComplete,
		Message:    message,
		Timestamp:  time.Now(),
	})
	p.notifier.PublishCompleted(documentID, consensusResult, verification)

	log.Info().
		Str("documentId", documentID).
		Float64("confidence", consensusResult.Confidence).
		Float64("accuracyScore", consensusResult.AccuracyScore).
		Bool("verified", verification != nil).
		Msg("Document processing completed")

	return nil
}

// extract fans one OCR task per extraction unit out to the executor and
// combines the unit texts in order.
func (p *Pipeline) extract(ctx context.Context, r *run, doc *model.Document, data []byte, visionSource bool) (string, float64, int, error) {
	if p.extractor == nil {
		return "", 0, 0, fmt.Errorf("no extraction backend registered")
	}

	units := splitUnits(data)
	kind := model.KindOCR
	if visionSource {
		kind = model.KindVisionRegion
	}

	r.transition(ctx, model.StageExtracting, progressExtractStart, fmt.Sprintf("Extracting text from %d units", len(units)))

	tasks := make([]model.Task, 0, len(units))
	for i, unit := range units {
		tasks = append(tasks, model.Task{
			ID:   uuid.New().String(),
			Kind: kind,
			Payload: model.TaskPayload{
				DocumentID: doc.ID.Hex(),
				Image:      unit,
				Page:       i,
				Profile:    doc.Profile,
			},
			Priority:   len(units) - i,
			MaxRetries: p.retries,
		})
	}

	var completed int
	var progressMu sync.Mutex
	total := len(tasks)

	results := p.exec.Run(ctx, tasks, func(ctx context.Context, task model.Task) (*model.TaskOutcome, error) {
		output, err := p.extractor.Analyze(ctx, analyzer.AnalyzeRequest{
			Image:  task.Payload.Image,
			Prompt: "Extract all text from this document region.",
		})
		if err != nil {
			return nil, err
		}

		progressMu.Lock()
		completed++
		done := completed
		progressMu.Unlock()

		r.transition(ctx, model.StageExtracting,
			progressExtractStart+(progressExtractEnd-progressExtractStart)*done/total,
			fmt.Sprintf("Extracted unit %d of %d", done, total))

		return &model.TaskOutcome{Text: output.Summary, Confidence: output.Confidence}, nil
	})

	// Pages combine in submission order; results arrive in any order.
	byTask := make(map[string]model.TaskResult, len(results))
	for _, result := range results {
		byTask[result.TaskID] = result
	}

	type page struct {
		index int
		text  string
	}
	var pages []page
	var confidence float64
	succeeded := 0

	for _, task := range tasks {
		result := byTask[task.ID]
		if !result.Succeeded || result.Value == nil {
			log.Warn().
				Str("documentId", doc.ID.Hex()).
				Str("taskId", task.ID).
				Str("errorKind", string(result.ErrorKind)).
				Int("page", task.Payload.Page).
				Msg("Extraction unit failed")
			continue
		}
		pages = append(pages, page{index: task.Payload.Page, text: result.Value.Text})
		confidence += result.Confidence
		succeeded++
	}

	if succeeded == 0 {
		return "", 0, 0, fmt.Errorf("extraction failed for all %d units", total)
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].index < pages[j].index })
	texts := make([]string, 0, len(pages))
	for _, pg := range pages {
		texts = append(texts, pg.text)
	}

	return strings.Join(texts, "\n\n"), confidence / float64(succeeded), total, nil
}

// analyze fans one analysis task per registered backend out to the executor.
// Partial failure is tolerated; zero usable outputs is promoted to a
// document-level error by the caller.
func (p *Pipeline) analyze(ctx context.Context, doc *model.Document, spec profile.Spec, text string) ([]model.AnalyzerOutput, error) {
	backends := p.analyzers.All()
	if len(backends) == 0 {
		return nil, fmt.Errorf("no analyzer backends registered")
	}

	tasks := make([]model.Task, 0, len(backends))
	for _, backend := range backends {
		tasks = append(tasks, model.Task{
			ID:   uuid.New().String(),
			Kind: model.KindModelAnalysis,
			Payload: model.TaskPayload{
				DocumentID: doc.ID.Hex(),
				AnalyzerID: backend.ID(),
				Text:       text,
				Profile:    doc.Profile,
			},
			MaxRetries: p.retries,
		})
	}

	results := p.exec.Run(ctx, tasks, func(ctx context.Context, task model.Task) (*model.TaskOutcome, error) {
		backend, ok := p.analyzers.Get(task.Payload.AnalyzerID)
		if !ok {
			return nil, fmt.Errorf("analyzer %s not registered", task.Payload.AnalyzerID)
		}

		output, err := backend.Analyze(ctx, analyzer.AnalyzeRequest{
			Text:        task.Payload.Text,
			Prompt:      spec.PromptTemplate,
			EntityTypes: spec.EntityTypes,
		})
		if err != nil {
			return nil, err
		}

		return &model.TaskOutcome{Output: output, Confidence: output.Confidence}, nil
	})

	outputs := make([]model.AnalyzerOutput, 0, len(results))
	for _, result := range results {
		if result.Succeeded && result.Value != nil && result.Value.Output != nil {
			outputs = append(outputs, *result.Value.Output)
		}
	}

	if len(outputs) == 0 {
		return nil, fmt.Errorf("all %d analyzer tasks failed", len(tasks))
	}

	return outputs, nil
}

// extractEntities runs entity extraction per successful analyzer. Failures
// only reduce entity richness, they never fail the document.
func (p *Pipeline) extractEntities(ctx context.Context, doc *model.Document, spec profile.Spec, text string, outputs []model.AnalyzerOutput) []model.Entity {
	tasks := make([]model.Task, 0, len(outputs))
	for _, output := range outputs {
		tasks = append(tasks, model.Task{
			ID:   uuid.New().String(),
			Kind: model.KindEntityExtract,
			Payload: model.TaskPayload{
				DocumentID: doc.ID.Hex(),
				AnalyzerID: output.AnalyzerID,
				Text:       text,
				Profile:    doc.Profile,
			},
			MaxRetries: p.retries,
		})
	}

	results := p.exec.Run(ctx, tasks, func(ctx context.Context, task model.Task) (*model.TaskOutcome, error) {
		backend, ok := p.analyzers.Get(task.Payload.AnalyzerID)
		if !ok {
			return nil, fmt.Errorf("analyzer %s not registered", task.Payload.AnalyzerID)
		}

		entities, err := backend.ExtractEntities(ctx, task.Payload.Text, spec)
		if err != nil {
			return nil, err
		}

		return &model.TaskOutcome{Entities: entities}, nil
	})

	// Feed entities back into the matching analyzer output so consensus
	// weighting sees the richness, and pool them for persistence. Results
	// arrive in completion order, so correlate by task id.
	analyzerByTask := make(map[string]string, len(tasks))
	for _, task := range tasks {
		analyzerByTask[task.ID] = task.Payload.AnalyzerID
	}
	byAnalyzer := make(map[string][]model.Entity)
	for _, result := range results {
		if !result.Succeeded || result.Value == nil {
			continue
		}
		byAnalyzer[analyzerByTask[result.TaskID]] = result.Value.Entities
	}

	var all []model.Entity
	for i := range outputs {
		if entities, ok := byAnalyzer[outputs[i].AnalyzerID]; ok {
			outputs[i].Entities = append(outputs[i].Entities, entities...)
			all = append(all, entities...)
		}
	}

	return all
}

// splitUnits divides raw content into fixed-size extraction units, one task
// each. Small sources are a single unit.
func splitUnits(data []byte) [][]byte {
	if len(data) <= extractionUnitSize {
		return [][]byte{data}
	}

	units := make([][]byte, 0, (len(data)+extractionUnitSize-1)/extractionUnitSize)
	for start := 0; start < len(data); start += extractionUnitSize {
		end := start + extractionUnitSize
		if end > len(data) {
			end = len(data)
		}
		units = append(units, data[start:end])
	}
	return units
}
