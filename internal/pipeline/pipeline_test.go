package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"docsense/internal/analyzer"
	"docsense/internal/cache"
	"docsense/internal/config"
	"docsense/internal/consensus"
	"docsense/internal/executor"
	"docsense/internal/model"
	"docsense/internal/profile"
)

// fakeStore is an in-memory RecordStore capturing every status update.
type fakeStore struct {
	mu       sync.Mutex
	doc      *model.Document
	statuses []model.DocumentStatus
	progress []int
	saved    *model.ConsensusResult
	verified *model.VerificationResult
	entities []model.Entity
}

func (s *fakeStore) GetDocument(_ context.Context, _ string) (*model.Document, error) {
	if s.doc == nil {
		return nil, errors.New("not found")
	}
	return s.doc, nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, _ string, status model.DocumentStatus, progress int, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	s.progress = append(s.progress, progress)
	return nil
}

func (s *fakeStore) SaveResult(_ context.Context, _, _ string, consensus *model.ConsensusResult, verification *model.VerificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = consensus
	s.verified = verification
	return nil
}

func (s *fakeStore) AppendEntities(_ context.Context, _ string, entities []model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = append(s.entities, entities...)
	return nil
}

type fakeSource struct {
	data []byte
}

func (s *fakeSource) Fetch(_ context.Context, _ string) ([]byte, error) {
	if s.data == nil {
		return nil, errors.New("object not found")
	}
	return s.data, nil
}

// fakeNotifier records the event stream.
type fakeNotifier struct {
	mu        sync.Mutex
	events    []model.ProgressEvent
	completed int
	failures  []model.TaskErrorKind
}

func (n *fakeNotifier) PublishProgress(event model.ProgressEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) PublishCompleted(_ string, _ *model.ConsensusResult, _ *model.VerificationResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed++
}

func (n *fakeNotifier) PublishFailed(_ string, errorKind model.TaskErrorKind, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, errorKind)
}

// fakeAnalyzer serves as extraction backend and analysis backend. Extraction
// requests carry image bytes, analysis requests carry text.
type fakeAnalyzer struct {
	id           string
	mu           sync.Mutex
	extractCalls int
	analyzeCalls int
	failAnalysis bool
}

func (a *fakeAnalyzer) ID() string { return a.id }

func (a *fakeAnalyzer) Analyze(_ context.Context, req analyzer.AnalyzeRequest) (*model.AnalyzerOutput, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if req.Image != nil {
		a.extractCalls++
		return &model.AnalyzerOutput{AnalyzerID: a.id, Summary: "extracted page text", Confidence: 0.95}, nil
	}

	a.analyzeCalls++
	if a.failAnalysis {
		return nil, errors.New("analysis backend unavailable")
	}
	return &model.AnalyzerOutput{
		AnalyzerID: a.id,
		Summary:    "Summary of the document from " + a.id,
		Insights:   []string{"Payment of $1,200 confirmed", "Risk flag in section " + a.id},
		Confidence: 0.9,
	}, nil
}

func (a *fakeAnalyzer) ExtractEntities(_ context.Context, _ string, _ profile.Spec) ([]model.Entity, error) {
	return []model.Entity{{Type: "amount", Value: "$1,200", Confidence: 0.9}}, nil
}

func (a *fakeAnalyzer) Check(_ context.Context, _ analyzer.CheckRequest) (*analyzer.CheckResponse, error) {
	return &analyzer.CheckResponse{VerifiedExtraction: "verified"}, nil
}

func newTestExecutor() *executor.Executor {
	cfg := config.ExecutorConfig{BaseDelayMs: 1, CapDelayMs: 2, MaxRetries: 0}
	return executor.New(executor.NewBreakerRegistry(config.DefaultBreakerConfig(), nil), cfg, nil)
}

func testDocument() *model.Document {
	return &model.Document{
		ID:         primitive.NewObjectID(),
		SourcePath: "uploads/contract.pdf",
		MimeType:   "application/pdf",
		Profile:    "financial",
		Status:     model.StatusQueued,
	}
}

// newTestPipeline wires a pipeline from fakes. Extra analyzers share the
// extraction backend's behavior.
func newTestPipeline(store *fakeStore, source *fakeSource, notifier *fakeNotifier, backends ...*fakeAnalyzer) *Pipeline {
	registry := analyzer.NewRegistry(nil)
	for _, b := range backends {
		registry.Register(b)
	}

	contentCache := cache.NewContentCache(cache.NewMemoryStore(8), nil)
	engine := consensus.NewEngine(config.DefaultConsensusConfig())

	return New(store, source, contentCache, newTestExecutor(), registry, engine, nil, notifier, backends[0], 0)
}

func TestProcessCompletesWithMonotonicProgress(t *testing.T) {
	store := &fakeStore{doc: testDocument()}
	notifier := &fakeNotifier{}
	backend := &fakeAnalyzer{id: "language"}
	p := newTestPipeline(store, &fakeSource{data: []byte("raw document bytes")}, notifier, backend)

	err := p.Process(context.Background(), store.doc.ID.Hex())
	require.NoError(t, err)

	// Progress events never decrease and the stream ends at 100.
	require.NotEmpty(t, notifier.events)
	last := 0
	for _, event := range notifier.events {
		assert.GreaterOrEqual(t, event.Progress, last, "progress went backwards at stage %s", event.Stage)
		last = event.Progress
	}
	assert.Equal(t, 100, last)
	assert.Equal(t, model.StageCompleted, notifier.events[len(notifier.events)-1].Stage)
	assert.Equal(t, 1, notifier.completed)

	// Terminal status carries the consensus result and pooled entities.
	assert.Equal(t, model.StatusCompleted, store.statuses[len(store.statuses)-1])
	require.NotNil(t, store.saved)
	assert.NotEmpty(t, store.saved.Summary)
	assert.NotEmpty(t, store.entities)
}

func TestProcessSkipsTerminalDocument(t *testing.T) {
	doc := testDocument()
	doc.Status = model.StatusCompleted
	store := &fakeStore{doc: doc}
	notifier := &fakeNotifier{}
	p := newTestPipeline(store, &fakeSource{data: []byte("bytes")}, notifier, &fakeAnalyzer{id: "language"})

	err := p.Process(context.Background(), doc.ID.Hex())
	require.NoError(t, err)

	assert.Empty(t, store.statuses, "terminal document must not be touched")
	assert.Empty(t, notifier.events)
}

func TestProcessCacheHitSkipsExtraction(t *testing.T) {
	data := []byte("identical uploaded content")
	store := &fakeStore{doc: testDocument()}
	notifier := &fakeNotifier{}
	backend := &fakeAnalyzer{id: "language"}
	p := newTestPipeline(store, &fakeSource{data: data}, notifier, backend)

	require.NoError(t, p.cache.Store(context.Background(), cache.ContentHash(data), "previously extracted text", 0.98, 2, nil))

	err := p.Process(context.Background(), store.doc.ID.Hex())
	require.NoError(t, err)

	assert.Equal(t, 0, backend.extractCalls, "cache hit must skip extraction")
	assert.Greater(t, backend.analyzeCalls, 0, "analysis still runs on cached text")
}

func TestProcessRepeatUploadHitsCache(t *testing.T) {
	data := []byte("same bytes uploaded twice")
	backend := &fakeAnalyzer{id: "language"}
	notifier := &fakeNotifier{}

	first := &fakeStore{doc: testDocument()}
	p := newTestPipeline(first, &fakeSource{data: data}, notifier, backend)
	require.NoError(t, p.Process(context.Background(), first.doc.ID.Hex()))
	extractionsAfterFirst := backend.extractCalls
	assert.Greater(t, extractionsAfterFirst, 0)

	// Second document, different id and path, byte-identical content.
	second := testDocument()
	second.SourcePath = "uploads/renamed-copy.pdf"
	p.store = &fakeStore{doc: second}
	require.NoError(t, p.Process(context.Background(), second.ID.Hex()))

	assert.Equal(t, extractionsAfterFirst, backend.extractCalls, "repeat content must be served from cache")
}

func TestProcessFailsWhenSourceUnreadable(t *testing.T) {
	store := &fakeStore{doc: testDocument()}
	notifier := &fakeNotifier{}
	p := newTestPipeline(store, &fakeSource{}, notifier, &fakeAnalyzer{id: "language"})

	err := p.Process(context.Background(), store.doc.ID.Hex())
	require.Error(t, err)

	require.Len(t, notifier.failures, 1)
	assert.Equal(t, model.ErrExtractionFailed, notifier.failures[0])
	assert.Equal(t, model.StatusError, store.statuses[len(store.statuses)-1])
}

func TestProcessFailsWhenAllAnalyzersFail(t *testing.T) {
	store := &fakeStore{doc: testDocument()}
	notifier := &fakeNotifier{}
	backend := &fakeAnalyzer{id: "language", failAnalysis: true}
	p := newTestPipeline(store, &fakeSource{data: []byte("bytes")}, notifier, backend)

	err := p.Process(context.Background(), store.doc.ID.Hex())
	require.Error(t, err)

	require.Len(t, notifier.failures, 1)
	assert.Equal(t, model.ErrAllAnalyzersFailed, notifier.failures[0])
	assert.Equal(t, model.StatusError, store.statuses[len(store.statuses)-1])
}

func TestProcessToleratesPartialAnalyzerFailure(t *testing.T) {
	store := &fakeStore{doc: testDocument()}
	notifier := &fakeNotifier{}
	healthy := &fakeAnalyzer{id: "language"}
	broken := &fakeAnalyzer{id: "vision", failAnalysis: true}
	p := newTestPipeline(store, &fakeSource{data: []byte("bytes")}, notifier, healthy, broken)

	err := p.Process(context.Background(), store.doc.ID.Hex())
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, store.statuses[len(store.statuses)-1])
	require.NotNil(t, store.saved)
	assert.Equal(t, "language", store.saved.RecommendedAnalyzer)
}

func TestSplitUnits(t *testing.T) {
	small := splitUnits(make([]byte, 100))
	assert.Len(t, small, 1)

	large := splitUnits(make([]byte, extractionUnitSize*2+1))
	assert.Len(t, large, 3)

	total := 0
	for _, unit := range large {
		total += len(unit)
	}
	assert.Equal(t, extractionUnitSize*2+1, total)
}
