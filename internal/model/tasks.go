package model

// TaskKind identifies the category of work a task performs. The circuit
// breaker registry keys its state machines by kind.
type TaskKind string

const (
	KindOCR           TaskKind = "ocr"
	KindModelAnalysis TaskKind = "model-analysis"
	KindEntityExtract TaskKind = "entity-extraction"
	KindVisionRegion  TaskKind = "vision-region-analysis"
)

// TaskErrorKind classifies task and pipeline failures
type TaskErrorKind string

const (
	ErrExtractionFailed   TaskErrorKind = "extraction-failed"
	ErrAllAnalyzersFailed TaskErrorKind = "all-analyzers-failed"
	ErrCircuitOpen        TaskErrorKind = "circuit-open"
	ErrVerificationFailed TaskErrorKind = "verification-failed"
	ErrPersistenceFailed  TaskErrorKind = "persistence-failed"
	ErrCacheStoreFailed   TaskErrorKind = "cache-store-failed"
	ErrTaskFailed         TaskErrorKind = "task-failed"
	ErrCancelled          TaskErrorKind = "cancelled"
)

// Task is one unit of concurrent work submitted to the executor. Priority is
// advisory ordering for logging only; all tasks in a batch run concurrently.
type Task struct {
	ID         string
	Kind       TaskKind
	Payload    TaskPayload
	Priority   int
	RetryCount int
	MaxRetries int
}

// TaskPayload carries the inputs an analyzer or extractor call needs.
type TaskPayload struct {
	DocumentID string
	AnalyzerID string
	Text       string
	Image      []byte
	Page       int
	Profile    string
}

// TaskOutcome is the successful value produced by a task handler.
type TaskOutcome struct {
	Text       string
	Output     *AnalyzerOutput
	Entities   []Entity
	Confidence float64
}

// TaskResult is the terminal result for one submitted task. The executor
// produces exactly one per task id, success or not.
type TaskResult struct {
	TaskID     string
	Kind       TaskKind
	Succeeded  bool
	Value      *TaskOutcome
	ErrorKind  TaskErrorKind
	Error      string
	ElapsedMs  int64
	Confidence float64
	Attempts   int
}
