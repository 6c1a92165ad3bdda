package models

// EvalStatus is the normalized verdict for one analyzed image.
type EvalStatus string

const (
	StatusOK      EvalStatus = "OK"
	StatusNOK     EvalStatus = "NOK"
	StatusUnknown EvalStatus = "UNKNOWN"
	StatusError   EvalStatus = "ERROR"
)

// Context is the raw result payload returned by the inference server.
// Its shape varies by backend and is only interpreted by the eval package.
type Context map[string]any

// Evaluation is the normalized form of a server context.
type Evaluation struct {
	Status         EvalStatus
	ResultBool     *bool
	OKNOK          string // "OK", "NOK" or empty when undecidable
	CompleteTimeS  *float64
	CompleteTimeMS int
	DetectedCount  int
}

// SourceKind tells the runner whether a task has a backing file on disk.
type SourceKind string

const (
	SourceFile      SourceKind = "file"
	SourceGenerator SourceKind = "generator"
)

// ImageTask is one queued unit of work.
type ImageTask struct {
	ID        string
	Path      string // display path, also the snapshot path for generator frames
	Data      string // data tag sent with the request
	Payload   []byte // in-memory PNG, nil for file tasks
	Kind      SourceKind
	LabelStem string
	// SourcePath is the file the file-action engine may move or delete.
	// Empty for generator frames sent without a saved snapshot.
	SourcePath string
}

// FileActionResult reports what the file-action engine did for one task.
// It is always returned, never an error, so the runner can log outcomes
// uniformly whether or not an action executed.
type FileActionResult struct {
	Applied    bool
	Operation  string // "none", "move" or "delete"
	SourcePath string
	TargetPath string
	Reason     string
	Status     EvalStatus
}

// ArtifactResult reports the outcome of saving side-channel outputs.
type ArtifactResult struct {
	JSONSaved  bool
	JSONPath   string
	ImageSaved bool
	ImagePath  string
	Reason     string
}

// TaskRecord is the append-only journal record written once per task.
// New fields must be optional so old journals stay readable.
type TaskRecord struct {
	RunID          string     `json:"run_id"`
	TaskID         string     `json:"task_id"`
	Timestamp      string     `json:"timestamp"`
	Filename       string     `json:"filename"`
	Data           string     `json:"data"`
	SourceKind     SourceKind `json:"source_kind"`
	Status         string     `json:"status"` // dispatch status: "ok" or "error"
	LatencyMS      int        `json:"latency_ms"`
	OKNOK          string     `json:"ok_nok,omitempty"`
	EvalStatus     EvalStatus `json:"eval_status"`
	ResultBool     *bool      `json:"result_bool,omitempty"`
	CompleteTimeS  *float64   `json:"complete_time_s,omitempty"`
	CompleteTimeMS int        `json:"complete_time_ms"`
	DetectedCount  int        `json:"detected_count"`

	FileActionApplied   bool   `json:"file_action_applied"`
	FileActionOperation string `json:"file_action_operation"`
	FileActionTarget    string `json:"file_action_target,omitempty"`
	FileActionReason    string `json:"file_action_reason,omitempty"`

	JSONContextSaved    bool   `json:"json_context_saved"`
	JSONContextPath     string `json:"json_context_path,omitempty"`
	ProcessedImageSaved bool   `json:"processed_image_saved"`
	ProcessedImagePath  string `json:"processed_image_path,omitempty"`
	ArtifactReason      string `json:"artifact_reason,omitempty"`

	Error string `json:"error,omitempty"`
	Mode  string `json:"mode"` // transport mode the record was produced with
}

// Snapshot is a copy-out view of the connection manager's runtime state.
// Readers get a value, never a reference into the live counters.
type Snapshot struct {
	State          string
	StatusText     string
	TotalSent      int
	TotalEvaluated int
	OKCount        int
	NOKCount       int
	LastEvalTimeMS int
	AvgEvalTimeMS  float64
	LastResultJSON string
	LastData       string
	ProductionMode *bool
}
