package store

import "context"

// ScanMetadata carries the fields needed to create a Scan row; it mirrors
// the job payload the Scan Coordinator receives from the queue.
type ScanMetadata struct {
	ReferenceID    string
	Project        string
	CommitHash     string
	SourcePlatform string
	CIProvider     string
	Branch         string
	RepositoryURL  string
	SourceURL      string
	CIJobURL       string
	DASTTargetURL  string
}

// Store is the Finding Store's contract. Every operation is transactional;
// a database error during a workflow step is logged by the caller but must
// not abort the scan — only CreateScan failing is fatal to the job.
type Store interface {
	CreateScan(ctx context.Context, meta ScanMetadata) (int64, error)
	UpdateScanStatus(ctx context.Context, scanID int64, status ScanStatus) error
	GetScan(ctx context.Context, scanID int64) (Scan, error)

	InsertFindings(ctx context.Context, scanID int64, findings []Finding) ([]int64, error)
	UpdateFinding(ctx context.Context, findingID int64, fields map[string]interface{}) error
	AppendSandboxLog(ctx context.Context, findingID int64, stage string, success bool, text string) error
	ListFindings(ctx context.Context, scanID int64) ([]Finding, error)

	RecordPipelineMetric(ctx context.Context, metric PipelineMetric) error

	AddFeedback(ctx context.Context, feedback Feedback) (int64, error)

	UpsertExploitScore(ctx context.Context, score ExploitScore) error
	GetExploitScore(ctx context.Context, cveID string) (ExploitScore, error)

	DeleteProject(ctx context.Context, project string) error
}
