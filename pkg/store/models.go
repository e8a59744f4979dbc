// Package store is the Finding Store: the durable, transactional record of
// scans, findings, pipeline metrics, human feedback, and exploit-prediction
// scores.
package store

import "time"

// ScanStatus is a Scan's lifecycle status. Transitions form a DAG with
// StatusCompleted and StatusFailed as absorbing states.
type ScanStatus string

const (
	StatusPending   ScanStatus = "pending"
	StatusScanning  ScanStatus = "scanning"
	StatusAnalyzing ScanStatus = "analyzing"
	StatusCompleted ScanStatus = "completed"
	StatusFailed    ScanStatus = "failed"
)

// Verdict is the AI triage classification for a finding.
type Verdict string

const (
	VerdictTP      Verdict = "TP"
	VerdictFP      Verdict = "FP"
	VerdictUnknown Verdict = ""
)

// Severity is a categorical risk level assigned during triage.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

// Scan is one end-to-end run over a repository at a given commit.
type Scan struct {
	ID            int64
	ReferenceID   string // opaque external id, UUID, assigned at creation if absent
	Project       string // "owner/repo"
	CommitHash    string
	SourcePlatform string
	CIProvider    string
	Branch        string
	RepositoryURL string
	SourceURL     string
	CIJobURL      string
	CreatedAt     time.Time
	Status        ScanStatus
	DASTTargetURL string
}

// Finding is one analyzer-reported issue scoped to a scan.
type Finding struct {
	ID     int64
	ScanID int64

	// Analyzer facts
	Tool         string
	RuleID       string
	File         string
	Line         int
	DASTEndpoint string
	Message      string
	Snippet      string

	// AI verdict
	AIVerdict      Verdict
	TriageDecision *string // "RV" (review) for TP, "FP" for FP; set alongside AIVerdict
	Confidence     float64
	Reasoning      string
	RiskScore      float64
	Severity       Severity

	// Workflow outcomes
	RemediationPatch       *string
	RedTeamSuccess         *bool
	RedTeamOutput          string
	SandboxLog             string // append-only, delimited entries
	PRURL                  string
	PRError                string
	RegressionTestPassed   *bool
	ComplianceControl      string
	IsExportedForTraining  bool

	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// KnownFindingColumns is the known-columns filter required by
// update_finding: only these keys may be applied, anything else is
// silently dropped. Keys are the findings table's column names, as used by
// UpdateFinding's fields map.
var KnownFindingColumns = map[string]struct{}{
	"ai_verdict":              {},
	"triage_decision":         {},
	"confidence":              {},
	"reasoning":               {},
	"risk_score":              {},
	"severity":                {},
	"remediation_patch":       {},
	"red_team_success":        {},
	"red_team_output":         {},
	"pr_url":                  {},
	"pr_error":                {},
	"regression_test_passed":  {},
	"compliance_control":      {},
	"is_exported_for_training": {},
	"resolved_at":             {},
}

// Feedback is a human review record attached to a finding, append-only.
type Feedback struct {
	ID        int64
	FindingID int64
	Verdict   Verdict
	Comments  string
	CreatedAt time.Time
}

// PipelineMetric is one row per scan summarizing throughput and outcome
// counts, written once at scan-terminal transition.
type PipelineMetric struct {
	ScanID          int64
	DurationSeconds float64
	TPCount         int
	FPCount         int
	ToolSuccessCount int
	ToolFailureCount int
	CreatedAt       time.Time
}

// ExploitScore is keyed by CVE id and refreshed opportunistically when
// findings reference CVE ids.
type ExploitScore struct {
	CVEID       string
	Probability float64
	Percentile  float64
	UpdatedAt   time.Time
}
