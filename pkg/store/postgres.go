package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore is the Store implementation backed by raw database/sql
// against PostgreSQL, using placeholder SQL and small scanXxx row-mapping
// helpers.
type PostgresStore struct {
	db *sql.DB
}

// Open connects to dsn and verifies connectivity with a bounded ping.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an already-opened *sql.DB, used by tests with
// go-sqlmock.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateScan(ctx context.Context, meta ScanMetadata) (int64, error) {
	refID := meta.ReferenceID
	if refID == "" {
		refID = uuid.NewString()
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO scans
		(reference_id, project, commit_hash, source_platform, ci_provider, branch,
		 repository_url, source_url, ci_job_url, dast_target_url, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, refID, meta.Project, meta.CommitHash, meta.SourcePlatform, meta.CIProvider, meta.Branch,
		meta.RepositoryURL, meta.SourceURL, meta.CIJobURL, meta.DASTTargetURL, StatusScanning, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create scan: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateScanStatus(ctx context.Context, scanID int64, status ScanStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scans SET status = $2 WHERE id = $1
	`, scanID, status)
	if err != nil {
		return fmt.Errorf("update scan status: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetScan(ctx context.Context, scanID int64) (Scan, error) {
	var sc Scan
	var dastURL sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, reference_id, project, commit_hash, source_platform, ci_provider, branch,
		       repository_url, source_url, ci_job_url, dast_target_url, status, created_at
		FROM scans WHERE id = $1
	`, scanID).Scan(&sc.ID, &sc.ReferenceID, &sc.Project, &sc.CommitHash, &sc.SourcePlatform,
		&sc.CIProvider, &sc.Branch, &sc.RepositoryURL, &sc.SourceURL, &sc.CIJobURL, &dastURL,
		&sc.Status, &sc.CreatedAt)
	if err != nil {
		return Scan{}, err
	}
	if dastURL.Valid {
		sc.DASTTargetURL = dastURL.String
	}
	return sc, nil
}

// InsertFindings pre-stamps ids for each finding so the Workflow Engine can
// issue downstream updates against them.
func (s *PostgresStore) InsertFindings(ctx context.Context, scanID int64, findings []Finding) ([]int64, error) {
	ids := make([]int64, 0, len(findings))
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert findings: %w", err)
	}
	defer tx.Rollback()

	for _, f := range findings {
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO findings
			(scan_id, tool, rule_id, file, line, dast_endpoint, message, snippet, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`, scanID, f.Tool, f.RuleID, f.File, f.Line, f.DASTEndpoint, f.Message, f.Snippet, time.Now().UTC()).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert finding: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert findings: %w", err)
	}
	return ids, nil
}

// UpdateFinding applies only the fields present in KnownFindingColumns;
// unknown keys are silently dropped.
func (s *PostgresStore) UpdateFinding(ctx context.Context, findingID int64, fields map[string]interface{}) error {
	setClauses := make([]string, 0, len(fields))
	args := make([]interface{}, 0, len(fields)+1)
	args = append(args, findingID)

	i := 2
	for key, value := range fields {
		if _, ok := KnownFindingColumns[key]; !ok {
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", key, i))
		args = append(args, value)
		i++
	}
	if len(setClauses) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE findings SET %s WHERE id = $1", strings.Join(setClauses, ", "))
	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update finding: %w", err)
	}
	return nil
}

// AppendSandboxLog concatenates a delimited entry to the sandbox-log
// column rather than overwriting it.
func (s *PostgresStore) AppendSandboxLog(ctx context.Context, findingID int64, stage string, success bool, text string) error {
	entry := fmt.Sprintf("[%s] stage=%s success=%t: %s\n", time.Now().UTC().Format(time.RFC3339), stage, success, text)
	_, err := s.db.ExecContext(ctx, `
		UPDATE findings SET sandbox_log = COALESCE(sandbox_log, '') || $2 WHERE id = $1
	`, findingID, entry)
	if err != nil {
		return fmt.Errorf("append sandbox log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFindings(ctx context.Context, scanID int64) ([]Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scan_id, tool, rule_id, file, line, dast_endpoint, message, snippet,
		       ai_verdict, triage_decision, confidence, reasoning, risk_score, severity,
		       remediation_patch, red_team_success, red_team_output, sandbox_log,
		       pr_url, pr_error, regression_test_passed, compliance_control,
		       is_exported_for_training, created_at, resolved_at
		FROM findings WHERE scan_id = $1 ORDER BY id ASC
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()
	return scanFindings(rows)
}

func scanFindings(rows *sql.Rows) ([]Finding, error) {
	var out []Finding
	for rows.Next() {
		var f Finding
		var dastEndpoint, reasoning, redTeamOutput, sandboxLog, prURL, prError, compliance sql.NullString
		var verdict, triageDecision sql.NullString
		var confidence, riskScore sql.NullFloat64
		var severity sql.NullString
		var patch sql.NullString
		var redTeamSuccess, regressionPassed sql.NullBool
		var resolvedAt sql.NullTime

		if err := rows.Scan(&f.ID, &f.ScanID, &f.Tool, &f.RuleID, &f.File, &f.Line, &dastEndpoint,
			&f.Message, &f.Snippet, &verdict, &triageDecision, &confidence, &reasoning, &riskScore, &severity,
			&patch, &redTeamSuccess, &redTeamOutput, &sandboxLog, &prURL, &prError, &regressionPassed,
			&compliance, &f.IsExportedForTraining, &f.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan finding row: %w", err)
		}

		if triageDecision.Valid {
			d := triageDecision.String
			f.TriageDecision = &d
		}
		f.DASTEndpoint = dastEndpoint.String
		f.Reasoning = reasoning.String
		f.RedTeamOutput = redTeamOutput.String
		f.SandboxLog = sandboxLog.String
		f.PRURL = prURL.String
		f.PRError = prError.String
		f.ComplianceControl = compliance.String
		f.AIVerdict = Verdict(verdict.String)
		f.Confidence = confidence.Float64
		f.RiskScore = riskScore.Float64
		f.Severity = Severity(severity.String)
		if patch.Valid {
			p := patch.String
			f.RemediationPatch = &p
		}
		if redTeamSuccess.Valid {
			b := redTeamSuccess.Bool
			f.RedTeamSuccess = &b
		}
		if regressionPassed.Valid {
			b := regressionPassed.Bool
			f.RegressionTestPassed = &b
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			f.ResolvedAt = &t
		}

		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordPipelineMetric(ctx context.Context, metric PipelineMetric) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_metrics
		(scan_id, duration_seconds, tp_count, fp_count, tool_success_count, tool_failure_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (scan_id) DO UPDATE SET
			duration_seconds = EXCLUDED.duration_seconds,
			tp_count = EXCLUDED.tp_count,
			fp_count = EXCLUDED.fp_count,
			tool_success_count = EXCLUDED.tool_success_count,
			tool_failure_count = EXCLUDED.tool_failure_count
	`, metric.ScanID, metric.DurationSeconds, metric.TPCount, metric.FPCount,
		metric.ToolSuccessCount, metric.ToolFailureCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record pipeline metric: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddFeedback(ctx context.Context, feedback Feedback) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO feedbacks (finding_id, verdict, comments, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, feedback.FindingID, feedback.Verdict, feedback.Comments, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("add feedback: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpsertExploitScore(ctx context.Context, score ExploitScore) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO epss_data (cve_id, probability, percentile, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cve_id) DO UPDATE SET
			probability = EXCLUDED.probability,
			percentile = EXCLUDED.percentile,
			updated_at = EXCLUDED.updated_at
	`, score.CVEID, score.Probability, score.Percentile, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert exploit score: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExploitScore(ctx context.Context, cveID string) (ExploitScore, error) {
	var es ExploitScore
	err := s.db.QueryRowContext(ctx, `
		SELECT cve_id, probability, percentile, updated_at FROM epss_data WHERE cve_id = $1
	`, cveID).Scan(&es.CVEID, &es.Probability, &es.Percentile, &es.UpdatedAt)
	if err != nil {
		return ExploitScore{}, err
	}
	return es, nil
}

// DeleteProject deletes all scans and their findings for a project,
// cascading atomically within a single transaction.
func (s *PostgresStore) DeleteProject(ctx context.Context, project string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete project: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM findings WHERE scan_id IN (SELECT id FROM scans WHERE project = $1)
	`, project); err != nil {
		return fmt.Errorf("delete project findings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM pipeline_metrics WHERE scan_id IN (SELECT id FROM scans WHERE project = $1)
	`, project); err != nil {
		return fmt.Errorf("delete project metrics: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scans WHERE project = $1`, project); err != nil {
		return fmt.Errorf("delete project scans: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete project: %w", err)
	}
	return nil
}
