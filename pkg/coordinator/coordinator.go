// Package coordinator is the Scan Coordinator: the end-to-end job handler
// that turns one queued scan job into a populated, triaged Scan record.
// Grounded on
// original_source/services/orchestrator/core/logic.py's
// perform_scan_background and run_brain_background.
package coordinator

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	svcerrors "github.com/katashiba/secscan-engine/internal/errors"
	"github.com/katashiba/secscan-engine/internal/logging"
	"github.com/katashiba/secscan-engine/internal/metrics"
	"github.com/katashiba/secscan-engine/pkg/analyzer"
	"github.com/katashiba/secscan-engine/pkg/normalizer"
	"github.com/katashiba/secscan-engine/pkg/progress"
	"github.com/katashiba/secscan-engine/pkg/stackdetect"
	"github.com/katashiba/secscan-engine/pkg/store"
	"github.com/katashiba/secscan-engine/pkg/workflow"
)

//go:embed fixtures/demo_app.py
var demoFixtures embed.FS

// Config holds the Coordinator's environment-resolved settings, grounded on
// original_source's ANALYSIS_SERVICE_URL / REMEDIATION_SERVICE_URL /
// SANDBOX_SERVICE_URL / GITHUB_TOKEN environment variables.
type Config struct {
	AnalysisServiceURL    string
	RemediationServiceURL string
	SandboxBaseURL        string
	GitHubToken           string
	ScanDir               string
	ReadinessTimeout      time.Duration
	ReadinessPollInterval time.Duration
	// DemoProject, when it matches an incoming job's project, seeds the
	// workspace from an embedded fixture instead of cloning — preserved
	// from the original's "test/live-demo" special case.
	DemoProject string
}

// DefaultConfig returns sane defaults matching the original's constants.
func DefaultConfig() Config {
	return Config{
		ScanDir:               "/tmp/scans",
		ReadinessTimeout:      5 * time.Minute,
		ReadinessPollInterval: 5 * time.Second,
		DemoProject:           "test/live-demo",
	}
}

// Job is the Coordinator's input, matching queue.ExecuteScanJob.
type Job struct {
	Project  string
	Path     string
	Metadata JobMetadata
}

// JobMetadata mirrors perform_scan_background's metadata dict fields.
type JobMetadata struct {
	CIProvider    string
	Branch        string
	CommitSHA     string
	RepoURL       string
	CIJobURL      string
	TargetURL     string
	ChangedFiles  []string
	ReferenceID   string
}

// Coordinator wires together readiness probing, source preparation, stack
// detection, the Analyzer Driver, the Report Normalizer, the Workflow
// Engine, and the Finding Store into the full scan pipeline.
type Coordinator struct {
	cfg      Config
	st       store.Store
	analyzer *analyzer.Driver
	engine   *workflow.Engine
	progress *progress.Publisher
	log      *logging.Logger
}

// New builds a Coordinator.
func New(cfg Config, st store.Store, drv *analyzer.Driver, engine *workflow.Engine, prog *progress.Publisher, log *logging.Logger) *Coordinator {
	return &Coordinator{cfg: cfg, st: st, analyzer: drv, engine: engine, progress: prog, log: log}
}

// Run executes the full pipeline for one job: create scan record,
// ensure-ready, prepare source, detect stack, run analyzers, normalize,
// triage, and record outcome. Mirrors perform_scan_background's numbered
// steps. A readiness timeout or a cancelled ctx leaves the scan failed.
func (c *Coordinator) Run(ctx context.Context, job Job) error {
	scanID, err := c.st.CreateScan(ctx, store.ScanMetadata{
		ReferenceID:    job.Metadata.ReferenceID,
		Project:        job.Project,
		CommitHash:     fallback(job.Metadata.CommitSHA, "latest"),
		SourcePlatform: "unknown",
		CIProvider:     fallback(job.Metadata.CIProvider, "manual-scan"),
		Branch:         fallback(job.Metadata.Branch, "main"),
		RepositoryURL:  job.Metadata.RepoURL,
		SourceURL:      "localhost",
		CIJobURL:       job.Metadata.CIJobURL,
		DASTTargetURL:  job.Metadata.TargetURL,
	})
	if err != nil {
		c.log.WithContext(ctx).WithError(err).Error("failed to create scan record, aborting job")
		return svcerrors.Fatal("create scan", err)
	}
	ctx = logging.WithScanID(ctx, scanID)
	c.log.LogScanLifecycle(ctx, scanID, string(store.StatusScanning))
	c.markProgress(scanID, "scanning")

	if !c.ensureServicesReady(ctx) {
		c.log.WithContext(ctx).Error("AI services did not become ready in time, aborting scan")
		_ = c.st.UpdateScanStatus(context.WithoutCancel(ctx), scanID, store.StatusFailed)
		c.log.LogScanLifecycle(ctx, scanID, string(store.StatusFailed))
		c.progress.Fail(context.WithoutCancel(ctx), scanID, "AI services not ready")
		return svcerrors.Fatal("readiness probe", fmt.Errorf("ai services not ready within %s", c.cfg.ReadinessTimeout))
	}

	start := time.Now()
	status, tpCount, fpCount := c.run(ctx, scanID, job)
	duration := time.Since(start)
	if ctx.Err() != nil {
		status = store.StatusFailed
	}
	// Terminal writes must still land when the job's ctx was cancelled.
	finalCtx := context.WithoutCancel(ctx)

	_ = c.st.UpdateScanStatus(finalCtx, scanID, status)
	c.log.LogScanLifecycle(ctx, scanID, string(status))
	metrics.ScansTotal.WithLabelValues(string(status)).Inc()

	_ = c.st.RecordPipelineMetric(finalCtx, store.PipelineMetric{
		ScanID:          scanID,
		DurationSeconds: duration.Seconds(),
		TPCount:         tpCount,
		FPCount:         fpCount,
	})
	if status == store.StatusCompleted {
		c.progress.Complete(finalCtx, scanID)
	} else {
		c.progress.Fail(finalCtx, scanID, "scan did not complete")
	}
	return nil
}

func (c *Coordinator) run(ctx context.Context, scanID int64, job Job) (store.ScanStatus, int, int) {
	workDir, cleanup, err := c.prepareSource(ctx, scanID, job)
	if err != nil {
		c.log.WithContext(ctx).WithError(err).Error("failed to prepare source")
		return store.StatusFailed, 0, 0
	}
	defer cleanup()

	changedFiles := job.Metadata.ChangedFiles
	if len(changedFiles) == 0 {
		changedFiles = detectChangedFiles(ctx, workDir)
	}

	targetURL := job.Metadata.TargetURL
	if targetURL == "" {
		if deployed := c.maybeDeployForDAST(ctx, workDir); deployed != "" {
			targetURL = deployed
		}
	}

	c.markProgress(scanID, "analyzing")
	reports, err := c.analyzer.Run(ctx, analyzer.Request{
		SourcePath:   workDir,
		ProjectName:  job.Project,
		TargetURL:    targetURL,
		ChangedFiles: changedFiles,
	}, shortScanID(scanID))
	if err != nil {
		c.log.WithContext(ctx).WithError(err).Error("analyzer driver failed")
		return store.StatusFailed, 0, 0
	}

	var findings []store.Finding
	for _, report := range reports {
		content, rerr := os.ReadFile(report)
		if rerr != nil {
			c.log.WithContext(ctx).WithError(rerr).Warn("failed to read report file, skipping")
			continue
		}
		for _, nf := range normalizer.ExtractFindings(content, filepath.Base(report)) {
			cleaned := normalizer.CleanPath(nf.File)
			if normalizer.IsForbidden(cleaned) {
				continue
			}
			findings = append(findings, store.Finding{
				ScanID:       scanID,
				Tool:         nf.Tool,
				RuleID:       nf.RuleID,
				Message:      nf.Message,
				File:         cleaned,
				Line:         nf.Line,
				DASTEndpoint: nf.DASTEndpoint,
				Snippet:      normalizer.PopulateSnippet(workDir, cleaned, nf.Line),
			})
		}
	}

	if len(findings) == 0 {
		return store.StatusCompleted, 0, 0
	}

	ids, err := c.st.InsertFindings(ctx, scanID, findings)
	if err != nil {
		c.log.WithContext(ctx).WithError(err).Error("failed to persist findings")
		return store.StatusFailed, 0, 0
	}
	for i := range findings {
		findings[i].ID = ids[i]
	}

	c.syncEPSSForCVEFindings(ctx, findings)

	c.markProgress(scanID, "triaging")
	triaged, err := c.engine.Run(ctx, job.Project, workDir, findings)
	if err != nil {
		c.log.WithContext(ctx).WithError(err).Warn("workflow engine stopped early")
	}

	tpCount, fpCount := 0, 0
	for _, f := range triaged {
		c.persistFindingOutcome(ctx, f)
		if f.AIVerdict == store.VerdictTP {
			tpCount++
		} else {
			fpCount++
		}
		metrics.FindingsTotal.WithLabelValues(string(f.AIVerdict)).Inc()
	}

	return store.StatusCompleted, tpCount, fpCount
}

func (c *Coordinator) persistFindingOutcome(ctx context.Context, f store.Finding) {
	fields := map[string]interface{}{
		"ai_verdict":       string(f.AIVerdict),
		"triage_decision":  f.TriageDecision,
		"remediation_patch": f.RemediationPatch,
		"red_team_success": f.RedTeamSuccess,
		"red_team_output":  f.RedTeamOutput,
		"pr_url":           f.PRURL,
		"pr_error":         f.PRError,
	}
	if err := c.st.UpdateFinding(ctx, f.ID, fields); err != nil {
		c.log.WithContext(ctx).WithError(err).Warn("failed to persist finding outcome")
	}
}

// prepareSource resolves the workspace per the original's three-way
// branch: an already-local path, the demo fixture, or a fresh git clone.
func (c *Coordinator) prepareSource(ctx context.Context, scanID int64, job Job) (string, func(), error) {
	scanUID := uuid.New().String()[:8]

	if job.Path != "" && pathExists(job.Path) && job.Path != "/app" {
		return job.Path, func() {}, nil
	}

	if job.Project == c.cfg.DemoProject {
		dest := filepath.Join(c.cfg.ScanDir, fmt.Sprintf("demo_%d_%s", scanID, scanUID))
		if err := os.MkdirAll(dest, 0o777); err != nil {
			return "", nil, err
		}
		content, err := demoFixtures.ReadFile("fixtures/demo_app.py")
		if err != nil {
			return "", nil, err
		}
		if err := os.WriteFile(filepath.Join(dest, "app.py"), content, 0o644); err != nil {
			return "", nil, err
		}
		return dest, func() { os.RemoveAll(dest) }, nil
	}

	if job.Metadata.RepoURL == "" {
		return "", nil, svcerrors.New(svcerrors.ErrCodeFatal, fmt.Sprintf("no source path and no repo_url for %s", job.Project))
	}

	dest := filepath.Join(c.cfg.ScanDir, fmt.Sprintf("%s_src", scanUID))
	cloneURL := job.Metadata.RepoURL
	if c.cfg.GitHubToken != "" && strings.Contains(cloneURL, "github.com") && !strings.Contains(cloneURL, "@") {
		cloneURL = strings.Replace(cloneURL, "https://", fmt.Sprintf("https://oauth2:%s@", c.cfg.GitHubToken), 1)
	}

	if err := runGit(ctx, "", "clone", "--depth", "2", cloneURL, dest); err != nil {
		return "", nil, svcerrors.Fatal("git clone", err)
	}
	sha := job.Metadata.CommitSHA
	if sha != "" && sha != "latest" {
		if err := runGit(ctx, dest, "checkout", sha); err != nil {
			return "", nil, svcerrors.Fatal(fmt.Sprintf("git checkout %s", sha), err)
		}
	}
	return dest, func() { os.RemoveAll(dest) }, nil
}

func detectChangedFiles(ctx context.Context, workDir string) []string {
	if !pathExists(filepath.Join(workDir, ".git")) {
		return nil
	}
	cmd := exec.CommandContext(ctx, "git", "-C", workDir, "diff", "--name-only", "HEAD^", "HEAD")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil
	}
	var files []string
	for _, line := range strings.Split(out.String(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}
	return files
}

// maybeDeployForDAST auto-detects a web application stack and requests an
// ephemeral deployment from the Sandbox service, returning the resulting
// DAST target URL, or "" when no web stack was detected or deploy failed.
func (c *Coordinator) maybeDeployForDAST(ctx context.Context, workDir string) string {
	info := stackdetect.Detect(workDir)
	if !info.Detected || info.Type != "web" {
		return ""
	}
	sandbox := workflow.NewHTTPSandboxClient(c.cfg.SandboxBaseURL)
	containerID, err := sandbox.Deploy(ctx, workDir, info.Port, "", info.StartCommand)
	if err != nil || containerID == "" {
		c.log.WithContext(ctx).WithError(err).Warn("ephemeral DAST deploy failed, continuing without DAST")
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", info.Port)
}

func (c *Coordinator) syncEPSSForCVEFindings(ctx context.Context, findings []store.Finding) {
	for _, f := range findings {
		if !strings.HasPrefix(f.RuleID, "CVE-") {
			continue
		}
		// Looks up the cached score only: a missing row is logged at
		// debug level and never fatal. No score is fetched or written here.
		if _, err := c.st.GetExploitScore(ctx, f.RuleID); err != nil {
			c.log.WithContext(ctx).WithField("cve", f.RuleID).Debug("no cached exploit score, skipping opportunistic refresh")
		}
	}
}

func (c *Coordinator) markProgress(scanID int64, stage string) {
	if c.progress != nil {
		c.progress.UpdateStage(context.Background(), scanID, stage)
	}
}

func runGit(ctx context.Context, dir string, args ...string) error {
	full := args
	if dir != "" {
		full = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, stderr.String())
	}
	return nil
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func fallback(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func shortScanID(id int64) string {
	return fmt.Sprintf("%08x", id)
}
