// Package analyzer is the Analyzer Driver: given a prepared source tree,
// it runs a fixed set of analyzer tools in parallel against a shared
// workspace and collects their raw report files, tolerating per-tool exit
// codes. Grounded on
// original_source/services/scanner/core/scanner.py.
package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/katashiba/secscan-engine/internal/logging"
)

// ContainerRunner abstracts the container-execution primitive so tests can
// substitute a fake without Docker. The default implementation shells out
// to `docker exec <container> <cmd...>`.
type ContainerRunner interface {
	Exec(ctx context.Context, container string, cmd []string) (exitCode int, stdout, stderr string, err error)
}

// DockerExecRunner runs commands via `docker exec` against a pre-existing
// named container, matching the original's literal
// ["docker","exec",container_name]+cmd_list construction.
type DockerExecRunner struct{}

func (DockerExecRunner) Exec(ctx context.Context, container string, cmd []string) (int, string, string, error) {
	args := append([]string{"exec", container}, cmd...)
	c := exec.CommandContext(ctx, "docker", args...)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return -1, stdout.String(), stderr.String(), err
		}
	}
	return exitCode, stdout.String(), stderr.String(), nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// Task describes one analyzer tool invocation.
type Task struct {
	Name            string
	Container       string
	Cmd             []string
	OutputFile      string // path inside the shared workspace the tool writes to
	AllowedExitCode []int
}

// Request is the Analyzer Driver's input.
type Request struct {
	SourcePath    string
	ProjectName   string
	TargetURL     string   // optional DAST target
	ExtraRules    []string // extra semgrep rule paths
	ChangedFiles  []string // optional delta-mode file list
}

// Driver runs the configured tool set in parallel against a prepared
// workspace.
type Driver struct {
	runner    ContainerRunner
	log       *logging.Logger
	scanDir   string // root scratch directory, mirrors the original's SCAN_DIR
}

// New builds a Driver. scanDir defaults to /tmp/scans if empty, matching
// the original's SCAN_DIR constant.
func New(runner ContainerRunner, log *logging.Logger, scanDir string) *Driver {
	if scanDir == "" {
		scanDir = "/tmp/scans"
	}
	return &Driver{runner: runner, log: log, scanDir: scanDir}
}

// Run prepares a per-scan shared workspace, launches every configured tool
// concurrently, and returns the report paths that exited within their
// allow-list. Tools that fail or launch-error are dropped; the driver
// always continues.
func (d *Driver) Run(ctx context.Context, req Request, scanShortID string) ([]string, error) {
	sharedDir := filepath.Join(d.scanDir, "shared_"+scanShortID)
	if err := os.MkdirAll(sharedDir, 0o777); err != nil {
		return nil, fmt.Errorf("create shared workspace: %w", err)
	}
	if err := os.Chmod(sharedDir, 0o777); err != nil {
		return nil, fmt.Errorf("chmod shared workspace: %w", err)
	}

	if err := d.populateWorkspace(req, sharedDir); err != nil {
		return nil, fmt.Errorf("populate workspace: %w", err)
	}

	tasks := d.buildTasks(req, sharedDir, scanShortID)

	results := make([]string, len(tasks))
	ok := make([]bool, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			start := time.Now()
			exitCode, _, stderr, err := d.runner.Exec(gctx, task.Container, task.Cmd)
			duration := time.Since(start).Milliseconds()

			allowed := allowedExit(exitCode, task.AllowedExitCode)
			if d.log != nil {
				d.log.LogToolExecution(gctx, task.Name, exitCode, duration, truncate(stderr, 200), toolErr(allowed, err))
			}
			if err == nil && allowed {
				results[i] = task.OutputFile
				ok[i] = true
			}
			// never abort the group: tool failure is non-fatal
			return nil
		})
	}
	_ = g.Wait()

	var reports []string
	for i, report := range results {
		if ok[i] {
			reports = append(reports, report)
		}
	}
	return reports, nil
}

func toolErr(allowed bool, err error) error {
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("exit code outside allow-list")
	}
	return nil
}

func allowedExit(code int, allowed []int) bool {
	for _, a := range allowed {
		if code == a {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// populateWorkspace copies either the delta-mode file set (sanitizing
// paths to prevent escape from the source root) or the full source tree.
func (d *Driver) populateWorkspace(req Request, sharedDir string) error {
	if len(req.ChangedFiles) == 0 {
		return copyTree(req.SourcePath, sharedDir)
	}
	for _, f := range req.ChangedFiles {
		sanitized := strings.TrimLeft(f, "/")
		src := filepath.Join(req.SourcePath, sanitized)
		if _, err := os.Stat(src); err != nil {
			continue // missing changed file: caller falls back to full scan
		}
		dst := filepath.Join(sharedDir, sanitized)
		if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
			return err
		}
		if err := copyFile(src, dst); err != nil {
			return err
		}
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o777)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return os.Chmod(dst, 0o666)
}

// buildTasks constructs the fixed SAST/secret/dependency tool set plus a
// conditional ZAP task when a DAST target is available.
func (d *Driver) buildTasks(req Request, sharedDir, scanID string) []Task {
	semgrepReport := filepath.Join(d.scanDir, fmt.Sprintf("semgrep_%s.sarif", scanID))
	semgrepCmd := []string{
		"semgrep", "--disable-nosem",
		"--config=p/default", "--config=p/owasp-top-ten", "--config=p/secrets",
	}
	for _, rule := range req.ExtraRules {
		semgrepCmd = append(semgrepCmd, "--config="+rule)
	}
	if changed := existingChangedPaths(req, sharedDir); len(changed) > 0 {
		semgrepCmd = append(semgrepCmd, changed...)
	} else {
		// no changed files supplied, or none of them exist in the
		// workspace: fall back to scanning the full workspace.
		semgrepCmd = append(semgrepCmd, sharedDir)
	}
	semgrepCmd = append(semgrepCmd, "--sarif", "--quiet", "-o", semgrepReport)

	gitleaksReport := filepath.Join(d.scanDir, fmt.Sprintf("gitleaks_%s.json", scanID))
	gitleaksCmd := []string{"gitleaks", "detect", "--redact", "--no-banner", "--exit-code=0", "-f", "json", "-r", gitleaksReport}
	if len(req.ChangedFiles) > 0 {
		gitleaksCmd = append(gitleaksCmd, "--no-git")
	}
	gitleaksCmd = append(gitleaksCmd, "--source="+sharedDir)

	trivyReport := filepath.Join(d.scanDir, fmt.Sprintf("trivy_%s.sarif", scanID))
	trivyCmd := []string{"trivy", "fs", "--scanners", "vuln,secret,config", "--format", "sarif", "-o", trivyReport, sharedDir}

	tasks := []Task{
		{Name: "semgrep", Container: "semgrep-runner", Cmd: semgrepCmd, OutputFile: semgrepReport, AllowedExitCode: []int{0}},
		{Name: "gitleaks", Container: "gitleaks-runner", Cmd: gitleaksCmd, OutputFile: gitleaksReport, AllowedExitCode: []int{0}},
		{Name: "trivy", Container: "trivy-runner", Cmd: trivyCmd, OutputFile: trivyReport, AllowedExitCode: []int{0}},
	}

	if req.TargetURL != "" {
		zapReport := filepath.Join(d.scanDir, fmt.Sprintf("zap_%s.json", scanID))
		zapCmd := []string{
			"zap-baseline.py", "-p", "8080", "-t", req.TargetURL, "-J", zapReport, "-m", "5",
		}
		tasks = append(tasks, Task{
			Name: "zap", Container: "zap-runner", Cmd: zapCmd, OutputFile: zapReport,
			AllowedExitCode: []int{0, 1, 2},
		})
	}

	return tasks
}

// existingChangedPaths resolves the sanitized changed-file list to
// absolute paths inside sharedDir that actually exist, falling back to
// nothing (triggering a full-workspace scan) when none do.
func existingChangedPaths(req Request, sharedDir string) []string {
	var out []string
	for _, f := range req.ChangedFiles {
		sanitized := strings.TrimLeft(f, "/")
		p := filepath.Join(sharedDir, sanitized)
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}
