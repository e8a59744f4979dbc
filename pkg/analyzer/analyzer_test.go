package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	exitCodes map[string]int
	errs      map[string]error
}

func (f *fakeRunner) Exec(ctx context.Context, container string, cmd []string) (int, string, string, error) {
	if err, ok := f.errs[container]; ok {
		return -1, "", "", err
	}
	return f.exitCodes[container], "", "some stderr output", nil
}

func TestRunDropsDisallowedExitCodeButContinues(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "app.py"), []byte("print('hi')"), 0644))

	scanDir := t.TempDir()
	runner := &fakeRunner{exitCodes: map[string]int{
		"semgrep-runner":  0,
		"gitleaks-runner": 3, // disallowed, should be dropped
		"trivy-runner":    0,
	}}

	d := New(runner, nil, scanDir)
	reports, err := d.Run(context.Background(), Request{SourcePath: src, ProjectName: "owner/repo"}, "abc123")
	require.NoError(t, err)
	assert.Len(t, reports, 2, "gitleaks report should have been dropped")
}

func TestRunIncludesZapOnlyWhenTargetURLSet(t *testing.T) {
	src := t.TempDir()
	scanDir := t.TempDir()
	runner := &fakeRunner{exitCodes: map[string]int{
		"semgrep-runner":  0,
		"gitleaks-runner": 0,
		"trivy-runner":    0,
		"zap-runner":      1, // allowed for zap
	}}

	d := New(runner, nil, scanDir)
	reports, err := d.Run(context.Background(), Request{
		SourcePath: src, ProjectName: "owner/repo", TargetURL: "http://localhost:8080",
	}, "withzap")
	require.NoError(t, err)
	assert.Len(t, reports, 4)
}

func TestDeltaModeFallsBackToFullScanWhenChangedFileMissing(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "existing.py"), []byte("x=1"), 0644))
	scanDir := t.TempDir()

	d := New(&fakeRunner{exitCodes: map[string]int{"semgrep-runner": 0, "gitleaks-runner": 0, "trivy-runner": 0}}, nil, scanDir)
	tasks := d.buildTasks(Request{SourcePath: src, ChangedFiles: []string{"src/new.py"}}, filepath.Join(scanDir, "shared_x"), "x")

	found := false
	for _, task := range tasks {
		if task.Name == "semgrep" {
			for _, arg := range task.Cmd {
				if arg == filepath.Join(scanDir, "shared_x") {
					found = true
				}
			}
		}
	}
	assert.True(t, found, "semgrep should fall back to scanning the full workspace")
}

func TestGitleaksCmdTargetsSharedDir(t *testing.T) {
	src := t.TempDir()
	scanDir := t.TempDir()
	sharedDir := filepath.Join(scanDir, "shared_x")

	d := New(&fakeRunner{exitCodes: map[string]int{"semgrep-runner": 0, "gitleaks-runner": 0, "trivy-runner": 0}}, nil, scanDir)
	tasks := d.buildTasks(Request{SourcePath: src}, sharedDir, "x")

	found := false
	for _, task := range tasks {
		if task.Name != "gitleaks" {
			continue
		}
		for _, arg := range task.Cmd {
			if arg == "--source="+sharedDir {
				found = true
			}
		}
	}
	assert.True(t, found, "gitleaks should scan the populated shared workspace, not its container default")
}

func TestLaunchErrorDropsToolButContinues(t *testing.T) {
	src := t.TempDir()
	scanDir := t.TempDir()
	runner := &fakeRunner{
		exitCodes: map[string]int{"semgrep-runner": 0, "trivy-runner": 0},
		errs:      map[string]error{"gitleaks-runner": assertErr{}},
	}

	d := New(runner, nil, scanDir)
	reports, err := d.Run(context.Background(), Request{SourcePath: src}, "launcherr")
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

type assertErr struct{}

func (assertErr) Error() string { return "docker exec launch failed" }
