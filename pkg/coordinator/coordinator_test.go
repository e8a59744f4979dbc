package coordinator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallback(t *testing.T) {
	assert.Equal(t, "main", fallback("", "main"))
	assert.Equal(t, "develop", fallback("develop", "main"))
}

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, pathExists(dir))
	assert.False(t, pathExists(filepath.Join(dir, "missing")))
}

func TestDetectChangedFilesReturnsNilWithoutGitDir(t *testing.T) {
	dir := t.TempDir()
	assert.Nil(t, detectChangedFiles(context.Background(), dir))
}

func TestDetectChangedFilesParsesDiffOutput(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available in test environment")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init")
	run("config", "user.email", "seed@test.local")
	run("config", "user.name", "seed")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte("x=1"), 0644))
	run("add", "a.py")
	run("commit", "-m", "first")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.py"), []byte("y=2"), 0644))
	run("add", "b.py")
	run("commit", "-m", "second")

	changed := detectChangedFiles(context.Background(), dir)
	assert.Contains(t, changed, "b.py")
}

func TestPrepareSourceUsesExistingLocalPath(t *testing.T) {
	dir := t.TempDir()
	c := &Coordinator{cfg: DefaultConfig()}

	path, cleanup, err := c.prepareSource(context.Background(), 1, Job{Project: "owner/repo", Path: dir})
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, dir, path)
}

func TestPrepareSourceSeedsDemoFixtureForDemoProject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScanDir = t.TempDir()
	c := &Coordinator{cfg: cfg}

	path, cleanup, err := c.prepareSource(context.Background(), 42, Job{Project: cfg.DemoProject})
	require.NoError(t, err)
	defer cleanup()

	content, err := os.ReadFile(filepath.Join(path, "app.py"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "Command Injection")
}

func TestPrepareSourceErrorsWithoutPathOrRepoURL(t *testing.T) {
	c := &Coordinator{cfg: DefaultConfig()}
	_, _, err := c.prepareSource(context.Background(), 1, Job{Project: "owner/repo"})
	assert.Error(t, err)
}
