package publisher

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHostingClient struct {
	calledRepo, calledBranch, calledTitle, calledBody string
	url                                               string
	err                                               error
}

func (f *fakeHostingClient) CreatePullRequest(ctx context.Context, repoName, branchName, title, body string) (string, error) {
	f.calledRepo, f.calledBranch, f.calledTitle, f.calledBody = repoName, branchName, title, body
	return f.url, f.err
}

func initGitRepo(t *testing.T) string {
	t.Helper()
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

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("x = 1\n"), 0644))
	run("add", "app.py")
	run("commit", "-m", "seed")
	return dir
}

func initBareRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cmd := exec.Command("git", "init", "--bare", dir)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return dir
}

func TestOpenSecurityPRAppliesPatchAndOpensPR(t *testing.T) {
	dir := initGitRepo(t)
	remote := initBareRemote(t)
	hosting := &fakeHostingClient{url: "https://github.com/owner/repo/pull/1"}
	p := New(hosting, nil, "fake-token")
	p.remoteURLFn = func(repoName string) string { return remote }

	url, err := p.OpenSecurityPR(context.Background(), "owner/repo", "ai-fix-abc123", "x = 2\n", "app.py", "unsafe eval", dir)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/owner/repo/pull/1", url)
	assert.Equal(t, "owner/repo", hosting.calledRepo)
	assert.Equal(t, "ai-fix-abc123", hosting.calledBranch)
	assert.Contains(t, hosting.calledTitle, "unsafe eval")

	content, err := os.ReadFile(filepath.Join(dir, "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 2\n", string(content))
}

func TestOpenSecurityPRPropagatesHostingError(t *testing.T) {
	dir := initGitRepo(t)
	remote := initBareRemote(t)
	hosting := &fakeHostingClient{err: assertErr{}}
	p := New(hosting, nil, "fake-token")
	p.remoteURLFn = func(repoName string) string { return remote }

	_, err := p.OpenSecurityPR(context.Background(), "owner/repo", "ai-fix-def456", "x = 3\n", "app.py", "sql injection", dir)
	assert.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "hosting api unavailable" }
