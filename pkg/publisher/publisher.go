// Package publisher is the Publisher: it applies an accepted remediation
// patch to the checked-out source tree, pushes it on a new branch, and
// opens a pull request against the target repository. Grounded on
// original_source/ai-agent/services/pr_agent.py.
package publisher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/katashiba/secscan-engine/internal/logging"
)

// HostingClient abstracts the code-hosting API collaborator used to open a
// pull request once the patch branch has been pushed.
type HostingClient interface {
	CreatePullRequest(ctx context.Context, repoName, branchName, title, body string) (htmlURL string, err error)
}

// Publisher drives the git operations and delegates PR creation to a
// HostingClient. Git operations shell out via os/exec, matching the
// original's subprocess.run sequence exactly: this is the one place the
// original itself uses raw git-CLI invocation rather than a library.
type Publisher struct {
	hosting     HostingClient
	log         *logging.Logger
	token       string
	userEmail   string
	userName    string
	remoteURLFn func(repoName string) string
}

// New builds a Publisher. token is the GitHub access token used both for
// the authenticated push URL and (by the caller's HostingClient) the PR API.
func New(hosting HostingClient, log *logging.Logger, token string) *Publisher {
	p := &Publisher{
		hosting:   hosting,
		log:       log,
		token:     token,
		userEmail: "ai-agent@secscan.local",
		userName:  "AI Security Agent",
	}
	p.remoteURLFn = func(repoName string) string {
		return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", p.token, repoName)
	}
	return p
}

// OpenSecurityPR applies patch to filePath inside sourcePath, commits it on
// a new branch, pushes to an authenticated URL, and opens a pull request.
// Matches create_security_pr's five steps unchanged.
func (p *Publisher) OpenSecurityPR(ctx context.Context, repoName, branchName, patch, filePath, issueMessage, sourcePath string) (string, error) {
	fullPath := filepath.Join(sourcePath, filePath)
	authURL := p.remoteURLFn(repoName)

	if err := os.WriteFile(fullPath, []byte(patch), 0o644); err != nil {
		return "", fmt.Errorf("apply patch to %s: %w", filePath, err)
	}

	steps := [][]string{
		{"config", "user.email", p.userEmail},
		{"config", "user.name", p.userName},
		{"checkout", "-b", branchName},
		{"add", filePath},
		{"commit", "-m", fmt.Sprintf("AI Fix: %s", issueMessage)},
	}
	for _, args := range steps {
		if err := p.runGit(ctx, sourcePath, args...); err != nil {
			return "", fmt.Errorf("git %v: %w", args, err)
		}
	}

	if p.log != nil {
		p.log.LogServiceCall(ctx, "git", "push", 0, nil)
	}
	if err := p.runGit(ctx, sourcePath, "push", authURL, branchName); err != nil {
		return "", fmt.Errorf("git push: %w", err)
	}

	title := fmt.Sprintf("AI Security Fix: %s", issueMessage)
	body := fmt.Sprintf("## AI Security Agent Report\n**Vulnerability:** %s\n\nReview fix for `%s`.", issueMessage, filePath)

	htmlURL, err := p.hosting.CreatePullRequest(ctx, repoName, branchName, title, body)
	if err != nil {
		return "", fmt.Errorf("create pull request: %w", err)
	}
	return htmlURL, nil
}

func (p *Publisher) runGit(ctx context.Context, dir string, args ...string) error {
	fullArgs := append([]string{"-C", dir}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, stderr.String())
	}
	return nil
}
