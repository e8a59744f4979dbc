package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/katashiba/secscan-engine/internal/httpclient"
)

// GitHubClient implements HostingClient against the GitHub REST API. No
// google/go-github dependency appears anywhere in the corpus, so this is a
// small hand-rolled caller against POST /repos/{owner}/{repo}/pulls.
type GitHubClient struct {
	client  *http.Client
	token   string
	baseURL string
}

// NewGitHubClient builds a GitHubClient. baseURL defaults to the public
// GitHub API when empty, allowing tests to point at a fake server.
func NewGitHubClient(token, baseURL string) *GitHubClient {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	client := httpclient.New(httpclient.Config{}, httpclient.DefaultDefaults())
	return &GitHubClient{client: client, token: token, baseURL: strings.TrimRight(baseURL, "/")}
}

type createPullRequestBody struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
}

type createPullRequestResponse struct {
	HTMLURL string `json:"html_url"`
}

func (g *GitHubClient) CreatePullRequest(ctx context.Context, repoName, branchName, title, body string) (string, error) {
	reqBody, err := json.Marshal(createPullRequestBody{
		Title: title,
		Body:  body,
		Head:  branchName,
		Base:  "main",
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/repos/%s/pulls", g.baseURL, repoName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("github create pull request failed: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed createPullRequestResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", err
	}
	return parsed.HTMLURL, nil
}
