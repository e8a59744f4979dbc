package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/katashiba/secscan-engine/internal/httpclient"
	"github.com/katashiba/secscan-engine/internal/retry"
)

// LLMClient abstracts the local LLM collaborator used by TRIAGE, RED_TEAM,
// and REMEDIATE. Grounded on original_source/ai-agent/workflow/graph.py's
// ChatOpenAI invocations against an LM Studio-compatible endpoint.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type httpLLMClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewHTTPLLMClient builds an LLMClient talking to a chat-completions
// compatible endpoint, matching the original's base_url/api_key/model/
// timeout=300/max_retries=2 configuration.
func NewHTTPLLMClient(baseURL, apiKey, model string) LLMClient {
	client := httpclient.New(httpclient.Config{Timeout: 300 * time.Second}, httpclient.Defaults{
		Timeout:      300 * time.Second,
		MaxBodyBytes: 8 << 20,
	})
	return &httpLLMClient{client: client, baseURL: baseURL, apiKey: apiKey, model: model}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *httpLLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	var out string
	err := retry.Do(ctx, retry.LLM(), func() error {
		reqBody, err := json.Marshal(chatCompletionRequest{
			Model:       c.model,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			Temperature: 0.1,
			MaxTokens:   4096,
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(reqBody))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("llm completion failed: status %d: %s", resp.StatusCode, string(body))
		}

		var parsed chatCompletionResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return err
		}
		if len(parsed.Choices) == 0 {
			return fmt.Errorf("llm completion returned no choices")
		}
		out = parsed.Choices[0].Message.Content
		return nil
	})
	return out, err
}

// SandboxClient abstracts the isolated execution collaborator used by
// RED_TEAM (VerifyPoc), REMEDIATE/SANITY's optional gate (VerifyPatch), and
// DAST preparation (Deploy, RedTeam). Grounded on
// original_source/services/sandbox/main.py's four POST endpoints.
type SandboxClient interface {
	VerifyPatch(ctx context.Context, sourcePath, patchCode, targetFile string) (success bool, output string, err error)
	VerifyPoc(ctx context.Context, sourcePath, pocCode, fileExtension string) (success bool, output string, err error)
	Deploy(ctx context.Context, sourcePath string, port int, image, startCmd string) (containerID string, err error)
	RedTeam(ctx context.Context, finding map[string]interface{}, project, sourcePath string) (result map[string]interface{}, err error)
}

type httpSandboxClient struct {
	client  *http.Client
	baseURL string
}

// NewHTTPSandboxClient builds a SandboxClient against the sandbox service's
// HTTP API.
func NewHTTPSandboxClient(baseURL string) SandboxClient {
	client := httpclient.New(httpclient.Config{Timeout: 2 * time.Minute}, httpclient.DefaultDefaults())
	return &httpSandboxClient{client: client, baseURL: baseURL}
}

func (c *httpSandboxClient) doJSON(ctx context.Context, path string, reqBody, respBody interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sandbox call %s failed: status %d: %s", path, resp.StatusCode, string(body))
	}
	if respBody == nil {
		return nil
	}
	return json.Unmarshal(body, respBody)
}

func (c *httpSandboxClient) VerifyPatch(ctx context.Context, sourcePath, patchCode, targetFile string) (bool, string, error) {
	req := map[string]string{"source_path": sourcePath, "patch_code": patchCode, "target_file": targetFile}
	var resp struct {
		Success bool   `json:"success"`
		Output  string `json:"output"`
	}
	if err := c.doJSON(ctx, "/verify_patch", req, &resp); err != nil {
		return false, "", err
	}
	return resp.Success, resp.Output, nil
}

func (c *httpSandboxClient) VerifyPoc(ctx context.Context, sourcePath, pocCode, fileExtension string) (bool, string, error) {
	req := map[string]string{"source_path": sourcePath, "poc_code": pocCode, "file_extension": fileExtension}
	var resp struct {
		Success bool   `json:"success"`
		Output  string `json:"output"`
	}
	if err := c.doJSON(ctx, "/verify_poc", req, &resp); err != nil {
		return false, "", err
	}
	return resp.Success, resp.Output, nil
}

func (c *httpSandboxClient) Deploy(ctx context.Context, sourcePath string, port int, image, startCmd string) (string, error) {
	req := map[string]interface{}{"source_path": sourcePath, "port": port, "image": image, "start_cmd": startCmd}
	var resp struct {
		ContainerID string `json:"container_id"`
	}
	if err := c.doJSON(ctx, "/deploy", req, &resp); err != nil {
		return "", err
	}
	return resp.ContainerID, nil
}

func (c *httpSandboxClient) RedTeam(ctx context.Context, finding map[string]interface{}, project, sourcePath string) (map[string]interface{}, error) {
	req := map[string]interface{}{"finding": finding, "project": project, "source_path": sourcePath}
	var resp map[string]interface{}
	if err := c.doJSON(ctx, "/red_team", req, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
