// Package main provides the Scan Worker entry point: the process that
// consumes execute_scan_job messages and drives them through the Scan
// Coordinator. Grounded on cmd/indexer/main.go's load-config /
// build-service / signal-wait / stop shape.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/katashiba/secscan-engine/internal/config"
	"github.com/katashiba/secscan-engine/internal/logging"
	"github.com/katashiba/secscan-engine/internal/metrics"
	"github.com/katashiba/secscan-engine/pkg/analyzer"
	"github.com/katashiba/secscan-engine/pkg/coordinator"
	"github.com/katashiba/secscan-engine/pkg/progress"
	"github.com/katashiba/secscan-engine/pkg/publisher"
	"github.com/katashiba/secscan-engine/pkg/queue"
	"github.com/katashiba/secscan-engine/pkg/store"
	"github.com/katashiba/secscan-engine/pkg/workflow"
)

func main() {
	log := logging.NewFromEnv("scanworker")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	metrics.Register(prometheus.DefaultRegisterer)
	go serveMetrics(cfg.MetricsAddr, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Migrate(cfg.PostgresDSN); err != nil {
		log.WithError(err).Fatal("run migrations")
	}
	pgStore, err := store.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}

	progressPublisher, err := progress.New(cfg.RedisURL, log)
	if err != nil {
		log.WithError(err).Fatal("connect progress publisher")
	}

	amqpClient, err := queue.Connect(cfg.AMQPURL, log)
	if err != nil {
		log.WithError(err).Fatal("connect queue")
	}
	defer amqpClient.Close()

	analyzerDriver := analyzer.New(analyzer.DockerExecRunner{}, log, "")

	ghPublisher := publisher.New(publisher.NewGitHubClient(cfg.GitHubToken, ""), log, cfg.GitHubToken)

	engine := workflow.New(
		workflow.NewHTTPLLMClient(cfg.LLMBaseURL, cfg.LLMAPIKey, "gpt-4"),
		workflow.NewHTTPSandboxClient(cfg.SandboxBaseURL),
		ghPublisher,
		pgStore,
		log,
		workflow.Config{
			MaxFindingsPerScan:  cfg.MaxFindingsPerScan,
			GateOnSandboxVerify: cfg.GateOnSandboxVerify,
		},
	)

	coord := coordinator.New(
		coordinator.Config{
			AnalysisServiceURL:    cfg.AnalysisServiceURL,
			RemediationServiceURL: cfg.RemediationServiceURL,
			SandboxBaseURL:        cfg.SandboxBaseURL,
			GitHubToken:           cfg.GitHubToken,
			ScanDir:               "/tmp/scans",
			ReadinessTimeout:      cfg.ReadinessTimeout,
			ReadinessPollInterval: cfg.ReadinessPollInterval,
			DemoProject:           cfg.DemoProject,
		},
		pgStore,
		analyzerDriver,
		engine,
		progressPublisher,
		log,
	)

	done := make(chan error, 1)
	go func() {
		done <- amqpClient.Consume(ctx, cfg.ScanQueueName, cfg.QueuePrefetch, scanJobHandler(coord, log))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-done:
		if err != nil {
			log.WithError(err).Error("consumer stopped")
		}
	}
	cancel()
}

// scanJobHandler decodes an execute_scan_job body into a coordinator.Job
// and drives it through the Scan Coordinator. Any error from Run fails the
// delivery, which is nacked without requeue per queue.Handler's contract
// (a failed scan is not silently retried, to avoid duplicate pull
// requests).
func scanJobHandler(coord *coordinator.Coordinator, log *logging.Logger) queue.Handler {
	return func(ctx context.Context, body []byte, taskID string, retryCount int) error {
		var payload queue.ExecuteScanJob
		if err := json.Unmarshal(body, &payload); err != nil {
			log.WithError(err).WithField("task_id", taskID).Error("malformed scan job payload")
			return err
		}
		return coord.Run(ctx, jobFromPayload(payload))
	}
}

func jobFromPayload(payload queue.ExecuteScanJob) coordinator.Job {
	return coordinator.Job{
		Project:  payload.Project,
		Path:     payload.Path,
		Metadata: metadataFromMap(payload.Metadata),
	}
}

func metadataFromMap(raw map[string]interface{}) coordinator.JobMetadata {
	meta := coordinator.JobMetadata{}
	if raw == nil {
		return meta
	}
	meta.CIProvider = stringField(raw, "ci_provider")
	meta.Branch = stringField(raw, "branch")
	meta.CommitSHA = stringField(raw, "commit_sha")
	meta.RepoURL = stringField(raw, "repo_url")
	meta.CIJobURL = stringField(raw, "ci_job_url")
	meta.TargetURL = stringField(raw, "target_url")
	meta.ReferenceID = stringField(raw, "reference_id")
	meta.ChangedFiles = stringListField(raw, "changed_files")
	return meta
}

func stringField(raw map[string]interface{}, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

func stringListField(raw map[string]interface{}, key string) []string {
	v, ok := raw[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(v))
	for _, item := range v {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func serveMetrics(addr string, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("metrics server stopped")
	}
}
