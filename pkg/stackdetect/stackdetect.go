// Package stackdetect implements the Stack Detector: a heuristic over a
// source tree that classifies language, framework, HTTP port, and entry
// command, used to decide whether to spin up a DAST target. Grounded on
// original_source/services/orchestrator/core/detector.py.
package stackdetect

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Result is the Stack Detector's output record.
type Result struct {
	Type         string // "web" or "unknown"
	Framework    string
	Language     string
	Port         int
	StartCommand string
	Detected     bool
}

var exposeRe = regexp.MustCompile(`(?mi)^\s*EXPOSE\s+(\d+)`)

var skipDirs = map[string]struct{}{
	"node_modules": {},
	"venv":         {},
	".git":         {},
	"__pycache__":  {},
	".venv":        {},
}

var pythonEntryPoints = []string{"main.py", "app.py", "wsgi.py", "server.py", "manage.py", "run.py"}
var nodeEntryPoints = []string{"server.js", "app.js", "index.js", "main.js"}

var defaultPorts = map[string]int{
	"flask":   5000,
	"fastapi": 8000,
	"django":  8000,
	"express": 3000,
	"java":    8080,
}

// Detect classifies the source tree rooted at sourcePath.
func Detect(sourcePath string) Result {
	res := Result{Language: "unknown"}

	if port, ok := parseDockerfilePort(sourcePath); ok {
		res.Port = port
	}

	res.Language = detectLanguage(sourcePath)

	switch res.Language {
	case "python":
		res.Framework, res.StartCommand = analyzePython(sourcePath)
	case "node":
		res.Framework, res.StartCommand = analyzeNode(sourcePath)
	}

	if res.Port == 0 {
		if port, ok := defaultPorts[res.Framework]; ok {
			res.Port = port
		} else if res.Language == "java" {
			res.Port = defaultPorts["java"]
		}
	}

	res.Detected = res.Framework != "" || res.Port != 0
	if res.Framework != "" || res.Port != 0 {
		res.Type = "web"
	} else {
		res.Type = "unknown"
	}
	return res
}

func parseDockerfilePort(sourcePath string) (int, bool) {
	content, err := os.ReadFile(filepath.Join(sourcePath, "Dockerfile"))
	if err != nil {
		return 0, false
	}
	matches := exposeRe.FindStringSubmatch(string(content))
	if len(matches) < 2 {
		return 0, false
	}
	port := 0
	for _, c := range matches[1] {
		port = port*10 + int(c-'0')
	}
	return port, true
}

func detectLanguage(sourcePath string) string {
	if exists(filepath.Join(sourcePath, "requirements.txt")) {
		return "python"
	}
	if exists(filepath.Join(sourcePath, "package.json")) {
		return "node"
	}
	if exists(filepath.Join(sourcePath, "main.go")) || exists(filepath.Join(sourcePath, "go.mod")) {
		return "go"
	}
	return "unknown"
}

func analyzePython(sourcePath string) (framework, startCommand string) {
	content, _ := os.ReadFile(filepath.Join(sourcePath, "requirements.txt"))
	lower := strings.ToLower(string(content))

	switch {
	case strings.Contains(lower, "flask"):
		framework = "flask"
	case strings.Contains(lower, "fastapi"):
		framework = "fastapi"
	case strings.Contains(lower, "django"):
		framework = "django"
	}

	entry := findEntryPoint(sourcePath, pythonEntryPoints)
	if entry == "" {
		return framework, ""
	}

	entryContent, _ := os.ReadFile(entry)
	rel, _ := filepath.Rel(sourcePath, entry)
	switch {
	case strings.Contains(string(entryContent), "uvicorn.run"):
		startCommand = "uvicorn " + strings.TrimSuffix(rel, ".py") + ":app"
	case strings.Contains(string(entryContent), "app.run"):
		startCommand = "python " + rel
	case strings.Contains(string(entryContent), `if __name__ == "__main__":`):
		startCommand = "python " + rel
	default:
		startCommand = "python " + rel
	}
	return framework, startCommand
}

func analyzeNode(sourcePath string) (framework, startCommand string) {
	content, err := os.ReadFile(filepath.Join(sourcePath, "package.json"))
	if err != nil {
		return "", ""
	}
	lower := strings.ToLower(string(content))

	switch {
	case strings.Contains(lower, `"express"`):
		framework = "express"
	case strings.Contains(lower, `"nestjs"`) || strings.Contains(lower, "@nestjs"):
		framework = "nestjs"
	}

	if strings.Contains(lower, `"start"`) {
		startCommand = "npm start"
	} else if entry := findEntryPoint(sourcePath, nodeEntryPoints); entry != "" {
		rel, _ := filepath.Rel(sourcePath, entry)
		startCommand = "node " + rel
	}
	return framework, startCommand
}

// findEntryPoint searches root first, then recursively (skipping
// node_modules/venv/.git/cache dirs) for the first matching filename; root
// hits beat deeper ones.
func findEntryPoint(sourcePath string, candidates []string) string {
	for _, name := range candidates {
		p := filepath.Join(sourcePath, name)
		if exists(p) {
			return p
		}
	}

	var found string
	_ = filepath.Walk(sourcePath, func(path string, info os.FileInfo, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if info.IsDir() {
			if _, skip := skipDirs[info.Name()]; skip && path != sourcePath {
				return filepath.SkipDir
			}
			return nil
		}
		for _, name := range candidates {
			if info.Name() == name {
				found = path
				return filepath.SkipAll
			}
		}
		return nil
	})
	return found
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
