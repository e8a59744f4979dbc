// Package normalizer is the Report Normalizer: it parses heterogeneous
// analyzer report formats into a single finding schema and filters noise
// paths. Grounded on
// original_source/services/scanner/core/parser.py.
package normalizer

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Finding is the Report Normalizer's output shape.
type Finding struct {
	Tool         string
	RuleID       string
	Message      string
	File         string
	Line         int
	DASTEndpoint string
	Snippet      string
}

// forbiddenPaths lists noise paths dropped after cleaning, taken verbatim
// from the original's FORBIDDEN_PATHS.
var forbiddenPaths = []string{
	".github", "venv", "node_modules", "k8s-specifications", "docker-compose",
	"Dockerfile", ".yml", ".yaml", "semgrep.sarif", "gitleaks.json", "checkov.sarif",
}

var scansUploadsPrefixRe = regexp.MustCompile(`^/tmp/(scans|uploads)/[^/]+/`)

// CleanPath strips a leading file:// scheme, then a /tmp/(scans|uploads)/<id>/
// prefix, then any remaining leading separator. It is a closed operation:
// CleanPath(CleanPath(p)) == CleanPath(p).
func CleanPath(path string) string {
	path = strings.TrimPrefix(path, "file://")
	path = scansUploadsPrefixRe.ReplaceAllString(path, "")
	path = strings.TrimPrefix(path, "/")
	return path
}

// IsForbidden reports whether a cleaned path matches the noise-path list.
func IsForbidden(cleaned string) bool {
	for _, frag := range forbiddenPaths {
		if strings.Contains(cleaned, frag) {
			return true
		}
	}
	return false
}

// ExtractFindings auto-detects the report format from content and returns
// normalized findings. Malformed JSON yields an empty list, never an
// abort.
func ExtractFindings(content []byte, filenameHint string) []Finding {
	if !gjson.ValidBytes(content) {
		return nil
	}
	parsed := gjson.ParseBytes(content)

	switch {
	case parsed.Get("runs").Exists():
		return extractSARIF(parsed)
	case parsed.IsArray() && len(parsed.Array()) > 0 && parsed.Array()[0].Get("Description").Exists():
		return extractGitleaks(parsed)
	case parsed.Get("site").Exists():
		return extractZAP(parsed)
	default:
		return nil
	}
}

func extractSARIF(root gjson.Result) []Finding {
	var out []Finding
	for _, run := range root.Get("runs").Array() {
		tool := run.Get("tool.driver.name").String()
		for _, result := range run.Get("results").Array() {
			ruleID := result.Get("ruleId").String()
			message := result.Get("message.text").String()
			loc := result.Get("locations.0.physicalLocation")
			file := loc.Get("artifactLocation.uri").String()
			line := int(loc.Get("region.startLine").Int())

			out = append(out, Finding{
				Tool: tool, RuleID: ruleID, Message: message, File: file, Line: line,
			})
		}
	}
	return out
}

func extractGitleaks(root gjson.Result) []Finding {
	var out []Finding
	for _, item := range root.Array() {
		out = append(out, Finding{
			Tool:    "gitleaks",
			RuleID:  item.Get("RuleID").String(),
			Message: item.Get("Description").String(),
			File:    item.Get("File").String(),
			Line:    int(item.Get("StartLine").Int()),
		})
	}
	return out
}

func extractZAP(root gjson.Result) []Finding {
	var out []Finding
	for _, site := range root.Get("site").Array() {
		for _, alert := range site.Get("alerts").Array() {
			name := alert.Get("name").String()
			riskDesc := alert.Get("riskdesc").String()
			url := alert.Get("url").String()
			solution := alert.Get("solution").String()

			message := fmt.Sprintf("%s (%s) at %s. Solution: %s", name, riskDesc, url, solution)
			out = append(out, Finding{
				Tool:         "zap",
				RuleID:       alert.Get("pluginid").String(),
				Message:      message,
				File:         "dast-report",
				Line:         0,
				DASTEndpoint: url,
			})
		}
	}
	return out
}

// snippetPlaceholders mirror the original's distinct human-readable
// placeholders so nothing is ever silently absent.
const (
	placeholderNotFound = "⚠️ Source code not found for this finding."
	placeholderEmptyFile = "⚠️ Source file is empty."
	placeholderEmptyWindow = "⚠️ No surrounding source lines available."
)

// PopulateSnippet opens sourceRoot+file, clamps the 1-based reported line
// to the file's length, and extracts the ±5-line window.
func PopulateSnippet(sourceRoot, file string, line int) string {
	path := sourceRoot
	if file != "" {
		path = joinPath(sourceRoot, file)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return placeholderNotFound
	}
	if len(content) == 0 {
		return placeholderEmptyFile
	}

	lines := strings.Split(string(content), "\n")
	if line < 1 {
		line = 1
	}
	if line > len(lines) {
		line = len(lines)
	}

	idx := line - 1 // 0-based
	start := idx - 5
	if start < 0 {
		start = 0
	}
	end := idx + 6
	if end > len(lines) {
		end = len(lines)
	}
	if start >= end {
		return placeholderEmptyWindow
	}
	return strings.Join(lines[start:end], "\n")
}

func joinPath(root, file string) string {
	root = strings.TrimRight(root, "/")
	file = strings.TrimLeft(file, "/")
	return root + "/" + file
}

// ParseLineNumber safely converts a SARIF/gitleaks line value, clamping
// negative or unparsable values to 0.
func ParseLineNumber(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
