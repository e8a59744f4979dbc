package normalizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sarifSample = `{
	"runs": [{
		"tool": {"driver": {"name": "semgrep"}},
		"results": [{
			"ruleId": "python.sql-injection",
			"message": {"text": "SQL built by string interpolation"},
			"locations": [{"physicalLocation": {"artifactLocation": {"uri": "app.py"}, "region": {"startLine": 12}}}]
		}]
	}]
}`

const gitleaksSample = `[
	{"Description": "AWS Access Key", "RuleID": "aws-access-key", "File": "config.py", "StartLine": 4}
]`

const zapSample = `{
	"site": [{
		"alerts": [{
			"pluginid": "40018",
			"name": "SQL Injection",
			"riskdesc": "High (Medium)",
			"url": "http://target/login",
			"solution": "Use parameterized queries"
		}]
	}]
}`

func TestExtractFindingsDetectsSARIF(t *testing.T) {
	findings := ExtractFindings([]byte(sarifSample), "semgrep.sarif")
	require.Len(t, findings, 1)
	assert.Equal(t, "semgrep", findings[0].Tool)
	assert.Equal(t, "python.sql-injection", findings[0].RuleID)
	assert.Equal(t, "app.py", findings[0].File)
	assert.Equal(t, 12, findings[0].Line)
}

func TestExtractFindingsDetectsGitleaks(t *testing.T) {
	findings := ExtractFindings([]byte(gitleaksSample), "gitleaks.json")
	require.Len(t, findings, 1)
	assert.Equal(t, "gitleaks", findings[0].Tool)
	assert.Equal(t, "aws-access-key", findings[0].RuleID)
	assert.Equal(t, 4, findings[0].Line)
}

func TestExtractFindingsDetectsZAP(t *testing.T) {
	findings := ExtractFindings([]byte(zapSample), "zap_report.json")
	require.Len(t, findings, 1)
	assert.Equal(t, "zap", findings[0].Tool)
	assert.Equal(t, "dast-report", findings[0].File)
	assert.Equal(t, 0, findings[0].Line)
	assert.Equal(t, "http://target/login", findings[0].DASTEndpoint)
	assert.Contains(t, findings[0].Message, "SQL Injection")
}

func TestExtractFindingsMalformedJSONYieldsEmptyNotAbort(t *testing.T) {
	findings := ExtractFindings([]byte("{not valid json"), "whatever.json")
	assert.Nil(t, findings)
}

func TestCleanPathIsIdempotent(t *testing.T) {
	cases := []string{
		"file:///tmp/scans/abc123/src/app.py",
		"/tmp/uploads/xyz/app.py",
		"app.py",
		"/app.py",
	}
	for _, c := range cases {
		once := CleanPath(c)
		twice := CleanPath(once)
		assert.Equal(t, once, twice, "CleanPath must be idempotent for %q", c)
		assert.False(t, hasScansUploadsPrefix(once), "cleaned path must never begin with /tmp/<scans|uploads>/...: %q", once)
	}
}

func hasScansUploadsPrefix(p string) bool {
	return scansUploadsPrefixRe.MatchString(p)
}

func TestIsForbiddenFiltersNoisePaths(t *testing.T) {
	assert.True(t, IsForbidden(".github/workflows/ci.yml"))
	assert.True(t, IsForbidden("node_modules/lodash/index.js"))
	assert.False(t, IsForbidden("src/app.py"))
}

func TestPopulateSnippetWindowAndPlaceholders(t *testing.T) {
	dir := t.TempDir()
	lines := make([]string, 20)
	for i := range lines {
		lines[i] = "line"
	}
	path := filepath.Join(dir, "app.py")
	content := ""
	for i, l := range lines {
		content += l + " " + itoa(i+1) + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	snippet := PopulateSnippet(dir, "app.py", 10)
	assert.Contains(t, snippet, "line 5")
	assert.Contains(t, snippet, "line 10")
	assert.Contains(t, snippet, "line 15")

	assert.Equal(t, placeholderNotFound, PopulateSnippet(dir, "missing.py", 1))

	emptyPath := filepath.Join(dir, "empty.py")
	require.NoError(t, os.WriteFile(emptyPath, []byte(""), 0644))
	assert.Equal(t, placeholderEmptyFile, PopulateSnippet(dir, "empty.py", 1))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}
