package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecuteScanJobRoundTripsThroughJSON(t *testing.T) {
	job := ExecuteScanJob{
		Project:  "owner/repo",
		Path:     "/tmp/scans/abc123",
		Metadata: map[string]interface{}{"branch": "main"},
	}
	body, err := json.Marshal(job)
	assert.NoError(t, err)

	var decoded ExecuteScanJob
	assert.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, job, decoded)
}

func TestExecuteTriageJobRoundTripsThroughJSON(t *testing.T) {
	job := ExecuteTriageJob{
		ScanID:  42,
		Project: "owner/repo",
		SHA:     "deadbeef",
		Findings: []map[string]interface{}{
			{"rule_id": "CVE-2024-1234"},
		},
		Token: "no-token",
	}
	body, err := json.Marshal(job)
	assert.NoError(t, err)

	var decoded ExecuteTriageJob
	assert.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, job.ScanID, decoded.ScanID)
	assert.Equal(t, job.Findings[0]["rule_id"], decoded.Findings[0]["rule_id"])
}

func TestBoolToInt(t *testing.T) {
	assert.Equal(t, 1, boolToInt(true))
	assert.Equal(t, 0, boolToInt(false))
}
