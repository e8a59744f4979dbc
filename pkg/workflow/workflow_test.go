package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/katashiba/secscan-engine/pkg/store"
)

func TestClassifyVerdict(t *testing.T) {
	cases := map[string]store.Verdict{
		"TP":                store.VerdictTP,
		" tp ":              store.VerdictTP,
		"This is TP.":       store.VerdictTP,
		"FP":                store.VerdictFP,
		"False positive fp": store.VerdictFP,
		"":                  store.VerdictFP,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ClassifyVerdict(raw), "input %q", raw)
	}
}

func TestStripCodeFence(t *testing.T) {
	raw := "```python\nprint('hi')\n```"
	assert.Equal(t, "print('hi')", StripCodeFence(raw))

	assert.Equal(t, "no fence here", StripCodeFence("no fence here"))
}

func TestCheckSanityPassesCleanPatch(t *testing.T) {
	result := CheckSanity("import pickle\npickle.loads(data)", "import json\njson.loads(data)")
	assert.True(t, result.Passed)
}

func TestCheckSanityFailsOnDeletedCriticalModule(t *testing.T) {
	snippet := "from auth import verify\nverify(token)"
	patch := "print('verification removed')"
	result := CheckSanity(snippet, patch)
	assert.False(t, result.Passed)
	assert.Contains(t, result.DeletedCriticals, "auth")
}

func TestCheckSanityFailsOnEmptyPatch(t *testing.T) {
	result := CheckSanity("some code", "   \n  ")
	assert.False(t, result.Passed)
	assert.True(t, result.IsEmpty)
}

func TestCheckSanityFailsOnMassDeletion(t *testing.T) {
	snippet := ""
	for i := 0; i < 12; i++ {
		snippet += "line\n"
	}
	result := CheckSanity(snippet, "x=1")
	assert.False(t, result.Passed)
	assert.True(t, result.IsWiped)
}

func TestNextStateSequence(t *testing.T) {
	f := &store.Finding{}
	assert.Equal(t, StateRedTeam, NextState(StateTriage, f))
	assert.Equal(t, StateRemediate, NextState(StateRedTeam, f))
	assert.Equal(t, StateSanity, NextState(StateRemediate, f))
	assert.Equal(t, StatePublish, NextState(StateSanity, f))
	assert.Equal(t, StateDone, NextState(StatePublish, f))
}

func TestShouldSkipAIWork(t *testing.T) {
	assert.True(t, ShouldSkipAIWork(&store.Finding{AIVerdict: store.VerdictFP}))
	assert.False(t, ShouldSkipAIWork(&store.Finding{AIVerdict: store.VerdictTP}))
}
