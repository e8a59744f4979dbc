// Package workflow is the Workflow Engine: it advances each triaged finding
// through TRIAGE -> RED_TEAM -> REMEDIATE -> SANITY -> PUBLISH, producing a
// final verdict and, when a fix survives every gate, an open pull request.
// Grounded on original_source/ai-agent/workflow/graph.py.
package workflow

import (
	"regexp"
	"strings"

	"github.com/katashiba/secscan-engine/pkg/store"
)

// State is one step of the per-finding state machine.
type State int

const (
	StateTriage State = iota
	StateRedTeam
	StateRemediate
	StateSanity
	StatePublish
	StateDone
)

func (s State) String() string {
	switch s {
	case StateTriage:
		return "TRIAGE"
	case StateRedTeam:
		return "RED_TEAM"
	case StateRemediate:
		return "REMEDIATE"
	case StateSanity:
		return "SANITY"
	case StatePublish:
		return "PUBLISH"
	default:
		return "DONE"
	}
}

// criticalModules mirrors the original's CRITICAL_MODULES sanity-check list.
var criticalModules = []string{"auth", "jwt", "session", "encrypt"}

var nonLetter = regexp.MustCompile(`[^a-zA-Z]`)

// ClassifyVerdict applies the original's triage rule: strip everything but
// letters, uppercase, and treat any "TP" substring as a true positive.
func ClassifyVerdict(raw string) store.Verdict {
	cleaned := strings.ToUpper(nonLetter.ReplaceAllString(raw, ""))
	if strings.Contains(cleaned, "TP") {
		return store.VerdictTP
	}
	return store.VerdictFP
}

// StripCodeFence removes a leading/trailing markdown code fence from a
// model completion, matching the original's regex-based cleanup.
var codeFenceOpen = regexp.MustCompile("```[a-zA-Z]*\n")

func StripCodeFence(raw string) string {
	cleaned := codeFenceOpen.ReplaceAllString(raw, "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return strings.TrimSpace(cleaned)
}

// SanityResult is the outcome of the SANITY gate's three checks.
type SanityResult struct {
	Passed             bool
	DeletedCriticals   []string
	IsEmpty            bool
	IsWiped            bool
}

// CheckSanity runs the patch-integrity triple check unchanged from the
// original's node_sanity_check: no critical module word dropped, the patch
// isn't blank, and the patch isn't a suspicious mass-deletion of a
// substantially longer snippet.
func CheckSanity(snippet, patch string) SanityResult {
	var deleted []string
	for _, word := range criticalModules {
		if strings.Contains(snippet, word) && !strings.Contains(patch, word) {
			deleted = append(deleted, word)
		}
	}

	isEmpty := len(strings.TrimSpace(patch)) == 0
	isWiped := countLines(patch) < 2 && countLines(snippet) > 10

	return SanityResult{
		Passed:           len(deleted) == 0 && !isEmpty && !isWiped,
		DeletedCriticals: deleted,
		IsEmpty:          isEmpty,
		IsWiped:          isWiped,
	}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Split(s, "\n"))
}

// NextState is the pure transition function driving the state machine: it
// returns the state that follows the current one in the fixed order
// TRIAGE -> RED_TEAM -> REMEDIATE -> SANITY -> PUBLISH -> DONE, without
// performing any I/O. It does not look at the finding's verdict or patch;
// skipping the AI stages for a non-TP finding is decided by ShouldSkipAIWork
// in the engine driver in engine.go, which also performs the actual
// LLM/Sandbox/Store side effects.
func NextState(current State, f *store.Finding) State {
	switch current {
	case StateTriage:
		return StateRedTeam
	case StateRedTeam:
		return StateRemediate
	case StateRemediate:
		return StateSanity
	case StateSanity:
		return StatePublish
	case StatePublish:
		return StateDone
	default:
		return StateDone
	}
}

// ShouldSkipAIWork reports whether RED_TEAM/REMEDIATE should be skipped for
// a finding, per the original's "only act on TP" rule.
func ShouldSkipAIWork(f *store.Finding) bool {
	return f.AIVerdict != store.VerdictTP
}
