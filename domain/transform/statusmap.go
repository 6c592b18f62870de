package transform

import "strings"

// Canonical flow steps a provider status can map to.
const (
	FlowOpen       = "open"
	FlowInProgress = "in_progress"
	FlowInReview   = "in_review"
	FlowBlocked    = "blocked"
	FlowDone       = "done"
)

// defaultFlowSteps maps common status names to flow steps. Keys are
// lower-cased and trimmed; lookups normalise the same way.
var defaultFlowSteps = map[string]string{
	"backlog":     FlowOpen,
	"to do":       FlowOpen,
	"todo":        FlowOpen,
	"open":        FlowOpen,
	"selected":    FlowOpen,
	"in progress": FlowInProgress,
	"in review":   FlowInReview,
	"code review": FlowInReview,
	"review":      FlowInReview,
	"blocked":     FlowBlocked,
	"on hold":     FlowBlocked,
	"done":        FlowDone,
	"closed":      FlowDone,
	"resolved":    FlowDone,
	"cancelled":   FlowDone,
}

// categoryFlowSteps maps Jira status category keys, used as the fallback
// when the status name is not in the table.
var categoryFlowSteps = map[string]string{
	"new":           FlowOpen,
	"indeterminate": FlowInProgress,
	"done":          FlowDone,
}

// flowStepFor resolves a status to a flow step: exact name match first
// (case-insensitive, trimmed), then the status category, then open.
func flowStepFor(statusName, categoryKey string) string {
	if step, ok := defaultFlowSteps[normalizeStatusName(statusName)]; ok {
		return step
	}
	if step, ok := categoryFlowSteps[strings.ToLower(strings.TrimSpace(categoryKey))]; ok {
		return step
	}
	return FlowOpen
}

func normalizeStatusName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
