package installer

import (
	"fmt"
	"sort"
	"strings"
)

// Status is the terminal outcome of one install request.
type Status string

const (
	StatusInstalled Status = "installed"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

// Kind classifies why an install did not complete.
type Kind string

const (
	KindResolution       Kind = "RESOLUTION"
	KindAlreadyInstalled Kind = "ALREADY_INSTALLED"
	KindFetch            Kind = "FETCH"
	KindValidation       Kind = "VALIDATION"
	KindConflict         Kind = "CONFLICT"
	KindScanGate         Kind = "SCAN_GATE"
	KindWriteFailure     Kind = "WRITE_FAILURE"
	KindLockTimeout      Kind = "LOCK_TIMEOUT"
)

// Status maps a kind to the outcome it produces. Local storage problems are
// failures; everything decided about the skill itself is a rejection.
func (k Kind) Status() Status {
	switch k {
	case KindWriteFailure, KindLockTimeout:
		return StatusFailed
	default:
		return StatusRejected
	}
}

// Error is the caller-facing reason for a non-installed result. Message holds
// remediation text only; it never carries scanned content or local paths.
// The underlying cause is kept for logs through Unwrap.
type Error struct {
	Kind    Kind
	Message string

	// Scan gate details.
	Tier      string
	Threshold int
	RiskScore int
	Counts    map[string]int

	cause error
}

func (e *Error) Error() string {
	if e.Kind == KindScanGate {
		return fmt.Sprintf("%s: %s (tier %s, threshold %d, score %d: %s)",
			e.Kind, e.Message, e.Tier, e.Threshold, e.RiskScore, formatCounts(e.Counts))
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "no findings"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return severityOrder(keys[i]) < severityOrder(keys[j]) })
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%d %s", counts[k], k))
	}
	return strings.Join(parts, ", ")
}

func severityOrder(s string) int {
	switch s {
	case "critical":
		return 0
	case "high":
		return 1
	case "medium":
		return 2
	case "low":
		return 3
	default:
		return 4
	}
}
