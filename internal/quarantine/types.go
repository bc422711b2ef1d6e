package quarantine

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies the consequence of a quarantined skill for import. It
// is separate from scanner finding severity.
type Severity string

const (
	SeverityMalicious  Severity = "MALICIOUS"
	SeveritySuspicious Severity = "SUSPICIOUS"
	SeverityRisky      Severity = "RISKY"
	SeverityLowQuality Severity = "LOW_QUALITY"
)

func (s Severity) Rank() int {
	switch s {
	case SeverityMalicious:
		return 4
	case SeveritySuspicious:
		return 3
	case SeverityRisky:
		return 2
	case SeverityLowQuality:
		return 1
	default:
		return 0
	}
}

func ParseSeverity(s string) (Severity, error) {
	v := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if v.Rank() == 0 {
		return "", fmt.Errorf("QUARANTINE_SEVERITY: unknown severity %q", s)
	}
	return v, nil
}

type ReviewStatus string

const (
	StatusPending  ReviewStatus = "pending"
	StatusApproved ReviewStatus = "approved"
	StatusRejected ReviewStatus = "rejected"
)

func ParseReviewStatus(s string) (ReviewStatus, error) {
	switch v := ReviewStatus(strings.ToLower(strings.TrimSpace(s))); v {
	case StatusPending, StatusApproved, StatusRejected:
		return v, nil
	default:
		return "", fmt.Errorf("QUARANTINE_STATUS: unknown review status %q", s)
	}
}

// Entry is one quarantined skill awaiting or past review.
type Entry struct {
	ID               string       `json:"id"`
	SkillID          string       `json:"skillId"`
	Source           string       `json:"source"`
	QuarantineReason string       `json:"quarantineReason"`
	Severity         Severity     `json:"severity"`
	DetectedPatterns []string     `json:"detectedPatterns"`
	QuarantineDate   time.Time    `json:"quarantineDate"`
	ReviewedBy       string       `json:"reviewedBy,omitempty"`
	ReviewStatus     ReviewStatus `json:"reviewStatus"`
	ReviewNotes      string       `json:"reviewNotes,omitempty"`
	ReviewDate       *time.Time   `json:"reviewDate,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// Review is a reviewer's decision on a pending entry.
type Review struct {
	Status   ReviewStatus
	Reviewer string
	Notes    string
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	SkillID  string
	Status   ReviewStatus
	Severity Severity
	Limit    int
}

type Stats struct {
	Total      int                  `json:"total"`
	ByStatus   map[ReviewStatus]int `json:"byStatus"`
	BySeverity map[Severity]int     `json:"bySeverity"`
}
