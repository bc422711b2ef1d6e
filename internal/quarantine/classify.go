package quarantine

import "skillgate/internal/security"

// SeverityFromReport maps a failed scan to a quarantine severity.
func SeverityFromReport(report security.ScanReport, policy security.TrustTierPolicy) Severity {
	counts := report.CountBySeverity()
	switch {
	case counts[security.SeverityCritical] > 0:
		return SeverityMalicious
	case counts[security.SeverityHigh] > 0:
		return SeveritySuspicious
	case report.RiskScore > policy.RiskThreshold:
		return SeverityRisky
	default:
		return SeverityLowQuality
	}
}

// EntryFromReport builds a pending entry describing a failed scan. The reason
// carries counts only.
func EntryFromReport(skillID, source string, report security.ScanReport, policy security.TrustTierPolicy) Entry {
	return Entry{
		SkillID:          skillID,
		Source:           source,
		QuarantineReason: "scan gate failed at " + string(policy.Tier) + " tier: " + report.Summary(),
		Severity:         SeverityFromReport(report, policy),
		DetectedPatterns: report.Types(),
		QuarantineDate:   report.ScannedAt,
	}
}
