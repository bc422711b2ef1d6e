package security

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Severity levels for scan findings, ordered by impact.
type Severity int

const (
	SeverityLow      Severity = iota + 1 // Informational noise, small weight
	SeverityMedium                       // Suspicious in most skills
	SeverityHigh                         // Likely hostile
	SeverityCritical                     // Always fails the gate
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity converts a severity string to its typed value.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical, nil
	case "high":
		return SeverityHigh, nil
	case "medium":
		return SeverityMedium, nil
	case "low":
		return SeverityLow, nil
	default:
		return 0, fmt.Errorf("SEC_SEVERITY: unknown severity %q", s)
	}
}

// FindingType names the pattern family that produced a finding.
type FindingType string

const (
	TypeJailbreak           FindingType = "jailbreak"
	TypeSocialEngineering   FindingType = "social_engineering"
	TypePromptLeaking       FindingType = "prompt_leaking"
	TypeDataExfiltration    FindingType = "data_exfiltration"
	TypePrivilegeEscalation FindingType = "privilege_escalation"
	TypeSuspiciousPattern   FindingType = "suspicious_pattern"
	TypeSensitivePath       FindingType = "sensitive_path"
	TypeURL                 FindingType = "url"
	TypeAIInjection         FindingType = "ai_injection"
)

// Finding is one detected pattern occurrence.
type Finding struct {
	Type                   FindingType `json:"type"`
	Severity               Severity    `json:"severity"`
	Message                string      `json:"message"`
	Line                   int         `json:"lineNumber,omitempty"`
	Confidence             float64     `json:"confidence,omitempty"`
	InDocumentationContext bool        `json:"inDocumentationContext,omitempty"`
}

// ScanReport is the result of scanning one piece of content.
type ScanReport struct {
	SkillID        string    `json:"skillId"`
	Findings       []Finding `json:"findings"`
	RiskScore      int       `json:"riskScore"`
	Passed         bool      `json:"passed"`
	ScanDurationMs int64     `json:"scanDurationMs"`
	ScannedAt      time.Time `json:"scannedAt"`
}

// MaxSeverity returns the highest severity across all findings, or 0.
func (r ScanReport) MaxSeverity() Severity {
	var max Severity
	for _, f := range r.Findings {
		if f.Severity > max {
			max = f.Severity
		}
	}
	return max
}

// CountBySeverity tallies findings per severity.
func (r ScanReport) CountBySeverity() map[Severity]int {
	out := make(map[Severity]int, 4)
	for _, f := range r.Findings {
		out[f.Severity]++
	}
	return out
}

// HasCritical reports whether any finding is critical.
func (r ScanReport) HasCritical() bool {
	return r.MaxSeverity() == SeverityCritical
}

// Types returns the distinct finding types, sorted.
func (r ScanReport) Types() []string {
	seen := map[FindingType]struct{}{}
	for _, f := range r.Findings {
		seen[f.Type] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// Summary describes the report with counts only. Finding messages and matched
// text are never included because the scanned content is untrusted.
func (r ScanReport) Summary() string {
	c := r.CountBySeverity()
	return fmt.Sprintf("risk score %d: %d critical, %d high, %d medium, %d low",
		r.RiskScore, c[SeverityCritical], c[SeverityHigh], c[SeverityMedium], c[SeverityLow])
}

// Weights maps severities to risk points. The aggregate is a plain sum, so
// the result does not depend on the order rules run in.
type Weights struct {
	Critical int
	High     int
	Medium   int
	Low      int
}

// DefaultWeights is the points table used unless WithWeights is given.
var DefaultWeights = Weights{Critical: 40, High: 20, Medium: 10, Low: 3}

func (w Weights) of(s Severity) int {
	switch s {
	case SeverityCritical:
		return w.Critical
	case SeverityHigh:
		return w.High
	case SeverityMedium:
		return w.Medium
	case SeverityLow:
		return w.Low
	default:
		return 0
	}
}

// Score sums the weights of all findings and clamps to [0,100].
func (w Weights) Score(findings []Finding) int {
	total := 0
	for _, f := range findings {
		total += w.of(f.Severity)
		if total >= 100 {
			return 100
		}
	}
	if total < 0 {
		return 0
	}
	return total
}

// Rule is one pattern family.
type Rule interface {
	Type() FindingType
	Scan(doc *Document) []Finding
}

// Scanner runs the pattern families over text. It holds no mutable state and
// may be shared across goroutines.
type Scanner struct {
	rules   []Rule
	weights Weights
	now     func() time.Time
}

// Option configures a Scanner.
type Option func(*Scanner)

func WithWeights(w Weights) Option {
	return func(s *Scanner) { s.weights = w }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRules replaces the built-in pattern families.
func WithRules(rules ...Rule) Option {
	return func(s *Scanner) { s.rules = rules }
}

// NewScanner creates a scanner with the built-in pattern families.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		rules:   builtinRules(),
		weights: DefaultWeights,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan evaluates content under policy. Content over the policy's length limit
// is rejected with a single synthetic finding and is not pattern matched.
func (s *Scanner) Scan(id, content string, policy TrustTierPolicy) ScanReport {
	start := s.now()
	report := ScanReport{SkillID: id, ScannedAt: start.UTC()}

	if policy.MaxContentLength > 0 && len(content) > policy.MaxContentLength {
		report.Findings = []Finding{{
			Type:       TypeSuspiciousPattern,
			Severity:   SeverityCritical,
			Message:    fmt.Sprintf("content length %d exceeds %s tier limit of %d bytes", len(content), policy.Tier, policy.MaxContentLength),
			Confidence: 1,
		}}
		report.RiskScore = s.weights.Score(report.Findings)
		report.Passed = false
		report.ScanDurationMs = s.now().Sub(start).Milliseconds()
		return report
	}

	doc := NewDocument(content)
	for _, rule := range s.rules {
		report.Findings = append(report.Findings, rule.Scan(doc)...)
	}
	sortFindings(report.Findings)
	report.RiskScore = s.weights.Score(report.Findings)
	report.Passed = report.RiskScore <= policy.RiskThreshold && !report.HasCritical()
	report.ScanDurationMs = s.now().Sub(start).Milliseconds()
	return report
}

// ScanFiles scans each named file independently and returns the reports keyed
// by file name.
func (s *Scanner) ScanFiles(id string, files map[string]string, policy TrustTierPolicy) map[string]ScanReport {
	out := make(map[string]ScanReport, len(files))
	for name, content := range files {
		out[name] = s.Scan(id+":"+name, content, policy)
	}
	return out
}

// FormatReport returns a human-readable listing of findings. Messages come
// from the rule table, never from the scanned text.
func FormatReport(report ScanReport) string {
	if len(report.Findings) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Security scan found %d issue(s) in %s (%s):\n", len(report.Findings), report.SkillID, report.Summary())
	for _, f := range report.Findings {
		fmt.Fprintf(&b, "  %-9s %-21s line %-4d %s", strings.ToUpper(f.Severity.String()), f.Type, f.Line, f.Message)
		if f.InDocumentationContext {
			b.WriteString(" (in documentation)")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func sortFindings(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Severity != fs[j].Severity {
			return fs[i].Severity > fs[j].Severity
		}
		if fs[i].Line != fs[j].Line {
			return fs[i].Line < fs[j].Line
		}
		if fs[i].Type != fs[j].Type {
			return fs[i].Type < fs[j].Type
		}
		return fs[i].Message < fs[j].Message
	})
}
