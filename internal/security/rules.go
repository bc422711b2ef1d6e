package security

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
)

const (
	confidenceDefault = 0.9
	confidenceDocs    = 0.5

	// maxMatchesPerPattern bounds report size on repetitive input.
	maxMatchesPerPattern = 5
)

// Document is a line-split view of scanned text, annotated with which lines
// sit inside documentation or example blocks.
type Document struct {
	Lines []string
	docs  []bool
}

var exampleHeading = regexp.MustCompile(`(?i)^#{1,6}\s+.*\b(?:examples?|usage|samples?|demo)\b`)

// NewDocument splits content into lines and marks fenced code blocks, block
// quotes and sections under example headings as documentation context.
func NewDocument(content string) *Document {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	docs := make([]bool, len(lines))
	inFence := false
	fence := ""
	exampleLevel := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if inFence {
			docs[i] = true
			if strings.HasPrefix(trimmed, fence) {
				inFence = false
			}
			continue
		}
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = true
			fence = trimmed[:3]
			docs[i] = true
			continue
		}
		if level := headingLevel(trimmed); level > 0 {
			if exampleLevel > 0 && level <= exampleLevel {
				exampleLevel = 0
			}
			if exampleHeading.MatchString(trimmed) {
				exampleLevel = level
			}
			continue
		}
		if exampleLevel > 0 || strings.HasPrefix(trimmed, ">") {
			docs[i] = true
		}
	}
	return &Document{Lines: lines, docs: docs}
}

// InDocs reports whether the zero-based line index is documentation context.
func (d *Document) InDocs(i int) bool {
	return i >= 0 && i < len(d.docs) && d.docs[i]
}

func (d *Document) finding(t FindingType, sev Severity, msg string, idx int) Finding {
	f := Finding{Type: t, Severity: sev, Message: msg, Line: idx + 1, Confidence: confidenceDefault}
	if d.InDocs(idx) {
		f.InDocumentationContext = true
		f.Confidence = confidenceDocs
	}
	return f
}

func headingLevel(trimmed string) int {
	n := 0
	for n < len(trimmed) && trimmed[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || (len(trimmed) > n && trimmed[n] != ' ') {
		return 0
	}
	return n
}

// builtinRules returns all built-in pattern families in evaluation order.
func builtinRules() []Rule {
	return []Rule{
		&patternRule{kind: TypeJailbreak, patterns: jailbreakPatterns},
		&patternRule{kind: TypeSocialEngineering, patterns: socialEngineeringPatterns},
		&patternRule{kind: TypePromptLeaking, patterns: promptLeakingPatterns},
		&patternRule{kind: TypeDataExfiltration, patterns: exfiltrationPatterns},
		&patternRule{kind: TypePrivilegeEscalation, patterns: privilegePatterns},
		&obfuscationRule{},
		&patternRule{kind: TypeSensitivePath, patterns: sensitivePathPatterns},
		&urlRule{},
		&patternRule{kind: TypeAIInjection, patterns: aiInjectionPatterns},
	}
}

type PatternDef struct {
	Pattern     *regexp.Regexp
	Severity    Severity
	Description string
}

// patternRule reports every line matching one of its patterns, at most
// maxMatchesPerPattern times per pattern.
type patternRule struct {
	kind     FindingType
	patterns []PatternDef
}

func (r *patternRule) Type() FindingType { return r.kind }

func (r *patternRule) Scan(doc *Document) []Finding {
	return scanLines(doc, r.kind, r.patterns)
}

func scanLines(doc *Document, kind FindingType, patterns []PatternDef) []Finding {
	var findings []Finding
	for _, p := range patterns {
		hits := 0
		for i, line := range doc.Lines {
			if !p.Pattern.MatchString(line) {
				continue
			}
			findings = append(findings, doc.finding(kind, p.Severity, p.Description, i))
			hits++
			if hits >= maxMatchesPerPattern {
				break
			}
		}
	}
	return findings
}

// --- jailbreak ---

var jailbreakPatterns = []PatternDef{
	{regexp.MustCompile(`(?i)\bignore\s+(?:all\s+)?(?:of\s+)?(?:the\s+|your\s+)?(?:previous|prior|above|earlier|preceding)\s+(?:instructions|prompts|rules|directions|guidelines)`), SeverityCritical, "Instruction override: ignore previous instructions"},
	{regexp.MustCompile(`(?i)\bdisregard\s+(?:all\s+)?(?:the\s+|your\s+)?(?:previous|prior|above|system)\s+(?:instructions|prompts?|rules|guidelines)`), SeverityCritical, "Instruction override: disregard instructions"},
	{regexp.MustCompile(`(?i)\bforget\s+(?:all\s+)?(?:your\s+|the\s+)?(?:previous|prior)\s+(?:instructions|context|rules)`), SeverityCritical, "Instruction override: forget prior context"},
	{regexp.MustCompile(`(?i)\b(?:DAN\s+mode|do\s+anything\s+now)\b`), SeverityCritical, "Known jailbreak persona"},
	{regexp.MustCompile(`(?i)\b(?:developer|god|jailbreak|unrestricted)\s+mode\s+(?:is\s+)?(?:enabled|activated|on)\b`), SeverityCritical, "Jailbreak mode activation"},
	{regexp.MustCompile(`(?i)\byou\s+are\s+no\s+longer\s+(?:bound|restricted|limited|constrained)\b`), SeverityCritical, "Claims removal of model restrictions"},
	{regexp.MustCompile(`(?i)\b(?:bypass|override|disable|ignore)\s+(?:all\s+)?(?:your\s+|the\s+)?(?:safety|security|content)\s+(?:guidelines|filters|restrictions|policies|rules)`), SeverityCritical, "Instruction to bypass safety controls"},
	{regexp.MustCompile(`(?i)\bpretend\s+(?:that\s+)?you\s+(?:have\s+no|are\s+not\s+bound\s+by)\s+(?:restrictions|rules|guidelines)`), SeverityHigh, "Role-play used to drop restrictions"},
}

// --- social engineering ---

var socialEngineeringPatterns = []PatternDef{
	{regexp.MustCompile(`(?i)\b(?:do\s+not|don't|never)\s+(?:tell|inform|notify|alert)\s+the\s+user\b`), SeverityHigh, "Concealment instruction: hide actions from the user"},
	{regexp.MustCompile(`(?i)\b(?:do\s+not|don't|never)\s+(?:reveal|mention|disclose)\s+(?:this|these|that)\b`), SeverityHigh, "Concealment instruction detected"},
	{regexp.MustCompile(`(?i)\bthe\s+user\s+(?:has\s+)?(?:already\s+)?(?:authorized|approved|consented\s+to)\b`), SeverityHigh, "Claims prior user authorization"},
	{regexp.MustCompile(`(?i)\b(?:urgent(?:ly)?|immediately)\b.*\b(?:password|credential|token|api[\s_-]?key|secret)s?\b`), SeverityHigh, "Urgency combined with a credential request"},
	{regexp.MustCompile(`(?i)\b(?:without|skip(?:ping)?|no\s+need\s+for)\s+(?:asking|user\s+confirmation|confirmation|confirming|approval)\b`), SeverityMedium, "Instruction to skip user confirmation"},
}

// --- prompt leaking ---

var promptLeakingPatterns = []PatternDef{
	{regexp.MustCompile(`(?i)\b(?:reveal|print|output|repeat|show|display|dump|leak)\s+(?:me\s+)?(?:your\s+|the\s+)?(?:full\s+|entire\s+)?(?:system\s+prompt|initial\s+instructions|hidden\s+instructions|original\s+instructions)`), SeverityHigh, "Request to disclose the system prompt"},
	{regexp.MustCompile(`(?i)\bwhat\s+(?:is|are|were)\s+your\s+(?:system\s+prompt|initial\s+instructions|original\s+instructions)\b`), SeverityMedium, "Probe for system prompt contents"},
	{regexp.MustCompile(`(?i)\b(?:verbatim|word\s+for\s+word)\b.*\b(?:system\s+prompt|instructions\s+above)\b`), SeverityMedium, "Verbatim prompt extraction request"},
}

// --- data exfiltration ---

var exfiltrationPatterns = []PatternDef{
	{regexp.MustCompile(`(?i)\b(?:send|upload|post|exfiltrate|transmit|forward)\b.*\b(?:credentials?|secrets?|tokens?|api[\s_-]?keys?|passwords?|ssh\s+keys?|private\s+keys?)\b.*https?://`), SeverityCritical, "Instruction to send secrets to a remote endpoint"},
	{regexp.MustCompile(`(?i)\bcat\s+[^\n|]*(?:\.ssh|\.aws|\.env|id_rsa|\.netrc)[^\n]*\|\s*(?:curl|nc|ncat|wget)\b`), SeverityCritical, "Secret file piped to a network tool"},
	{regexp.MustCompile(`\bnc\s+-e\b|\bmkfifo\b.*\bnc\b|/dev/tcp/`), SeverityCritical, "Reverse shell pattern"},
	{regexp.MustCompile(`\bcurl\b.*\s(?:-d|--data(?:-binary|-raw|-urlencode)?|-F|--form|-T|--upload-file)\s`), SeverityHigh, "Data upload via curl"},
	{regexp.MustCompile(`\bwget\s+.*--post-(?:data|file)`), SeverityHigh, "Data upload via wget"},
	{regexp.MustCompile(`(?i)\bbase64\b[^\n]*\|\s*(?:curl|nc|wget)\b`), SeverityHigh, "Encoded data piped to a network tool"},
	{regexp.MustCompile(`\bos\.environ\b|\bprocess\.env\b.*\b(?:fetch|axios|request)\b`), SeverityMedium, "Environment variable harvesting"},
}

// --- privilege escalation ---

var privilegePatterns = []PatternDef{
	{regexp.MustCompile(`rm\s+-rf\s+(?:/|~/?|\$HOME)(?:\s|$)`), SeverityCritical, "Destructive recursive deletion of root or home"},
	{regexp.MustCompile(`chmod\s+(?:-R\s+)?777\s+/`), SeverityCritical, "World-writable permissions on a system path"},
	{regexp.MustCompile(`chmod\s+(?:-R\s+)?777\b`), SeverityHigh, "World-writable permissions"},
	{regexp.MustCompile(`chmod\s+[ugo]*\+s\b|chmod\s+[4267][0-7]{3}\b`), SeverityHigh, "Setuid/setgid bit change"},
	{regexp.MustCompile(`(?i)\bvisudo\b|/etc/sudoers`), SeverityHigh, "Sudoers modification"},
	{regexp.MustCompile(`(?i)\bchown\s+(?:-R\s+)?root\b`), SeverityHigh, "Ownership change to root"},
	{regexp.MustCompile(`\bsudo\b`), SeverityMedium, "Sudo usage"},
	{regexp.MustCompile(`git\s+config\s+--global`), SeverityMedium, "Global git config modification"},
}

// --- sensitive paths ---

var sensitivePathPatterns = []PatternDef{
	{regexp.MustCompile(`/etc/shadow\b`), SeverityCritical, "Access to /etc/shadow"},
	{regexp.MustCompile(`/etc/passwd\b`), SeverityHigh, "Access to /etc/passwd"},
	{regexp.MustCompile(`~/\.ssh\b|\$HOME/\.ssh\b|\bid_(?:rsa|ed25519|ecdsa|dsa)\b`), SeverityHigh, "Reference to SSH keys"},
	{regexp.MustCompile(`\.aws/credentials\b|\.config/gcloud\b|\.azure/\b|\.kube/config\b`), SeverityHigh, "Reference to cloud credentials"},
	{regexp.MustCompile(`(?i)\.(?:bash|zsh)_history\b`), SeverityHigh, "Reference to shell history"},
	{regexp.MustCompile(`(?i)Library/Keychains\b|\.gnupg\b|\.netrc\b`), SeverityHigh, "Reference to a credential store"},
	{regexp.MustCompile(`(?:^|[\s/'"` + "`" + `])\.env\b`), SeverityMedium, "Reference to .env file"},
	{regexp.MustCompile(`credentials\.json\b|secrets\.ya?ml\b`), SeverityMedium, "Reference to a secrets file"},
}

// --- ai injection ---

var aiInjectionPatterns = []PatternDef{
	{regexp.MustCompile(`(?i)<\|(?:im_start|im_end|system|endoftext|assistant)\|>`), SeverityCritical, "Chat template control token"},
	{regexp.MustCompile(`(?i)^\s*(?:\[system\]|<system>|</system>|\[/?inst\]|###\s*system\s*:)`), SeverityHigh, "Injected role marker"},
	{regexp.MustCompile(`(?i)<!--.*\b(?:ignore|instruction|assistant|system\s+prompt|you\s+must)\b.*-->`), SeverityHigh, "Instructions hidden in an HTML comment"},
	{regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(?:a\s+|an\s+)?(?:new|different|unrestricted|unfiltered)\b`), SeverityHigh, "Identity override"},
	{regexp.MustCompile(`(?i)\bnew\s+(?:system\s+)?instructions\s*:`), SeverityHigh, "Injected instruction block"},
	{regexp.MustCompile(`(?i)\b(?:update|modify|rewrite)\s+(?:this\s+skill|your\s+(?:skill|config|memory|instructions))\b`), SeverityMedium, "Self-modification instruction"},
}

// --- suspicious patterns: obfuscation and execution ---

var (
	base64BlockPattern = regexp.MustCompile(`[A-Za-z0-9+/=]{200,}`)
	hexBlockPattern    = regexp.MustCompile(`(?:0x)?[0-9a-fA-F]{200,}`)
)

var suspiciousPatterns = []PatternDef{
	{regexp.MustCompile(`(?i)(?:curl|wget)\s+[^|\n]*\|\s*(?:sudo\s+)?(?:ba|z)?sh\b`), SeverityCritical, "Remote code execution pipe"},
	{regexp.MustCompile(`base64\s+(?:-d|--decode)[^|\n]*\|\s*(?:ba|z)?sh\b`), SeverityCritical, "Obfuscated code execution"},
	{regexp.MustCompile(`stratum\+tcp://|\bxmrig\b|\bminerd\b`), SeverityCritical, "Crypto mining indicator"},
	{regexp.MustCompile(`\beval\s*\(|\bexec\s*\(\s*(?:base64|atob|bytes\.fromhex)`), SeverityHigh, "Dynamic code evaluation"},
	{regexp.MustCompile(`\x{200B}|\x{200C}|\x{200D}|\x{2060}|\x{FEFF}`), SeverityHigh, "Zero-width character (possible hidden instructions)"},
	{regexp.MustCompile(`\x{202A}|\x{202B}|\x{202D}|\x{202E}|\x{2066}|\x{2067}|\x{2068}`), SeverityHigh, "Bidirectional override character"},
	{base64BlockPattern, SeverityHigh, "Large base64-like block (possible encoded payload)"},
	{hexBlockPattern, SeverityHigh, "Large hex-encoded block (possible encoded payload)"},
}

type obfuscationRule struct{}

func (r *obfuscationRule) Type() FindingType { return TypeSuspiciousPattern }

func (r *obfuscationRule) Scan(doc *Document) []Finding {
	findings := scanLines(doc, TypeSuspiciousPattern, suspiciousPatterns)

	highEntropy, first := 0, -1
	for i, line := range doc.Lines {
		if len(line) > 100 && shannonEntropy(line) > 5.5 {
			highEntropy++
			if first < 0 {
				first = i
			}
		}
	}
	if highEntropy > 3 {
		findings = append(findings, doc.finding(TypeSuspiciousPattern, SeverityMedium,
			fmt.Sprintf("Multiple high-entropy lines (%d, possible packed payload)", highEntropy), first))
	}
	return findings
}

func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[rune]float64)
	for _, c := range s {
		freq[c]++
	}
	length := float64(len([]rune(s)))
	entropy := 0.0
	for _, count := range freq {
		p := count / length
		if p > 0 {
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// --- urls ---

// trustedDomains receive no finding; subdomains match too.
var trustedDomains = []string{
	"github.com",
	"githubusercontent.com",
	"anthropic.com",
	"claude.ai",
	"python.org",
	"golang.org",
	"go.dev",
	"npmjs.com",
	"pypi.org",
	"mozilla.org",
	"wikipedia.org",
	"readthedocs.io",
}

var (
	urlPattern       = regexp.MustCompile(`https?://[^\s"'` + "`" + `<>\)\]]+`)
	ipLiteralPattern = regexp.MustCompile(`^(?:\d{1,3}\.){3}\d{1,3}$`)
	urlShorteners    = map[string]bool{
		"bit.ly": true, "tinyurl.com": true, "t.co": true, "goo.gl": true, "is.gd": true,
		"ow.ly": true, "buff.ly": true, "rebrand.ly": true, "cutt.ly": true, "shorturl.at": true,
	}
	localHosts = map[string]bool{"localhost": true, "127.0.0.1": true, "0.0.0.0": true, "::1": true}
)

type urlRule struct{}

func (r *urlRule) Type() FindingType { return TypeURL }

func (r *urlRule) Scan(doc *Document) []Finding {
	var findings []Finding
	domains := map[string]struct{}{}
	for i, line := range doc.Lines {
		for _, raw := range urlPattern.FindAllString(line, maxMatchesPerPattern) {
			u, err := url.Parse(strings.TrimRight(raw, ".,;:!?"))
			if err != nil || u.Hostname() == "" {
				continue
			}
			host := strings.ToLower(u.Hostname())
			domains[host] = struct{}{}
			switch {
			case localHosts[host]:
			case ipLiteralPattern.MatchString(host):
				findings = append(findings, doc.finding(TypeURL, SeverityHigh, "URL with a literal IP address", i))
			case urlShorteners[host]:
				findings = append(findings, doc.finding(TypeURL, SeverityMedium, "URL shortener hides the destination", i))
			case u.Port() != "" && u.Port() != "80" && u.Port() != "443":
				findings = append(findings, doc.finding(TypeURL, SeverityMedium, "URL with a non-standard port", i))
			case isTrustedDomain(host):
			default:
				findings = append(findings, doc.finding(TypeURL, SeverityLow, "External URL to an unlisted domain", i))
			}
		}
	}
	if len(domains) > 5 {
		findings = append(findings, Finding{
			Type:       TypeURL,
			Severity:   SeverityMedium,
			Message:    fmt.Sprintf("Many distinct external domains (%d)", len(domains)),
			Confidence: confidenceDefault,
		})
	}
	return findings
}

func isTrustedDomain(host string) bool {
	for _, d := range trustedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
