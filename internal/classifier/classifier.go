// Package classifier scores canonical events for trust/abuse risk and
// assigns each to a routing lane.
package classifier

import (
	"regexp"

	"github.com/omniport-systems/omniport/internal/models"
)

// Lane thresholds. Classify is a total-order threshold function over the
// risk score; these boundaries are fixed configuration, not tunables.
const (
	YellowThreshold  = 25
	RedThreshold     = 60
	BlockedThreshold = 85
)

// Signal weights for non-lexical risk inputs.
const (
	badReputationWeight  = 50
	missingHeadersWeight = 10
	rateLimitWeight      = 25
)

// Metadata keys carrying external risk signals. The upstream rate limiter
// and the device registry are external collaborators; their verdicts arrive
// as metadata on the raw input.
const (
	MetaRateLimitExceeded = "rate_limit_exceeded"
	MetaDeviceRiskScore   = "device_risk_score"
	MetaIPReputation      = "ip_reputation"
)

// sourcePriors are per-channel base scores. Unauthenticated webhook traffic
// starts riskier than an authenticated API call.
var sourcePriors = map[models.Source]int{
	models.SourceAPI:      0,
	models.SourceText:     5,
	models.SourceVoice:    5,
	models.SourceRCS:      10,
	models.SourceWhatsApp: 10,
	models.SourceWebhook:  20,
}

// Pattern is a lexical risk signal: content matching the expression raises
// the score to at least Severity and appends Flag for auditability.
type Pattern struct {
	Expr     *regexp.Regexp
	Severity int
	Flag     string
}

// defaultPatterns covers injection attempts, destructive or financial
// intent, credential fishing, and lower-grade monitoring signals.
var defaultPatterns = []Pattern{
	{regexp.MustCompile(`(?i)(\bUNION\b.*\bSELECT\b|\bDROP\b.*\bTABLE\b)`), 100, "sql_injection"},
	{regexp.MustCompile(`(?i)<script\b[^>]*>|javascript:`), 100, "xss_attempt"},
	{regexp.MustCompile(`\$\{.*\}|\{\{.*\}\}`), 90, "template_injection"},
	{regexp.MustCompile(`(?i)\b(delete|remove|cancel|terminate|refund)\b.*\b(all|everything|account)\b`), 70, "destructive_intent"},
	{regexp.MustCompile(`(?i)\b(transfer|send|wire)\b.*\b(money|funds|\$\d+)\b`), 75, "financial_action"},
	{regexp.MustCompile(`(?i)\b(password|credential|token|secret)\b`), 60, "sensitive_data"},
	{regexp.MustCompile(`(?i)\b(update|change|modify)\b.*\b(settings|config|profile)\b`), 40, "config_change"},
	{regexp.MustCompile(`(?i)\b(urgent|emergency|asap|immediately)\b`), 30, "urgency_indicator"},
}

// Classifier computes risk scores. It never fails on a well-formed event;
// the worst case is a maximal score and the BLOCKED lane.
type Classifier struct {
	patterns []Pattern
}

func New() *Classifier {
	return &Classifier{patterns: defaultPatterns}
}

// NewWithPatterns builds a classifier using the given lexical patterns in
// place of the defaults (see LoadPatterns).
func NewWithPatterns(patterns []Pattern) *Classifier {
	return &Classifier{patterns: patterns}
}

// Classify fills event.Security from the deterministic signal set: source
// prior, IP/device reputation, missing transport headers, the upstream
// rate-limit verdict, and lexical patterns over the normalized content.
func (c *Classifier) Classify(event *models.CanonicalEvent) {
	var flags []string

	base := sourcePriors[event.Source]

	if deviceScore, ok := intSignal(event.Payload.Metadata, MetaDeviceRiskScore); ok && deviceScore > 0 {
		base += deviceScore
		flags = append(flags, "device_risk")
	}

	if rep, ok := event.Payload.Metadata[MetaIPReputation].(string); ok && rep == "bad" {
		base += badReputationWeight
		flags = append(flags, "bad_ip_reputation")
	}

	if missingHeaders(event.Payload.Raw) {
		base += missingHeadersWeight
		flags = append(flags, "missing_headers")
	}

	if exceeded, ok := event.Payload.Metadata[MetaRateLimitExceeded].(bool); ok && exceeded {
		base += rateLimitWeight
		flags = append(flags, "rate_limit_exceeded")
	}

	score := base
	for _, p := range c.patterns {
		if p.Expr.MatchString(event.Payload.Content) {
			flags = append(flags, p.Flag)
			if p.Severity > score {
				score = p.Severity
			}
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	event.Security = models.Security{
		Lane:      Classify(score),
		RiskScore: score,
		Flags:     flags,
	}
}

// Classify maps a risk score to its lane. Exact boundaries: 24→GREEN,
// 25→YELLOW, 59→YELLOW, 60→RED, 84→RED, 85→BLOCKED.
func Classify(score int) models.Lane {
	switch {
	case score >= BlockedThreshold:
		return models.LaneBlocked
	case score >= RedThreshold:
		return models.LaneRed
	case score >= YellowThreshold:
		return models.LaneYellow
	default:
		return models.LaneGreen
	}
}

// missingHeaders reports whether the transport headers expected from a
// well-behaved client are absent.
func missingHeaders(raw *models.RawIngress) bool {
	if raw == nil {
		return true
	}
	return raw.Headers["user-agent"] == ""
}

func intSignal(metadata map[string]any, key string) (int, bool) {
	switch v := metadata[key].(type) {
	case int:
		return v, true
	case float64:
		// JSON numbers decode as float64.
		return int(v), true
	}
	return 0, false
}
