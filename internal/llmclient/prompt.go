package llmclient

import (
	"fmt"
	"strings"

	"kamsentry/internal/domain"
)

// techHints maps a keyword found in the alert name or description to a
// technology hint injected into the prompt, steering the model toward a
// root cause grounded in the actual stack component rather than a generic
// guess.
var techHints = []struct {
	keyword string
	hint    string
}{
	{"redis", "Redis (in-memory key-value store)"},
	{"mongo", "MongoDB (document database)"},
	{"postgres", "PostgreSQL (relational database)"},
	{"mysql", "MySQL (relational database)"},
	{"nginx", "Nginx (reverse proxy / web server)"},
	{"kafka", "Kafka (distributed event streaming)"},
	{"elasticsearch", "Elasticsearch (search and analytics engine)"},
	{"rabbitmq", "RabbitMQ (message broker)"},
	{"cassandra", "Cassandra (wide-column database)"},
	{"disk", "disk I/O and storage"},
	{"cpu", "CPU utilization"},
	{"memory", "memory/RAM utilization"},
}

const fallbackHint = "use only technologies mentioned"

func technologyHint(alertName, description string) string {
	haystack := strings.ToLower(alertName + " " + description)
	for _, h := range techHints {
		if strings.Contains(haystack, h.keyword) {
			return h.hint
		}
	}
	return fallbackHint
}

// buildPrompt assembles a reason-conditioned SRE-persona prompt demanding a
// strict JSON response shape with root_cause and immediate_actions fields.
func buildPrompt(alert domain.AlertPayload, reason domain.AnalysisReason) string {
	hint := technologyHint(alert.Labels.AlertName, alert.Annotations.Description)

	var framing string
	switch reason {
	case domain.ReasonEscalation:
		framing = "This alert has ESCALATED in severity since it was last analyzed. Focus on what changed " +
			"and why the situation worsened. Default to treating this as critical unless the evidence clearly says otherwise."
	case domain.ReasonRecovery:
		framing = "This alert's severity has IMPROVED since it was last analyzed. Focus on whether the " +
			"underlying issue is actually resolved or merely quieter, and whether monitoring should stay elevated."
	default:
		framing = "This is the first time this alert has been analyzed for this instance."
	}

	return fmt.Sprintf(`You are a senior site reliability engineer investigating a production alert.

Alert: %s
Severity: %s
Instance: %s
Description: %s
Likely technology: %s

%s

Respond with a single JSON object and nothing else, in exactly this shape:
{"root_cause": "<one paragraph explaining the likely root cause>", "immediate_actions": "<one paragraph of concrete remediation steps>"}`,
		alert.Labels.AlertName, alert.Labels.Severity, alert.Labels.Instance,
		alert.Annotations.Description, hint, framing)
}
