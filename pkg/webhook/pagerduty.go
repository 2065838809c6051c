package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/schema"
)

// PagerDuty Events API v2 payload.
type pagerDutyPayload struct {
	RoutingKey  string         `json:"routing_key"`
	EventAction string         `json:"event_action"`
	DedupKey    string         `json:"dedup_key,omitempty"`
	Payload     pdEventPayload `json:"payload"`
}

type pdEventPayload struct {
	Summary       string            `json:"summary"`
	Source        string            `json:"source"`
	Severity      string            `json:"severity"`
	Timestamp     string            `json:"timestamp"`
	Component     string            `json:"component"`
	Group         string            `json:"group"`
	CustomDetails map[string]string `json:"custom_details"`
}

// BuildPagerDutyPayload formats an AttributionReport as a PagerDuty Events v2 trigger.
func BuildPagerDutyPayload(report schema.AttributionReport) ([]byte, error) {
	severity := "warning"
	if report.Confidence >= 0.8 {
		severity = "critical"
	}

	payload := pagerDutyPayload{
		EventAction: "trigger",
		DedupKey:    report.ReportID,
		Payload: pdEventPayload{
			Summary:   summary(report),
			Source:    fmt.Sprintf("causal-rca/%s", report.TargetNode),
			Severity:  severity,
			Timestamp: report.GeneratedAt.Format("2006-01-02T15:04:05.000+0000"),
			Component: rootCauseOrUnknown(report),
			Group:     report.TargetNode,
			CustomDetails: map[string]string{
				"report_id":       report.ReportID,
				"strategy":        report.Strategy,
				"root_cause":      report.RootCause,
				"metric":          report.RootCauseMetric,
				"confidence":      fmt.Sprintf("%.4f", report.Confidence),
				"flagged_metrics": strings.Join(report.FlaggedMetrics, ","),
				"findings":        strings.Join(findingStrings(report), "; "),
			},
		},
	}

	return json.Marshal(payload)
}

func summary(report schema.AttributionReport) string {
	if report.RootCause == "" {
		return fmt.Sprintf("[%s] no attributable anomaly", report.TargetNode)
	}
	metric := ""
	if report.RootCauseMetric != "" {
		metric = " " + report.RootCauseMetric
	}
	return fmt.Sprintf("[%s] root cause %s%s (confidence=%.2f)", report.TargetNode, report.RootCause, metric, report.Confidence)
}

func rootCauseOrUnknown(report schema.AttributionReport) string {
	if report.RootCause == "" {
		return "unknown"
	}
	return report.RootCause
}

func findingStrings(report schema.AttributionReport) []string {
	out := make([]string, 0, len(report.Findings))
	for _, f := range report.Findings {
		if !f.Significant {
			continue
		}
		label := f.Node
		if f.Metric != "" {
			label = f.Metric + "/" + f.Node
		}
		out = append(out, fmt.Sprintf("%s=%.1f%%", label, f.PercentContribution))
	}
	return out
}
