package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/schema"
)

// Opsgenie Alert API payload.
type opsgeniePayload struct {
	Message     string            `json:"message"`
	Alias       string            `json:"alias"`
	Description string            `json:"description"`
	Priority    string            `json:"priority"`
	Source      string            `json:"source"`
	Tags        []string          `json:"tags"`
	Details     map[string]string `json:"details"`
	Entity      string            `json:"entity"`
}

// BuildOpsgeniePayload formats an AttributionReport as an Opsgenie alert.
func BuildOpsgeniePayload(report schema.AttributionReport) ([]byte, error) {
	priority := "P3"
	if report.Confidence >= 0.8 {
		priority = "P2"
	}
	if report.Confidence >= 0.95 {
		priority = "P1"
	}

	tags := []string{"causal-rca", report.Strategy}
	tags = append(tags, report.FlaggedMetrics...)

	payload := opsgeniePayload{
		Message:     summary(report),
		Alias:       report.ReportID,
		Description: fmt.Sprintf("Target: %s\nRoot cause: %s\nConfidence: %.4f\nFindings: %s", report.TargetNode, rootCauseOrUnknown(report), report.Confidence, strings.Join(findingStrings(report), "; ")),
		Priority:    priority,
		Source:      "causal-rca-toolkit",
		Tags:        tags,
		Details: map[string]string{
			"report_id":  report.ReportID,
			"strategy":   report.Strategy,
			"target":     report.TargetNode,
			"root_cause": report.RootCause,
			"metric":     report.RootCauseMetric,
			"confidence": fmt.Sprintf("%.4f", report.Confidence),
		},
		Entity: report.TargetNode,
	}

	return json.Marshal(payload)
}
