package schema

import "time"

// Evidence captures one observed signal supporting an attribution.
type Evidence struct {
	Signal string      `json:"signal"`
	Value  interface{} `json:"value"`
	Source string      `json:"source"`
}

// Finding is the attribution of one node for one target metric.
type Finding struct {
	Metric              string  `json:"metric"`
	Node                string  `json:"node"`
	MedianContribution  float64 `json:"median_contribution"`
	IntervalLower       float64 `json:"interval_lower"`
	IntervalUpper       float64 `json:"interval_upper"`
	PercentContribution float64 `json:"percent_contribution"`
	Significant         bool    `json:"significant"`
}

// AttributionReport is the normalized envelope of one root cause analysis
// run, shared by the webhook, OTLP and history outputs.
type AttributionReport struct {
	ReportID        string     `json:"report_id"`
	GeneratedAt     time.Time  `json:"generated_at"`
	Strategy        string     `json:"strategy"`
	TargetNode      string     `json:"target_node"`
	RootCause       string     `json:"root_cause,omitempty"`
	RootCauseMetric string     `json:"root_cause_metric,omitempty"`
	Confidence      float64    `json:"confidence"`
	FlaggedMetrics  []string   `json:"flagged_metrics"`
	Findings        []Finding  `json:"findings"`
	Evidence        []Evidence `json:"evidence,omitempty"`
}
