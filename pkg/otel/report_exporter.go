// Package otel exports attribution reports as OTLP/HTTP JSON log records.
package otel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/schema"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/semconv"
)

// ReportExporter sends attribution reports to an OTLP/HTTP logs endpoint.
type ReportExporter struct {
	endpoint    string
	serviceName string
	scopeName   string
	client      *http.Client

	// Headers are added to every request, e.g. collector auth tokens.
	Headers map[string]string
}

// NewReportExporter constructs an OTLP/HTTP logs exporter.
func NewReportExporter(
	endpoint string,
	serviceName string,
	scopeName string,
	timeout time.Duration,
) *ReportExporter {
	if serviceName == "" {
		serviceName = "causal-rca"
	}
	if scopeName == "" {
		scopeName = "causal-rca-toolkit/attributor"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ReportExporter{
		endpoint:    endpoint,
		serviceName: serviceName,
		scopeName:   scopeName,
		client:      &http.Client{Timeout: timeout},
	}
}

// ExportBatch posts one OTLP payload holding a summary record per report and
// one record per finding.
func (e *ReportExporter) ExportBatch(reports []schema.AttributionReport) error {
	return e.ExportBatchContext(context.Background(), reports)
}

// ExportBatchContext is ExportBatch bound to ctx.
func (e *ReportExporter) ExportBatchContext(ctx context.Context, reports []schema.AttributionReport) error {
	if len(reports) == 0 {
		return nil
	}
	if e.endpoint == "" {
		return fmt.Errorf("otlp endpoint is required")
	}

	payload := buildLogsPayload(e.serviceName, e.scopeName, reports)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal otlp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build otlp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range e.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send otlp payload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("otlp endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

type logsPayload struct {
	ResourceLogs []resourceLogs `json:"resourceLogs"`
}

type resourceLogs struct {
	Resource  resource    `json:"resource"`
	ScopeLogs []scopeLogs `json:"scopeLogs"`
}

type resource struct {
	Attributes []keyValue `json:"attributes"`
}

type scopeLogs struct {
	Scope      scope       `json:"scope"`
	LogRecords []logRecord `json:"logRecords"`
}

type scope struct {
	Name string `json:"name"`
}

type logRecord struct {
	TimeUnixNano         string     `json:"timeUnixNano"`
	ObservedTimeUnixNano string     `json:"observedTimeUnixNano"`
	SeverityNumber       int        `json:"severityNumber"`
	SeverityText         string     `json:"severityText"`
	Body                 anyValue   `json:"body"`
	Attributes           []keyValue `json:"attributes"`
}

type keyValue struct {
	Key   string   `json:"key"`
	Value anyValue `json:"value"`
}

type anyValue struct {
	StringValue string   `json:"stringValue,omitempty"`
	DoubleValue *float64 `json:"doubleValue,omitempty"`
	BoolValue   *bool    `json:"boolValue,omitempty"`
}

func buildLogsPayload(serviceName string, scopeName string, reports []schema.AttributionReport) logsPayload {
	records := make([]logRecord, 0, len(reports))
	for _, report := range reports {
		records = append(records, toSummaryRecord(report))
		for _, finding := range report.Findings {
			records = append(records, toFindingRecord(report, finding))
		}
	}

	return logsPayload{
		ResourceLogs: []resourceLogs{
			{
				Resource: resource{
					Attributes: []keyValue{
						strAttribute("service.name", serviceName),
					},
				},
				ScopeLogs: []scopeLogs{
					{
						Scope:      scope{Name: scopeName},
						LogRecords: records,
					},
				},
			},
		},
	}
}

func timestamps(report schema.AttributionReport) (string, string) {
	now := strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
	if report.GeneratedAt.IsZero() {
		return now, now
	}
	return strconv.FormatInt(report.GeneratedAt.UnixNano(), 10), now
}

func toSummaryRecord(report schema.AttributionReport) logRecord {
	ts, now := timestamps(report)
	return logRecord{
		TimeUnixNano:         ts,
		ObservedTimeUnixNano: now,
		SeverityNumber:       severityNumber(severityFromConfidence(report.RootCause, report.Confidence)),
		SeverityText:         severityFromConfidence(report.RootCause, report.Confidence),
		Body: anyValue{
			StringValue: fmt.Sprintf(
				"target=%s root_cause=%s metric=%s confidence=%.4f",
				report.TargetNode,
				report.RootCause,
				report.RootCauseMetric,
				report.Confidence,
			),
		},
		Attributes: []keyValue{
			strAttribute(semconv.AttrReportID, report.ReportID),
			strAttribute(semconv.AttrStrategy, report.Strategy),
			strAttribute(semconv.AttrTargetNode, report.TargetNode),
			strAttribute(semconv.AttrRootCause, report.RootCause),
			strAttribute(semconv.AttrRootCauseMetric, report.RootCauseMetric),
			doubleAttribute(semconv.AttrConfidence, report.Confidence),
			strAttribute(semconv.AttrFlaggedMetrics, strings.Join(report.FlaggedMetrics, ",")),
		},
	}
}

func toFindingRecord(report schema.AttributionReport, f schema.Finding) logRecord {
	ts, now := timestamps(report)
	severity := "INFO"
	if f.Significant {
		severity = "WARN"
	}
	return logRecord{
		TimeUnixNano:         ts,
		ObservedTimeUnixNano: now,
		SeverityNumber:       severityNumber(severity),
		SeverityText:         severity,
		Body: anyValue{
			StringValue: fmt.Sprintf(
				"node=%s metric=%s median=%.6f percent=%.2f",
				f.Node,
				f.Metric,
				f.MedianContribution,
				f.PercentContribution,
			),
		},
		Attributes: []keyValue{
			strAttribute(semconv.AttrReportID, report.ReportID),
			strAttribute(semconv.AttrTargetNode, report.TargetNode),
			strAttribute(semconv.AttrMetric, f.Metric),
			strAttribute(semconv.AttrNode, f.Node),
			doubleAttribute(semconv.AttrMedian, f.MedianContribution),
			doubleAttribute(semconv.AttrIntervalLower, f.IntervalLower),
			doubleAttribute(semconv.AttrIntervalUpper, f.IntervalUpper),
			doubleAttribute(semconv.AttrPercent, f.PercentContribution),
			boolAttribute(semconv.AttrSignificant, f.Significant),
		},
	}
}

func strAttribute(key string, value string) keyValue {
	return keyValue{Key: key, Value: anyValue{StringValue: value}}
}

func doubleAttribute(key string, value float64) keyValue {
	v := value
	return keyValue{Key: key, Value: anyValue{DoubleValue: &v}}
}

func boolAttribute(key string, value bool) keyValue {
	v := value
	return keyValue{Key: key, Value: anyValue{BoolValue: &v}}
}

func severityFromConfidence(rootCause string, confidence float64) string {
	switch {
	case rootCause == "":
		return "INFO"
	case confidence >= 0.8:
		return "ERROR"
	default:
		return "WARN"
	}
}

// severityNumber maps a severity text onto the OTLP SeverityNumber range.
func severityNumber(text string) int {
	switch text {
	case "ERROR":
		return 17
	case "WARN":
		return 13
	default:
		return 9
	}
}
