package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/schema"
)

func sampleReport() schema.AttributionReport {
	return schema.AttributionReport{
		ReportID:        "rep-test-01",
		GeneratedAt:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Strategy:        "per_metric",
		TargetNode:      "frontend",
		RootCause:       "checkout",
		RootCauseMetric: "duration",
		Confidence:      0.82,
		FlaggedMetrics:  []string{"duration"},
		Findings: []schema.Finding{
			{Metric: "duration", Node: "checkout", MedianContribution: 310, PercentContribution: 82, Significant: true},
			{Metric: "duration", Node: "payment", MedianContribution: 12, PercentContribution: 3},
		},
	}
}

type capture struct {
	attempts atomic.Int32
	body     atomic.Value
	header   atomic.Value
}

// endpoint answers each attempt with the next status, repeating the last.
func endpoint(t *testing.T, statuses ...int) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		c.body.Store(body)
		c.header.Store(r.Header.Clone())
		n := int(c.attempts.Add(1))
		if n > len(statuses) {
			n = len(statuses)
		}
		w.WriteHeader(statuses[n-1])
	}))
	t.Cleanup(server.Close)
	return server, c
}

func testExporter(url, secret string, format Format) *Exporter {
	e := New(url, secret, format, 5000)
	e.Backoff = time.Millisecond
	return e
}

func TestSendGenericEnvelope(t *testing.T) {
	server, got := endpoint(t, http.StatusOK)
	require.NoError(t, testExporter(server.URL, "", FormatGeneric).Send(sampleReport()))

	var env envelope
	require.NoError(t, json.Unmarshal(got.body.Load().([]byte), &env))
	assert.Equal(t, "rca.attribution", env.Event)
	assert.Equal(t, "[frontend] root cause checkout duration (confidence=0.82)", env.Summary)
	assert.Equal(t, "rep-test-01", env.Report.ReportID)
	assert.Len(t, env.Report.Findings, 2)

	header := got.header.Load().(http.Header)
	assert.Equal(t, "rep-test-01", header.Get(reportHeader))
	assert.Empty(t, header.Get(signatureHeader))
}

func TestSendSignsPayload(t *testing.T) {
	server, got := endpoint(t, http.StatusOK)
	require.NoError(t, testExporter(server.URL, "test-secret-key", FormatGeneric).Send(sampleReport()))

	signature := got.header.Load().(http.Header).Get(signatureHeader)
	require.NotEmpty(t, signature)
	assert.True(t, VerifyHMAC(got.body.Load().([]byte), "test-secret-key", signature))
	assert.False(t, VerifyHMAC(got.body.Load().([]byte), "other", signature))
}

func TestRetryOn5xx(t *testing.T) {
	server, got := endpoint(t, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusOK)
	e := testExporter(server.URL, "", FormatGeneric)
	require.NoError(t, e.Send(sampleReport()))
	assert.Equal(t, int32(3), got.attempts.Load())
}

func TestFailAfterMaxAttempts(t *testing.T) {
	server, got := endpoint(t, http.StatusInternalServerError)
	e := testExporter(server.URL, "", FormatGeneric)
	e.MaxAttempts = 2
	err := e.Send(sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, int32(2), got.attempts.Load())
}

func TestNoRetryOn4xx(t *testing.T) {
	server, got := endpoint(t, http.StatusBadRequest)
	err := testExporter(server.URL, "", FormatGeneric).Send(sampleReport())
	require.Error(t, err)
	assert.Equal(t, int32(1), got.attempts.Load())
}

func TestSendContextStopsRetrying(t *testing.T) {
	server, got := endpoint(t, http.StatusServiceUnavailable)
	e := testExporter(server.URL, "", FormatGeneric)
	e.Backoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := e.SendContext(ctx, sampleReport())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), got.attempts.Load())
}

func TestMinConfidenceSkipsReports(t *testing.T) {
	server, got := endpoint(t, http.StatusOK)
	e := testExporter(server.URL, "", FormatGeneric)
	e.MinConfidence = 0.9
	assert.ErrorIs(t, e.Send(sampleReport()), ErrSkipped)

	e.MinConfidence = 0.5
	empty := sampleReport()
	empty.RootCause = ""
	assert.ErrorIs(t, e.Send(empty), ErrSkipped)
	assert.Equal(t, int32(0), got.attempts.Load())

	require.NoError(t, e.Send(sampleReport()))
	assert.Equal(t, int32(1), got.attempts.Load())
}

func TestPagerDutyFormat(t *testing.T) {
	server, got := endpoint(t, http.StatusOK)
	require.NoError(t, testExporter(server.URL, "", FormatPagerDuty).Send(sampleReport()))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(got.body.Load().([]byte), &payload))
	assert.Equal(t, "trigger", payload["event_action"])
	assert.Equal(t, "rep-test-01", payload["dedup_key"])
	inner := payload["payload"].(map[string]interface{})
	assert.Equal(t, "critical", inner["severity"])
	assert.Equal(t, "checkout", inner["component"])
	details := inner["custom_details"].(map[string]interface{})
	assert.Equal(t, "duration/checkout=82.0%", details["findings"])
}

func TestOpsgenieFormat(t *testing.T) {
	server, got := endpoint(t, http.StatusOK)
	require.NoError(t, testExporter(server.URL, "", FormatOpsgenie).Send(sampleReport()))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(got.body.Load().([]byte), &payload))
	assert.Equal(t, "rep-test-01", payload["alias"])
	assert.Equal(t, "P2", payload["priority"])
	assert.Equal(t, "frontend", payload["entity"])
}

func TestUnsupportedFormat(t *testing.T) {
	e := testExporter("http://127.0.0.1:1", "", Format("slack"))
	assert.Error(t, e.Send(sampleReport()))
}

func TestSummaryWithoutRootCause(t *testing.T) {
	report := sampleReport()
	report.RootCause = ""
	report.Findings = nil
	assert.Equal(t, "[frontend] no attributable anomaly", summary(report))
}
