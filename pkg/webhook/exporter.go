// Package webhook pushes attribution reports to incident tooling over HTTP.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/schema"
)

// Format selects the webhook payload format.
type Format string

const (
	FormatGeneric   Format = "generic"
	FormatPagerDuty Format = "pagerduty"
	FormatOpsgenie  Format = "opsgenie"
)

// ErrSkipped is returned when a report is below the delivery threshold.
var ErrSkipped = errors.New("report below webhook delivery threshold")

const (
	signatureHeader = "X-Webhook-Signature"
	reportHeader    = "X-RCA-Report-ID"
)

// Exporter delivers attribution reports to an HTTP webhook endpoint.
type Exporter struct {
	URL    string
	Secret string
	Format Format
	// MaxAttempts bounds delivery attempts; only 5xx and transport errors
	// are retried.
	MaxAttempts int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	// MinConfidence skips reports whose confidence is lower. Reports
	// without a root cause are skipped whenever it is positive.
	MinConfidence float64
	Logger        *zap.Logger

	client *http.Client
}

// New creates an exporter with a per-request timeout in milliseconds.
func New(url, secret string, format Format, timeoutMS int) *Exporter {
	if timeoutMS <= 0 {
		timeoutMS = 5000
	}
	if format == "" {
		format = FormatGeneric
	}
	return &Exporter{
		URL:         url,
		Secret:      secret,
		Format:      format,
		MaxAttempts: 3,
		Backoff:     time.Second,
		Logger:      zap.NewNop(),
		client:      &http.Client{Timeout: time.Duration(timeoutMS) * time.Millisecond},
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Send delivers report without a deadline beyond the per-request timeout.
func (e *Exporter) Send(report schema.AttributionReport) error {
	return e.SendContext(context.Background(), report)
}

// SendContext delivers report, retrying transient failures until ctx ends.
func (e *Exporter) SendContext(ctx context.Context, report schema.AttributionReport) error {
	if e.MinConfidence > 0 && (report.RootCause == "" || report.Confidence < e.MinConfidence) {
		return ErrSkipped
	}
	payload, err := e.buildPayload(report)
	if err != nil {
		return fmt.Errorf("build %s payload: %w", e.Format, err)
	}
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := e.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := e.Backoff << uint(attempt-2)
			logger.Debug("webhook retry",
				zap.String("report_id", report.ReportID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("webhook delivery aborted: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = e.post(ctx, report.ReportID, payload)
		if lastErr == nil {
			return nil
		}
		var permanent *permanentError
		if errors.As(lastErr, &permanent) {
			return lastErr
		}
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", attempts, lastErr)
}

// envelope is the generic payload.
type envelope struct {
	Event   string                   `json:"event"`
	Summary string                   `json:"summary"`
	Report  schema.AttributionReport `json:"report"`
}

func (e *Exporter) buildPayload(report schema.AttributionReport) ([]byte, error) {
	switch e.Format {
	case FormatPagerDuty:
		return BuildPagerDutyPayload(report)
	case FormatOpsgenie:
		return BuildOpsgeniePayload(report)
	case FormatGeneric:
		return json.Marshal(envelope{Event: "rca.attribution", Summary: summary(report), Report: report})
	default:
		return nil, fmt.Errorf("unsupported format %q", e.Format)
	}
}

func (e *Exporter) post(ctx context.Context, reportID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(payload))
	if err != nil {
		return &permanentError{err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "causal-rca-toolkit/webhook")
	if reportID != "" {
		req.Header.Set(reportHeader, reportID)
	}
	if e.Secret != "" {
		req.Header.Set(signatureHeader, Sign(payload, e.Secret))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook endpoint returned HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return &permanentError{err: fmt.Errorf("webhook endpoint rejected report: HTTP %d", resp.StatusCode)}
	}
	return nil
}

// Sign returns the sha256 HMAC signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks an HMAC-SHA256 signature against a payload and secret.
func VerifyHMAC(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
