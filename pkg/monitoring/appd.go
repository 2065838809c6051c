package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
)

const tokenPath = "/controller/rest/authtoken/v1/token"

// AppDClient is a read-only client for an AppDynamics controller. It
// exchanges a session cookie for a bearer token on first use.
type AppDClient struct {
	BaseURL string
	Session string
	Client  *http.Client
	Logger  *zap.Logger
	// Limiter throttles data requests; nil means unlimited.
	Limiter *RateLimiter

	token string
}

// NewAppDClient returns a client with a bounded HTTP timeout.
func NewAppDClient(baseURL, session string, timeout time.Duration, logger *zap.Logger) *AppDClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppDClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Session: session,
		Client:  &http.Client{Timeout: timeout},
		Logger:  logger,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// MetricValue is one rolled-up data point of a metric series.
type MetricValue struct {
	StartTimeMillis int64   `json:"startTimeInMillis"`
	Value           float64 `json:"value"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	Count           int64   `json:"count"`
	Sum             float64 `json:"sum"`
}

// MetricData is one series returned by the metric-data endpoint.
type MetricData struct {
	MetricID   int64         `json:"metricId"`
	MetricName string        `json:"metricName"`
	MetricPath string        `json:"metricPath"`
	Frequency  string        `json:"frequency"`
	Values     []MetricValue `json:"metricValues"`
}

// Tier is an application tier.
type Tier struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	AgentType     string `json:"agentType"`
	NumberOfNodes int    `json:"numberOfNodes"`
}

// Node is an instrumented application node.
type Node struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	TierID   int64  `json:"tierId"`
	TierName string `json:"tierName"`
}

// AffectedEntity names the entity a violation fired on.
type AffectedEntity struct {
	EntityID   int64  `json:"entityId"`
	EntityType string `json:"entityType"`
	Name       string `json:"name"`
}

// HealthRuleViolation is one health rule violation event.
type HealthRuleViolation struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	Severity        string         `json:"severity"`
	IncidentStatus  string         `json:"incidentStatus"`
	StartTimeMillis int64          `json:"startTimeInMillis"`
	EndTimeMillis   int64          `json:"endTimeInMillis"`
	Affected        AffectedEntity `json:"affectedEntityDefinition"`
}

// request issues an authenticated GET below the controller root and decodes
// the JSON body into out.
func (c *AppDClient) request(ctx context.Context, path string, params url.Values, out interface{}) error {
	if err := c.authenticate(ctx); err != nil {
		return err
	}
	if params == nil {
		params = url.Values{}
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for request budget: %w", err)
		}
	}
	params.Set("output", "JSON")
	u := c.BaseURL + path + "?" + params.Encode()
	c.Logger.Debug("controller request", zap.String("path", path), zap.Any("params", params))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.do(req, out)
}

func (c *AppDClient) authenticate(ctx context.Context) error {
	if c.token != "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+tokenPath, nil)
	if err != nil {
		return fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Cookie", c.Session)
	var tok tokenResponse
	if err := c.do(req, &tok); err != nil {
		return fmt.Errorf("fetch auth token: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("fetch auth token: empty access_token")
	}
	c.token = tok.AccessToken
	return nil
}

func (c *AppDClient) do(req *http.Request, out interface{}) error {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("controller request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("controller returned HTTP %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal controller response: %w", err)
	}
	return nil
}

func appPath(app, path string) string {
	return "/controller/rest/applications/" + url.PathEscape(app) + path
}

// MetricData retrieves the series matching metricPath. Wildcards are
// passed through to the controller.
func (c *AppDClient) MetricData(ctx context.Context, app, metricPath string, r TimeRange, rollup bool) ([]MetricData, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	params := r.params()
	params.Set("metric-path", metricPath)
	params.Set("rollup", fmt.Sprintf("%t", rollup))
	var out []MetricData
	if err := c.request(ctx, appPath(app, "/metric-data"), params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Tiers lists the tiers of app.
func (c *AppDClient) Tiers(ctx context.Context, app string) ([]Tier, error) {
	var out []Tier
	if err := c.request(ctx, appPath(app, "/tiers"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Nodes lists the nodes of app, restricted to tier when it is non-empty.
func (c *AppDClient) Nodes(ctx context.Context, app, tier string) ([]Node, error) {
	path := "/nodes"
	if tier != "" {
		path = "/tiers/" + url.PathEscape(tier) + "/nodes"
	}
	var out []Node
	if err := c.request(ctx, appPath(app, path), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HealthRuleViolations lists the violations raised within r.
func (c *AppDClient) HealthRuleViolations(ctx context.Context, app string, r TimeRange) ([]HealthRuleViolation, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	var out []HealthRuleViolation
	if err := c.request(ctx, appPath(app, "/problems/healthrule-violations"), r.params(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FlowMap fetches the application flow map of the last hour.
func (c *AppDClient) FlowMap(ctx context.Context, appID int64) (*Topology, error) {
	params := url.Values{}
	params.Set("time-range", "last_1_hour.BEFORE_NOW.-1.-1.60")
	params.Set("mapId", "-1")
	params.Set("baselineId", "-1")
	params.Set("forceFetch", "false")
	var out flowMap
	path := fmt.Sprintf("/controller/restui/applicationFlowMapUiService/application/%d", appID)
	if err := c.request(ctx, path, params, &out); err != nil {
		return nil, err
	}
	return out.topology()
}

// DefaultMetricPaths are controller metric paths for the default metric
// columns, keyed by column.
func DefaultMetricPaths() map[string]string {
	return map[string]string{
		"rate":       "Overall Application Performance|" + ServicePlaceholder + "|Calls per Minute",
		"error_rate": "Overall Application Performance|" + ServicePlaceholder + "|Errors per Minute",
		"duration":   "Overall Application Performance|" + ServicePlaceholder + "|Average Response Time (ms)",
	}
}

// AppDSource reads one metric-data path per metric, expanding
// ServicePlaceholder with the tier name.
type AppDSource struct {
	Client *AppDClient
	App    string
	// Paths maps a metric column to its metric path template.
	Paths map[string]string
	// Metrics fixes the column order of the fetched table.
	Metrics []string
}

// FetchTable implements Source. Time indices are minute buckets.
func (s *AppDSource) FetchTable(ctx context.Context, entities []string, r TimeRange) (*table.MetricTable, error) {
	b := newSeriesBuilder(s.Metrics, time.Minute)
	for _, entity := range entities {
		for _, metric := range s.Metrics {
			template, ok := s.Paths[metric]
			if !ok {
				return nil, fmt.Errorf("no metric path configured for %s", metric)
			}
			series, err := s.Client.MetricData(ctx, s.App, Expand(template, entity), r, false)
			if err != nil {
				return nil, fmt.Errorf("fetch %s for %s: %w", metric, entity, err)
			}
			for _, md := range series {
				for _, v := range md.Values {
					b.add(entity, metric, time.UnixMilli(v.StartTimeMillis), v.Value)
				}
			}
		}
	}
	return b.table()
}
