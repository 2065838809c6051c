package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/graph"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

func TestTimeRangeValidate(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	tests := []struct {
		name  string
		r     TimeRange
		valid bool
	}{
		{"before now", LastMinutes(15), true},
		{"before now without duration", TimeRange{Type: BeforeNow}, false},
		{"before time", TimeRange{Type: BeforeTime, End: end, DurationMins: 5}, true},
		{"before time without end", TimeRange{Type: BeforeTime, DurationMins: 5}, false},
		{"after time", TimeRange{Type: AfterTime, Start: start, DurationMins: 5}, true},
		{"after time without duration", TimeRange{Type: AfterTime, Start: start}, false},
		{"between", TimeRange{Type: BetweenTimes, Start: start, End: end}, true},
		{"between without start", TimeRange{Type: BetweenTimes, End: end}, false},
		{"between reversed", TimeRange{Type: BetweenTimes, Start: end, End: start}, false},
		{"unknown type", TimeRange{Type: "YESTERDAY", DurationMins: 5}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.r.Validate()
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, rcaerr.ErrConfig)
		})
	}
}

func TestTimeRangeBounds(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	start, end, err := LastMinutes(30).Bounds(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-30*time.Minute), start)
	assert.Equal(t, now, end)

	start, end, err = TimeRange{Type: AfterTime, Start: now, DurationMins: 10}.Bounds(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, now, start)
	assert.Equal(t, now.Add(10*time.Minute), end)
}

type controller struct {
	tokenCalls atomic.Int32
	server     *httptest.Server
}

func newController(t *testing.T) *controller {
	t.Helper()
	c := &controller{}
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		c.tokenCalls.Add(1)
		if r.Header.Get("Cookie") != "JSESSIONID=abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"access_token":"tok-1"}`)
	})
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok-1" || r.URL.Query().Get("output") != "JSON" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc("/controller/rest/applications/shop/metric-data", authed(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("time-range-type") != "BEFORE_NOW" || q.Get("duration-in-mins") != "15" || q.Has("start-time") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		path := q.Get("metric-path")
		value := 100.0
		if strings.Contains(path, "checkout") {
			value = 400
		}
		if strings.Contains(path, "Errors") {
			value /= 100
		}
		fmt.Fprintf(w, `[{"metricId":7,"metricName":"m","metricPath":%q,"frequency":"ONE_MIN",
			"metricValues":[{"startTimeInMillis":1700000000000,"value":%g},{"startTimeInMillis":1700000060000,"value":%g}]}]`,
			path, value, value+1)
	}))
	mux.HandleFunc("/controller/rest/applications/shop/tiers", authed(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":1,"name":"checkout","type":"Application Server","agentType":"JAVA","numberOfNodes":2}]`)
	}))
	mux.HandleFunc("/controller/rest/applications/shop/tiers/checkout/nodes", authed(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":11,"name":"checkout-0","tierId":1,"tierName":"checkout"}]`)
	}))
	mux.HandleFunc("/controller/rest/applications/shop/problems/healthrule-violations", authed(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":5,"name":"latency","severity":"CRITICAL","incidentStatus":"OPEN",
			"startTimeInMillis":1700000000000,"affectedEntityDefinition":{"entityId":1,"entityType":"APPLICATION_COMPONENT","name":"checkout"}}]`)
	}))
	mux.HandleFunc("/controller/restui/applicationFlowMapUiService/application/42", authed(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"nodes":[{"idNum":1,"name":"frontend"},{"idNum":2,"name":"checkout"},{"idNum":3,"name":"payment"}],
			"edges":[{"sourceNodeDefinition":{"entityId":1},"targetNodeDefinition":{"entityId":2}},
			{"sourceNodeDefinition":{"entityId":2},"targetNodeDefinition":{"entityId":3}}]}`)
	}))
	c.server = httptest.NewServer(mux)
	t.Cleanup(c.server.Close)
	return c
}

func TestAppDClientAuthenticatesOnce(t *testing.T) {
	ctrl := newController(t)
	client := NewAppDClient(ctrl.server.URL, "JSESSIONID=abc", time.Second, nil)

	tiers, err := client.Tiers(context.Background(), "shop")
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	assert.Equal(t, "checkout", tiers[0].Name)
	assert.Equal(t, 2, tiers[0].NumberOfNodes)

	nodes, err := client.Nodes(context.Background(), "shop", "checkout")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "checkout-0", nodes[0].Name)

	violations, err := client.HealthRuleViolations(context.Background(), "shop", LastMinutes(15))
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "checkout", violations[0].Affected.Name)

	assert.Equal(t, int32(1), ctrl.tokenCalls.Load())
}

func TestAppDClientBadSession(t *testing.T) {
	ctrl := newController(t)
	client := NewAppDClient(ctrl.server.URL, "JSESSIONID=nope", time.Second, nil)
	_, err := client.Tiers(context.Background(), "shop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch auth token")
}

func TestAppDClientRejectsInvalidRange(t *testing.T) {
	ctrl := newController(t)
	client := NewAppDClient(ctrl.server.URL, "JSESSIONID=abc", time.Second, nil)
	_, err := client.MetricData(context.Background(), "shop", "x", TimeRange{Type: BetweenTimes}, true)
	assert.ErrorIs(t, err, rcaerr.ErrConfig)
	assert.Equal(t, int32(0), ctrl.tokenCalls.Load())
}

func TestAppDClientLogsRequestParams(t *testing.T) {
	ctrl := newController(t)
	core, logs := observer.New(zapcore.DebugLevel)
	client := NewAppDClient(ctrl.server.URL, "JSESSIONID=abc", time.Second, zap.New(core))

	series, err := client.MetricData(context.Background(), "shop", "Overall|checkout|ART", LastMinutes(15), false)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Len(t, series[0].Values, 2)

	entries := logs.FilterMessage("controller request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/controller/rest/applications/shop/metric-data", entries[0].ContextMap()["path"])
}

func TestFlowMapToCausalGraph(t *testing.T) {
	ctrl := newController(t)
	client := NewAppDClient(ctrl.server.URL, "JSESSIONID=abc", time.Second, nil)

	topo, err := client.FlowMap(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"checkout", "frontend", "payment"}, topo.Services)

	causal := topo.CausalGraph(true)
	assert.ElementsMatch(t, []graph.Edge{
		{Source: "checkout", Target: "frontend"},
		{Source: "payment", Target: "checkout"},
	}, causal.Edges())
	assert.Equal(t, []string{"checkout"}, causal.Predecessors("frontend"))

	calls := topo.CausalGraph(false)
	assert.Equal(t, []string{"frontend"}, calls.Predecessors("checkout"))
}

func TestAppDSourceFetchTable(t *testing.T) {
	ctrl := newController(t)
	source := &AppDSource{
		Client:  NewAppDClient(ctrl.server.URL, "JSESSIONID=abc", time.Second, nil),
		App:     "shop",
		Metrics: []string{"duration", "error_rate"},
		Paths: map[string]string{
			"duration":   "Overall|{{service}}|ART",
			"error_rate": "Overall|{{service}}|Errors",
		},
	}
	tbl, err := source.FetchTable(context.Background(), []string{"checkout", "payment"}, LastMinutes(15))
	require.NoError(t, err)
	require.NoError(t, tbl.Validate([]string{"duration", "error_rate"}))
	assert.Len(t, tbl.Rows, 4)
	assert.Equal(t, []string{"checkout", "payment"}, tbl.Entities())

	first := tbl.Rows[0]
	assert.Equal(t, "checkout", first.Entity)
	assert.Equal(t, 400.0, first.Values["duration"])
	assert.Equal(t, 4.0, first.Values["error_rate"])
}

func TestAppDSourceMissingPath(t *testing.T) {
	ctrl := newController(t)
	source := &AppDSource{
		Client:  NewAppDClient(ctrl.server.URL, "JSESSIONID=abc", time.Second, nil),
		App:     "shop",
		Metrics: []string{"rate"},
	}
	_, err := source.FetchTable(context.Background(), []string{"checkout"}, LastMinutes(15))
	assert.Error(t, err)
}

func prometheusServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query_range" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		query := r.FormValue("query")
		base := 1.0
		switch {
		case strings.HasPrefix(query, "dur_"):
			base = 10
		case strings.HasPrefix(query, "missing_"):
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"status":"success","data":{"resultType":"matrix","result":[]}}`)
			return
		}
		if strings.HasSuffix(query, "checkout") {
			base *= 3
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"matrix","result":[
			{"metric":{},"values":[[1700000000,"%g"],[1700000060,"%g"]]}]}}`, base, base+0.5)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPrometheusSourceFetchTable(t *testing.T) {
	srv := prometheusServer(t)
	source, err := NewPrometheusSource(srv.URL, []string{"rate", "duration"}, map[string]string{
		"rate":     "rate_{{service}}",
		"duration": "dur_{{service}}",
	}, time.Minute, nil)
	require.NoError(t, err)
	source.Now = func() time.Time { return time.Unix(1700000600, 0) }

	tbl, err := source.FetchTable(context.Background(), []string{"checkout", "payment"}, LastMinutes(10))
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 4)
	byEntity := tbl.ByEntity()
	require.Len(t, byEntity["checkout"], 2)
	assert.Equal(t, 30.0, byEntity["checkout"][0].Values["duration"])
	assert.Equal(t, 3.5, byEntity["checkout"][1].Values["rate"])
	assert.Equal(t, 10.0, byEntity["payment"][0].Values["duration"])
	assert.Less(t, byEntity["payment"][0].TimeIndex, byEntity["payment"][1].TimeIndex)
}

func TestPrometheusSourceWithoutSamples(t *testing.T) {
	srv := prometheusServer(t)
	source, err := NewPrometheusSource(srv.URL, []string{"rate"}, map[string]string{
		"rate": "missing_{{service}}",
	}, time.Minute, nil)
	require.NoError(t, err)

	_, err = source.FetchTable(context.Background(), []string{"checkout"}, LastMinutes(10))
	assert.ErrorIs(t, err, rcaerr.ErrData)
}

func TestExpand(t *testing.T) {
	assert.Equal(t, `up{service="cart"}`, Expand(`up{service="{{service}}"}`, "cart"))
	assert.Contains(t, DefaultQueries()["duration"], "histogram_quantile")
}

func TestDefaultMetricPathsCoverDefaultQueries(t *testing.T) {
	paths := DefaultMetricPaths()
	for metric := range DefaultQueries() {
		require.Contains(t, paths, metric)
		assert.Contains(t, paths[metric], ServicePlaceholder)
	}
	assert.Equal(t, "Overall Application Performance|cart|Calls per Minute", Expand(paths["rate"], "cart"))
}

func TestRateLimiterAllow(t *testing.T) {
	limiter := NewRateLimiter(2)
	base := time.Unix(100, 0).UTC()

	assert.True(t, limiter.Allow(base))
	assert.True(t, limiter.Allow(base.Add(100*time.Millisecond)))
	assert.False(t, limiter.Allow(base.Add(200*time.Millisecond)), "third request in the same second")
	assert.True(t, limiter.Allow(base.Add(1200*time.Millisecond)), "window resets on the next second")
}

func TestRateLimiterWaitSleepsToNextSecond(t *testing.T) {
	limiter := NewRateLimiter(1)
	clock := time.Unix(100, 250*int64(time.Millisecond))
	var slept []time.Duration
	limiter.now = func() time.Time { return clock }
	limiter.after = func(d time.Duration) <-chan time.Time {
		slept = append(slept, d)
		clock = clock.Add(d)
		ch := make(chan time.Time, 1)
		ch <- clock
		return ch
	}

	require.NoError(t, limiter.Wait(context.Background()))
	require.NoError(t, limiter.Wait(context.Background()))
	assert.Equal(t, []time.Duration{750 * time.Millisecond}, slept)
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	limiter := NewRateLimiter(1)
	fixed := time.Unix(100, 0)
	limiter.now = func() time.Time { return fixed }
	limiter.after = func(time.Duration) <-chan time.Time { return make(chan time.Time) }
	require.True(t, limiter.Allow(fixed))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, limiter.Wait(ctx), context.Canceled)
}

func TestAppDClientUsesLimiter(t *testing.T) {
	ctrl := newController(t)
	client := NewAppDClient(ctrl.server.URL, "JSESSIONID=abc", time.Second, nil)
	client.Limiter = NewRateLimiter(100)

	_, err := client.Tiers(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, 1, client.Limiter.count)
}
