package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/graph"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/monitoring"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
)

type fetchOptions struct {
	source   string
	entities []string
	appID    int64
	minutes  int
	start    string
	end      string
	step     time.Duration
	timeout  time.Duration
	maxRPS   int
	overlay  map[string]string
	out      string
	graphOut string
}

func newFetchCmd(a *app) *cobra.Command {
	opts := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a metric window (and topology) from a monitoring backend",
		Long: `fetch reads the configured metrics for each entity from AppDynamics or
Prometheus and writes them as a long CSV table ready for the attributor.
With --app-id the AppDynamics flow map is also exported as a node-link
causal graph whose edges point from callee to caller.`,
		Example: `  rcactl fetch --source prometheus --url http://prom:9090 --entities frontend,checkout --minutes 30 --out outlier.csv
  RCA_SESSION="JSESSIONID=..." rcactl fetch --source appd --url https://ctl --app shop --app-id 42 --graph-out graph.json --out normal.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runFetch(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.source, "source", "prometheus", "monitoring backend: appd|prometheus")
	flags.String("url", "", "controller or Prometheus base URL (env RCA_URL)")
	flags.String("session", "", "AppDynamics session cookie (env RCA_SESSION)")
	flags.String("app", "", "AppDynamics application name (env RCA_APP)")
	flags.Int64Var(&opts.appID, "app-id", 0, "AppDynamics application id; enables flow map export")
	flags.StringSliceVar(&opts.entities, "entities", nil, "entities (tiers or services) to fetch; defaults to the flow map services")
	flags.IntVar(&opts.minutes, "minutes", 60, "fetch the last N minutes")
	flags.StringVar(&opts.start, "start", "", "window start (RFC3339); requires --end")
	flags.StringVar(&opts.end, "end", "", "window end (RFC3339); requires --start")
	flags.DurationVar(&opts.step, "step", time.Minute, "Prometheus range query step")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "backend request timeout")
	flags.IntVar(&opts.maxRPS, "max-rps", 0, "cap AppDynamics requests per second (0 = unlimited)")
	flags.StringToStringVar(&opts.overlay, "query", nil, "per-metric query or metric path template overrides (metric=template)")
	flags.StringVar(&opts.out, "out", "-", "metric CSV output path ('-' for stdout)")
	flags.StringVar(&opts.graphOut, "graph-out", "", "causal graph output path (appd with --app-id only)")
	for _, key := range []string{"url", "session", "app"} {
		_ = a.v.BindPFlag(key, flags.Lookup(key))
	}
	return cmd
}

func (a *app) runFetch(ctx context.Context, opts *fetchOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := a.config()
	if err != nil {
		return err
	}
	logger, err := a.logger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	window, err := opts.timeRange()
	if err != nil {
		return err
	}
	baseURL := strings.TrimSpace(a.v.GetString("url"))
	if baseURL == "" {
		return rcaerr.Configf("--url (or RCA_URL) is required")
	}

	var (
		source monitoring.Source
		topo   *monitoring.Topology
	)
	switch strings.ToLower(opts.source) {
	case "appd", "appdynamics":
		appName := strings.TrimSpace(a.v.GetString("app"))
		if appName == "" {
			return rcaerr.Configf("--app (or RCA_APP) is required for the appd source")
		}
		client := monitoring.NewAppDClient(baseURL, a.v.GetString("session"), opts.timeout, logger)
		if opts.maxRPS > 0 {
			client.Limiter = monitoring.NewRateLimiter(opts.maxRPS)
		}
		if opts.appID > 0 {
			if topo, err = client.FlowMap(ctx, opts.appID); err != nil {
				return err
			}
			logger.Info("flow map fetched", zap.Int("services", len(topo.Services)), zap.Int("calls", len(topo.Calls)))
		}
		source = &monitoring.AppDSource{
			Client:  client,
			App:     appName,
			Paths:   overlay(monitoring.DefaultMetricPaths(), opts.overlay),
			Metrics: cfg.Metrics,
		}
	case "prometheus", "prom":
		if opts.graphOut != "" {
			return rcaerr.Configf("--graph-out needs the appd source")
		}
		source, err = monitoring.NewPrometheusSource(baseURL, cfg.Metrics, overlay(monitoring.DefaultQueries(), opts.overlay), opts.step, logger)
		if err != nil {
			return err
		}
	default:
		return rcaerr.Configf("unsupported source %q", opts.source)
	}

	entities := opts.entities
	if len(entities) == 0 && topo != nil {
		entities = topo.Services
	}
	if len(entities) == 0 {
		return rcaerr.Configf("no entities to fetch; pass --entities")
	}

	t, err := source.FetchTable(ctx, entities, window)
	if err != nil {
		return err
	}
	logger.Info("metric window fetched",
		zap.String("source", opts.source),
		zap.Int("entities", len(entities)),
		zap.Int("rows", len(t.Rows)),
	)
	if err := a.writeTable(opts.out, t, cfg.EntityColumn); err != nil {
		return err
	}

	if opts.graphOut != "" {
		if topo == nil {
			return rcaerr.Configf("--graph-out needs --app-id")
		}
		if err := os.MkdirAll(filepath.Dir(opts.graphOut), 0o755); err != nil {
			return fmt.Errorf("create graph directory: %w", err)
		}
		if err := graph.WriteNodeLinkFile(opts.graphOut, topo.CausalGraph(true)); err != nil {
			return err
		}
		logger.Info("causal graph written", zap.String("path", opts.graphOut))
	}
	return nil
}

func (o *fetchOptions) timeRange() (monitoring.TimeRange, error) {
	if o.start == "" && o.end == "" {
		r := monitoring.LastMinutes(o.minutes)
		return r, r.Validate()
	}
	start, err := time.Parse(time.RFC3339, o.start)
	if err != nil {
		return monitoring.TimeRange{}, rcaerr.Configf("invalid --start: %v", err)
	}
	end, err := time.Parse(time.RFC3339, o.end)
	if err != nil {
		return monitoring.TimeRange{}, rcaerr.Configf("invalid --end: %v", err)
	}
	r := monitoring.TimeRange{Type: monitoring.BetweenTimes, Start: start, End: end}
	return r, r.Validate()
}

func (a *app) writeTable(path string, t *table.MetricTable, entityColumn string) error {
	var w io.Writer = a.stdout
	if path != "-" && path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}
	return table.WriteMetricCSV(w, t, entityColumn)
}

func overlay(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
