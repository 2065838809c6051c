package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/attribution"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/graph"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/logging"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/otel"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rca"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/schema"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/store"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/telemetry"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/toolkitcfg"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/webhook"
)

const usage = `usage: attributor [flags] normal.csv outlier.csv graph.json target.txt

Attributes the change of the target node between a normal and an outlier
window to the nodes of a causal graph.

`

type run struct {
	report    schema.AttributionReport
	documents interface{}
}

func main() {
	defaultConfigPath := filepath.Join("config", "rca.yaml")
	configPathValue := resolveConfigPath(os.Args[1:], defaultConfigPath)
	cfg := toolkitcfg.Default()
	if loaded, err := toolkitcfg.Load(configPathValue); err == nil {
		cfg = loaded
	} else if rcaerr.Kind(err) == "config" {
		fmt.Fprintf(os.Stderr, "invalid config %s: %v\n", configPathValue, err)
		os.Exit(2)
	} else {
		log.Printf("warning: failed to load config %s: %v (using defaults)", configPathValue, err)
	}

	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	_ = flag.String("config", configPathValue, "toolkit config path")
	strategyName := flag.String("strategy", string(rca.StrategyPerMetric), "strategy: direct|aggregated|per-metric")
	outPath := flag.String("out", "-", "attribution document output path ('-' for stdout)")
	reportPath := flag.String("report-out", "", "optional attribution report output path")
	logLevel := flag.String("log-level", cfg.Logging.Level, "log level: debug|info|warn|error")
	historyPath := flag.String("history", cfg.History.Path, "optional sqlite history database")
	textfilePath := flag.String("metrics-textfile", cfg.MetricsExport.TextfilePath, "optional Prometheus textfile output path")
	otlpEndpoint := flag.String("otlp-endpoint", cfg.OTLP.Endpoint, "optional OTLP/HTTP logs endpoint for reports")
	webhookEnabled := flag.Bool("webhook-enabled", cfg.Webhook.Enabled, "enable webhook delivery")
	webhookURL := flag.String("webhook-url", cfg.Webhook.URL, "webhook endpoint URL")
	webhookSecret := flag.String("webhook-secret", cfg.Webhook.Secret, "webhook secret for HMAC signature")
	webhookFormat := flag.String("webhook-format", cfg.Webhook.Format, "webhook format: generic|pagerduty|opsgenie")
	webhookTimeoutMS := flag.Int("webhook-timeout-ms", cfg.Webhook.TimeoutMS, "webhook timeout in milliseconds")
	webhookStrict := flag.Bool("webhook-strict", false, "fail command when webhook delivery fails")
	flag.Parse()

	if flag.NArg() != 4 {
		flag.Usage()
		os.Exit(2)
	}
	strategy, err := rca.ParseStrategy(*strategyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid strategy: %v\n", err)
		os.Exit(2)
	}

	logCfg := logging.Config{
		Level:      *logLevel,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracerProvider(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	rcaCfg, err := rca.FromToolkit(cfg)
	if err != nil {
		fail(logger, "convert config", err)
	}
	registry := prometheus.NewRegistry()
	analyzer := rca.NewAnalyzer(rcaCfg,
		rca.WithLogger(logger),
		rca.WithMetrics(telemetry.NewMetrics(registry)),
	)

	args := flag.Args()
	out, err := analyze(ctx, analyzer, strategy, cfg.EntityColumn, args[0], args[1], args[2], args[3])
	if *textfilePath != "" {
		if werr := telemetry.WriteTextfile(*textfilePath, registry); werr != nil {
			logger.Warn("write metrics textfile", zap.Error(werr))
		}
	}
	if err != nil {
		fail(logger, "attribution failed", err)
	}

	if err := schema.ValidateReport(out.report); err != nil {
		fail(logger, "report schema validation failed", err)
	}
	if err := attribution.WriteJSON(*outPath, out.documents); err != nil {
		fail(logger, "write attribution document", err)
	}
	if *reportPath != "" {
		if err := attribution.WriteJSON(*reportPath, out.report); err != nil {
			fail(logger, "write report", err)
		}
	}

	if *historyPath != "" {
		if err := saveHistory(ctx, *historyPath, out.report); err != nil {
			logger.Warn("history not updated", zap.String("path", *historyPath), zap.Error(err))
		}
	}
	if *otlpEndpoint != "" {
		exporter := otel.NewReportExporter(*otlpEndpoint, cfg.OTLP.ServiceName, "", 5*time.Second)
		if err := exporter.ExportBatchContext(ctx, []schema.AttributionReport{out.report}); err != nil {
			logger.Warn("otlp export failed", zap.String("endpoint", *otlpEndpoint), zap.Error(err))
		}
	}

	if *webhookEnabled {
		if strings.TrimSpace(*webhookURL) == "" {
			msg := "webhook delivery enabled but webhook-url is empty"
			if *webhookStrict {
				fmt.Fprintln(os.Stderr, msg)
				os.Exit(1)
			}
			logger.Warn(msg)
		} else {
			format, parseErr := parseWebhookFormat(*webhookFormat)
			if parseErr != nil {
				fmt.Fprintf(os.Stderr, "invalid webhook-format: %v\n", parseErr)
				os.Exit(2)
			}
			exporter := webhook.New(*webhookURL, *webhookSecret, format, *webhookTimeoutMS)
			exporter.MinConfidence = cfg.Webhook.MinConfidence
			exporter.Logger = logger
			if err := exporter.SendContext(ctx, out.report); errors.Is(err, webhook.ErrSkipped) {
				logger.Info("webhook delivery skipped", zap.String("report_id", out.report.ReportID), zap.Float64("confidence", out.report.Confidence))
			} else if err != nil {
				if *webhookStrict {
					fmt.Fprintf(os.Stderr, "webhook delivery failed: %v\n", err)
					os.Exit(1)
				}
				logger.Warn("webhook delivery failed", zap.String("report_id", out.report.ReportID), zap.Error(err))
			}
		}
	}
}

func analyze(ctx context.Context, analyzer *rca.Analyzer, strategy rca.Strategy, entityColumn, normalPath, outlierPath, graphPath, targetPath string) (run, error) {
	g, err := graph.LoadNodeLinkFile(graphPath)
	if err != nil {
		return run{}, err
	}
	target, err := attribution.LoadTargetNode(targetPath)
	if err != nil {
		return run{}, err
	}
	now := time.Now().UTC()

	switch strategy {
	case rca.StrategyDirect:
		baseline, err := table.LoadFrameCSVFile(normalPath)
		if err != nil {
			return run{}, err
		}
		anomalous, err := table.LoadFrameCSVFile(outlierPath)
		if err != nil {
			return run{}, err
		}
		res, err := analyzer.Direct(ctx, g, baseline, anomalous, target)
		if err != nil {
			return run{}, err
		}
		return run{report: res.Report(now), documents: attribution.NewDocument(res.Attribution)}, nil
	}

	baseline, err := table.LoadMetricCSVFile(normalPath, entityColumn)
	if err != nil {
		return run{}, err
	}
	anomalous, err := table.LoadMetricCSVFile(outlierPath, entityColumn)
	if err != nil {
		return run{}, err
	}
	if strategy == rca.StrategyAggregated {
		res, err := analyzer.Aggregated(ctx, g, baseline, anomalous, target)
		if err != nil {
			return run{}, err
		}
		return run{report: res.Report(now), documents: attribution.NewDocument(res.Attribution)}, nil
	}

	res, err := analyzer.PerMetric(ctx, g, baseline, anomalous, target)
	if err != nil {
		return run{}, err
	}
	documents := make(map[string]attribution.Document, len(res.Metrics))
	for _, m := range res.Metrics {
		documents[m.Metric] = attribution.NewDocument(m.Attribution)
	}
	return run{report: res.Report(now), documents: documents}, nil
}

func saveHistory(ctx context.Context, path string, report schema.AttributionReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}
	h, err := store.Open(path)
	if err != nil {
		return err
	}
	defer h.Close()
	_, err = h.SaveReport(ctx, report)
	return err
}

// fail logs err and exits 2 for configuration problems and 1 otherwise.
func fail(logger *zap.Logger, msg string, err error) {
	logger.Error(msg, zap.String("kind", rcaerr.Kind(err)), zap.Error(err))
	_ = logger.Sync()
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	if errors.Is(err, rcaerr.ErrConfig) {
		os.Exit(2)
	}
	os.Exit(1)
}

func resolveConfigPath(args []string, fallback string) string {
	for idx := 0; idx < len(args); idx++ {
		arg := strings.TrimSpace(args[idx])
		if arg == "--config" && idx+1 < len(args) {
			return strings.TrimSpace(args[idx+1])
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimSpace(strings.TrimPrefix(arg, "--config="))
		}
	}
	return fallback
}

func parseWebhookFormat(raw string) (webhook.Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(webhook.FormatGeneric):
		return webhook.FormatGeneric, nil
	case string(webhook.FormatPagerDuty):
		return webhook.FormatPagerDuty, nil
	case string(webhook.FormatOpsgenie):
		return webhook.FormatOpsgenie, nil
	default:
		return "", fmt.Errorf("unsupported format %q", raw)
	}
}
