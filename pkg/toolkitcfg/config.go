package toolkitcfg

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/anomaly"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/attribution"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/scm"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/webhook"
)

// ToolkitConfig mirrors config/rca.yaml.
type ToolkitConfig struct {
	APIVersion    string              `yaml:"apiVersion"`
	Kind          string              `yaml:"kind"`
	Metrics       []string            `yaml:"metrics"`
	EntityColumn  string              `yaml:"entity_column"`
	Detection     DetectionConfig     `yaml:"detection"`
	Attribution   AttributionConfig   `yaml:"attribution"`
	Direct        StrategyConfig      `yaml:"direct"`
	Aggregated    AggregatedConfig    `yaml:"aggregated"`
	PerMetric     PerMetricConfig     `yaml:"per_metric"`
	Logging       LoggingConfig       `yaml:"logging"`
	Tracing       TracingConfig       `yaml:"tracing"`
	MetricsExport MetricsExportConfig `yaml:"metrics_export"`
	OTLP          OTLPConfig          `yaml:"otlp"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	History       HistoryConfig       `yaml:"history"`
}

// DetectionConfig tunes the anomaly scorer.
type DetectionConfig struct {
	Method          string  `yaml:"method"`
	Contamination   float64 `yaml:"contamination"`
	Seed            int64   `yaml:"seed"`
	NumTrees        int     `yaml:"num_trees"`
	MaxSamples      int     `yaml:"max_samples"`
	ZScoreThreshold float64 `yaml:"z_score_threshold"`
	MCDStarts       int     `yaml:"mcd_starts"`
}

// AttributionConfig tunes the bootstrap distribution-change attributor.
type AttributionConfig struct {
	Difference           string  `yaml:"difference"`
	SampleFraction       float64 `yaml:"sample_fraction"`
	ConfidenceLevel      float64 `yaml:"confidence_level"`
	Seed                 int64   `yaml:"seed"`
	GenerationSamples    int     `yaml:"generation_samples"`
	ShapleyPermutations  int     `yaml:"shapley_permutations"`
	MechanismChangeAlpha float64 `yaml:"mechanism_change_alpha"`
	Workers              int     `yaml:"workers"`
}

// StrategyConfig selects the mechanism policy and resample count of a strategy.
type StrategyConfig struct {
	Policy       string `yaml:"policy"`
	NumResamples int    `yaml:"num_resamples"`
}

// AggregatedConfig configures the aggregate-then-attribute strategy.
type AggregatedConfig struct {
	StrategyConfig  `yaml:",inline"`
	DetectionMethod string `yaml:"detection_method"`
}

// PerMetricConfig configures the attribute-per-metric strategy.
type PerMetricConfig struct {
	StrategyConfig       `yaml:",inline"`
	ZThreshold           float64 `yaml:"z_threshold"`
	ContributionFloorPct float64 `yaml:"contribution_floor_pct"`
	Parallel             bool    `yaml:"parallel"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TracingConfig controls span export. An empty endpoint writes spans to stdout.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// MetricsExportConfig names the Prometheus textfile written after a run.
type MetricsExportConfig struct {
	TextfilePath string `yaml:"textfile_path"`
}

// OTLPConfig contains the OTLP/HTTP logs endpoint for report findings.
type OTLPConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// WebhookConfig configures report delivery.
type WebhookConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	Secret    string `yaml:"secret"`
	Format    string `yaml:"format"`
	TimeoutMS int    `yaml:"timeout_ms"`

	// MinConfidence suppresses reports below this root-cause confidence.
	MinConfidence float64 `yaml:"min_confidence"`
}

// HistoryConfig points at the sqlite run history. Empty disables history.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// Default returns v1alpha1 defaults.
func Default() ToolkitConfig {
	params := anomaly.DefaultParams()
	opts := attribution.DefaultOptions()
	return ToolkitConfig{
		APIVersion:   "toolkit.causal-rca.dev/v1alpha1",
		Kind:         "RCAConfig",
		Metrics:      []string{"rate", "error_rate", "duration"},
		EntityColumn: "service",
		Detection: DetectionConfig{
			Method:          string(anomaly.MethodIsolationForest),
			Contamination:   params.Contamination,
			Seed:            params.Seed,
			NumTrees:        params.NumTrees,
			MaxSamples:      params.MaxSamples,
			ZScoreThreshold: params.ZScoreThreshold,
			MCDStarts:       params.MCDStarts,
		},
		Attribution: AttributionConfig{
			Difference:           "mean",
			SampleFraction:       opts.SampleFraction,
			ConfidenceLevel:      opts.ConfidenceLevel,
			Seed:                 opts.Seed,
			GenerationSamples:    opts.GenerationSamples,
			ShapleyPermutations:  opts.ShapleyPermutations,
			MechanismChangeAlpha: opts.ChangeAlpha,
		},
		Direct: StrategyConfig{Policy: scm.PolicyFixed, NumResamples: 2},
		Aggregated: AggregatedConfig{
			StrategyConfig:  StrategyConfig{Policy: scm.PolicyAuto, NumResamples: 4},
			DetectionMethod: string(anomaly.MethodZScore),
		},
		PerMetric: PerMetricConfig{
			StrategyConfig:       StrategyConfig{Policy: scm.PolicyAuto, NumResamples: 2},
			ZThreshold:           2.0,
			ContributionFloorPct: 20,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Tracing: TracingConfig{ServiceName: "causal-rca"},
		OTLP:    OTLPConfig{ServiceName: "causal-rca"},
		Webhook: WebhookConfig{Format: string(webhook.FormatGeneric), TimeoutMS: 5000},
	}
}

// Load parses and normalizes a toolkit config file.
func Load(path string) (ToolkitConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, rcaerr.Configf("unmarshal config %s: %v", path, err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *ToolkitConfig) {
	def := Default()
	if len(cfg.Metrics) == 0 {
		cfg.Metrics = def.Metrics
	}
	if cfg.EntityColumn == "" {
		cfg.EntityColumn = def.EntityColumn
	}
	if cfg.Detection.Method == "" {
		cfg.Detection.Method = def.Detection.Method
	}
	if cfg.Detection.NumTrees <= 0 {
		cfg.Detection.NumTrees = def.Detection.NumTrees
	}
	if cfg.Detection.MaxSamples <= 0 {
		cfg.Detection.MaxSamples = def.Detection.MaxSamples
	}
	if cfg.Detection.MCDStarts <= 0 {
		cfg.Detection.MCDStarts = def.Detection.MCDStarts
	}
	if cfg.Attribution.Difference == "" {
		cfg.Attribution.Difference = def.Attribution.Difference
	}
	if cfg.Attribution.GenerationSamples <= 0 {
		cfg.Attribution.GenerationSamples = def.Attribution.GenerationSamples
	}
	if cfg.Attribution.ShapleyPermutations <= 0 {
		cfg.Attribution.ShapleyPermutations = def.Attribution.ShapleyPermutations
	}
	if cfg.Direct.Policy == "" {
		cfg.Direct.Policy = def.Direct.Policy
	}
	if cfg.Aggregated.Policy == "" {
		cfg.Aggregated.Policy = def.Aggregated.Policy
	}
	if cfg.Aggregated.DetectionMethod == "" {
		cfg.Aggregated.DetectionMethod = def.Aggregated.DetectionMethod
	}
	if cfg.PerMetric.Policy == "" {
		cfg.PerMetric.Policy = def.PerMetric.Policy
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = def.Tracing.ServiceName
	}
	if cfg.OTLP.ServiceName == "" {
		cfg.OTLP.ServiceName = def.OTLP.ServiceName
	}
	if cfg.Webhook.Format == "" {
		cfg.Webhook.Format = def.Webhook.Format
	}
	if cfg.Webhook.TimeoutMS <= 0 {
		cfg.Webhook.TimeoutMS = def.Webhook.TimeoutMS
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = def.APIVersion
	}
	if cfg.Kind == "" {
		cfg.Kind = def.Kind
	}
}

// Validate reports every invalid setting at once. The returned error wraps
// rcaerr.ErrConfig and a *multierror.Error listing the individual problems.
func (c ToolkitConfig) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if len(c.Metrics) == 0 {
		add("metrics must not be empty")
	}
	seen := make(map[string]bool, len(c.Metrics))
	for _, m := range c.Metrics {
		if strings.TrimSpace(m) == "" {
			add("metrics contains an empty name")
		}
		if seen[m] {
			add("metric %q listed twice", m)
		}
		seen[m] = true
	}
	if _, err := anomaly.ParseMethod(c.Detection.Method); err != nil {
		add("detection.method: %v", err)
	}
	if _, err := anomaly.ParseMethod(c.Aggregated.DetectionMethod); err != nil {
		add("aggregated.detection_method: %v", err)
	}
	if c.Detection.Contamination <= 0 || c.Detection.Contamination >= 0.5 {
		add("detection.contamination %v must be in (0, 0.5)", c.Detection.Contamination)
	}
	if c.Detection.ZScoreThreshold <= 0 {
		add("detection.z_score_threshold must be > 0")
	}
	if _, err := attribution.ParseDifference(c.Attribution.Difference); err != nil {
		add("attribution.difference: %v", err)
	}
	if c.Attribution.SampleFraction <= 0 || c.Attribution.SampleFraction > 1 {
		add("attribution.sample_fraction %v must be in (0, 1]", c.Attribution.SampleFraction)
	}
	if c.Attribution.ConfidenceLevel <= 0 || c.Attribution.ConfidenceLevel >= 1 {
		add("attribution.confidence_level %v must be in (0, 1)", c.Attribution.ConfidenceLevel)
	}
	if c.Attribution.MechanismChangeAlpha < 0 || c.Attribution.MechanismChangeAlpha >= 1 {
		add("attribution.mechanism_change_alpha %v must be in [0, 1)", c.Attribution.MechanismChangeAlpha)
	}
	if c.Attribution.Workers < 0 {
		add("attribution.workers must be >= 0")
	}
	for name, s := range map[string]StrategyConfig{
		"direct":     c.Direct,
		"aggregated": c.Aggregated.StrategyConfig,
		"per_metric": c.PerMetric.StrategyConfig,
	} {
		if _, err := scm.ParsePolicy(s.Policy, 0); err != nil {
			add("%s.policy: %v", name, err)
		}
		if s.NumResamples < 1 {
			add("%s.num_resamples must be >= 1, got %d", name, s.NumResamples)
		}
	}
	if c.PerMetric.ZThreshold <= 0 {
		add("per_metric.z_threshold must be > 0")
	}
	if c.PerMetric.ContributionFloorPct < 0 || c.PerMetric.ContributionFloorPct >= 100 {
		add("per_metric.contribution_floor_pct %v must be in [0, 100)", c.PerMetric.ContributionFloorPct)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		add("logging.format %q is not one of json, console", c.Logging.Format)
	}
	if c.Webhook.MinConfidence < 0 || c.Webhook.MinConfidence > 1 {
		add("webhook.min_confidence must be within [0, 1], got %g", c.Webhook.MinConfidence)
	}
	if c.Webhook.Enabled {
		if c.Webhook.URL == "" {
			add("webhook.url is required when webhook.enabled is true")
		}
		switch webhook.Format(c.Webhook.Format) {
		case webhook.FormatGeneric, webhook.FormatPagerDuty, webhook.FormatOpsgenie:
		default:
			add("webhook.format %q is not supported", c.Webhook.Format)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", rcaerr.ErrConfig, err)
	}
	return nil
}

// AnomalyParams converts the detection section.
func (c ToolkitConfig) AnomalyParams() anomaly.Params {
	return anomaly.Params{
		Contamination:   c.Detection.Contamination,
		Seed:            c.Detection.Seed,
		NumTrees:        c.Detection.NumTrees,
		MaxSamples:      c.Detection.MaxSamples,
		ZScoreThreshold: c.Detection.ZScoreThreshold,
		MCDStarts:       c.Detection.MCDStarts,
	}
}

// AttributionOptions converts the attribution section for a strategy that
// runs numResamples bootstrap iterations.
func (c ToolkitConfig) AttributionOptions(numResamples int) (attribution.Options, error) {
	diff, err := attribution.ParseDifference(c.Attribution.Difference)
	if err != nil {
		return attribution.Options{}, err
	}
	opts := attribution.DefaultOptions()
	opts.Difference = diff
	opts.NumResamples = numResamples
	opts.SampleFraction = c.Attribution.SampleFraction
	opts.ConfidenceLevel = c.Attribution.ConfidenceLevel
	opts.Seed = c.Attribution.Seed
	opts.GenerationSamples = c.Attribution.GenerationSamples
	opts.ShapleyPermutations = c.Attribution.ShapleyPermutations
	opts.ChangeAlpha = c.Attribution.MechanismChangeAlpha
	if c.Attribution.Workers > 0 {
		opts.Workers = c.Attribution.Workers
	}
	return opts, nil
}
