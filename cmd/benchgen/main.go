package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/benchmark"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/logging"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rca"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/toolkitcfg"
)

func main() {
	defaults := benchmark.DefaultOptions()
	out := flag.String("out", "artifacts/benchmarks", "output directory")
	configPath := flag.String("config", "", "optional toolkit config path")
	scenarios := flag.String("scenarios", strings.Join(defaults.Scenarios, ","), "comma-separated fault scenarios")
	trials := flag.Int("trials", defaults.Trials, "datasets generated per scenario")
	rows := flag.Int("rows", defaults.Rows, "time indices per window")
	seed := flag.Int64("seed", defaults.Seed, "dataset seed")
	policy := flag.String("policy", "", "override the per-metric mechanism policy: fixed|auto")
	flag.Parse()

	cfg := toolkitcfg.Default()
	if *configPath != "" {
		loaded, err := toolkitcfg.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(2)
		}
		cfg = loaded
	}
	if *policy != "" {
		cfg.PerMetric.Policy = *policy
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid policy: %v\n", err)
			os.Exit(2)
		}
	}
	rcaCfg, err := rca.FromToolkit(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "convert config: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	opts := benchmark.Options{
		Scenarios: strings.Split(*scenarios, ","),
		Trials:    *trials,
		Rows:      *rows,
		Seed:      *seed,
	}
	if err := benchmark.GenerateArtifacts(context.Background(), *out, rca.NewAnalyzer(rcaCfg), opts, logger); err != nil {
		fmt.Fprintf(os.Stderr, "benchmark generation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("benchmark artifacts written to %s\n", *out)
}
