package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/faultreplay"
)

func main() {
	scenario := flag.String("scenario", "all", "fault scenario ("+strings.Join(faultreplay.SupportedScenarios(), "|")+"|all)")
	rows := flag.Int("rows", 100, "time indices per window")
	seed := flag.Int64("seed", 42, "dataset seed; the outlier window uses seed+1")
	entityColumn := flag.String("entity-column", "service", "entity column name of the long tables")
	out := flag.String("out", "artifacts/fault-replay", "output directory; one subdirectory per scenario")
	flag.Parse()

	names := []string{*scenario}
	if *scenario == "all" {
		names = faultreplay.SupportedScenarios()
	}

	for _, name := range names {
		s, err := faultreplay.Generate(name, *rows, *seed)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate scenario: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(*out, name)
		if err := faultreplay.Write(dir, s, *entityColumn); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write scenario %s: %v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("wrote scenario %s (root cause %s/%s) to %s\n", name, s.ExpectedRootCause, s.ExpectedMetric, dir)
	}
}
