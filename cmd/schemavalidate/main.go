package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/attribution"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rca"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/schema"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/toolkitcfg"
)

type check struct {
	name string
	run  func(root string) error
}

var version = "dev"

func main() {
	if len(os.Args) == 2 && (os.Args[1] == "--version" || os.Args[1] == "version") {
		fmt.Println(version)
		return
	}
	contract := flag.String("contract", schema.ReportContract, "contract for positional JSON files: "+strings.Join(schema.ContractNames(), "|"))
	flag.Parse()

	if flag.NArg() > 0 {
		for _, path := range flag.Args() {
			if err := validateFile(*contract, path); err != nil {
				fmt.Fprintf(os.Stderr, "schema validation failed (%s): %v\n", path, err)
				os.Exit(1)
			}
			fmt.Printf("ok: %s\n", path)
		}
		return
	}

	root := projectRoot()
	checks := []check{
		{name: "schema document parse", run: validateSchemaDocuments},
		{name: "contract sample payloads", run: validateContractSamples},
		{name: "toolkit config schema", run: validateToolkitConfigAgainstSchema},
		{name: "toolkit config loader", run: validateToolkitConfigLoader},
	}

	for _, c := range checks {
		if err := c.run(root); err != nil {
			fmt.Fprintf(os.Stderr, "schema validation failed (%s): %v\n", c.name, err)
			os.Exit(1)
		}
		fmt.Printf("ok: %s\n", c.name)
	}
}

func validateFile(contract, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return schema.ValidateContract(contract, json.RawMessage(data))
}

func validateSchemaDocuments(root string) error {
	for _, name := range schema.ContractNames() {
		data, err := schema.Contract(name)
		if err != nil {
			return err
		}
		if err := validateSchemaDocument(name, data); err != nil {
			return err
		}
	}
	path := filepath.Join(root, "config", "rca.schema.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema %s: %w", path, err)
	}
	return validateSchemaDocument(path, data)
}

func validateContractSamples(_ string) error {
	result := &attribution.Result{
		Target:    "frontend",
		Resamples: 2,
		Contributions: map[string]attribution.Contribution{
			"checkout": {Median: 41.2, Lower: 38.9, Upper: 44.0},
			"payment":  {Median: 1.3, Lower: -0.4, Upper: 2.2},
			"frontend": {Median: 0, Lower: 0, Upper: 0},
		},
	}
	percent := attribution.PercentContributions(result)
	report := rca.BuildReport(rca.StrategyPerMetric, "frontend", []string{"duration"}, []rca.MetricAttribution{{
		Metric:      "duration",
		Attribution: result,
		Percent:     percent,
		Significant: attribution.Significant(percent, 20),
	}}, 20, time.Now())

	if err := schema.ValidateReport(report); err != nil {
		return fmt.Errorf("sample report: %w", err)
	}
	if err := schema.ValidateContract(schema.DocumentContract, attribution.NewDocument(result)); err != nil {
		return fmt.Errorf("sample document: %w", err)
	}
	return nil
}

func validateToolkitConfigAgainstSchema(root string) error {
	schemaPath := filepath.Join(root, "config", "rca.schema.json")
	configPath := filepath.Join(root, "config", "rca.yaml")

	payloadBytes, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read toolkit config %s: %w", configPath, err)
	}

	var yamlPayload interface{}
	if err := yaml.Unmarshal(payloadBytes, &yamlPayload); err != nil {
		return fmt.Errorf("parse toolkit yaml %s: %w", configPath, err)
	}

	return schema.ValidateAgainstSchema(schemaPath, normalizeYAML(yamlPayload))
}

func validateToolkitConfigLoader(root string) error {
	configPath := filepath.Join(root, "config", "rca.yaml")
	if _, err := toolkitcfg.Load(configPath); err != nil {
		return fmt.Errorf("load toolkit config %s: %w", configPath, err)
	}
	return nil
}

func validateSchemaDocument(name string, data []byte) error {
	var payload interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse schema json %s: %w", name, err)
	}
	if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data)); err != nil {
		return fmt.Errorf("compile schema %s: %w", name, err)
	}
	return nil
}

func normalizeYAML(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, value := range x {
			out[k] = normalizeYAML(value)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, value := range x {
			out[fmt.Sprint(k)] = normalizeYAML(value)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i := range x {
			out[i] = normalizeYAML(x[i])
		}
		return out
	default:
		return x
	}
}

func projectRoot() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
}
