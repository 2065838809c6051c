package attribution

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

// Document is the JSON layout of one attribution result. Intervals are
// flattened to [lower, upper] pairs.
type Document struct {
	TargetNode              string                `json:"target_node"`
	MedianAttributions      map[string]float64    `json:"median_attributions"`
	UncertaintyAttributions map[string][2]float64 `json:"uncertainty_attributions"`
	PercentContributions    map[string]float64    `json:"percent_contributions,omitempty"`
}

// NewDocument converts a result into its JSON layout.
func NewDocument(r *Result) Document {
	doc := Document{
		TargetNode:              r.Target,
		MedianAttributions:      make(map[string]float64, len(r.Contributions)),
		UncertaintyAttributions: make(map[string][2]float64, len(r.Contributions)),
		PercentContributions:    PercentContributions(r),
	}
	for node, c := range r.Contributions {
		doc.MedianAttributions[node] = c.Median
		doc.UncertaintyAttributions[node] = [2]float64{c.Lower, c.Upper}
	}
	return doc
}

// Result converts a document back into a result.
func (d Document) Result() *Result {
	out := &Result{Target: d.TargetNode, Contributions: make(map[string]Contribution, len(d.MedianAttributions))}
	for node, median := range d.MedianAttributions {
		interval := d.UncertaintyAttributions[node]
		out.Contributions[node] = Contribution{Median: median, Lower: interval[0], Upper: interval[1]}
	}
	return out
}

// LoadTargetNode reads a target node identifier from a text file.
func LoadTargetNode(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read target node file: %w", err)
	}
	target := strings.TrimSpace(string(data))
	if target == "" {
		return "", rcaerr.Shapef("target node file %s is empty", path)
	}
	return target, nil
}

// WriteJSON writes payload as indented JSON; "-" writes to stdout.
func WriteJSON(path string, payload interface{}) error {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal attribution output: %w", err)
	}
	encoded = append(encoded, '\n')
	if path == "-" {
		_, err := os.Stdout.Write(encoded)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("write attribution output: %w", err)
	}
	return nil
}

// ReadDocument loads a result document written by WriteJSON.
func ReadDocument(path string) (Document, error) {
	var doc Document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read attribution document: %w", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse attribution document: %w", err)
	}
	return doc, nil
}
