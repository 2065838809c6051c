package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

// nodeLink is the networkx node-link document layout. Newer writers emit the
// edge list under "edges" instead of "links"; both are accepted.
type nodeLink struct {
	Directed   bool           `json:"directed"`
	Multigraph bool           `json:"multigraph"`
	Graph      map[string]any `json:"graph"`
	Nodes      []nodeLinkNode `json:"nodes"`
	Links      []nodeLinkEdge `json:"links,omitempty"`
	Edges      []nodeLinkEdge `json:"edges,omitempty"`
}

type nodeLinkNode struct {
	ID json.RawMessage `json:"id"`
}

type nodeLinkEdge struct {
	Source json.RawMessage `json:"source"`
	Target json.RawMessage `json:"target"`
}

// UnmarshalNodeLink decodes a node-link JSON document.
func UnmarshalNodeLink(data []byte) (*CausalGraph, error) {
	var doc nodeLink
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, rcaerr.Graphf("decode node-link graph: %v", err)
	}
	c := New()
	for idx, n := range doc.Nodes {
		name, err := nodeName(n.ID)
		if err != nil {
			return nil, rcaerr.Graphf("node %d: %v", idx, err)
		}
		c.AddNode(name)
	}
	edges := doc.Links
	if len(edges) == 0 {
		edges = doc.Edges
	}
	for idx, e := range edges {
		source, err := nodeName(e.Source)
		if err != nil {
			return nil, rcaerr.Graphf("edge %d source: %v", idx, err)
		}
		target, err := nodeName(e.Target)
		if err != nil {
			return nil, rcaerr.Graphf("edge %d target: %v", idx, err)
		}
		c.AddEdge(source, target)
	}
	return c, nil
}

// MarshalNodeLink encodes the graph as a node-link JSON document.
func MarshalNodeLink(c *CausalGraph) ([]byte, error) {
	doc := nodeLink{
		Directed: true,
		Graph:    map[string]any{},
		Nodes:    make([]nodeLinkNode, 0, c.Len()),
		Links:    make([]nodeLinkEdge, 0),
	}
	for _, n := range c.Nodes() {
		doc.Nodes = append(doc.Nodes, nodeLinkNode{ID: quote(n)})
	}
	for _, e := range c.Edges() {
		doc.Links = append(doc.Links, nodeLinkEdge{Source: quote(e.Source), Target: quote(e.Target)})
	}
	return json.MarshalIndent(doc, "", "  ")
}

// LoadNodeLinkFile reads a node-link JSON graph from disk.
func LoadNodeLinkFile(path string) (*CausalGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph %s: %w", path, err)
	}
	return UnmarshalNodeLink(data)
}

// WriteNodeLinkFile writes the graph as node-link JSON.
func WriteNodeLinkFile(path string, c *CausalGraph) error {
	data, err := MarshalNodeLink(c)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create graph directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write graph %s: %w", path, err)
	}
	return nil
}

func nodeName(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("missing node id")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("unsupported node id %s", string(raw))
}

func quote(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
