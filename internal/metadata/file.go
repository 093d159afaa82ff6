package metadata

import (
	"encoding/json"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// LoadFile reads a YAML (or JSON) configuration graph. It is the file-backed
// alternative to the config tables, used for local runs and the CLI.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read functions file: %w", err)
	}
	return ParseGraph(data)
}

// ParseGraph decodes a configuration graph. Functions are decoded one by
// one: a function that does not decode lands in Graph.Rejected and the
// rest of the graph still loads.
func ParseGraph(data []byte) (*Graph, error) {
	var doc struct {
		Graph
		Functions []json.RawMessage `json:"functions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse functions file: %w", err)
	}

	g := doc.Graph
	g.Functions = nil
	for i, raw := range doc.Functions {
		var fn FunctionDefinition
		if err := json.Unmarshal(raw, &fn); err != nil {
			g.Rejected = append(g.Rejected, decodeError(rawFunctionID(raw, i), err))
			continue
		}
		g.Functions = append(g.Functions, &fn)
	}
	return &g, nil
}

// rawFunctionID recovers the id of a function that failed to decode.
func rawFunctionID(raw json.RawMessage, index int) string {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err == nil && head.ID != "" {
		return head.ID
	}
	return fmt.Sprintf("functions[%d]", index)
}
