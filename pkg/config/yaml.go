package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Limits for config files. A tracker config is a handful of keys; anything
// near these bounds is a mistake or an alias bomb.
const (
	maxFileSize  = 1 << 20
	maxDepth     = 20
	maxNodes     = 10000
	maxKeyLength = 256
)

// decodeYAML validates the node tree against the limits above before
// unmarshaling data into v. Unknown keys are rejected.
func decodeYAML(data []byte, v any) error {
	if len(data) > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes exceeds maximum %d", len(data), maxFileSize)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("YAML parse error: %w", err)
	}
	if len(root.Content) == 0 {
		return nil
	}

	nodes := 0
	if err := checkNode(&root, 0, &nodes); err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(v)
}

func checkNode(node *yaml.Node, depth int, nodes *int) error {
	if depth > maxDepth {
		return fmt.Errorf("YAML nesting depth %d exceeds maximum %d", depth, maxDepth)
	}
	*nodes++
	if *nodes > maxNodes {
		return fmt.Errorf("YAML node count exceeds maximum %d", maxNodes)
	}

	switch node.Kind {
	case yaml.DocumentNode:
		for _, child := range node.Content {
			if err := checkNode(child, depth, nodes); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if len(key.Value) > maxKeyLength {
				return fmt.Errorf("YAML key length %d exceeds maximum %d", len(key.Value), maxKeyLength)
			}
			if err := checkNode(node.Content[i+1], depth+1, nodes); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for _, child := range node.Content {
			if err := checkNode(child, depth+1, nodes); err != nil {
				return err
			}
		}
	case yaml.AliasNode:
		if node.Alias != nil {
			if err := checkNode(node.Alias, depth+1, nodes); err != nil {
				return err
			}
		}
	}
	return nil
}
