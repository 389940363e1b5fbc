// Package types defines the identity types shared by the registry, resolver
// and CLI.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NodeType is the on-chain node category. The numeric values match the
// contract enum order.
type NodeType uint8

const (
	NodeCloud NodeType = iota
	NodeFog
	NodeEdge
	NodeSensor
	NodeActuator
)

var nodeTypeNames = [...]string{"Cloud", "Fog", "Edge", "Sensor", "Actuator"}

// String returns the canonical name ("Cloud", "Fog", ...).
func (t NodeType) String() string {
	if int(t) < len(nodeTypeNames) {
		return nodeTypeNames[t]
	}
	return fmt.Sprintf("NodeType(%d)", uint8(t))
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	return int(t) < len(nodeTypeNames)
}

// ParseNodeType parses a node type name, case-insensitively.
func ParseNodeType(s string) (NodeType, error) {
	for i, name := range nodeTypeNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return NodeType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown node type %q (want one of %s)", s, strings.Join(nodeTypeNames[:], ", "))
}

// MarshalJSON encodes the type by name.
func (t NodeType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts a name or the numeric enum value.
func (t *NodeType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := ParseNodeType(s)
		if err != nil {
			return err
		}
		*t = v
		return nil
	}
	var n uint8
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("node type must be a name or number")
	}
	if !NodeType(n).Valid() {
		return fmt.Errorf("node type %d out of range", n)
	}
	*t = NodeType(n)
	return nil
}
