// Package render turns a diagram graph into an image artifact. Layout is a
// plain layered placement; it exists to give every node a stable position,
// not to produce publication-quality drawings.
package render

import (
	"errors"
	"fmt"
)

// Layout directions.
const (
	DirectionLR = "LR"
	DirectionTB = "TB"
)

// Node is a single diagram element.
type Node struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Kind    string `json:"kind,omitempty"`
	Cluster string `json:"cluster,omitempty"`
}

// Edge connects two nodes by ID.
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// Graph is a diagram ready for rendering.
type Graph struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
}

var (
	// ErrEmptyGraph is returned when a graph has no nodes.
	ErrEmptyGraph = errors.New("diagram has no nodes")

	// ErrUnsupportedFormat is returned for an unknown artifact format.
	ErrUnsupportedFormat = errors.New("unsupported artifact format")
)

// Validate checks that the graph has nodes, unique IDs and edges that refer
// to declared nodes.
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return ErrEmptyGraph
	}
	seen := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return errors.New("node with empty id")
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node %q", n.ID)
		}
		seen[n.ID] = true
	}
	for _, e := range g.Edges {
		if !seen[e.From] {
			return fmt.Errorf("edge references unknown node %q", e.From)
		}
		if !seen[e.To] {
			return fmt.Errorf("edge references unknown node %q", e.To)
		}
	}
	switch g.Direction {
	case "", DirectionLR, DirectionTB:
	default:
		return fmt.Errorf("unknown direction %q", g.Direction)
	}
	return nil
}

// HasNode reports whether a node with id exists.
func (g *Graph) HasNode(id string) bool {
	for _, n := range g.Nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}
