package render

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func writeDOT(g *Graph, path string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %s {\n", strconv.Quote(g.Name))
	if g.Direction != "" {
		fmt.Fprintf(&b, "  rankdir=%s;\n", g.Direction)
	}
	b.WriteString("  node [shape=box];\n")

	clusters := make(map[string][]Node)
	var order []string
	for _, n := range g.Nodes {
		if n.Cluster == "" {
			writeDOTNode(&b, "  ", n)
			continue
		}
		if _, ok := clusters[n.Cluster]; !ok {
			order = append(order, n.Cluster)
		}
		clusters[n.Cluster] = append(clusters[n.Cluster], n)
	}
	for i, name := range order {
		fmt.Fprintf(&b, "  subgraph cluster_%d {\n    label=%s;\n", i, strconv.Quote(name))
		for _, n := range clusters[name] {
			writeDOTNode(&b, "    ", n)
		}
		b.WriteString("  }\n")
	}

	for _, e := range g.Edges {
		fmt.Fprintf(&b, "  %s -> %s", strconv.Quote(e.From), strconv.Quote(e.To))
		if e.Label != "" {
			fmt.Fprintf(&b, " [label=%s]", strconv.Quote(e.Label))
		}
		b.WriteString(";\n")
	}
	b.WriteString("}\n")

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeDOTNode(b *strings.Builder, indent string, n Node) {
	label := nodeText(n)
	if n.Kind != "" {
		label = n.Kind + "\\n" + label
	}
	fmt.Fprintf(b, "%s%s [label=\"%s\"];\n", indent, strconv.Quote(n.ID), strings.ReplaceAll(label, `"`, `\"`))
}
