package graph

import (
	"fmt"
	"strings"
)

// Mermaid renders a projection as Mermaid flowchart syntax.
// Groups are drawn as hexagons labelled with their operator, conditions as rectangles
// labelled with their summary, and missing refs use the missing class.
func Mermaid(p Projection) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	var missing, disabled []string
	for _, n := range p.Nodes {
		safeID := sanitizeMermaidID(n.ID)
		switch n.Kind {
		case KindGroup:
			sb.WriteString(fmt.Sprintf("    %s{{\"%s\"}}\n", safeID, strings.ToUpper(string(n.Operator))))
		case KindCondition:
			sb.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", safeID, escapeLabel(n.Condition.Summary())))
			if !n.Condition.IsEnabled() {
				disabled = append(disabled, safeID)
			}
		case KindMissing:
			sb.WriteString(fmt.Sprintf("    %s[\"missing: %s\"]\n", safeID, escapeLabel(n.ID)))
			missing = append(missing, safeID)
		}
	}
	for _, e := range p.Edges {
		sb.WriteString(fmt.Sprintf("    %s --> %s\n", sanitizeMermaidID(e.Source), sanitizeMermaidID(e.Target)))
	}

	if len(missing) > 0 || len(disabled) > 0 {
		sb.WriteString("\n    classDef missing fill:#ffebee,stroke:#c62828,stroke-dasharray:4 2,color:#000;\n")
		sb.WriteString("    classDef disabled fill:#eeeeee,stroke:#9e9e9e,color:#616161;\n")
		for _, id := range missing {
			sb.WriteString(fmt.Sprintf("    class %s missing;\n", id))
		}
		for _, id := range disabled {
			sb.WriteString(fmt.Sprintf("    class %s disabled;\n", id))
		}
	}
	return sb.String()
}

// sanitizeMermaidID prefixes ids so generated uuids that start with a digit stay valid.
func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return "n_" + s
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}
