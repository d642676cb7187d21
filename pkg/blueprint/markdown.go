package blueprint

import (
	"fmt"
	"strings"
)

// RenderMarkdown produces the human-readable sibling of a blueprint file.
// The markdown is always derived from the YAML and never authoritative.
func RenderMarkdown(bp *Blueprint) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", bp.ID)
	fmt.Fprintf(&b, "> Derived from `%s.yaml` — do not edit.\n\n", bp.ID)
	fmt.Fprintf(&b, "- **Status**: %s\n", bp.Meta.Status)
	if bp.Role != "" {
		fmt.Fprintf(&b, "- **Role**: %s\n", bp.Role)
	}
	if bp.Version != "" {
		fmt.Fprintf(&b, "- **Version**: %s\n", bp.Version)
	}
	if bp.Runtime.Port != 0 {
		fmt.Fprintf(&b, "- **Port**: %d\n", bp.Runtime.Port)
	}
	fmt.Fprintf(&b, "- **GPU**: %v\n", bp.Runtime.GPU)

	if bp.Intent.Purpose != "" {
		fmt.Fprintf(&b, "\n## Purpose\n\n%s\n", bp.Intent.Purpose)
	}

	if len(bp.Interfaces) > 0 {
		b.WriteString("\n## Interfaces\n\n")
		b.WriteString("| ID | Direction | Transport | Target |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, iface := range bp.Interfaces {
			t := iface.Transport.Resolve()
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				iface.ID, iface.Direction, t.Type, transportTarget(t))
		}
	}

	if len(bp.Dependencies.Services) > 0 {
		b.WriteString("\n## Dependencies\n\n")
		for _, dep := range bp.Dependencies.Services {
			marker := "optional"
			if dep.Required {
				marker = "required"
			}
			fmt.Fprintf(&b, "- %s (%s)\n", dep.Name, marker)
		}
	}

	if len(bp.FailureModes) > 0 {
		b.WriteString("\n## Failure Modes\n\n")
		for _, fm := range bp.FailureModes {
			fmt.Fprintf(&b, "- **%s** [%s]: %s\n", fm.Condition, fm.Severity, fm.Response)
		}
	}

	return b.String()
}

func transportTarget(t Transport) string {
	switch t.Type {
	case TransportHTTPREST, TransportSSE, TransportWebSocket:
		return t.Path
	case TransportEvent:
		return t.Topic
	case TransportDirectCall:
		return t.Symbol
	case TransportGRPC:
		return t.RPC
	case TransportMCP:
		return strings.Join(t.Methods, ", ")
	default:
		return ""
	}
}
