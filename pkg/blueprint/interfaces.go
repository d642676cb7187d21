package blueprint

// Direction marks an interface as inbound (served) or outbound (consumed).
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// TransportType enumerates the supported interface transports.
type TransportType string

const (
	TransportHTTPREST   TransportType = "http_rest"
	TransportWebSocket  TransportType = "websocket"
	TransportSSE        TransportType = "sse"
	TransportEvent      TransportType = "event"
	TransportDirectCall TransportType = "direct_call"
	TransportMCP        TransportType = "mcp"
	TransportGRPC       TransportType = "grpc"
	TransportNegotiated TransportType = "negotiated"
)

// Transport describes how an interface is reached. Only the fields
// relevant to Type are populated. A negotiated transport carries several
// alternatives with a preferred one, enabling "REST today, gRPC tomorrow"
// edges without redeclaring the interface.
type Transport struct {
	Type TransportType `yaml:"type" json:"type"`

	// http_rest, websocket, sse
	Path     string   `yaml:"path,omitempty" json:"path,omitempty"`
	Method   string   `yaml:"method,omitempty" json:"method,omitempty"`
	Protocol string   `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	Events   []string `yaml:"events,omitempty" json:"events,omitempty"`

	// event
	Topic string `yaml:"topic,omitempty" json:"topic,omitempty"`

	// direct_call
	Symbol string `yaml:"symbol,omitempty" json:"symbol,omitempty"`

	// mcp
	TargetService string   `yaml:"target_service,omitempty" json:"target_service,omitempty"`
	Methods       []string `yaml:"methods,omitempty" json:"methods,omitempty"`

	// grpc
	Proto   string `yaml:"proto,omitempty" json:"proto,omitempty"`
	RPC     string `yaml:"rpc,omitempty" json:"rpc,omitempty"`
	Service string `yaml:"service,omitempty" json:"service,omitempty"`

	// negotiated
	Preferred    *Transport  `yaml:"preferred,omitempty" json:"preferred,omitempty"`
	Alternatives []Transport `yaml:"alternatives,omitempty" json:"alternatives,omitempty"`
}

// Resolve collapses a negotiated transport to its preferred sub-transport
// for matching. Non-negotiated transports resolve to themselves.
func (t Transport) Resolve() Transport {
	if t.Type == TransportNegotiated && t.Preferred != nil {
		return t.Preferred.Resolve()
	}
	return t
}

// Interface is one directional endpoint of a service.
type Interface struct {
	ID          string    `yaml:"id" json:"id"`
	Direction   Direction `yaml:"direction" json:"direction"`
	Transport   Transport `yaml:"transport" json:"transport"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
}

// Match reports whether an outbound and an inbound interface form an edge.
// Exactly one side must be outbound and the other inbound; the resolved
// transports must be the same type; and the type-specific identity must
// match (path for http_rest/sse/websocket, topic for event, rpc for grpc,
// symbol for direct_call, non-empty method overlap for mcp).
func Match(a, b Interface) bool {
	if a.Direction == b.Direction {
		return false
	}
	ta := a.Transport.Resolve()
	tb := b.Transport.Resolve()
	if ta.Type != tb.Type {
		return false
	}

	switch ta.Type {
	case TransportHTTPREST, TransportSSE, TransportWebSocket:
		return ta.Path != "" && ta.Path == tb.Path
	case TransportEvent:
		return ta.Topic != "" && ta.Topic == tb.Topic
	case TransportGRPC:
		return ta.RPC != "" && ta.RPC == tb.RPC
	case TransportDirectCall:
		return ta.Symbol != "" && ta.Symbol == tb.Symbol
	case TransportMCP:
		return methodOverlap(ta.Methods, tb.Methods)
	default:
		return false
	}
}

func methodOverlap(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, m := range a {
		set[m] = struct{}{}
	}
	for _, m := range b {
		if _, ok := set[m]; ok {
			return true
		}
	}
	return false
}
