package blueprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bpWithInterface(id string, iface Interface) *Blueprint {
	return &Blueprint{
		ID:         id,
		Interfaces: []Interface{iface},
		Meta:       Meta{Status: StatusLive},
	}
}

func TestDeriveTopologyHTTPEdge(t *testing.T) {
	a := bpWithInterface("service-a", Interface{
		ID:        "chat-out",
		Direction: Outbound,
		Transport: Transport{Type: TransportHTTPREST, Path: "/v1/chat/completions"},
	})
	b := bpWithInterface("service-b", Interface{
		ID:        "chat-in",
		Direction: Inbound,
		Transport: Transport{Type: TransportHTTPREST, Path: "/v1/chat/completions"},
	})

	edges := DeriveTopology([]*Blueprint{a, b})
	require.Len(t, edges, 1)
	assert.Equal(t, Edge{
		From:          "service-a",
		To:            "service-b",
		FromInterface: "chat-out",
		ToInterface:   "chat-in",
		Transport:     TransportHTTPREST,
	}, edges[0])
}

func TestDeriveTopologyNoSelfEdges(t *testing.T) {
	self := &Blueprint{
		ID: "service-a",
		Interfaces: []Interface{
			{ID: "out", Direction: Outbound, Transport: Transport{Type: TransportEvent, Topic: "tick"}},
			{ID: "in", Direction: Inbound, Transport: Transport{Type: TransportEvent, Topic: "tick"}},
		},
	}
	assert.Empty(t, DeriveTopology([]*Blueprint{self}))
}

func TestDeriveTopologyPure(t *testing.T) {
	a := bpWithInterface("a", Interface{ID: "o", Direction: Outbound,
		Transport: Transport{Type: TransportEvent, Topic: "gpu.handoff"}})
	b := bpWithInterface("b", Interface{ID: "i", Direction: Inbound,
		Transport: Transport{Type: TransportEvent, Topic: "gpu.handoff"}})

	set := []*Blueprint{a, b}
	assert.Equal(t, DeriveTopology(set), DeriveTopology(set), "same input, same edges")
}

func TestMatchDirectionConstraint(t *testing.T) {
	out := Interface{Direction: Outbound, Transport: Transport{Type: TransportEvent, Topic: "x"}}
	in := Interface{Direction: Inbound, Transport: Transport{Type: TransportEvent, Topic: "x"}}

	assert.True(t, Match(out, in))
	assert.True(t, Match(in, out), "match is symmetric in argument order")
	assert.False(t, Match(out, out), "two outbound interfaces never match")
	assert.False(t, Match(in, in), "two inbound interfaces never match")
}

func TestMatchTransports(t *testing.T) {
	tests := []struct {
		name string
		out  Transport
		in   Transport
		want bool
	}{
		{"http same path", Transport{Type: TransportHTTPREST, Path: "/a"}, Transport{Type: TransportHTTPREST, Path: "/a"}, true},
		{"http different path", Transport{Type: TransportHTTPREST, Path: "/a"}, Transport{Type: TransportHTTPREST, Path: "/b"}, false},
		{"http vs sse", Transport{Type: TransportHTTPREST, Path: "/a"}, Transport{Type: TransportSSE, Path: "/a"}, false},
		{"event topic", Transport{Type: TransportEvent, Topic: "t"}, Transport{Type: TransportEvent, Topic: "t"}, true},
		{"grpc rpc", Transport{Type: TransportGRPC, RPC: "Process"}, Transport{Type: TransportGRPC, RPC: "Process"}, true},
		{"grpc different rpc", Transport{Type: TransportGRPC, RPC: "Process"}, Transport{Type: TransportGRPC, RPC: "Reflect"}, false},
		{"direct_call symbol", Transport{Type: TransportDirectCall, Symbol: "probe.Run"}, Transport{Type: TransportDirectCall, Symbol: "probe.Run"}, true},
		{"mcp overlap", Transport{Type: TransportMCP, Methods: []string{"read_file", "grep"}}, Transport{Type: TransportMCP, Methods: []string{"grep"}}, true},
		{"mcp disjoint", Transport{Type: TransportMCP, Methods: []string{"read_file"}}, Transport{Type: TransportMCP, Methods: []string{"write_file"}}, false},
		{"empty paths never match", Transport{Type: TransportHTTPREST}, Transport{Type: TransportHTTPREST}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Interface{Direction: Outbound, Transport: tt.out}
			in := Interface{Direction: Inbound, Transport: tt.in}
			assert.Equal(t, tt.want, Match(out, in))
		})
	}
}

func TestMatchNegotiatedTransport(t *testing.T) {
	// REST today, gRPC tomorrow: the preferred sub-transport decides.
	negotiated := Transport{
		Type:      TransportNegotiated,
		Preferred: &Transport{Type: TransportHTTPREST, Path: "/v1/embed"},
		Alternatives: []Transport{
			{Type: TransportGRPC, RPC: "Embed"},
		},
	}
	out := Interface{Direction: Outbound, Transport: negotiated}
	in := Interface{Direction: Inbound, Transport: Transport{Type: TransportHTTPREST, Path: "/v1/embed"}}
	assert.True(t, Match(out, in))

	grpcIn := Interface{Direction: Inbound, Transport: Transport{Type: TransportGRPC, RPC: "Embed"}}
	assert.False(t, Match(out, grpcIn), "only the preferred transport matches")
}

func TestDivergenceScore(t *testing.T) {
	live := testBlueprint("svc")
	live.Dependencies.Services = []ServiceDependency{{Name: "inference", Required: true}}

	identical := testBlueprint("svc")
	identical.Dependencies.Services = []ServiceDependency{{Name: "inference", Required: true}}
	assert.Equal(t, 0.0, DivergenceScore(identical, live))

	drifted := testBlueprint("svc")
	drifted.Runtime.Port = 9999
	drifted.Runtime.GPU = false
	drifted.Interfaces = append(drifted.Interfaces, Interface{
		ID: "extra", Direction: Inbound,
		Transport: Transport{Type: TransportHTTPREST, Path: "/extra"},
	})
	drifted.Dependencies.Services = []ServiceDependency{{Name: "other"}}

	score := DivergenceScore(drifted, live)
	assert.InDelta(t, 1.0, score, 0.001, "all five checks differ")
	assert.LessOrEqual(t, score, 1.0)
}
