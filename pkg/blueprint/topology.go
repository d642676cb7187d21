package blueprint

import "sort"

// Edge is one derived connection between two services. Edges are a pure
// function of the blueprint set and are rebuilt on every topology request;
// they are never stored. Callers needing a stable identity use the full
// (From, To, FromInterface, ToInterface) tuple.
type Edge struct {
	From          string        `json:"from"`
	To            string        `json:"to"`
	FromInterface string        `json:"from_interface"`
	ToInterface   string        `json:"to_interface"`
	Transport     TransportType `json:"transport"`
}

// DeriveTopology computes the edge set for a blueprint set: an edge exists
// from A to B iff A has an outbound interface matching an inbound interface
// of B. Self-edges are excluded. Output ordering is deterministic.
func DeriveTopology(blueprints []*Blueprint) []Edge {
	var edges []Edge
	for _, from := range blueprints {
		for _, out := range from.Interfaces {
			if out.Direction != Outbound {
				continue
			}
			for _, to := range blueprints {
				if to.ID == from.ID {
					continue
				}
				for _, in := range to.Interfaces {
					if in.Direction != Inbound {
						continue
					}
					if Match(out, in) {
						edges = append(edges, Edge{
							From:          from.ID,
							To:            to.ID,
							FromInterface: out.ID,
							ToInterface:   in.ID,
							Transport:     out.Transport.Resolve().Type,
						})
					}
				}
			}
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		if a.FromInterface != b.FromInterface {
			return a.FromInterface < b.FromInterface
		}
		return a.ToInterface < b.ToInterface
	})
	return edges
}
