package wansim

// routes.go holds the per-node static routing table and a helper that
// fills the tables of an entire topology from shortest paths.
//
// A RouteTable stores groups of entries keyed by destination prefix in a
// BART table, which answers longest-prefix-match lookups directly.
// Within one prefix the entries are kept ordered by (metric, insertion),
// which reproduces the primary/backup pattern the scenarios rely on: a
// low metric primary entry shadows a higher metric backup for the same
// network until an explicit administrative event removes or outranks it.
//
// PopulateRoutes converts the topology into a gonum graph, weights every
// link 1, and installs hop-count-metric routes from each node's Dijkstra
// tree.  This stands in for a routing protocol having converged; after
// population the tables are ordinary static tables and change only
// through AddRoute/RemoveRoute events.

import (
	"errors"
	"math"
	"net/netip"

	"github.com/gaissmai/bart"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

var (
	// ErrRouteNotFound is returned by RemoveRoute when no entry carries
	// the given destination prefix
	ErrRouteNotFound = errors.New("route not found")

	// ErrUnreachable is returned by Lookup when no entry's network
	// contains the destination address
	ErrUnreachable = errors.New("destination unreachable")

	// ErrDuplicateRoute is returned by AddRoute when the new entry
	// would not be distinguishable from an existing one
	ErrDuplicateRoute = errors.New("duplicate route")
)

// RouteEntry maps a destination network to the next hop used to reach it
type RouteEntry struct {
	Dest   netip.Prefix
	NxtHop netip.Addr
	Intrfc *Intrfc
	Metric int

	// insertion order, the final tie-break among equal metrics
	order int64
}

// routeGroup holds all entries for one destination prefix, ordered by
// (metric ascending, insertion ascending) so the head is always the
// entry a lookup should select
type routeGroup struct {
	entries []*RouteEntry
}

// RouteTable is the set of static routes held by one node
type RouteTable struct {
	tbl      bart.Table[*routeGroup]
	nxtOrder int64
}

// CreateRouteTable is a constructor
func CreateRouteTable() *RouteTable {
	return new(RouteTable)
}

// AddRoute installs an entry for the destination network.  Several
// entries may carry the same network, which is how a backup route
// coexists with its primary; only an entry identical in (destination,
// next hop, interface) to an existing one is rejected.
func (rt *RouteTable) AddRoute(dest netip.Prefix, nxtHop netip.Addr, intrfc *Intrfc, metric int) error {
	dest = dest.Masked()

	group, present := rt.tbl.Get(dest)
	if !present {
		group = new(routeGroup)
		rt.tbl.Insert(dest, group)
	}

	for _, entry := range group.entries {
		if entry.NxtHop == nxtHop && entry.Intrfc == intrfc {
			return ErrDuplicateRoute
		}
	}

	rt.nxtOrder += 1
	entry := &RouteEntry{Dest: dest, NxtHop: nxtHop, Intrfc: intrfc, Metric: metric, order: rt.nxtOrder}
	group.entries = append(group.entries, entry)
	slices.SortStableFunc(group.entries, func(a, b *RouteEntry) int {
		if a.Metric != b.Metric {
			return a.Metric - b.Metric
		}
		return int(a.order - b.order)
	})

	return nil
}

// RemoveRoute deletes the earliest-inserted entry for the given
// destination network, the same selection the scenarios make when an
// administrative event swaps a primary out for its backup
func (rt *RouteTable) RemoveRoute(dest netip.Prefix) error {
	dest = dest.Masked()

	group, present := rt.tbl.Get(dest)
	if !present {
		return ErrRouteNotFound
	}

	rmIdx := 0
	for idx := 1; idx < len(group.entries); idx++ {
		if group.entries[idx].order < group.entries[rmIdx].order {
			rmIdx = idx
		}
	}
	group.entries = append(group.entries[:rmIdx], group.entries[rmIdx+1:]...)

	if len(group.entries) == 0 {
		rt.tbl.Delete(dest)
	}
	return nil
}

// usable reports whether the entry's egress can carry traffic right now
func (entry *RouteEntry) usable() bool {
	return entry.Intrfc.up && entry.Intrfc.link != nil && !entry.Intrfc.link.failed
}

// Lookup selects the forwarding entry for a destination address: the
// longest matching prefix, then the lowest metric, then the earliest
// inserted.  Entries whose egress interface is down or whose link has
// failed are passed over when a live alternative exists, which is what
// lets a higher metric backup take over from a dead primary without the
// primary being removed.  When no entry is live the best dead one is
// returned and the send becomes a drop, the pure-static-routing outage.
// A miss returns ErrUnreachable and the caller drops the packet.
func (rt *RouteTable) Lookup(addr netip.Addr) (*RouteEntry, error) {
	group, present := rt.tbl.Lookup(addr)
	if !present || len(group.entries) == 0 {
		return nil, ErrUnreachable
	}
	for _, entry := range group.entries {
		if entry.usable() {
			return entry, nil
		}
	}
	return group.entries[0], nil
}

// Entries returns the table's entries for inspection, most specific
// prefix groups in BART iteration order
func (rt *RouteTable) Entries() []*RouteEntry {
	rtn := []*RouteEntry{}
	for _, group := range rt.tbl.All() {
		rtn = append(rtn, group.entries...)
	}
	return rtn
}

// buildConnGraph expresses the topology's node adjacency in the gonum
// graph representation, every link weighted 1 so shortest paths minimize
// hop count
func buildConnGraph(topo *Topology) graph.Graph {
	connGraph := simple.NewWeightedUndirectedGraph(0, math.Inf(1))

	for _, tpn := range topo.nodes {
		connGraph.AddNode(simple.Node(tpn.id))
	}

	for _, lnk := range topo.links {
		idA := lnk.intrfcA.device.id
		idB := lnk.intrfcB.device.id
		if idA == idB {
			continue
		}
		weightedEdge := simple.WeightedEdge{F: simple.Node(idA), T: simple.Node(idB), W: 1.0}
		connGraph.SetWeightedEdge(weightedEdge)
	}
	return connGraph
}

// nbrIntrfcs finds the interface pair joining two adjacent nodes,
// returned as (on tpn, on nbr)
func nbrIntrfcs(tpn, nbr *Node) (*Intrfc, *Intrfc) {
	for _, intrfc := range tpn.intrfcs {
		if intrfc.link == nil {
			continue
		}
		peer := intrfc.link.peer(intrfc)
		if peer.device == nbr {
			return intrfc, peer
		}
	}
	return nil, nil
}

// PopulateRoutes installs hop-count shortest path routes on every node
// of the topology, for every interface prefix of every other node.
// Directly attached prefixes get a one-hop route through the attaching
// interface.  Existing entries are left alone, so population can be
// followed (or preceded) by hand-installed primaries and backups.
func PopulateRoutes(topo *Topology) error {
	connGraph := buildConnGraph(topo)

	// shortest path trees, computed lazily per source
	cachedSP := make(map[int]path.Shortest)

	for _, src := range topo.nodes {
		// attached networks first
		for _, intrfc := range src.intrfcs {
			if intrfc.link == nil {
				continue
			}
			peer := intrfc.link.peer(intrfc)
			err := src.rtTbl.AddRoute(intrfc.prefix, peer.addr, intrfc, 1)
			if err != nil && !errors.Is(err, ErrDuplicateRoute) {
				return err
			}
		}

		spTree, present := cachedSP[src.id]
		if !present {
			spTree = path.DijkstraFrom(simple.Node(src.id), connGraph)
			cachedSP[src.id] = spTree
		}

		for _, dst := range topo.nodes {
			if dst == src {
				continue
			}

			nodeSeq, _ := spTree.To(int64(dst.id))
			if len(nodeSeq) < 2 {
				// unreachable destination, leave no route and let
				// lookups report it
				continue
			}

			nbr := topo.nodeByID[int(nodeSeq[1].ID())]
			egress, peerIntrfc := nbrIntrfcs(src, nbr)
			if egress == nil {
				continue
			}
			metric := len(nodeSeq) - 1

			for _, dstIntrfc := range dst.intrfcs {
				if src.attachedTo(dstIntrfc.prefix) {
					// attached network, already covered above
					continue
				}
				err := src.rtTbl.AddRoute(dstIntrfc.prefix, peerIntrfc.addr, egress, metric)
				if err != nil && !errors.Is(err, ErrDuplicateRoute) {
					return err
				}
			}
		}
	}
	return nil
}
