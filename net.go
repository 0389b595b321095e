package wansim

// net.go contains the data structures and methods that represent the
// network itself: nodes, their interfaces, the point-to-point links
// joining interfaces, and the movement of packets across them.
//
// A packet moves through the network entirely as a chain of scheduled
// events.  Forwarding at a node is immediate (lookup and enqueue at the
// egress interface), transmission serializes packets through the egress
// at the link rate, and propagation adds the link delay before the
// packet enters the far interface.  Everything that can go wrong, a
// down interface, a failed link, an egress queue at capacity, a lookup
// miss, turns into a silent drop observed only by the FlowTracker and
// the trace.

import (
	"fmt"
	"net/netip"

	"github.com/iti/rngstream"
)

// default egress queue capacity, in packets
const defaultBuffer int = 100

// packetTTL bounds the number of forwarding hops, so a routing loop
// degrades to packet loss instead of unbounded event recursion
const packetTTL int = 64

// Topology owns all devices of one simulated network, the lookup maps
// over them, and the observers (flow tracker, trace manager) that watch
// traffic move
type Topology struct {
	name string

	nodes      []*Node
	nodeByID   map[int]*Node
	nodeByName map[string]*Node

	intrfcByName map[string]*Intrfc

	links []*Link

	tracker  *FlowTracker
	traceMgr *TraceManager

	nxtID int
}

// CreateTopology is a constructor.  The flow tracker is required, the
// trace manager may be nil when no trace is being gathered.
func CreateTopology(name string, tracker *FlowTracker, traceMgr *TraceManager) *Topology {
	if tracker == nil {
		panic("topology requires a flow tracker")
	}
	topo := new(Topology)
	topo.name = name
	topo.nodeByID = make(map[int]*Node)
	topo.nodeByName = make(map[string]*Node)
	topo.intrfcByName = make(map[string]*Intrfc)
	topo.tracker = tracker
	topo.traceMgr = traceMgr
	return topo
}

// nxtNum produces ids unique across all objects of the topology
func (topo *Topology) nxtNum() int {
	topo.nxtID += 1
	return topo.nxtID
}

// Tracker returns the topology's flow tracker, for post-run queries
func (topo *Topology) Tracker() *FlowTracker {
	return topo.tracker
}

// trace appends a record for the given object when tracing is active
func (topo *Topology) trace(time Time, objID int, op string, pckt *Packet) {
	if topo.traceMgr == nil || !topo.traceMgr.InUse {
		return
	}
	topo.traceMgr.AddTrace(time, objID, op, pckt.Flow.String(), pckt.Len)
}

// Node is a host or router.  Whether it forwards traffic is purely a
// question of its routing table; there is no separate device type.
type Node struct {
	id      int
	name    string
	intrfcs []*Intrfc
	rtTbl   *RouteTable
	topo    *Topology
	rngstrm *rngstream.RngStream

	// called on local delivery of a packet, when set
	arrivalFunc EventHandlerFunction
}

// AddNode creates a node with the given name.  Names are unique within
// a topology; reuse is a model construction defect.
func (topo *Topology) AddNode(name string) *Node {
	_, present := topo.nodeByName[name]
	if present {
		panic(fmt.Errorf("node name %s over-used in topology %s", name, topo.name))
	}

	tpn := new(Node)
	tpn.id = topo.nxtNum()
	tpn.name = name
	tpn.intrfcs = []*Intrfc{}
	tpn.rtTbl = CreateRouteTable()
	tpn.topo = topo
	tpn.rngstrm = rngstream.New(name)

	topo.nodes = append(topo.nodes, tpn)
	topo.nodeByID[tpn.id] = tpn
	topo.nodeByName[name] = tpn

	if topo.traceMgr != nil {
		topo.traceMgr.AddName(tpn.id, name, "node")
	}
	return tpn
}

// NodeByName returns the named node, nil if absent
func (topo *Topology) NodeByName(name string) *Node {
	return topo.nodeByName[name]
}

// IntrfcByName returns the named interface, nil if absent
func (topo *Topology) IntrfcByName(name string) *Intrfc {
	return topo.intrfcByName[name]
}

func (tpn *Node) Name() string { return tpn.name }
func (tpn *Node) ID() int      { return tpn.id }

// RtTbl exposes the node's routing table for administrative updates
func (tpn *Node) RtTbl() *RouteTable { return tpn.rtTbl }

// DevRng returns the node's private random number stream
func (tpn *Node) DevRng() *rngstream.RngStream { return tpn.rngstrm }

// SetArrivalFunc registers a handler called (context is the node, data
// the *Packet) whenever a packet is delivered locally at this node
func (tpn *Node) SetArrivalFunc(f EventHandlerFunction) {
	tpn.arrivalFunc = f
}

// AddRoute installs a static route through the named interface of this node
func (tpn *Node) AddRoute(dest netip.Prefix, nxtHop netip.Addr, intrfcName string, metric int) error {
	intrfc := tpn.topo.intrfcByName[intrfcName]
	if intrfc == nil || intrfc.device != tpn {
		return fmt.Errorf("node %s has no interface %s", tpn.name, intrfcName)
	}
	return tpn.rtTbl.AddRoute(dest, nxtHop, intrfc, metric)
}

// RemoveRoute removes the earliest-inserted route for the destination network
func (tpn *Node) RemoveRoute(dest netip.Prefix) error {
	return tpn.rtTbl.RemoveRoute(dest)
}

// localAddr reports whether addr belongs to one of the node's interfaces
func (tpn *Node) localAddr(addr netip.Addr) bool {
	for _, intrfc := range tpn.intrfcs {
		if intrfc.addr == addr {
			return true
		}
	}
	return false
}

// attachedTo reports whether the node has an interface on the given network
func (tpn *Node) attachedTo(pfx netip.Prefix) bool {
	for _, intrfc := range tpn.intrfcs {
		if pfx.Contains(intrfc.addr) {
			return true
		}
	}
	return false
}

// IntrfcConfig carries the construction parameters of an interface
type IntrfcConfig struct {
	Name string

	// interface address and its network, in CIDR form, e.g. 10.1.1.1/24
	Addr string

	// egress queue capacity in packets, defaultBuffer when zero
	Buffer int
}

// Intrfc is one network attachment point of a node
type Intrfc struct {
	number int
	name   string
	addr   netip.Addr
	prefix netip.Prefix
	up     bool
	buffer int
	device *Node
	link   *Link

	// egress state: frames queued or in transmission, and the time the
	// transmitter finishes the last of them
	inQueue int
	free    Time
}

// AddIntrfc creates an interface on the node from its typed configuration
func (tpn *Node) AddIntrfc(cfg IntrfcConfig) (*Intrfc, error) {
	prefix, err := netip.ParsePrefix(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("interface %s address %s: %w", cfg.Name, cfg.Addr, err)
	}

	_, present := tpn.topo.intrfcByName[cfg.Name]
	if present {
		panic(fmt.Errorf("interface name %s over-used in topology %s", cfg.Name, tpn.topo.name))
	}

	intrfc := new(Intrfc)
	intrfc.number = tpn.topo.nxtNum()
	intrfc.name = cfg.Name
	intrfc.addr = prefix.Addr()
	intrfc.prefix = prefix.Masked()
	intrfc.up = true
	intrfc.buffer = cfg.Buffer
	if intrfc.buffer == 0 {
		intrfc.buffer = defaultBuffer
	}
	intrfc.device = tpn

	tpn.intrfcs = append(tpn.intrfcs, intrfc)
	tpn.topo.intrfcByName[cfg.Name] = intrfc

	if tpn.topo.traceMgr != nil {
		tpn.topo.traceMgr.AddName(intrfc.number, cfg.Name, "interface")
	}
	return intrfc, nil
}

func (intrfc *Intrfc) Name() string      { return intrfc.name }
func (intrfc *Intrfc) Addr() netip.Addr  { return intrfc.addr }
func (intrfc *Intrfc) Device() *Node     { return intrfc.device }
func (intrfc *Intrfc) Link() *Link       { return intrfc.link }
func (intrfc *Intrfc) Up() bool          { return intrfc.up }

// SetUp toggles the interface state.  A down interface drops all
// arriving and departing traffic silently.
func (intrfc *Intrfc) SetUp(up bool) {
	intrfc.up = up
}

// LinkConfig carries the construction parameters of a link
type LinkConfig struct {
	// one-way propagation delay, seconds
	Delay float64

	// transmission rate, Mbps
	Rate float64
}

// Link is a point-to-point connection between exactly two interfaces.
// The failed flag models abrupt total outage: packets already scheduled
// for delivery still arrive, subsequent sends are dropped at the source.
type Link struct {
	number           int
	intrfcA, intrfcB *Intrfc
	delay            float64
	rate             float64
	failed           bool
}

// ConnectIntrfcs joins two unconnected interfaces with a new link
func (topo *Topology) ConnectIntrfcs(intrfcA, intrfcB *Intrfc, cfg LinkConfig) *Link {
	if intrfcA.link != nil || intrfcB.link != nil {
		panic(fmt.Errorf("interface %s or %s already connected", intrfcA.name, intrfcB.name))
	}
	if cfg.Rate <= 0.0 {
		panic(fmt.Errorf("link between %s and %s needs a positive rate", intrfcA.name, intrfcB.name))
	}

	lnk := new(Link)
	lnk.number = topo.nxtNum()
	lnk.intrfcA = intrfcA
	lnk.intrfcB = intrfcB
	lnk.delay = cfg.Delay
	lnk.rate = cfg.Rate

	intrfcA.link = lnk
	intrfcB.link = lnk
	topo.links = append(topo.links, lnk)

	if topo.traceMgr != nil {
		name := fmt.Sprintf("%s~%s", intrfcA.name, intrfcB.name)
		topo.traceMgr.AddName(lnk.number, name, "link")
	}
	return lnk
}

func (lnk *Link) Delay() float64 { return lnk.delay }
func (lnk *Link) Rate() float64  { return lnk.rate }
func (lnk *Link) Failed() bool   { return lnk.failed }

// SetFailed toggles the link failure state, reversibly
func (lnk *Link) SetFailed(failed bool) {
	lnk.failed = failed
}

// SetRate changes the link rate mid-run; it affects subsequent sends only
func (lnk *Link) SetRate(rate float64) {
	lnk.rate = rate
}

// peer gives the interface on the far side of the link
func (lnk *Link) peer(intrfc *Intrfc) *Intrfc {
	if lnk.intrfcA == intrfc {
		return lnk.intrfcB
	}
	return lnk.intrfcA
}

// Packet is one frame in flight.  SendTime is stamped when the packet
// enters the network at its source and rides along for delay statistics.
type Packet struct {
	Flow     FlowKey
	Len      int
	SendTime Time

	ttl int
}

// Send injects a packet of the given flow and size into the network at
// the source node.  The send is counted even when the packet dies at
// the first hop, which is how outages show up as loss.
func (topo *Topology) Send(evtMgr *EventManager, src *Node, fk FlowKey, size int) {
	pckt := &Packet{Flow: fk, Len: size, SendTime: evtMgr.CurrentTime(), ttl: packetTTL}
	topo.tracker.RecordSend(fk, size, pckt.SendTime)
	topo.trace(evtMgr.CurrentTime(), src.id, "send", pckt)
	topo.forward(evtMgr, src, pckt)
}

// drop records loss of an in-flight packet at the given object
func (topo *Topology) drop(evtMgr *EventManager, objID int, op string, pckt *Packet) {
	topo.tracker.RecordDrop(pckt.Flow)
	topo.trace(evtMgr.CurrentTime(), objID, op, pckt)
}

// forward carries a packet one step at a node: local delivery when the
// destination address belongs to the node, otherwise a routing lookup
// and transmission through the selected egress interface
func (topo *Topology) forward(evtMgr *EventManager, tpn *Node, pckt *Packet) {
	if tpn.localAddr(pckt.Flow.Dst) {
		topo.tracker.RecordReceive(pckt.Flow, pckt.Len, pckt.SendTime, evtMgr.CurrentTime())
		topo.trace(evtMgr.CurrentTime(), tpn.id, "arrive", pckt)
		if tpn.arrivalFunc != nil {
			evtMgr.Schedule(tpn, pckt, tpn.arrivalFunc, TimeZero)
		}
		return
	}

	pckt.ttl -= 1
	if pckt.ttl <= 0 {
		topo.drop(evtMgr, tpn.id, "ttl-expired", pckt)
		return
	}

	entry, err := tpn.rtTbl.Lookup(pckt.Flow.Dst)
	if err != nil {
		topo.drop(evtMgr, tpn.id, "unreachable", pckt)
		return
	}

	topo.transmit(evtMgr, entry.Intrfc, pckt)
}

// transmit pushes a packet out through an egress interface.  All of the
// conditions that make the send a drop are evaluated here, at send time;
// once the arrival is scheduled it will occur regardless of later
// failures, matching a WAN link going down abruptly mid-flight.
func (topo *Topology) transmit(evtMgr *EventManager, intrfc *Intrfc, pckt *Packet) {
	if !intrfc.up {
		topo.drop(evtMgr, intrfc.number, "intrfc-down", pckt)
		return
	}

	lnk := intrfc.link
	if lnk == nil || lnk.failed {
		topo.drop(evtMgr, intrfc.number, "link-failed", pckt)
		return
	}

	peer := lnk.peer(intrfc)
	if !peer.up {
		topo.drop(evtMgr, intrfc.number, "peer-down", pckt)
		return
	}

	if intrfc.inQueue >= intrfc.buffer {
		topo.drop(evtMgr, intrfc.number, "queue-overflow", pckt)
		return
	}

	now := evtMgr.CurrentTime()
	txTime := SecondsToTime(float64(pckt.Len*8) / (lnk.rate * 1e6))

	start := now
	if intrfc.free.GT(start) {
		start = intrfc.free
	}
	depart := start.Plus(txTime)
	intrfc.free = depart
	intrfc.inQueue += 1

	topo.trace(now, intrfc.number, "enter", pckt)

	// transmitter frees up at depart, packet reaches the peer a
	// propagation delay later
	evtMgr.Schedule(intrfc, pckt, exitIntrfc, Time{TickCnt: depart.TickCnt - now.TickCnt})
	arrival := depart.Plus(SecondsToTime(lnk.delay))
	evtMgr.Schedule(peer, pckt, enterIntrfc, Time{TickCnt: arrival.TickCnt - now.TickCnt})
}

// exitIntrfc is the event handler marking the end of a packet's
// transmission, releasing its slot in the egress queue
func exitIntrfc(evtMgr *EventManager, context any, data any) any {
	intrfc := context.(*Intrfc)
	pckt := data.(*Packet)
	intrfc.inQueue -= 1
	intrfc.device.topo.trace(evtMgr.CurrentTime(), intrfc.number, "exit", pckt)
	return nil
}

// enterIntrfc is the event handler for a packet reaching the far end of
// a link.  A receiver that went down while the packet was in flight
// loses it here.
func enterIntrfc(evtMgr *EventManager, context any, data any) any {
	intrfc := context.(*Intrfc)
	pckt := data.(*Packet)
	topo := intrfc.device.topo

	if !intrfc.up {
		topo.drop(evtMgr, intrfc.number, "intrfc-down", pckt)
		return nil
	}

	topo.forward(evtMgr, intrfc.device, pckt)
	return nil
}

// NullHandler exists to provide a link for data fields that call for an
// event handler when no action is actually needed
func NullHandler(evtMgr *EventManager, context any, data any) any {
	return nil
}

// LinkFailHandler is an event handler for scheduled link failure and
// repair; context is the *Link, data the new failed state as a bool
func LinkFailHandler(evtMgr *EventManager, context any, data any) any {
	lnk := context.(*Link)
	lnk.SetFailed(data.(bool))
	return nil
}

// IntrfcUpHandler is an event handler for scheduled interface state
// changes; context is the *Intrfc, data the new up state as a bool
func IntrfcUpHandler(evtMgr *EventManager, context any, data any) any {
	intrfc := context.(*Intrfc)
	intrfc.SetUp(data.(bool))
	return nil
}
