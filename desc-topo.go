package wansim

// desc-topo.go holds the serializable description of a topology and the
// code that turns a description into the run-time structures of net.go.
// The description is deliberately dumb: names, addresses in CIDR form,
// and typed link parameters.  All cross-referencing (interface to node,
// link endpoint to interface, route to egress interface) happens in
// BuildTopology, which reports dangling references as errors rather
// than building a half-wired model.

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// IntrfcDesc describes one interface of a node
type IntrfcDesc struct {
	Name string `json:"name" yaml:"name"`

	// address and network in CIDR form, e.g. 10.1.1.1/24
	Addr string `json:"addr" yaml:"addr"`

	// egress queue capacity in packets; zero selects the default
	Buffer int `json:"buffer" yaml:"buffer"`
}

// NodeDesc describes one node and its interfaces
type NodeDesc struct {
	Name       string       `json:"name" yaml:"name"`
	Interfaces []IntrfcDesc `json:"interfaces" yaml:"interfaces"`
}

// LinkDesc describes a point-to-point link by naming its two endpoint
// interfaces and its typed parameters
type LinkDesc struct {
	IntrfcA string  `json:"intrfca" yaml:"intrfca"`
	IntrfcB string  `json:"intrfcb" yaml:"intrfcb"`
	Delay   float64 `json:"delay" yaml:"delay"`
	Rate    float64 `json:"rate" yaml:"rate"`
}

// RouteDesc describes one static route to install at build time
type RouteDesc struct {
	Node   string `json:"node" yaml:"node"`
	Dest   string `json:"dest" yaml:"dest"`
	NxtHop string `json:"nxthop" yaml:"nxthop"`
	Intrfc string `json:"intrfc" yaml:"intrfc"`
	Metric int    `json:"metric" yaml:"metric"`
}

// TopoCfg is the file-level description of a topology
type TopoCfg struct {
	Name   string      `json:"name" yaml:"name"`
	Nodes  []NodeDesc  `json:"nodes" yaml:"nodes"`
	Links  []LinkDesc  `json:"links" yaml:"links"`
	Routes []RouteDesc `json:"routes" yaml:"routes"`
}

// CreateTopoCfg is an initialization constructor
func CreateTopoCfg(name string) *TopoCfg {
	tc := new(TopoCfg)
	tc.Name = name
	tc.Nodes = []NodeDesc{}
	tc.Links = []LinkDesc{}
	tc.Routes = []RouteDesc{}
	return tc
}

// AddNodeDesc appends a node description
func (tc *TopoCfg) AddNodeDesc(nd NodeDesc) {
	tc.Nodes = append(tc.Nodes, nd)
}

// AddLinkDesc appends a link description
func (tc *TopoCfg) AddLinkDesc(ld LinkDesc) {
	tc.Links = append(tc.Links, ld)
}

// AddRouteDesc appends a route description
func (tc *TopoCfg) AddRouteDesc(rd RouteDesc) {
	tc.Routes = append(tc.Routes, rd)
}

// WriteToFile stores the TopoCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension.
func (tc *TopoCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*tc)
	} else {
		bytes, merr = json.MarshalIndent(*tc, "", "\t")
	}

	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0644)
}

// ReadTopoCfg deserializes a byte slice holding a representation of a
// TopoCfg struct.  If the dict argument is empty, the named file is
// read to acquire the bytes.
func ReadTopoCfg(filename string, useYAML bool, dict []byte) (*TopoCfg, error) {
	var err error

	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := TopoCfg{}

	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}

	if err != nil {
		return nil, err
	}

	return &example, nil
}

// BuildTopology turns a description into live run-time structures: all
// nodes and interfaces, the links between them, and any static routes
// the description carries.  References that resolve to nothing are
// reported as errors.
func BuildTopology(tc *TopoCfg, tracker *FlowTracker, traceMgr *TraceManager) (*Topology, error) {
	topo := CreateTopology(tc.Name, tracker, traceMgr)

	for _, nd := range tc.Nodes {
		tpn := topo.AddNode(nd.Name)
		for _, id := range nd.Interfaces {
			_, err := tpn.AddIntrfc(IntrfcConfig{Name: id.Name, Addr: id.Addr, Buffer: id.Buffer})
			if err != nil {
				return nil, err
			}
		}
	}

	for _, ld := range tc.Links {
		intrfcA := topo.IntrfcByName(ld.IntrfcA)
		intrfcB := topo.IntrfcByName(ld.IntrfcB)
		if intrfcA == nil || intrfcB == nil {
			return nil, fmt.Errorf("link %s~%s names an unknown interface", ld.IntrfcA, ld.IntrfcB)
		}
		topo.ConnectIntrfcs(intrfcA, intrfcB, LinkConfig{Delay: ld.Delay, Rate: ld.Rate})
	}

	for _, rd := range tc.Routes {
		tpn := topo.NodeByName(rd.Node)
		if tpn == nil {
			return nil, fmt.Errorf("route for unknown node %s", rd.Node)
		}
		dest, err := netip.ParsePrefix(rd.Dest)
		if err != nil {
			return nil, fmt.Errorf("route destination %s: %w", rd.Dest, err)
		}
		nxtHop, err := netip.ParseAddr(rd.NxtHop)
		if err != nil {
			return nil, fmt.Errorf("route next hop %s: %w", rd.NxtHop, err)
		}
		err = tpn.AddRoute(dest, nxtHop, rd.Intrfc, rd.Metric)
		if err != nil {
			return nil, err
		}
	}

	return topo, nil
}
