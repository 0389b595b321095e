// Package wansim is a deterministic discrete-event simulator for small
// wide-area network scenarios: static address plans, per-node static
// routing tables with primary/backup metrics, point-to-point links that
// can fail and recover on schedule, and traffic sources whose delivery
// statistics are gathered per flow.
//
// The simulation is single threaded and cooperative.  Exactly one event
// executes at a time, run to completion; equal-time events execute in
// the order they were scheduled.  Given the same sequence of Schedule
// calls, two runs replay identically, which is what makes scheduled
// failure and failover experiments reproducible.
package wansim

// wansim.go assembles an experiment from its input file: topology,
// observers, and the event manager that will drive the run.

import (
	"path"
)

// Experiment bundles everything a scenario needs to schedule traffic
// and operational events against a built topology
type Experiment struct {
	Topo     *Topology
	EvtMgr   *EventManager
	Tracker  *FlowTracker
	TraceMgr *TraceManager
}

// BuildExperiment reads a topology description file (yaml or json,
// chosen by extension), builds the run-time network, and returns it
// bundled with a fresh event manager and its observers.  When useTrace
// is set an active trace manager is wired in.
func BuildExperiment(topoFile string, expName string, useTrace bool) (*Experiment, error) {
	ext := path.Ext(topoFile)
	useYAML := (ext == ".yaml") || (ext == ".yml")

	var empty []byte = make([]byte, 0)
	tc, err := ReadTopoCfg(topoFile, useYAML, empty)
	if err != nil {
		return nil, err
	}

	tracker := CreateFlowTracker()
	traceMgr := CreateTraceManager(expName, useTrace)

	topo, err := BuildTopology(tc, tracker, traceMgr)
	if err != nil {
		return nil, err
	}

	return &Experiment{
		Topo:     topo,
		EvtMgr:   CreateEventManager(),
		Tracker:  tracker,
		TraceMgr: traceMgr,
	}, nil
}
