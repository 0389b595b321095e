package wansim

// trace.go holds the TraceManager, a passive observer that records the
// passage of packets through named objects for post-run analysis.  It
// keeps an id -> (name,type) dictionary for every object of the
// topology and a list of visitation records, and serializes both to
// yaml or json.  A TraceManager created inactive costs nothing during
// the run.

import (
	"encoding/json"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// NameType is an entry in the dictionary created for a trace, mapping
// object id numbers to a (name,type) pair
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceRecord saves information about the visitation of a packet to
// some point in the simulation
type TraceRecord struct {
	Time  float64 `json:"time" yaml:"time"`
	Ticks int64   `json:"ticks" yaml:"ticks"`
	ObjID int     `json:"objid" yaml:"objid"`

	// "send", "enter", "exit", "arrive", or a drop reason
	Op string `json:"op" yaml:"op"`

	Flow  string `json:"flow" yaml:"flow"`
	Bytes int    `json:"bytes" yaml:"bytes"`
}

// TraceManager gathers information about a simulation model and one
// execution of that model
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this experiment
	Traces []TraceRecord `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the
// experiment and a flag indicating whether the trace manager is active.
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make([]TraceRecord, 0)
	return tm
}

// Active tells the caller whether the trace manager is being used
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddName adds an element to the id -> (name,type) dictionary
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if tm.InUse {
		_, present := tm.NameByID[id]
		if present {
			panic("duplicated id in AddName")
		}
		tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	}
}

// AddTrace creates a record of a packet visitation and stores it
func (tm *TraceManager) AddTrace(vrt Time, objID int, op string, flow string, bytes int) {
	if !tm.InUse {
		return
	}
	tm.Traces = append(tm.Traces, TraceRecord{
		Time:  vrt.Seconds(),
		Ticks: vrt.TickCnt,
		ObjID: objID,
		Op:    op,
		Flow:  flow,
		Bytes: bytes,
	})
}

// WriteToFile stores the gathered trace to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension.
func (tm *TraceManager) WriteToFile(filename string) bool {
	if !tm.InUse {
		return false
	}
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*tm)
	} else {
		bytes, merr = json.MarshalIndent(*tm, "", "\t")
	}

	if merr != nil {
		panic(merr)
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		panic(cerr)
	}
	_, werr := f.WriteString(string(bytes[:]))
	if werr != nil {
		panic(werr)
	}
	f.Close()
	return true
}
