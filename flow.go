package wansim

// flow.go holds the FlowTracker, which accumulates per-flow delivery
// statistics over a run.  The tracker is an explicitly owned instance
// wired into the Topology at construction; send, receive, and drop
// observations are pushed into it directly by the packet transit code
// rather than through ambient global counters.

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// FlowKey identifies one logical stream of packets
type FlowKey struct {
	Src      netip.Addr
	Dst      netip.Addr
	Protocol string
	SrcPort  int
	DstPort  int
}

func (fk FlowKey) String() string {
	return fmt.Sprintf("%s %s:%d->%s:%d", fk.Protocol, fk.Src, fk.SrcPort, fk.Dst, fk.DstPort)
}

// flowRecord accumulates the running totals for one flow.  Records are
// created on the first observed send and never removed during a run.
type flowRecord struct {
	tx        int
	rx        int
	drops     int
	txBytes   int64
	rxBytes   int64
	delaySum  float64
	jitterSum float64
	lastDelay float64
}

// FlowStats is the queryable snapshot of a flow's accumulated counters
type FlowStats struct {
	Flow      FlowKey
	Tx        int
	Rx        int
	Drops     int
	TxBytes   int64
	RxBytes   int64
	DelaySum  float64
	JitterSum float64
}

// LossRate returns (tx-rx)/tx.  The flag is false when nothing was sent,
// in which case the ratio is undefined.
func (fs FlowStats) LossRate() (float64, bool) {
	if fs.Tx == 0 {
		return 0.0, false
	}
	return float64(fs.Tx-fs.Rx) / float64(fs.Tx), true
}

// MeanDelay returns the average send-to-receive latency over received
// packets.  The flag is false when nothing was received.
func (fs FlowStats) MeanDelay() (float64, bool) {
	if fs.Rx == 0 {
		return 0.0, false
	}
	return fs.DelaySum / float64(fs.Rx), true
}

// MeanJitter returns the average magnitude of successive delay
// differences.  Defined only once two packets have been received.
func (fs FlowStats) MeanJitter() (float64, bool) {
	if fs.Rx < 2 {
		return 0.0, false
	}
	return fs.JitterSum / float64(fs.Rx-1), true
}

// FlowTracker maps flow keys to their accumulating statistics records
type FlowTracker struct {
	flows map[FlowKey]*flowRecord

	// flow keys in order of first observation, so reports replay deterministically
	order []FlowKey
}

// CreateFlowTracker is a constructor
func CreateFlowTracker() *FlowTracker {
	ft := new(FlowTracker)
	ft.flows = make(map[FlowKey]*flowRecord)
	ft.order = []FlowKey{}
	return ft
}

// fetch returns the record for fk, creating it on first reference
func (ft *FlowTracker) fetch(fk FlowKey) *flowRecord {
	rec, present := ft.flows[fk]
	if !present {
		rec = new(flowRecord)
		ft.flows[fk] = rec
		ft.order = append(ft.order, fk)
	}
	return rec
}

// RecordSend notes that a packet of the given size entered the network
func (ft *FlowTracker) RecordSend(fk FlowKey, size int, sendTime Time) {
	rec := ft.fetch(fk)
	rec.tx += 1
	rec.txBytes += int64(size)
}

// RecordReceive notes delivery of a packet to its flow's destination.
// Jitter follows the flow-monitor convention, the sum of magnitudes of
// successive delay differences.
func (ft *FlowTracker) RecordReceive(fk FlowKey, size int, sendTime, rcvTime Time) {
	rec := ft.fetch(fk)

	delay := rcvTime.Seconds() - sendTime.Seconds()
	if rec.rx > 0 {
		diff := delay - rec.lastDelay
		if diff < 0 {
			diff = -diff
		}
		rec.jitterSum += diff
	}
	rec.lastDelay = delay

	rec.rx += 1
	rec.rxBytes += int64(size)
	rec.delaySum += delay
}

// RecordDrop notes loss of an in-flight packet.  Loss is also implied by
// tx-rx at the end of the run; the drop counter localizes where it happened.
func (ft *FlowTracker) RecordDrop(fk FlowKey) {
	rec := ft.fetch(fk)
	rec.drops += 1
}

// Stats returns a snapshot of the counters for one flow.  The flag is
// false if the flow was never observed.
func (ft *FlowTracker) Stats(fk FlowKey) (FlowStats, bool) {
	rec, present := ft.flows[fk]
	if !present {
		return FlowStats{}, false
	}
	return FlowStats{
		Flow:      fk,
		Tx:        rec.tx,
		Rx:        rec.rx,
		Drops:     rec.drops,
		TxBytes:   rec.txBytes,
		RxBytes:   rec.rxBytes,
		DelaySum:  rec.delaySum,
		JitterSum: rec.jitterSum,
	}, true
}

// AllStats returns snapshots for every tracked flow, in order of first observation
func (ft *FlowTracker) AllStats() []FlowStats {
	rtn := make([]FlowStats, 0, len(ft.order))
	for _, fk := range ft.order {
		fs, _ := ft.Stats(fk)
		rtn = append(rtn, fs)
	}
	return rtn
}

// flowStatsRecord is the serializable form of FlowStats, with the flow
// key flattened to its string form and undefined ratios left null
type flowStatsRecord struct {
	Flow      string   `json:"flow" yaml:"flow"`
	Tx        int      `json:"tx" yaml:"tx"`
	Rx        int      `json:"rx" yaml:"rx"`
	Drops     int      `json:"drops" yaml:"drops"`
	TxBytes   int64    `json:"txbytes" yaml:"txbytes"`
	RxBytes   int64    `json:"rxbytes" yaml:"rxbytes"`
	LossRate  *float64 `json:"lossrate" yaml:"lossrate"`
	MeanDelay *float64 `json:"meandelay" yaml:"meandelay"`
	MeanJit   *float64 `json:"meanjitter" yaml:"meanjitter"`
}

// WriteToFile stores the end-of-run statistics for all flows to the named
// file.  Serialization to json or yaml is selected by the file extension.
func (ft *FlowTracker) WriteToFile(filename string) error {
	records := make([]flowStatsRecord, 0, len(ft.order))
	for _, fs := range ft.AllStats() {
		rec := flowStatsRecord{
			Flow:    fs.Flow.String(),
			Tx:      fs.Tx,
			Rx:      fs.Rx,
			Drops:   fs.Drops,
			TxBytes: fs.TxBytes,
			RxBytes: fs.RxBytes,
		}
		if v, ok := fs.LossRate(); ok {
			lr := v
			rec.LossRate = &lr
		}
		if v, ok := fs.MeanDelay(); ok {
			md := v
			rec.MeanDelay = &md
		}
		if v, ok := fs.MeanJitter(); ok {
			mj := v
			rec.MeanJit = &mj
		}
		records = append(records, rec)
	}

	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(records)
	} else {
		bytes, merr = json.MarshalIndent(records, "", "\t")
	}
	if merr != nil {
		return merr
	}

	return os.WriteFile(filename, bytes, 0644)
}
