package wansim

// traffic.go holds the traffic sources the scenarios drive the network
// with.  Both are plain structs whose behavior is a handler scheduled
// recursively on the event manager: a periodic sender emitting packets
// at a fixed cadence, and an on/off source alternating bursts with
// silences whose durations are sampled from the owning node's rng
// stream.  Start, Stop, and SendOne are the whole control surface.

import (
	"math"
)

// expRV returns a sample of an exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// sampleExpRV has the signature expected for sampling a next duration,
// here exponential with mean params[0]
func sampleExpRV(u01 float64, params []float64) float64 {
	return expRV(u01, 1.0/params[0])
}

// sampleConst has the same signature, yielding the constant params[0]
func sampleConst(u01 float64, params []float64) float64 {
	return params[0]
}

// PeriodicSender emits packets of one flow at a fixed interval,
// beginning when started and ending after maxCount packets (zero means
// unbounded) or when stopped
type PeriodicSender struct {
	topo     *Topology
	src      *Node
	flow     FlowKey
	size     int
	interval float64
	maxCount int

	sent    int
	active  bool
	pending int
}

// CreatePeriodicSender is a constructor
func CreatePeriodicSender(topo *Topology, src *Node, flow FlowKey,
	size int, interval float64, maxCount int) *PeriodicSender {

	ps := new(PeriodicSender)
	ps.topo = topo
	ps.src = src
	ps.flow = flow
	ps.size = size
	ps.interval = interval
	ps.maxCount = maxCount
	ps.pending = -1
	return ps
}

// Sent reports the number of packets emitted so far
func (ps *PeriodicSender) Sent() int {
	return ps.sent
}

// Start schedules the first send offset seconds from now
func (ps *PeriodicSender) Start(evtMgr *EventManager, offset float64) {
	ps.active = true
	evtID, err := evtMgr.Schedule(ps, nil, periodicSend, SecondsToTime(offset))
	if err != nil {
		panic(err)
	}
	ps.pending = evtID
}

// Stop deactivates the sender and withdraws its pending send event
func (ps *PeriodicSender) Stop(evtMgr *EventManager) {
	ps.active = false
	if ps.pending >= 0 {
		evtMgr.CancelEvent(ps.pending)
		ps.pending = -1
	}
}

// SendOne emits a single packet immediately, independent of the cadence
func (ps *PeriodicSender) SendOne(evtMgr *EventManager) {
	ps.topo.Send(evtMgr, ps.src, ps.flow, ps.size)
	ps.sent += 1
}

// periodicSend is the event handler carrying the sender's cadence; it
// emits one packet and re-schedules itself while the sender stays active
func periodicSend(evtMgr *EventManager, context any, data any) any {
	ps := context.(*PeriodicSender)
	if !ps.active {
		return nil
	}

	ps.SendOne(evtMgr)
	ps.pending = -1

	if ps.maxCount > 0 && ps.sent >= ps.maxCount {
		ps.active = false
		return nil
	}

	evtID, _ := evtMgr.Schedule(ps, nil, periodicSend, SecondsToTime(ps.interval))
	ps.pending = evtID
	return nil
}

// OnOffSender alternates bursts and silences.  During a burst it emits
// packets back to back at the configured rate; burst and silence
// durations are drawn from the source node's rng stream.
type OnOffSender struct {
	topo *Topology
	src  *Node
	flow FlowKey
	size int

	// emission rate during bursts, Mbps
	rate float64

	onMean  float64
	offMean float64

	// duration sampler, constant by default
	sampleDur func(float64, []float64) float64

	on     bool
	active bool

	pendingSend   int
	pendingToggle int
}

// CreateOnOffSender is a constructor.  onMean and offMean are the mean
// burst and silence durations in seconds.
func CreateOnOffSender(topo *Topology, src *Node, flow FlowKey,
	size int, rate, onMean, offMean float64) *OnOffSender {

	oos := new(OnOffSender)
	oos.topo = topo
	oos.src = src
	oos.flow = flow
	oos.size = size
	oos.rate = rate
	oos.onMean = onMean
	oos.offMean = offMean
	oos.sampleDur = sampleConst
	oos.pendingSend = -1
	oos.pendingToggle = -1
	return oos
}

// SetDurationDist selects the distribution of burst and silence durations
func (oos *OnOffSender) SetDurationDist(dist string) {
	switch dist {
	case "exponential", "exp", "expon":
		oos.sampleDur = sampleExpRV
	case "constant", "const":
		oos.sampleDur = sampleConst
	}
}

// pcktInterval is the back-to-back emission spacing at the burst rate
func (oos *OnOffSender) pcktInterval() float64 {
	return float64(8*oos.size) / (oos.rate * 1e6)
}

// Start schedules the first burst offset seconds from now
func (oos *OnOffSender) Start(evtMgr *EventManager, offset float64) {
	oos.active = true
	oos.on = false
	evtID, err := evtMgr.Schedule(oos, nil, onOffToggle, SecondsToTime(offset))
	if err != nil {
		panic(err)
	}
	oos.pendingToggle = evtID
}

// Stop ends the source, withdrawing whatever it had pending
func (oos *OnOffSender) Stop(evtMgr *EventManager) {
	oos.active = false
	oos.on = false
	if oos.pendingSend >= 0 {
		evtMgr.CancelEvent(oos.pendingSend)
		oos.pendingSend = -1
	}
	if oos.pendingToggle >= 0 {
		evtMgr.CancelEvent(oos.pendingToggle)
		oos.pendingToggle = -1
	}
}

// onOffToggle is the event handler that flips the source between burst
// and silence, scheduling the end of the new period from a fresh sample
func onOffToggle(evtMgr *EventManager, context any, data any) any {
	oos := context.(*OnOffSender)
	if !oos.active {
		return nil
	}

	oos.on = !oos.on

	var mean float64
	if oos.on {
		mean = oos.onMean
		// first packet of the burst goes out immediately
		onOffSend(evtMgr, oos, nil)
	} else {
		mean = oos.offMean
		if oos.pendingSend >= 0 {
			evtMgr.CancelEvent(oos.pendingSend)
			oos.pendingSend = -1
		}
	}

	dur := oos.sampleDur(oos.src.DevRng().RandU01(), []float64{mean})
	evtID, _ := evtMgr.Schedule(oos, nil, onOffToggle, SecondsToTime(dur))
	oos.pendingToggle = evtID
	return nil
}

// onOffSend emits one packet of the burst and schedules the next
func onOffSend(evtMgr *EventManager, context any, data any) any {
	oos := context.(*OnOffSender)
	if !oos.active || !oos.on {
		return nil
	}

	oos.topo.Send(evtMgr, oos.src, oos.flow, oos.size)

	evtID, _ := evtMgr.Schedule(oos, nil, onOffSend, SecondsToTime(oos.pcktInterval()))
	oos.pendingSend = evtID
	return nil
}

// EchoArrivalFunc returns an arrival handler which, installed on a node
// through SetArrivalFunc, answers every delivered packet with one of
// equal size on the reversed flow, the way a udp echo responder would
func EchoArrivalFunc(topo *Topology) EventHandlerFunction {
	return func(evtMgr *EventManager, context any, data any) any {
		tpn := context.(*Node)
		pckt := data.(*Packet)

		rev := FlowKey{
			Src:      pckt.Flow.Dst,
			Dst:      pckt.Flow.Src,
			Protocol: pckt.Flow.Protocol,
			SrcPort:  pckt.Flow.DstPort,
			DstPort:  pckt.Flow.SrcPort,
		}
		topo.Send(evtMgr, tpn, rev, pckt.Len)
		return nil
	}
}
