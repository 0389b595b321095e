package wansim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diamondTopo builds a - b - d and a - c - d with routes installed by
// hand: a reaches d's 10.3.3.0/24 via b at metric 10 and via c at
// metric 50
func diamondTopo(t *testing.T) *Topology {
	t.Helper()

	topo := CreateTopology("diamond", CreateFlowTracker(), nil)
	tpnA := topo.AddNode("a")
	tpnB := topo.AddNode("b")
	tpnC := topo.AddNode("c")
	tpnD := topo.AddNode("d")

	mk := func(tpn *Node, name, addr string) *Intrfc {
		intrfc, err := tpn.AddIntrfc(IntrfcConfig{Name: name, Addr: addr})
		require.NoError(t, err)
		return intrfc
	}

	ifAB := mk(tpnA, "a-b", "10.3.1.1/24")
	ifBA := mk(tpnB, "b-a", "10.3.1.2/24")
	ifAC := mk(tpnA, "a-c", "10.3.2.1/24")
	ifCA := mk(tpnC, "c-a", "10.3.2.2/24")
	ifBD := mk(tpnB, "b-d", "10.3.3.1/24")
	ifDB := mk(tpnD, "d-b", "10.3.3.2/24")
	ifCD := mk(tpnC, "c-d", "10.3.4.1/24")
	ifDC := mk(tpnD, "d-c", "10.3.4.2/24")

	topo.ConnectIntrfcs(ifAB, ifBA, LinkConfig{Delay: 0.002, Rate: 100.0})
	topo.ConnectIntrfcs(ifAC, ifCA, LinkConfig{Delay: 0.010, Rate: 10.0})
	topo.ConnectIntrfcs(ifBD, ifDB, LinkConfig{Delay: 0.002, Rate: 100.0})
	topo.ConnectIntrfcs(ifCD, ifDC, LinkConfig{Delay: 0.010, Rate: 10.0})

	dest := mustPrefix(t, "10.3.3.0/24")
	require.NoError(t, tpnA.AddRoute(dest, mustAddr(t, "10.3.1.2"), "a-b", 10))
	require.NoError(t, tpnA.AddRoute(dest, mustAddr(t, "10.3.2.2"), "a-c", 50))
	require.NoError(t, tpnB.AddRoute(dest, mustAddr(t, "10.3.3.2"), "b-d", 1))
	require.NoError(t, tpnC.AddRoute(dest, mustAddr(t, "10.3.4.2"), "c-d", 1))

	return topo
}

func TestDiamondPrestagedBackup(t *testing.T) {
	topo := diamondTopo(t)
	evtMgr := CreateEventManager()
	tpnA := topo.NodeByName("a")

	fk := FlowKey{
		Src:      mustAddr(t, "10.3.1.1"),
		Dst:      mustAddr(t, "10.3.3.2"),
		Protocol: "udp",
		SrcPort:  49152,
		DstPort:  50000,
	}

	sendOne := func(evtMgr *EventManager, context any, data any) any {
		topo.Send(evtMgr, tpnA, fk, 1024)
		return nil
	}

	// the primary path through b fails at t=5; a's backup entry through
	// c is already in place at metric 50
	primLink := topo.IntrfcByName("a-b").Link()
	evtMgr.Schedule(primLink, true, LinkFailHandler, SecondsToTime(5.0))

	// after the failure the primary route is withdrawn outright, so the
	// later repair must not pull traffic back to b
	evtMgr.Schedule(nil, nil, func(evtMgr *EventManager, context any, data any) any {
		require.NoError(t, tpnA.RemoveRoute(mustPrefix(t, "10.3.3.0/24")))
		return nil
	}, SecondsToTime(8.0))
	evtMgr.Schedule(primLink, false, LinkFailHandler, SecondsToTime(9.0))

	var duringNxtHop, afterRepairNxtHop string
	evtMgr.Schedule(nil, nil, func(evtMgr *EventManager, context any, data any) any {
		entry, err := tpnA.RtTbl().Lookup(fk.Dst)
		require.NoError(t, err)
		duringNxtHop = entry.NxtHop.String()
		return nil
	}, SecondsToTime(6.0))
	evtMgr.Schedule(nil, nil, func(evtMgr *EventManager, context any, data any) any {
		entry, err := tpnA.RtTbl().Lookup(fk.Dst)
		require.NoError(t, err)
		afterRepairNxtHop = entry.NxtHop.String()
		return nil
	}, SecondsToTime(10.0))

	for _, sec := range []float64{2.0, 4.0, 6.0, 10.0} {
		evtMgr.Schedule(nil, nil, sendOne, SecondsToTime(sec))
	}

	evtMgr.Run(30.0)

	// the dead primary is skipped while its backup is usable, and after
	// the withdrawal only the path through c remains
	assert.Equal(t, "10.3.2.2", duringNxtHop)
	assert.Equal(t, "10.3.2.2", afterRepairNxtHop)

	fs, present := topo.Tracker().Stats(fk)
	require.True(t, present)
	assert.Equal(t, 4, fs.Tx)
	assert.Equal(t, 4, fs.Rx)
	assert.Equal(t, 0, fs.Drops)

	// packets over the c path cross two 10ms links
	meanDelay, ok := fs.MeanDelay()
	require.True(t, ok)
	assert.Greater(t, meanDelay, 0.004)
}

func TestDiamondDeterministicReplay(t *testing.T) {
	run := func() []FlowStats {
		topo := diamondTopo(t)
		evtMgr := CreateEventManager()
		tpnA := topo.NodeByName("a")

		fk := FlowKey{
			Src:      mustAddr(t, "10.3.1.1"),
			Dst:      mustAddr(t, "10.3.3.2"),
			Protocol: "udp",
			SrcPort:  49152,
			DstPort:  50000,
		}

		primLink := topo.IntrfcByName("a-b").Link()
		evtMgr.Schedule(primLink, true, LinkFailHandler, SecondsToTime(5.0))

		sender := CreatePeriodicSender(topo, tpnA, fk, 1024, 0.7, 10)
		sender.Start(evtMgr, 1.0)

		evtMgr.Run(30.0)
		return topo.Tracker().AllStats()
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)
}
