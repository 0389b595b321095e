package wansim

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlowKey(t *testing.T) FlowKey {
	t.Helper()
	return FlowKey{
		Src:      mustAddr(t, "10.1.1.1"),
		Dst:      mustAddr(t, "10.1.4.2"),
		Protocol: "udp",
		SrcPort:  49152,
		DstPort:  50000,
	}
}

func TestLossRateExact(t *testing.T) {
	ft := CreateFlowTracker()
	fk := testFlowKey(t)

	for idx := 0; idx < 10; idx++ {
		sendTime := SecondsToTime(float64(idx))
		ft.RecordSend(fk, 1024, sendTime)
		if idx < 6 {
			ft.RecordReceive(fk, 1024, sendTime, sendTime.Plus(SecondsToTime(0.01)))
		}
	}

	fs, present := ft.Stats(fk)
	require.True(t, present)
	assert.Equal(t, 10, fs.Tx)
	assert.Equal(t, 6, fs.Rx)
	assert.Equal(t, int64(6*1024), fs.RxBytes)

	loss, ok := fs.LossRate()
	require.True(t, ok)
	assert.Equal(t, 0.4, loss)
}

func TestDelayAndJitterMeans(t *testing.T) {
	ft := CreateFlowTracker()
	fk := testFlowKey(t)

	// delays 10ms, 20ms, 40ms: mean 70/3 ms, jitter |10|+|20| over 2
	delays := []float64{0.010, 0.020, 0.040}
	for idx, d := range delays {
		sendTime := SecondsToTime(float64(idx))
		ft.RecordSend(fk, 512, sendTime)
		ft.RecordReceive(fk, 512, sendTime, sendTime.Plus(SecondsToTime(d)))
	}

	fs, present := ft.Stats(fk)
	require.True(t, present)

	meanDelay, ok := fs.MeanDelay()
	require.True(t, ok)
	assert.InDelta(t, 0.070/3.0, meanDelay, 1e-9)

	meanJitter, ok := fs.MeanJitter()
	require.True(t, ok)
	assert.InDelta(t, 0.015, meanJitter, 1e-9)
}

func TestUndefinedStatsGuarded(t *testing.T) {
	ft := CreateFlowTracker()
	fk := testFlowKey(t)

	// never observed at all
	_, present := ft.Stats(fk)
	assert.False(t, present)

	// observed only as a drop: zero tx means loss rate is undefined
	ft.RecordDrop(fk)
	fs, present := ft.Stats(fk)
	require.True(t, present)

	_, ok := fs.LossRate()
	assert.False(t, ok)
	_, ok = fs.MeanDelay()
	assert.False(t, ok)
	_, ok = fs.MeanJitter()
	assert.False(t, ok)

	// one receipt defines delay but not jitter
	ft.RecordSend(fk, 256, TimeZero)
	ft.RecordReceive(fk, 256, TimeZero, SecondsToTime(0.005))
	fs, _ = ft.Stats(fk)

	_, ok = fs.MeanDelay()
	assert.True(t, ok)
	_, ok = fs.MeanJitter()
	assert.False(t, ok)
}

func TestAllStatsObservationOrder(t *testing.T) {
	ft := CreateFlowTracker()

	fkA := testFlowKey(t)
	fkB := fkA
	fkB.DstPort = 50001

	ft.RecordSend(fkB, 100, TimeZero)
	ft.RecordSend(fkA, 100, TimeZero)
	ft.RecordSend(fkB, 100, SecondsToTime(1.0))

	all := ft.AllStats()
	require.Len(t, all, 2)
	assert.Equal(t, fkB, all[0].Flow)
	assert.Equal(t, 2, all[0].Tx)
	assert.Equal(t, fkA, all[1].Flow)
}

func TestStatsWriteToFile(t *testing.T) {
	ft := CreateFlowTracker()
	fk := testFlowKey(t)

	ft.RecordSend(fk, 1024, TimeZero)
	ft.RecordReceive(fk, 1024, TimeZero, SecondsToTime(0.02))

	for _, name := range []string{"stats.yaml", "stats.json"} {
		filename := filepath.Join(t.TempDir(), name)
		require.NoError(t, ft.WriteToFile(filename))
	}
}
