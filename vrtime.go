package wansim

// vrtime.go holds the virtual time representation used throughout the
// simulator.  Time is kept in integer ticks rather than floating point
// seconds so that comparisons between event timestamps are exact, and
// equal-time events can be ordered by their scheduling sequence alone.

import (
	"fmt"
	"math"
)

// TicksPerSec sets the resolution of the virtual clock.  One tick is a
// nanosecond of virtual time, fine enough for the per-packet timescales
// the scenarios exercise.
const TicksPerSec int64 = 1e9

// Time is a point in virtual time, counted in ticks from the start of the run.
type Time struct {
	TickCnt int64
}

// TimeZero is the clock value at the start of a run.
var TimeZero Time = Time{TickCnt: 0}

// SecondsToTime converts a duration or timestamp expressed in seconds
// into the tick representation
func SecondsToTime(v float64) Time {
	return Time{TickCnt: int64(math.Round(v * float64(TicksPerSec)))}
}

// Seconds returns the time as a float64 count of seconds
func (t Time) Seconds() float64 {
	return float64(t.TickCnt) / float64(TicksPerSec)
}

// Plus returns the sum of t and s
func (t Time) Plus(s Time) Time {
	return Time{TickCnt: t.TickCnt + s.TickCnt}
}

// LT reports whether t is strictly earlier than s
func (t Time) LT(s Time) bool {
	return t.TickCnt < s.TickCnt
}

// LE reports whether t is no later than s
func (t Time) LE(s Time) bool {
	return t.TickCnt <= s.TickCnt
}

// GT reports whether t is strictly later than s
func (t Time) GT(s Time) bool {
	return t.TickCnt > s.TickCnt
}

// EQ reports whether t and s name the same instant
func (t Time) EQ(s Time) bool {
	return t.TickCnt == s.TickCnt
}

// Neg reports whether t lies before the start of the run,
// which marks it as an illegal scheduling offset
func (t Time) Neg() bool {
	return t.TickCnt < 0
}

func (t Time) String() string {
	return fmt.Sprintf("%.9f", t.Seconds())
}
