// Package chaines implements the C-Haines fire weather index and its
// severity classes.
package chaines

// Breakpoints of the dryness term. Above dryClamp the term is held constant;
// between dryKnee and dryClamp it grows at half rate.
const (
	dryKnee  = 5.0
	dryClamp = 9.0
)

// Index returns the continuous C-Haines value for one grid cell.
//
// t700 and t850 are temperatures (°C) at 700 and 850 hPa; depr850 is the
// dew point depression at 850 hPa as published in the DEPR_ISBL_850 layer.
// Non-finite inputs produce a non-finite result.
func Index(t700, t850, depr850 float64) float64 {
	return Stability(t700, t850) + Moisture(depr850)
}

// Stability is the instability term CA.
func Stability(t700, t850 float64) float64 {
	return (t850-t700)/2 - 2
}

// Moisture is the clamped dryness term CB.
func Moisture(depr850 float64) float64 {
	cb := depr850/3 - 1
	if cb > dryClamp {
		return dryClamp
	}
	if cb > dryKnee {
		return dryKnee + (cb-dryKnee)/2
	}
	return cb
}
