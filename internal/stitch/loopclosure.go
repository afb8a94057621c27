package stitch

import "math"

// ClosureError measures the signed horizontal gap, in pixels, between where
// the final frame of a full-revolution sequence should sit by its bearing
// and where placement actually put it. Frame width cancels out of the
// end-to-start comparison, so the gap reduces to the last frame's deviation.
// The raw difference is wrapped into (-canvasWidth/2, canvasWidth/2].
func ClosureError(records []PlacementRecord, canvasWidth int, pixelsPerDegree float64) int {
	if len(records) == 0 || canvasWidth <= 0 {
		return 0
	}
	last := records[len(records)-1]
	expected := int(math.Round(last.Bearing * pixelsPerDegree))
	return signedMod(expected-last.Offset, canvasWidth)
}

// CorrectLoopClosure redistributes the closure error across the sequence.
// Frame i is shifted by round(err*i/(n-1)): the first frame stays anchored
// and the last frame absorbs the full error, so the corrected end lines up
// with the start modulo the canvas width. Errors at or below the threshold,
// and sequences of two or fewer frames, pass through untouched.
func CorrectLoopClosure(records []PlacementRecord, canvasWidth int, pixelsPerDegree float64, threshold int) ([]PlacementRecord, int) {
	err := ClosureError(records, canvasWidth, pixelsPerDegree)
	if len(records) <= 2 || abs(err) <= threshold {
		return records, err
	}

	n := len(records)
	out := make([]PlacementRecord, n)
	copy(out, records)
	for i := range out {
		shift := int(math.Round(float64(err) * float64(i) / float64(n-1)))
		out[i].Offset += shift
		out[i].Adjustment += shift
	}
	return out, err
}

// signedMod wraps v into (-m/2, m/2].
func signedMod(v, m int) int {
	r := ((v % m) + m) % m
	if r > m/2 {
		r -= m
	}
	return r
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
