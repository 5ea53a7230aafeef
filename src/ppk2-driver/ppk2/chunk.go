package ppk2

// ChunkMatch is the result of reducing a window of samples: either a
// reduced Measurement, or NoMatch if a pin-match pattern excluded every
// sample in the window.
type ChunkMatch struct {
	Measurement Measurement
	Matched     bool
}

// ReduceChunk averages a window of samples into a single Measurement.
//
// If pattern is non-nil, only samples whose every pin matches the
// corresponding pattern pin (Either matching anything) are included. If
// no sample survives the filter, ReduceChunk returns a non-matching
// ChunkMatch.
//
// missed compensates the averaging denominator for samples that were
// dropped (and thus never reached this window) so the reported average
// remains a per-sample quantity; if the window's sample count does not
// exceed missed, the denominator is clamped to 1.
func ReduceChunk(samples []Measurement, missed int, pattern *LogicPortPins) ChunkMatch {
	filtered := samples
	if pattern != nil {
		filtered = make([]Measurement, 0, len(samples))
		for _, s := range samples {
			if s.Pins.Matches(*pattern) {
				filtered = append(filtered, s)
			}
		}
	}

	count := len(filtered)
	if count == 0 {
		return ChunkMatch{}
	}

	denom := count - missed
	if count <= missed {
		denom = 1
	}

	var sum float32
	var highCount [8]int
	for _, s := range filtered {
		sum += s.MicroAmps
		for i, level := range s.Pins {
			if level == High {
				highCount[i]++
			}
		}
	}

	var pins LogicPortPins
	for i := 0; i < 8; i++ {
		if highCount[i]*2 > count {
			pins[i] = High
		} else {
			pins[i] = Low
		}
	}

	return ChunkMatch{
		Measurement: Measurement{MicroAmps: sum / float32(denom), Pins: pins},
		Matched:     true,
	}
}
