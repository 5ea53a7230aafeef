package ppk2

import "encoding/binary"

// Measurement is a single decoded current reading plus the digital pin
// state sampled alongside it.
type Measurement struct {
	MicroAmps float32
	Pins      LogicPortPins
}

// MissedSample reports that one or more raw samples were dropped between
// two observed counters. A MissedSample is only reported when there was a
// prior expectation to compare against, so the very first sample of a
// session is never reported as missed and ExpectedCounter is always in
// 0..63.
type MissedSample struct {
	ExpectedCounter int16
	ActualCounter   uint8
}

// Raw sample word bit layout (little-endian 32-bit):
//
//	bits 0..13  ADC value (14 bits)
//	bits 14..16 range (3 bits)
//	bit  17     unused
//	bits 18..23 counter (6 bits, wraps at 64)
//	bits 24..31 logic pins (8 bits)
const (
	adcBits   = 14
	adcShift  = 0
	rangeBits = 3
	rangeShift = 14
	counterBits  = 6
	counterShift = 18
	logicBits  = 8
	logicShift = 24
)

func maskedValue(word uint32, bits, shift uint) uint32 {
	mask := uint32(1<<bits-1) << shift
	return (word & mask) >> shift
}

func extractADC(word uint32) uint32 { return maskedValue(word, adcBits, adcShift) }

func extractRange(word uint32) int {
	r := int(maskedValue(word, rangeBits, rangeShift))
	if r >= NumRanges {
		r = NumRanges - 1
	}
	return r
}

func extractCounter(word uint32) uint8 { return uint8(maskedValue(word, counterBits, counterShift)) }

func extractLogicPins(word uint32) LogicPortPins {
	return LogicPortPinsFromByte(byte(maskedValue(word, logicBits, logicShift)))
}

// Calibration constants for the spike filter, shared by every range.
const (
	adcMultiplier      float32 = 1.8 / 163840.0
	spikeFilterAlpha   float32 = 0.18
	spikeFilterAlpha5  float32 = 0.06
	spikeFilterSamples int     = 3
)

// accumulatorState is the mutable, per-session state the calibration and
// spike filter carry between samples.
type accumulatorState struct {
	rollingAvg    float32
	rollingAvgSet bool

	rollingAvg4    float32
	rollingAvg4Set bool

	prevRange    int
	prevRangeSet bool

	afterSpike             int
	consecutiveRangeSample int

	expectedCounter    uint8
	expectedCounterSet bool
}

// Accumulator turns a raw byte stream from the device into decoded
// Measurements, applying the device's recommended range-switch spike
// filter and tracking missed samples via the wrapping sample counter.
// An Accumulator is owned by a single reader and is not safe for
// concurrent use.
type Accumulator struct {
	metadata Metadata
	state    accumulatorState
	buf      []byte
}

// NewAccumulator creates an Accumulator that calibrates against md. md
// should be a recent copy of the device's metadata.
func NewAccumulator(md Metadata) *Accumulator {
	return &Accumulator{metadata: md, buf: make([]byte, 0, 4096)}
}

// FeedInto appends whole 32-bit words found in data (plus any bytes
// buffered from a previous short read) as Measurements onto out, and
// returns the number of samples determined to have been missed across
// all counter gaps observed in this call. Partial trailing bytes are
// retained for the next call.
func (a *Accumulator) FeedInto(data []byte, out *[]Measurement) (missed int) {
	if len(data) == 0 {
		return 0
	}
	a.buf = append(a.buf, data...)
	end := len(a.buf) - len(a.buf)%4
	for i := 0; i < end; i += 4 {
		word := binary.LittleEndian.Uint32(a.buf[i : i+4])
		m, ms := a.decode(word)
		if ms != nil {
			if ms.ExpectedCounter >= 0 {
				missed += int((ms.ActualCounter - uint8(ms.ExpectedCounter)) & 0x3F)
			}
			continue
		}
		*out = append(*out, m)
	}
	a.buf = a.buf[end:]
	return missed
}

// DecodeNext decodes a single raw 32-bit little-endian sample word,
// returning either a Measurement or a MissedSample describing a counter
// gap. Exactly one of the two return values is non-nil-equivalent: ok
// reports whether a Measurement was produced.
func (a *Accumulator) DecodeNext(word uint32) (m Measurement, missed *MissedSample, ok bool) {
	measurement, ms := a.decode(word)
	if ms != nil {
		return Measurement{}, ms, false
	}
	return measurement, nil, true
}

func (a *Accumulator) decode(word uint32) (Measurement, *MissedSample) {
	rng := extractRange(word)
	counter := extractCounter(word)

	prevExpected := a.state.expectedCounter
	hadExpected := a.state.expectedCounterSet
	a.state.expectedCounter = (counter + 1) & 0x3F
	a.state.expectedCounterSet = true

	if hadExpected && prevExpected != counter {
		expected := int16(prevExpected)
		return Measurement{}, &MissedSample{ExpectedCounter: expected, ActualCounter: counter}
	}

	adcRaw := extractADC(word) * 4
	pins := extractLogicPins(word)
	microAmps := calibrate(a.metadata, &a.state, rng, adcRaw) * 1e6

	return Measurement{MicroAmps: microAmps, Pins: pins}, nil
}

// calibrate applies per-range calibration and the range-switch spike
// filter to a raw ADC value, returning the calibrated current in amps.
// It mutates st in place, carrying the two rolling averages, the
// previous range, and the suppression countdown across calls.
func calibrate(md Metadata, st *accumulatorState, rng int, adcVal uint32) float32 {
	mods := md.Modifiers

	x := (float32(adcVal) - mods.O[rng]) * (adcMultiplier / mods.R[rng])
	adc := mods.UG[rng] * (x*(mods.GS[rng]*x+mods.GI[rng]) + mods.S[rng]*(float32(md.VDDMillivolts)/1000) + mods.I[rng])

	prevRollingAvg4 := st.rollingAvg4
	prevRollingAvg := st.rollingAvg

	if st.rollingAvgSet {
		st.rollingAvg = spikeFilterAlpha*adc + (1-spikeFilterAlpha)*st.rollingAvg
	} else {
		st.rollingAvg = adc
		st.rollingAvgSet = true
	}

	if st.rollingAvg4Set {
		st.rollingAvg4 = spikeFilterAlpha5*adc + (1-spikeFilterAlpha5)*st.rollingAvg4
	} else {
		st.rollingAvg4 = adc
		st.rollingAvg4Set = true
	}

	if !st.prevRangeSet {
		st.prevRange = rng
		st.prevRangeSet = true
	}

	if st.prevRange != rng || st.afterSpike > 0 {
		if st.prevRange == rng {
			st.consecutiveRangeSample = 0
			st.afterSpike = spikeFilterSamples
		} else {
			st.consecutiveRangeSample++
		}

		if rng == NumRanges-1 {
			if st.consecutiveRangeSample < 2 {
				st.rollingAvg4 = prevRollingAvg4
				st.rollingAvg = prevRollingAvg
			}
			adc = st.rollingAvg4
		} else {
			adc = st.rollingAvg
		}
		st.afterSpike--
	}

	st.prevRange = rng
	return adc
}
